package types

import (
	"image"
	"time"
)

// Frame represents a single captured video frame.
//
// Ownership: created by the capture source, held by whichever queue slot
// currently contains it, read (never mutated) by the inference stage.
type Frame struct {
	// Seq is the monotonic sequence number assigned at capture time
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Image holds the decoded pixel data (read-only after capture)
	Image image.Image
	// TraceID is a unique identifier for tracing a frame across the pipeline
	TraceID string
}

// AnnotatedFrame is the result of running a frame through the detector
// and drawing its detections.
type AnnotatedFrame struct {
	// Frame is the source frame the detections belong to
	Frame *Frame
	// Detections in source-frame coordinates, already clipped
	Detections []Detection
	// Image is the annotated copy of the source frame
	Image *image.RGBA
	// InferenceTime is how long the detector call took
	InferenceTime time.Duration
}
