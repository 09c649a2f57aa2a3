package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// RawDetection is a single detector result in canvas-pixel coordinates,
// before it has been mapped back onto the source frame.
type RawDetection struct {
	Top    float64 `msgpack:"top" json:"top"`
	Left   float64 `msgpack:"left" json:"left"`
	Bottom float64 `msgpack:"bottom" json:"bottom"`
	Right  float64 `msgpack:"right" json:"right"`
	// Score is the detection confidence in [0,1]
	Score float64 `msgpack:"score" json:"score"`
	// ClassIndex indexes into the class list the detector was loaded with
	ClassIndex int `msgpack:"class_index" json:"class_index"`
}

// Box is an axis-aligned rectangle in source-frame pixel coordinates.
type Box struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Width returns the box width in pixels.
func (b Box) Width() int { return b.Right - b.Left }

// Height returns the box height in pixels.
func (b Box) Height() int { return b.Bottom - b.Top }

// Detection is a detector result mapped into source-frame coordinates
// and clipped to the frame bounds.
type Detection struct {
	Box        Box     `json:"box"`
	Score      float64 `json:"score"`
	ClassIndex int     `json:"class_index"`
	Class      string  `json:"class"`
}

// Label returns the annotation label text for this detection.
func (d Detection) Label() string {
	return fmt.Sprintf("%s %.2f", d.Class, d.Score)
}

// DetectionEvent is the wire form of a processed frame's detections,
// published to the event emitter.
type DetectionEvent struct {
	InstanceID  string      `json:"instance_id"`
	Seq         uint64      `json:"seq"`
	TraceID     string      `json:"trace_id"`
	FrameWidth  int         `json:"frame_width"`
	FrameHeight int         `json:"frame_height"`
	Detections  []Detection `json:"detections"`
	LatencyMS   float64     `json:"latency_ms"`
	Timestamp   string      `json:"timestamp"`

	ts time.Time
}

// NewDetectionEvent builds an event from an annotated frame.
func NewDetectionEvent(instanceID string, af *AnnotatedFrame) *DetectionEvent {
	now := time.Now()
	return &DetectionEvent{
		InstanceID:  instanceID,
		Seq:         af.Frame.Seq,
		TraceID:     af.Frame.TraceID,
		FrameWidth:  af.Frame.Width,
		FrameHeight: af.Frame.Height,
		Detections:  af.Detections,
		LatencyMS:   float64(af.InferenceTime.Microseconds()) / 1000.0,
		Timestamp:   now.UTC().Format(time.RFC3339Nano),
		ts:          now,
	}
}

// Type returns the event type used for topic routing.
func (e *DetectionEvent) Type() string { return "detections" }

// Time returns when the event was generated.
func (e *DetectionEvent) Time() time.Time { return e.ts }

// ToJSON converts the event to JSON bytes.
func (e *DetectionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
