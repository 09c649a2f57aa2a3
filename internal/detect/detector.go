// Package detect defines the detector contract and its backends. A
// detector receives a normalized canvas tensor and returns boxes in
// canvas coordinates; thresholding and non-maximum suppression happen
// inside the backend, so callers only see final detections.
package detect

import (
	"context"
	"errors"

	"github.com/visiona/lookout/internal/geometry"
	"github.com/visiona/lookout/internal/types"
)

// ErrDetectorFailure marks backend faults the pipeline cannot recover
// from. Wrap it so callers can classify with errors.Is.
var ErrDetectorFailure = errors.New("detector failure")

// Detector runs inference on a prepared canvas tensor.
//
// Implementations are not required to be safe for concurrent Infer
// calls; the pipeline serializes access through a single consumer.
type Detector interface {
	// Infer returns detections in canvas pixel coordinates. The slice
	// may be empty. A non-nil error is fatal to the stream.
	Infer(ctx context.Context, tensor geometry.Tensor) ([]types.RawDetection, error)
}

// Lifecycle is implemented by backends that hold external resources,
// such as a subprocess or a loaded network.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
}
