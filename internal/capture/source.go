// Package capture abstracts where frames come from: a camera, a
// single image file, or a synthetic generator. Sources deliver frames
// one at a time and signal end-of-stream with io.EOF.
package capture

import (
	"errors"

	"github.com/visiona/lookout/internal/types"
)

// ErrCaptureUnavailable is returned by Open when the device or file
// cannot be acquired at all. It is fatal at startup.
var ErrCaptureUnavailable = errors.New("capture source unavailable")

// Source produces frames for the pipeline.
//
// Read returns io.EOF when the stream is exhausted. Any other error
// marks a transient read failure; the caller may log it and retry.
type Source interface {
	Open() error
	Read() (*types.Frame, error)
	Close() error
}
