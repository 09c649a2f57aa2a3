//go:build !gocv

package capture

import (
	"fmt"

	"github.com/visiona/lookout/internal/types"
)

// WebcamSource is unavailable without the gocv build tag.
type WebcamSource struct {
	device int
}

func NewWebcamSource(device int) *WebcamSource {
	return &WebcamSource{device: device}
}

func (w *WebcamSource) Open() error {
	return fmt.Errorf("%w: camera capture requires a build with the gocv tag", ErrCaptureUnavailable)
}

func (w *WebcamSource) Read() (*types.Frame, error) {
	return nil, ErrCaptureUnavailable
}

func (w *WebcamSource) Close() error { return nil }
