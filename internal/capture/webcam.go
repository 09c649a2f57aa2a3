//go:build gocv

package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/visiona/lookout/internal/types"
)

// WebcamSource reads frames from a local camera device through the
// OpenCV capture stack. Built only with the gocv tag.
type WebcamSource struct {
	device int

	mu  sync.Mutex
	cam *gocv.VideoCapture
	mat gocv.Mat
	seq uint64
}

// NewWebcamSource builds a source over a camera device index.
func NewWebcamSource(device int) *WebcamSource {
	return &WebcamSource{device: device}
}

// Open acquires the device. Failure wraps ErrCaptureUnavailable and is
// fatal at startup.
func (w *WebcamSource) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	cam, err := gocv.OpenVideoCapture(w.device)
	if err != nil {
		return fmt.Errorf("%w: opening camera %d: %v", ErrCaptureUnavailable, w.device, err)
	}
	w.cam = cam
	w.mat = gocv.NewMat()
	return nil
}

// Read grabs one frame. A failed grab is transient: the caller logs
// and retries, since cameras drop frames under load.
func (w *WebcamSource) Read() (*types.Frame, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cam == nil {
		return nil, ErrCaptureUnavailable
	}
	if ok := w.cam.Read(&w.mat); !ok || w.mat.Empty() {
		return nil, fmt.Errorf("camera %d: frame grab failed", w.device)
	}

	img, err := w.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("camera %d: converting frame: %v", w.device, err)
	}

	seq := w.seq
	w.seq++
	b := img.Bounds()
	return &types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     b.Dx(),
		Height:    b.Dy(),
		Image:     img,
		TraceID:   uuid.New().String(),
	}, nil
}

func (w *WebcamSource) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cam == nil {
		return nil
	}
	w.mat.Close()
	err := w.cam.Close()
	w.cam = nil
	return err
}
