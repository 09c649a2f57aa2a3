package capture

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/visiona/lookout/internal/types"
)

// ImageSource yields a single still image followed by end-of-stream.
// It backs the one-shot annotation mode.
type ImageSource struct {
	path string

	mu       sync.Mutex
	img      *types.Frame
	consumed bool
}

// NewImageSource builds a source over one image file.
func NewImageSource(path string) *ImageSource {
	return &ImageSource{path: path}
}

// Open decodes the image. A missing or undecodable file wraps
// ErrCaptureUnavailable so callers can prompt for another path.
func (s *ImageSource) Open() error {
	img, err := imaging.Open(s.path)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", ErrCaptureUnavailable, s.path, err)
	}

	b := img.Bounds()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = &types.Frame{
		Seq:       0,
		Timestamp: time.Now(),
		Width:     b.Dx(),
		Height:    b.Dy(),
		Image:     img,
		TraceID:   uuid.New().String(),
	}
	s.consumed = false
	return nil
}

// Read returns the decoded frame once, then io.EOF.
func (s *ImageSource) Read() (*types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.img == nil {
		return nil, ErrCaptureUnavailable
	}
	if s.consumed {
		return nil, io.EOF
	}
	s.consumed = true
	return s.img, nil
}

func (s *ImageSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = nil
	return nil
}
