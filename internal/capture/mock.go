package capture

import (
	"image"
	"image/color"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/visiona/lookout/internal/types"
)

// MockSource generates synthetic frames at a target rate. Used by
// tests and by dry runs on machines without a camera.
type MockSource struct {
	width  int
	height int
	fps    int
	// Limit, when positive, ends the stream with io.EOF after that
	// many frames.
	Limit uint64

	mu     sync.Mutex
	seq    uint64
	opened bool
	last   time.Time
}

// NewMockSource creates a synthetic source. Non-positive dimensions
// or rate fall back to usable defaults.
func NewMockSource(width, height, fps int) *MockSource {
	if width <= 0 {
		width = 64
	}
	if height <= 0 {
		height = 64
	}
	if fps <= 0 {
		fps = 30
	}
	return &MockSource{width: width, height: height, fps: fps}
}

func (m *MockSource) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	m.last = time.Now()
	return nil
}

// Read paces itself to the configured rate and returns a frame with a
// moving bar so consecutive frames differ.
func (m *MockSource) Read() (*types.Frame, error) {
	m.mu.Lock()
	if !m.opened {
		m.mu.Unlock()
		return nil, ErrCaptureUnavailable
	}
	if m.Limit > 0 && m.seq >= m.Limit {
		m.mu.Unlock()
		return nil, io.EOF
	}
	seq := m.seq
	m.seq++
	interval := time.Second / time.Duration(m.fps)
	wait := interval - time.Since(m.last)
	m.last = time.Now().Add(wait)
	m.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}

	img := image.NewRGBA(image.Rect(0, 0, m.width, m.height))
	bar := int(seq) % m.width
	for y := 0; y < m.height; y++ {
		img.SetRGBA(bar, y, color.RGBA{R: 255, A: 255})
	}

	return &types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     m.width,
		Height:    m.height,
		Image:     img,
		TraceID:   uuid.New().String(),
	}, nil
}

func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = false
	return nil
}
