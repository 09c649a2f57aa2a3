package detect

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/visiona/lookout/internal/geometry"
	"github.com/visiona/lookout/internal/types"
)

// MockDetector produces deterministic detections without a model. It
// is used by tests and by `-detector mock` runs on machines without
// inference hardware.
type MockDetector struct {
	// Latency simulates inference time per call.
	Latency time.Duration
	// FailAfter, when positive, makes the call with that ordinal
	// return ErrDetectorFailure. Exercises the fatal error path.
	FailAfter uint64

	calls uint64
}

// Infer returns one centered box covering half the canvas.
func (m *MockDetector) Infer(ctx context.Context, tensor geometry.Tensor) ([]types.RawDetection, error) {
	n := atomic.AddUint64(&m.calls, 1)
	if m.FailAfter > 0 && n >= m.FailAfter {
		return nil, ErrDetectorFailure
	}

	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	w := float64(tensor.Width)
	h := float64(tensor.Height)
	return []types.RawDetection{
		{
			Top:        h * 0.25,
			Left:       w * 0.25,
			Bottom:     h * 0.75,
			Right:      w * 0.75,
			Score:      0.9,
			ClassIndex: 0,
		},
	}, nil
}

// Calls returns how many times Infer ran.
func (m *MockDetector) Calls() uint64 {
	return atomic.LoadUint64(&m.calls)
}
