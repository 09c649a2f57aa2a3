package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	State          string  `json:"state"`
	Paused         bool    `json:"paused"`
	FramesRead     uint64  `json:"frames_read"`
	FramesQueued   uint64  `json:"frames_queued"`
	FramesDropped  uint64  `json:"frames_dropped"`
	ReadFailures   uint64  `json:"read_failures"`
	Inferences     uint64  `json:"inferences"`
	AvgLatencyMS   float64 `json:"avg_latency_ms"`
	FPS            float64 `json:"fps"`
	InputQueueLen  int     `json:"input_queue_len"`
	OutputQueueLen int     `json:"output_queue_len"`
}

// Stats returns a consistent-enough snapshot for logging and health
// reporting. Counters are read atomically but not as one transaction.
func (s *Scheduler) Stats() Stats {
	inferences := atomic.LoadUint64(&s.inferences)
	totalLatency := atomic.LoadUint64(&s.totalLatencyMS)

	var avgLatency float64
	if inferences > 0 {
		avgLatency = float64(totalLatency) / float64(inferences)
	}

	return Stats{
		State:          s.State().String(),
		Paused:         s.paused.Load(),
		FramesRead:     atomic.LoadUint64(&s.framesRead),
		FramesQueued:   atomic.LoadUint64(&s.framesProduced),
		FramesDropped:  s.in.Dropped() + s.out.Dropped(),
		ReadFailures:   atomic.LoadUint64(&s.readFailures),
		Inferences:     inferences,
		AvgLatencyMS:   avgLatency,
		FPS:            s.FPS(),
		InputQueueLen:  s.in.Len(),
		OutputQueueLen: s.out.Len(),
	}
}

// StartStatsLogger emits a periodic stats line until the context ends
// or the pipeline stops.
func (s *Scheduler) StartStatsLogger(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				st := s.Stats()
				slog.Info("pipeline stats",
					"state", st.State,
					"frames_read", st.FramesRead,
					"frames_dropped", st.FramesDropped,
					"read_failures", st.ReadFailures,
					"inferences", st.Inferences,
					"avg_latency_ms", st.AvgLatencyMS,
					"fps", st.FPS,
					"in_queue", st.InputQueueLen,
					"out_queue", st.OutputQueueLen,
				)
			}
		}
	}()
}
