// Package pipeline wires capture, inference and annotation into a
// lossy real-time stream. A producer goroutine feeds a bounded input
// queue, a consumer goroutine runs the detector and renders overlays,
// and the presentation side polls a bounded output queue. When either
// queue overflows, stale frames are dropped wholesale and the newest
// frame wins.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/visiona/lookout/internal/annotate"
	"github.com/visiona/lookout/internal/capture"
	"github.com/visiona/lookout/internal/detect"
	"github.com/visiona/lookout/internal/geometry"
	"github.com/visiona/lookout/internal/palette"
	"github.com/visiona/lookout/internal/queue"
	"github.com/visiona/lookout/internal/types"
)

// Scheduler state machine. Transitions only move forward:
// Idle → Running → Draining → Stopped.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// DefaultQueueCapacity bounds both stage queues.
const DefaultQueueCapacity = 4

// DefaultOverflowBackoff is how long the producer pauses before
// clearing a full input queue.
const DefaultOverflowBackoff = time.Second

// Config tunes a Scheduler.
type Config struct {
	// Canvas fixes the letterbox canvas. A zero value derives the
	// canvas from each frame's dimensions.
	Canvas geometry.CanvasSize
	// QueueCapacity bounds the input and output queues.
	QueueCapacity int
	// OverflowBackoff is the producer pause on input overflow.
	OverflowBackoff time.Duration
	// ShowFPS stamps the smoothed inference rate on rendered frames.
	ShowFPS bool
}

// Scheduler owns the producer and consumer goroutines of one stream.
type Scheduler struct {
	source   capture.Source
	detector detect.Detector
	ann      *annotate.Annotator
	pal      *palette.Palette

	canvas  geometry.CanvasSize
	backoff time.Duration
	showFPS bool

	in  *queue.Ring[*types.Frame]
	out *queue.Ring[*types.AnnotatedFrame]

	state  atomic.Int32
	paused atomic.Bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	drainCh chan struct{}
	done    chan struct{}

	drainOnce sync.Once

	errMu  sync.Mutex
	runErr error

	framesProduced uint64
	framesRead     uint64
	readFailures   uint64
	inferences     uint64
	totalLatencyMS uint64
	fpsEMA         atomic.Uint64 // math.Float64bits
}

// New builds a scheduler in the Idle state.
func New(source capture.Source, detector detect.Detector, ann *annotate.Annotator, pal *palette.Palette, cfg Config) *Scheduler {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.OverflowBackoff <= 0 {
		cfg.OverflowBackoff = DefaultOverflowBackoff
	}

	s := &Scheduler{
		source:   source,
		detector: detector,
		ann:      ann,
		pal:      pal,
		canvas:   cfg.Canvas,
		backoff:  cfg.OverflowBackoff,
		showFPS:  cfg.ShowFPS,
		in:       queue.New[*types.Frame](cfg.QueueCapacity),
		out:      queue.New[*types.AnnotatedFrame](cfg.QueueCapacity),
		drainCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.state.Store(int32(StateIdle))
	return s
}

// Start opens the source and launches both stages. Source open
// failures are fatal and leave the scheduler Idle.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return errors.New("scheduler already started")
	}

	if err := s.source.Open(); err != nil {
		s.state.Store(int32(StateStopped))
		close(s.done)
		return err
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.produceLoop()
	s.wg.Add(1)
	go s.consumeLoop()

	// Propagate caller cancellation into a drain.
	go func() {
		select {
		case <-ctx.Done():
			s.beginDrain()
		case <-s.done:
		}
	}()

	// Completion: once both stages return, the stream is Stopped.
	go func() {
		s.wg.Wait()
		s.cancel()
		s.out.Close()
		if err := s.source.Close(); err != nil {
			slog.Warn("closing capture source", "error", err)
		}
		s.state.Store(int32(StateStopped))
		close(s.done)
	}()

	slog.Info("pipeline started",
		"queue_capacity", s.in.Cap(),
		"overflow_backoff", s.backoff,
	)
	return nil
}

// beginDrain moves to Draining and closes the input queue. The
// producer stops reading, the consumer finishes the buffered frames
// and exits. In-flight inference is not interrupted.
func (s *Scheduler) beginDrain() {
	s.drainOnce.Do(func() {
		s.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
		close(s.drainCh)
		s.in.Close()
		slog.Info("pipeline draining")
	})
}

// produceLoop reads frames from the source and pushes them into the
// input queue, dropping wholesale on overflow.
func (s *Scheduler) produceLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.drainCh:
			return
		default:
		}

		frame, err := s.source.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Info("capture stream ended",
					"frames_read", atomic.LoadUint64(&s.framesRead),
				)
				s.beginDrain()
				return
			}
			// Transient grab failure: log and keep the stream alive.
			atomic.AddUint64(&s.readFailures, 1)
			slog.Warn("frame read failed", "error", err)
			continue
		}
		atomic.AddUint64(&s.framesRead, 1)

		if s.paused.Load() {
			continue
		}

		if s.in.TryPush(frame) {
			atomic.AddUint64(&s.framesProduced, 1)
			continue
		}

		// Consumer is behind. Back off, discard everything queued and
		// hand over only the newest frame.
		time.Sleep(s.backoff)
		if dropped := s.in.Clear(); dropped > 0 {
			slog.Debug("input queue overflow",
				"dropped", dropped,
				"frame_seq", frame.Seq,
			)
		}
		if s.in.TryPush(frame) {
			atomic.AddUint64(&s.framesProduced, 1)
		}
	}
}

// consumeLoop pops frames, runs inference and publishes annotated
// output. Detector errors are fatal to the stream.
func (s *Scheduler) consumeLoop() {
	defer s.wg.Done()

	var (
		lastPlan  geometry.Plan
		planValid bool
		planW     int
		planH     int
	)

	for {
		frame, ok := s.in.Pop()
		if !ok {
			return
		}

		if !planValid || frame.Width != planW || frame.Height != planH {
			canvas := s.canvas
			if !canvas.Valid() {
				canvas = geometry.AutoCanvas(frame.Width, frame.Height)
			}
			plan, err := geometry.PlanFor(frame.Width, frame.Height, canvas)
			if err != nil {
				s.fail(err)
				return
			}
			lastPlan = plan
			planW, planH = frame.Width, frame.Height
			planValid = true
		}

		canvasImg := geometry.Apply(frame.Image, lastPlan)
		tensor := geometry.MakeTensor(canvasImg, frame.Width, frame.Height)

		start := time.Now()
		raw, err := s.detector.Infer(s.ctx, tensor)
		if err != nil {
			// A cancelled context means fail() already ran.
			if s.ctx.Err() != nil {
				return
			}
			s.fail(err)
			return
		}
		elapsed := time.Since(start)
		atomic.AddUint64(&s.inferences, 1)
		atomic.AddUint64(&s.totalLatencyMS, uint64(elapsed.Milliseconds()))
		s.updateFPS(elapsed)

		dets := annotate.Rescale(raw, lastPlan, frame.Width, frame.Height, s.pal)
		fps := 0.0
		if s.showFPS {
			fps = s.FPS()
		}
		rendered := s.ann.Render(frame, dets, fps)

		af := &types.AnnotatedFrame{
			Frame:         frame,
			Detections:    dets,
			Image:         rendered,
			InferenceTime: elapsed,
		}

		if s.out.TryPush(af) {
			continue
		}
		// Presentation is behind: newest result wins here too.
		if dropped := s.out.Clear(); dropped > 0 {
			slog.Debug("output queue overflow", "dropped", dropped)
		}
		s.out.TryPush(af)
	}
}

// fail records the first fatal error and tears the stream down.
func (s *Scheduler) fail(err error) {
	s.errMu.Lock()
	if s.runErr == nil {
		s.runErr = err
	}
	s.errMu.Unlock()

	slog.Error("pipeline failed", "error", err)
	if s.cancel != nil {
		s.cancel()
	}
	s.beginDrain()
}

func (s *Scheduler) updateFPS(elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	instant := 1.0 / elapsed.Seconds()
	prev := math.Float64frombits(s.fpsEMA.Load())
	if prev == 0 {
		s.fpsEMA.Store(math.Float64bits(instant))
		return
	}
	s.fpsEMA.Store(math.Float64bits(prev*0.9 + instant*0.1))
}

// FPS reports the smoothed inference rate.
func (s *Scheduler) FPS() float64 {
	return math.Float64frombits(s.fpsEMA.Load())
}

// TryNext returns the oldest pending annotated frame without blocking.
func (s *Scheduler) TryNext() (*types.AnnotatedFrame, bool) {
	return s.out.TryPop()
}

// SetPaused makes the producer discard frames instead of queueing
// them. Already-queued frames still flow through.
func (s *Scheduler) SetPaused(paused bool) {
	s.paused.Store(paused)
	slog.Info("pipeline pause state changed", "paused", paused)
}

// Paused reports whether the producer is discarding frames.
func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Stop drains the pipeline and waits for it to finish or for the
// context to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.beginDrain()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the pipeline has fully stopped.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Err returns the fatal error that stopped the stream, if any.
func (s *Scheduler) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.runErr
}
