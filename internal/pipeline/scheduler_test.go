package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"testing"
	"time"

	"github.com/visiona/lookout/internal/annotate"
	"github.com/visiona/lookout/internal/capture"
	"github.com/visiona/lookout/internal/detect"
	"github.com/visiona/lookout/internal/palette"
	"github.com/visiona/lookout/internal/types"
)

var testClasses = []string{"person", "bicycle", "car"}

func newTestScheduler(t *testing.T, source capture.Source, det detect.Detector, cfg Config) *Scheduler {
	t.Helper()
	pal := palette.New(testClasses, palette.DefaultSeed)
	ann, err := annotate.NewAnnotator(pal, "")
	if err != nil {
		t.Fatalf("NewAnnotator() failed: %v", err)
	}
	return New(source, det, ann, pal, cfg)
}

func waitDone(t *testing.T, s *Scheduler, timeout time.Duration) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(timeout):
		t.Fatal("pipeline did not stop in time")
	}
}

// TestStreamDrainsOnSourceEnd checks a finite source runs to
// completion: the pipeline drains, stops cleanly and produced
// annotated output along the way.
func TestStreamDrainsOnSourceEnd(t *testing.T) {
	src := capture.NewMockSource(64, 64, 120)
	src.Limit = 5
	det := &detect.MockDetector{}
	s := newTestScheduler(t, src, det, Config{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	var got []*types.AnnotatedFrame
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if af, ok := s.TryNext(); ok {
			got = append(got, af)
		}
		select {
		case <-s.Done():
			deadline = time.Now()
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	// Drain whatever is still buffered after stop.
	for {
		af, ok := s.TryNext()
		if !ok {
			break
		}
		got = append(got, af)
	}

	waitDone(t, s, time.Second)
	if err := s.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", s.State())
	}
	if len(got) == 0 {
		t.Fatal("no annotated frames produced")
	}
	for _, af := range got {
		if af.Image == nil || af.Frame == nil {
			t.Fatal("annotated frame missing image or source frame")
		}
		if len(af.Detections) == 0 {
			t.Error("mock detector output lost in the pipeline")
		}
	}
}

// TestBackpressureKeepsLatest runs a detector far slower than the
// capture rate: the producer has to drop stale frames instead of
// blocking, and the newest captured frame is still the last one to
// come out after the drain.
func TestBackpressureKeepsLatest(t *testing.T) {
	const frames = 30
	src := capture.NewMockSource(64, 64, 200)
	src.Limit = frames
	det := &detect.MockDetector{Latency: 25 * time.Millisecond}
	s := newTestScheduler(t, src, det, Config{OverflowBackoff: time.Millisecond})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	var last *types.AnnotatedFrame
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if af, ok := s.TryNext(); ok {
			last = af
		}
		select {
		case <-s.Done():
			deadline = time.Now()
		default:
			time.Sleep(time.Millisecond)
		}
	}
	for {
		af, ok := s.TryNext()
		if !ok {
			break
		}
		last = af
	}

	waitDone(t, s, time.Second)
	if err := s.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}
	if st := s.Stats(); st.FramesDropped == 0 {
		t.Error("FramesDropped = 0, want >0 with a slow detector")
	}
	if last == nil {
		t.Fatal("no frames reached the output queue")
	}
	if got := last.Frame.Seq; got != frames-1 {
		t.Errorf("last processed Seq = %d, want %d", got, frames-1)
	}
}

// TestDetectorFailureStopsStream checks an inference error is fatal:
// the stream stops and the error is observable through Err().
func TestDetectorFailureStopsStream(t *testing.T) {
	src := capture.NewMockSource(64, 64, 120)
	det := &detect.MockDetector{FailAfter: 1}
	s := newTestScheduler(t, src, det, Config{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	waitDone(t, s, 5*time.Second)
	if err := s.Err(); !errors.Is(err, detect.ErrDetectorFailure) {
		t.Errorf("Err() = %v, want ErrDetectorFailure", err)
	}
}

// TestStopIsBounded checks Stop on an endless source completes within
// its deadline.
func TestStopIsBounded(t *testing.T) {
	src := capture.NewMockSource(64, 64, 120)
	det := &detect.MockDetector{Latency: 5 * time.Millisecond}
	s := newTestScheduler(t, src, det, Config{OverflowBackoff: 10 * time.Millisecond})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", s.State())
	}
}

// TestTransientReadFailuresAreNotFatal checks grab failures are logged
// and skipped while the stream keeps running to its natural end.
func TestTransientReadFailuresAreNotFatal(t *testing.T) {
	src := &flakySource{frames: 4, failEvery: 2}
	det := &detect.MockDetector{}
	s := newTestScheduler(t, src, det, Config{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	waitDone(t, s, 5*time.Second)
	if err := s.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}
	if got := s.Stats().ReadFailures; got == 0 {
		t.Error("ReadFailures = 0, want >0")
	}
}

// TestPauseStopsQueueing checks a paused producer keeps reading but
// enqueues nothing new.
func TestPauseStopsQueueing(t *testing.T) {
	src := capture.NewMockSource(64, 64, 240)
	det := &detect.MockDetector{}
	s := newTestScheduler(t, src, det, Config{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	s.SetPaused(true)
	time.Sleep(50 * time.Millisecond)

	before := s.Stats()
	time.Sleep(200 * time.Millisecond)
	after := s.Stats()

	if after.FramesQueued != before.FramesQueued {
		t.Errorf("frames queued while paused: %d -> %d", before.FramesQueued, after.FramesQueued)
	}
	if after.FramesRead <= before.FramesRead {
		t.Error("producer stopped reading while paused")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}

// flakySource alternates successful frames with read errors, then
// signals end-of-stream.
type flakySource struct {
	frames    int
	failEvery int
	calls     int
	seq       uint64
}

func (f *flakySource) Open() error { return nil }

func (f *flakySource) Read() (*types.Frame, error) {
	f.calls++
	if f.seq >= uint64(f.frames) {
		return nil, io.EOF
	}
	if f.failEvery > 0 && f.calls%f.failEvery == 0 {
		return nil, errors.New("grab failed")
	}

	seq := f.seq
	f.seq++
	return &types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     64,
		Height:    64,
		Image:     image.NewRGBA(image.Rect(0, 0, 64, 64)),
	}, nil
}

func (f *flakySource) Close() error { return nil }
