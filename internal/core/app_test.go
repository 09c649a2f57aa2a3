package core

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/visiona/lookout/internal/capture"
	"github.com/visiona/lookout/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Sink.Enabled = true
	cfg.Sink.Dir = t.TempDir()
	cfg.Pipeline.StatsIntervalS = 1
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

// TestRunProcessesFiniteStream checks the full application runs a
// bounded mock stream to completion and saves annotated output.
func TestRunProcessesFiniteStream(t *testing.T) {
	cfg := testConfig(t)

	src := capture.NewMockSource(64, 64, 120)
	src.Limit = 3

	app, err := New(cfg, src)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Run(ctx); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	entries, err := os.ReadDir(cfg.Sink.Dir)
	if err != nil {
		t.Fatalf("reading sink dir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no annotated frames were saved")
	}
}

// TestRunStopsOnContextCancel checks cancellation winds the stream
// down instead of leaving goroutines behind.
func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sink.Enabled = false

	app, err := New(cfg, capture.NewMockSource(64, 64, 120))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// Cancellation must not strand annotated frames in the output
	// queue: the presenter flushes before exiting.
	if _, ok := app.sched.TryNext(); ok {
		t.Error("output queue still holds frames after Run returned")
	}
}

// TestRunOnceAnnotatesImage checks the one-shot mode reads an image
// file and writes an annotated copy.
func TestRunOnceAnnotatesImage(t *testing.T) {
	cfg := testConfig(t)

	imgPath := filepath.Join(t.TempDir(), "input.png")
	img := imaging.New(100, 200, color.White)
	if err := imaging.Save(img, imgPath); err != nil {
		t.Fatalf("saving test image: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := RunOnce(ctx, cfg, imgPath)
	if err != nil {
		t.Fatalf("RunOnce() failed: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output file missing: %v", err)
	}
}

// TestRunOnceRejectsMissingImage checks a bad path surfaces the
// capture sentinel so the CLI can re-prompt.
func TestRunOnceRejectsMissingImage(t *testing.T) {
	cfg := testConfig(t)

	ctx := context.Background()
	_, err := RunOnce(ctx, cfg, filepath.Join(t.TempDir(), "nope.png"))
	if err == nil {
		t.Fatal("RunOnce() accepted a missing image")
	}
}
