// Package core assembles the capture, pipeline, emitter and control
// components into one runnable application.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/visiona/lookout/internal/annotate"
	"github.com/visiona/lookout/internal/capture"
	"github.com/visiona/lookout/internal/config"
	"github.com/visiona/lookout/internal/control"
	"github.com/visiona/lookout/internal/detect"
	"github.com/visiona/lookout/internal/emitter"
	"github.com/visiona/lookout/internal/geometry"
	"github.com/visiona/lookout/internal/palette"
	"github.com/visiona/lookout/internal/pipeline"
	"github.com/visiona/lookout/internal/sink"
	"github.com/visiona/lookout/internal/types"
)

// mockClasses backs the mock backend, which needs no classes file.
var mockClasses = []string{"person", "bicycle", "car"}

// App owns every component of a running stream.
type App struct {
	cfg *config.Config

	source    capture.Source
	detector  detect.Detector
	lifecycle detect.Lifecycle
	pal       *palette.Palette
	ann       *annotate.Annotator
	sched     *pipeline.Scheduler

	emit     *emitter.MQTTEmitter
	ctrl     *control.Handler
	health   *HealthServer
	filesink *sink.FileSink

	cancel       context.CancelFunc
	stopPresent  context.CancelFunc
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New wires an application around the given capture source.
func New(cfg *config.Config, source capture.Source) (*App, error) {
	classes := mockClasses
	if cfg.Detector.ClassesPath != "" {
		loaded, err := config.LoadClasses(cfg.Detector.ClassesPath)
		if err != nil {
			return nil, err
		}
		classes = loaded
	} else if cfg.Detector.Backend != "mock" {
		return nil, fmt.Errorf("detector.classes_path is required for the %s backend", cfg.Detector.Backend)
	}

	pal := palette.New(classes, cfg.Annotate.PaletteSeed)

	ann, err := annotate.NewAnnotator(pal, cfg.Annotate.FontPath)
	if err != nil {
		return nil, err
	}

	detector, lifecycle, err := buildDetector(cfg, len(classes))
	if err != nil {
		return nil, err
	}

	sched := pipeline.New(source, detector, ann, pal, pipeline.Config{
		Canvas: geometry.CanvasSize{
			Width:  cfg.Canvas.Width,
			Height: cfg.Canvas.Height,
		},
		QueueCapacity:   cfg.Pipeline.QueueCapacity,
		OverflowBackoff: cfg.Pipeline.OverflowBackoff(),
		ShowFPS:         cfg.Annotate.ShowFPS,
	})

	app := &App{
		cfg:       cfg,
		source:    source,
		detector:  detector,
		lifecycle: lifecycle,
		pal:       pal,
		ann:       ann,
		sched:     sched,
	}

	if cfg.Sink.Enabled {
		fs, err := sink.NewFileSink(cfg.Sink.Dir, "jpeg", 90)
		if err != nil {
			return nil, err
		}
		app.filesink = fs
	}
	if cfg.MQTT.Broker != "" {
		app.emit = emitter.NewMQTTEmitter(cfg)
	}
	if cfg.Health.Enabled {
		app.health = NewHealthServer(cfg, app.statusSnapshot)
	}
	return app, nil
}

func buildDetector(cfg *config.Config, numClasses int) (detect.Detector, detect.Lifecycle, error) {
	switch cfg.Detector.Backend {
	case "mock":
		return &detect.MockDetector{Latency: 10 * time.Millisecond}, nil, nil
	case "proc":
		d, err := detect.NewProcDetector(detect.ProcDetectorConfig{
			Command:        cfg.Detector.Command,
			ModelPath:      cfg.Detector.ModelPath,
			AnchorsPath:    cfg.Detector.AnchorsPath,
			ScoreThreshold: cfg.Detector.ScoreThreshold,
			IOUThreshold:   cfg.Detector.IOUThreshold,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, d, nil
	case "dnn":
		d, err := detect.NewDNNDetector(detect.DNNDetectorConfig{
			ModelPath:      cfg.Detector.ModelPath,
			ConfigPath:     cfg.Detector.ConfigPath,
			ScoreThreshold: cfg.Detector.ScoreThreshold,
			IOUThreshold:   cfg.Detector.IOUThreshold,
			NumClasses:     numClasses,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, d, nil
	}
	return nil, nil, fmt.Errorf("unknown detector backend %q", cfg.Detector.Backend)
}

// Run starts all components and blocks until the stream ends, the
// context is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	defer cancel()

	slog.Info("starting stream",
		"instance_id", a.cfg.InstanceID,
		"detector", a.cfg.Detector.Backend,
	)

	if a.lifecycle != nil {
		if err := a.lifecycle.Start(runCtx); err != nil {
			return fmt.Errorf("starting detector: %w", err)
		}
	}

	if err := a.sched.Start(runCtx); err != nil {
		if a.lifecycle != nil {
			a.lifecycle.Stop()
		}
		return fmt.Errorf("starting pipeline: %w", err)
	}
	a.sched.StartStatsLogger(runCtx, a.cfg.Pipeline.StatsInterval())

	if a.emit != nil {
		if err := a.emit.Connect(runCtx); err != nil {
			// Events are best-effort; the stream itself does not
			// depend on the broker.
			slog.Warn("mqtt unavailable, events disabled", "error", err)
			a.emit = nil
		} else {
			a.ctrl = control.NewHandler(a.cfg, a.emit.Client, control.CommandCallbacks{
				OnGetStatus: a.statusSnapshot,
				OnPause: func() error {
					a.sched.SetPaused(true)
					return nil
				},
				OnResume: func() error {
					a.sched.SetPaused(false)
					return nil
				},
				OnShutdown: func() error {
					cancel()
					return nil
				},
			})
			if err := a.ctrl.Start(runCtx); err != nil {
				slog.Warn("control plane unavailable", "error", err)
				a.ctrl = nil
			}
		}
	}

	if a.health != nil {
		a.health.Start()
	}

	// The presenter outlives runCtx so frames still buffered when the
	// run is cancelled get flushed; Shutdown stops it after the
	// pipeline has drained.
	presentCtx, stopPresent := context.WithCancel(context.Background())
	a.stopPresent = stopPresent
	defer stopPresent()
	a.wg.Add(1)
	go a.presentLoop(presentCtx)

	select {
	case <-runCtx.Done():
		slog.Info("shutdown requested")
	case <-a.sched.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	a.Shutdown(shutdownCtx)

	return a.sched.Err()
}

// presentLoop polls the output queue, saves annotated frames and
// publishes detection events.
func (a *App) presentLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		af, ok := a.sched.TryNext()
		if !ok {
			select {
			case <-ctx.Done():
				a.flushOutput()
				return
			case <-a.sched.Done():
				a.flushOutput()
				return
			case <-ticker.C:
			}
			continue
		}
		a.present(af)
	}
}

// flushOutput drains frames still buffered in the output queue so a
// cancelled run keeps its final annotated frames.
func (a *App) flushOutput() {
	for {
		af, ok := a.sched.TryNext()
		if !ok {
			return
		}
		a.present(af)
	}
}

func (a *App) present(af *types.AnnotatedFrame) {
	if a.filesink != nil {
		if path, err := a.filesink.Save(af); err != nil {
			slog.Warn("saving annotated frame", "error", err)
		} else {
			slog.Debug("annotated frame saved",
				"path", path,
				"detections", len(af.Detections),
			)
		}
	}

	if a.emit != nil {
		event := types.NewDetectionEvent(a.cfg.InstanceID, af)
		if err := a.emit.Publish(event); err != nil {
			slog.Debug("publishing detection event", "error", err)
		}
	}
}

// statusSnapshot feeds both the control plane and the health endpoint.
func (a *App) statusSnapshot() map[string]interface{} {
	st := a.sched.Stats()
	status := map[string]interface{}{
		"instance_id":    a.cfg.InstanceID,
		"state":          st.State,
		"paused":         st.Paused,
		"frames_read":    st.FramesRead,
		"frames_dropped": st.FramesDropped,
		"read_failures":  st.ReadFailures,
		"inferences":     st.Inferences,
		"avg_latency_ms": st.AvgLatencyMS,
		"fps":            st.FPS,
	}
	if a.filesink != nil {
		saved, failed := a.filesink.Stats()
		status["frames_saved"] = saved
		status["save_failures"] = failed
	}
	if a.emit != nil {
		es := a.emit.Stats()
		status["mqtt_connected"] = es.Connected
		status["mqtt_errors"] = es.Errors
	}
	return status
}

// Shutdown stops every component in dependency order: control plane
// first, then the pipeline, detector, emitter and health server.
func (a *App) Shutdown(ctx context.Context) {
	a.shutdownOnce.Do(func() {
		slog.Info("shutting down")

		if a.ctrl != nil {
			a.ctrl.Stop()
		}

		if err := a.sched.Stop(ctx); err != nil {
			slog.Warn("pipeline stop timed out", "error", err)
		}

		if a.cancel != nil {
			a.cancel()
		}
		if a.stopPresent != nil {
			a.stopPresent()
		}
		a.wg.Wait()

		if a.lifecycle != nil {
			if err := a.lifecycle.Stop(); err != nil {
				slog.Warn("stopping detector", "error", err)
			}
		}
		if a.emit != nil {
			a.emit.Disconnect()
		}
		if a.health != nil {
			a.health.Stop(ctx)
		}

		st := a.sched.Stats()
		slog.Info("shutdown complete",
			"frames_read", st.FramesRead,
			"inferences", st.Inferences,
			"frames_dropped", st.FramesDropped,
		)
	})
}

// RunOnce annotates a single image and returns the output path. Used
// by the one-shot CLI mode.
func RunOnce(ctx context.Context, cfg *config.Config, imagePath string) (string, error) {
	src := capture.NewImageSource(imagePath)
	if err := src.Open(); err != nil {
		return "", err
	}

	app, err := New(cfg, src)
	if err != nil {
		return "", err
	}

	if app.lifecycle != nil {
		if err := app.lifecycle.Start(ctx); err != nil {
			return "", fmt.Errorf("starting detector: %w", err)
		}
		defer app.lifecycle.Stop()
	}

	if err := app.sched.Start(ctx); err != nil {
		return "", fmt.Errorf("starting pipeline: %w", err)
	}

	select {
	case <-app.sched.Done():
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if err := app.sched.Err(); err != nil {
		return "", err
	}

	af, ok := app.sched.TryNext()
	if !ok {
		return "", errors.New("no annotated output produced")
	}
	if app.filesink == nil {
		fs, err := sink.NewFileSink(cfg.Sink.Dir, "jpeg", 90)
		if err != nil {
			return "", err
		}
		app.filesink = fs
	}
	return app.filesink.Save(af)
}
