package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/visiona/lookout/internal/geometry"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

// TestLoadAppliesDefaults checks a minimal file comes back fully
// populated.
func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "min.yaml", "instance_id: cam_lobby\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.InstanceID != "cam_lobby" {
		t.Errorf("InstanceID = %q, want cam_lobby", cfg.InstanceID)
	}
	if cfg.Pipeline.QueueCapacity != 4 {
		t.Errorf("QueueCapacity = %d, want 4", cfg.Pipeline.QueueCapacity)
	}
	if cfg.Pipeline.OverflowBackoff() != time.Second {
		t.Errorf("OverflowBackoff = %v, want 1s", cfg.Pipeline.OverflowBackoff())
	}
	if cfg.Detector.ScoreThreshold != 0.4 {
		t.Errorf("ScoreThreshold = %v, want 0.4", cfg.Detector.ScoreThreshold)
	}
	if cfg.Annotate.PaletteSeed != 10101 {
		t.Errorf("PaletteSeed = %d, want 10101", cfg.Annotate.PaletteSeed)
	}
}

// TestLoadRejectsMisalignedCanvas checks the stride constraint is a
// config-time failure classified by the geometry sentinel.
func TestLoadRejectsMisalignedCanvas(t *testing.T) {
	path := writeTemp(t, "bad.yaml", `
instance_id: cam_lobby
canvas:
  width: 416
  height: 400
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() accepted a canvas that is not a stride multiple")
	}
	if !errors.Is(err, geometry.ErrInvalidCanvasSize) {
		t.Errorf("error %v does not wrap ErrInvalidCanvasSize", err)
	}
}

// TestLoadRejectsUnknownBackend checks backend names are validated.
func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := writeTemp(t, "backend.yaml", `
instance_id: cam_lobby
detector:
  backend: tensor_magic
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted an unknown detector backend")
	}
}

// TestProcBackendRequiresCommand checks proc-specific requirements.
func TestProcBackendRequiresCommand(t *testing.T) {
	path := writeTemp(t, "proc.yaml", `
instance_id: cam_lobby
detector:
  backend: proc
  model_path: models/net.onnx
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted a proc backend without a command")
	}
}

// TestLoadFullConfig checks a realistic file parses end to end.
func TestLoadFullConfig(t *testing.T) {
	path := writeTemp(t, "full.yaml", `
instance_id: cam_lobby
log_level: debug
detector:
  backend: mock
  score_threshold: 0.5
canvas:
  width: 608
  height: 320
pipeline:
  queue_capacity: 8
  overflow_backoff_ms: 250
camera:
  device: 1
mqtt:
  broker: localhost:1883
  topics:
    events: site/events
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Canvas.Width != 608 || cfg.Canvas.Height != 320 {
		t.Errorf("canvas = %dx%d, want 608x320", cfg.Canvas.Width, cfg.Canvas.Height)
	}
	if cfg.Pipeline.OverflowBackoff() != 250*time.Millisecond {
		t.Errorf("OverflowBackoff = %v, want 250ms", cfg.Pipeline.OverflowBackoff())
	}
	if cfg.MQTT.Topics.Events != "site/events" {
		t.Errorf("events topic = %q, want site/events", cfg.MQTT.Topics.Events)
	}
	if cfg.MQTT.Topics.Health != "lookout/health" {
		t.Errorf("health topic = %q, want default lookout/health", cfg.MQTT.Topics.Health)
	}
}

// TestLoadClasses checks the class list loader skips blanks.
func TestLoadClasses(t *testing.T) {
	path := writeTemp(t, "classes.txt", "person\n\nbicycle\ncar\n")

	classes, err := LoadClasses(path)
	if err != nil {
		t.Fatalf("LoadClasses() failed: %v", err)
	}
	want := []string{"person", "bicycle", "car"}
	if len(classes) != len(want) {
		t.Fatalf("got %d classes, want %d", len(classes), len(want))
	}
	for i := range want {
		if classes[i] != want[i] {
			t.Errorf("classes[%d] = %q, want %q", i, classes[i], want[i])
		}
	}
}

// TestLoadClassesRejectsEmpty checks an empty file fails loudly.
func TestLoadClassesRejectsEmpty(t *testing.T) {
	path := writeTemp(t, "empty.txt", "\n\n")
	if _, err := LoadClasses(path); err == nil {
		t.Fatal("LoadClasses() accepted an empty file")
	}
}

// TestLoadAnchors checks anchor values pair up in file order.
func TestLoadAnchors(t *testing.T) {
	path := writeTemp(t, "anchors.txt", "10,13, 16,30, 33,23\n")

	anchors, err := LoadAnchors(path)
	if err != nil {
		t.Fatalf("LoadAnchors() failed: %v", err)
	}
	want := [][2]float64{{10, 13}, {16, 30}, {33, 23}}
	if len(anchors) != len(want) {
		t.Fatalf("got %d anchors, want %d", len(anchors), len(want))
	}
	for i := range want {
		if anchors[i] != want[i] {
			t.Errorf("anchors[%d] = %v, want %v", i, anchors[i], want[i])
		}
	}
}

// TestLoadAnchorsRejectsOddCount checks unpaired values fail loudly.
func TestLoadAnchorsRejectsOddCount(t *testing.T) {
	path := writeTemp(t, "odd.txt", "10,13,16\n")
	if _, err := LoadAnchors(path); err == nil {
		t.Fatal("LoadAnchors() accepted an odd value count")
	}
}
