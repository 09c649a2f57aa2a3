package config

import (
	"fmt"

	"github.com/visiona/lookout/internal/geometry"
)

var validBackends = map[string]bool{
	"proc": true,
	"dnn":  true,
	"mock": true,
}

// Validate rejects configurations the pipeline cannot run with.
// Canvas violations are caught here so a bad size never reaches the
// letterbox stage.
func (c *Config) Validate() error {
	if c.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}

	if !validBackends[c.Detector.Backend] {
		return fmt.Errorf("detector.backend %q is not one of proc, dnn, mock", c.Detector.Backend)
	}
	switch c.Detector.Backend {
	case "proc":
		if c.Detector.Command == "" {
			return fmt.Errorf("detector.command is required for the proc backend")
		}
		if c.Detector.ModelPath == "" {
			return fmt.Errorf("detector.model_path is required for the proc backend")
		}
	case "dnn":
		if c.Detector.ModelPath == "" {
			return fmt.Errorf("detector.model_path is required for the dnn backend")
		}
	}

	if c.Detector.ScoreThreshold <= 0 || c.Detector.ScoreThreshold > 1 {
		return fmt.Errorf("detector.score_threshold %v is outside (0, 1]", c.Detector.ScoreThreshold)
	}
	if c.Detector.IOUThreshold <= 0 || c.Detector.IOUThreshold > 1 {
		return fmt.Errorf("detector.iou_threshold %v is outside (0, 1]", c.Detector.IOUThreshold)
	}

	// Zero on both axes means frame-derived sizing; anything else must
	// be a whole, stride-aligned canvas.
	if c.Canvas.Width != 0 || c.Canvas.Height != 0 {
		canvas := geometry.CanvasSize{Width: c.Canvas.Width, Height: c.Canvas.Height}
		if !canvas.Valid() {
			return fmt.Errorf("canvas %dx%d: %w (must be positive multiples of %d)",
				c.Canvas.Width, c.Canvas.Height, geometry.ErrInvalidCanvasSize, geometry.Stride)
		}
	}

	if c.Pipeline.QueueCapacity < 1 {
		return fmt.Errorf("pipeline.queue_capacity must be at least 1")
	}
	if c.Pipeline.OverflowBackoffMS < 0 {
		return fmt.Errorf("pipeline.overflow_backoff_ms cannot be negative")
	}
	if c.Camera.Device < 0 {
		return fmt.Errorf("camera.device cannot be negative")
	}
	if c.Health.Enabled && (c.Health.Port < 1 || c.Health.Port > 65535) {
		return fmt.Errorf("health.port %d is out of range", c.Health.Port)
	}
	return nil
}
