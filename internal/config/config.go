// Package config loads and validates the YAML runtime configuration.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	InstanceID string `yaml:"instance_id"`
	LogLevel   string `yaml:"log_level"`

	Detector DetectorConfig `yaml:"detector"`
	Canvas   CanvasConfig   `yaml:"canvas"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Camera   CameraConfig   `yaml:"camera"`
	Annotate AnnotateConfig `yaml:"annotate"`
	Sink     SinkConfig     `yaml:"sink"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Health   HealthConfig   `yaml:"health"`
}

// DetectorConfig selects and tunes the inference backend.
type DetectorConfig struct {
	// Backend is one of proc, dnn, mock.
	Backend string `yaml:"backend"`
	// Command launches the external worker (proc backend).
	Command string `yaml:"command"`
	// ModelPath and ConfigPath locate the model files.
	ModelPath  string `yaml:"model_path"`
	ConfigPath string `yaml:"config_path"`
	// ClassesPath is a text file with one class name per line.
	ClassesPath string `yaml:"classes_path"`
	// AnchorsPath is a text file of comma-separated anchor pairs,
	// passed through to backends that need them.
	AnchorsPath    string  `yaml:"anchors_path"`
	ScoreThreshold float64 `yaml:"score_threshold"`
	IOUThreshold   float64 `yaml:"iou_threshold"`
}

// CanvasConfig fixes the model input canvas. Both zero means the
// canvas is derived from the frame dimensions.
type CanvasConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// PipelineConfig tunes the stream scheduler.
type PipelineConfig struct {
	QueueCapacity     int `yaml:"queue_capacity"`
	OverflowBackoffMS int `yaml:"overflow_backoff_ms"` // producer pause on overflow (default: 1000)
	StatsIntervalS    int `yaml:"stats_interval_s"`    // stats log period in seconds (default: 30)
}

// OverflowBackoff returns the producer overflow pause as a duration.
func (p PipelineConfig) OverflowBackoff() time.Duration {
	return time.Duration(p.OverflowBackoffMS) * time.Millisecond
}

// StatsInterval returns the stats log period as a duration.
func (p PipelineConfig) StatsInterval() time.Duration {
	return time.Duration(p.StatsIntervalS) * time.Second
}

// CameraConfig selects the capture device.
type CameraConfig struct {
	Device int `yaml:"device"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	FPS    int `yaml:"fps"`
}

// AnnotateConfig tunes overlay rendering.
type AnnotateConfig struct {
	FontPath    string `yaml:"font_path"`
	PaletteSeed int64  `yaml:"palette_seed"`
	ShowFPS     bool   `yaml:"show_fps"`
}

// SinkConfig controls the annotated-frame file sink.
type SinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// MQTTConfig configures event publishing. An empty broker disables
// MQTT entirely.
type MQTTConfig struct {
	Broker string          `yaml:"broker"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics names the topics the process uses.
type MQTTTopics struct {
	Events  string `yaml:"events"`
	Health  string `yaml:"health"`
	Control string `yaml:"control"`
}

// HealthConfig configures the local health endpoint.
type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads, parses, defaults and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Default builds a validated config without a file, for mock runs.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.InstanceID == "" {
		c.InstanceID = "lookout_001"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Detector.Backend == "" {
		c.Detector.Backend = "mock"
	}
	if c.Detector.ScoreThreshold == 0 {
		c.Detector.ScoreThreshold = 0.4
	}
	if c.Detector.IOUThreshold == 0 {
		c.Detector.IOUThreshold = 0.45
	}
	if c.Pipeline.QueueCapacity == 0 {
		c.Pipeline.QueueCapacity = 4
	}
	if c.Pipeline.OverflowBackoffMS == 0 {
		c.Pipeline.OverflowBackoffMS = 1000
	}
	if c.Pipeline.StatsIntervalS == 0 {
		c.Pipeline.StatsIntervalS = 30
	}
	if c.Camera.FPS == 0 {
		c.Camera.FPS = 30
	}
	if c.Camera.Width == 0 {
		c.Camera.Width = 640
	}
	if c.Camera.Height == 0 {
		c.Camera.Height = 480
	}
	if c.Annotate.PaletteSeed == 0 {
		c.Annotate.PaletteSeed = 10101
	}
	if c.Sink.Dir == "" {
		c.Sink.Dir = "out"
	}
	if c.MQTT.Topics.Events == "" {
		c.MQTT.Topics.Events = "lookout/events"
	}
	if c.MQTT.Topics.Health == "" {
		c.MQTT.Topics.Health = "lookout/health"
	}
	if c.MQTT.Topics.Control == "" {
		c.MQTT.Topics.Control = "lookout/control"
	}
	if c.Health.Port == 0 {
		c.Health.Port = 8089
	}
}

// LoadClasses reads class names, one per line. Blank lines are
// skipped.
func LoadClasses(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening classes file: %w", err)
	}
	defer f.Close()

	var classes []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		classes = append(classes, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading classes file: %w", err)
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("classes file %s is empty", path)
	}
	return classes, nil
}

// LoadAnchors reads anchor box dimensions as comma-separated numbers
// and groups them into width/height pairs.
func LoadAnchors(path string) ([][2]float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening anchors file: %w", err)
	}
	fields := strings.Split(string(raw), ",")
	var values []float64
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing anchor value %q: %w", f, err)
		}
		values = append(values, v)
	}
	if len(values) == 0 || len(values)%2 != 0 {
		return nil, fmt.Errorf("anchors file %s needs an even number of values, got %d", path, len(values))
	}
	anchors := make([][2]float64, 0, len(values)/2)
	for i := 0; i < len(values); i += 2 {
		anchors = append(anchors, [2]float64{values[i], values[i+1]})
	}
	return anchors, nil
}
