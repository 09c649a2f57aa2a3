//go:build !gocv

package detect

import (
	"context"
	"fmt"

	"github.com/visiona/lookout/internal/geometry"
	"github.com/visiona/lookout/internal/types"
)

// DNNDetectorConfig configures the in-process backend. It is accepted
// in all builds so configuration parsing does not depend on the tag.
type DNNDetectorConfig struct {
	ModelPath      string
	ConfigPath     string
	ScoreThreshold float64
	IOUThreshold   float64
	NumClasses     int
}

// DNNDetector is unavailable without the gocv build tag.
type DNNDetector struct{}

func NewDNNDetector(cfg DNNDetectorConfig) (*DNNDetector, error) {
	return nil, fmt.Errorf("dnn detector requires a build with the gocv tag")
}

func (d *DNNDetector) Start(ctx context.Context) error { return nil }
func (d *DNNDetector) Stop() error                     { return nil }

func (d *DNNDetector) Infer(ctx context.Context, tensor geometry.Tensor) ([]types.RawDetection, error) {
	return nil, fmt.Errorf("%w: dnn backend not built", ErrDetectorFailure)
}
