//go:build gocv

package detect

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"log/slog"
	"math"

	"gocv.io/x/gocv"

	"github.com/visiona/lookout/internal/geometry"
	"github.com/visiona/lookout/internal/types"
)

// DNNDetector runs the model in-process through the OpenCV DNN module.
// Built only with the gocv tag, so the default build carries no cgo.
type DNNDetector struct {
	net         gocv.Net
	outputNames []string

	scoreThreshold float32
	iouThreshold   float32
	numClasses     int
}

// DNNDetectorConfig configures the in-process backend.
type DNNDetectorConfig struct {
	ModelPath      string
	ConfigPath     string
	ScoreThreshold float64
	IOUThreshold   float64
	NumClasses     int
}

// NewDNNDetector loads the network. Loading failures are fatal.
func NewDNNDetector(cfg DNNDetectorConfig) (*DNNDetector, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path is required")
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = 0.4
	}
	if cfg.IOUThreshold <= 0 {
		cfg.IOUThreshold = 0.45
	}

	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: cannot load model from %s", ErrDetectorFailure, cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	var outputs []string
	for _, name := range net.GetLayerNames() {
		outputs = append(outputs, name)
	}
	unconnected := net.GetUnconnectedOutLayers()
	names := make([]string, 0, len(unconnected))
	for _, idx := range unconnected {
		// Layer indexes are 1-based in the DNN module.
		names = append(names, outputs[idx-1])
	}

	slog.Info("dnn detector loaded",
		"model", cfg.ModelPath,
		"outputs", names,
	)

	return &DNNDetector{
		net:            net,
		outputNames:    names,
		scoreThreshold: float32(cfg.ScoreThreshold),
		iouThreshold:   float32(cfg.IOUThreshold),
		numClasses:     cfg.NumClasses,
	}, nil
}

// Start satisfies Lifecycle; the network is loaded at construction.
func (d *DNNDetector) Start(ctx context.Context) error { return nil }

// Infer runs a forward pass and returns NMS-filtered boxes in canvas
// pixel coordinates.
func (d *DNNDetector) Infer(ctx context.Context, tensor geometry.Tensor) ([]types.RawDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorFailure, err)
	}

	buf := make([]byte, len(tensor.Pixels)*4)
	for i, v := range tensor.Pixels {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	mat, err := gocv.NewMatFromBytes(tensor.Height, tensor.Width, gocv.MatTypeCV32FC3, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: building input mat: %v", ErrDetectorFailure, err)
	}
	defer mat.Close()

	// Pixels are already normalized, so the blob scale is 1.
	blob := gocv.BlobFromImage(mat, 1.0,
		image.Pt(tensor.Width, tensor.Height),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	outputs := d.net.ForwardLayers(d.outputNames)
	defer func() {
		for i := range outputs {
			outputs[i].Close()
		}
	}()

	return d.postprocess(outputs, tensor.Width, tensor.Height), nil
}

// postprocess decodes YOLO output rows [cx cy w h obj class...] into
// corner boxes and applies non-maximum suppression.
func (d *DNNDetector) postprocess(outputs []gocv.Mat, canvasW, canvasH int) []types.RawDetection {
	var (
		boxes   []image.Rectangle
		scores  []float32
		classes []int
	)

	for _, out := range outputs {
		rows := out.Rows()
		cols := out.Cols()
		for r := 0; r < rows; r++ {
			objectness := out.GetFloatAt(r, 4)
			bestClass, bestScore := 0, float32(0)
			for c := 5; c < cols; c++ {
				if s := out.GetFloatAt(r, c); s > bestScore {
					bestScore = s
					bestClass = c - 5
				}
			}
			score := objectness * bestScore
			if score < d.scoreThreshold {
				continue
			}

			cx := out.GetFloatAt(r, 0) * float32(canvasW)
			cy := out.GetFloatAt(r, 1) * float32(canvasH)
			w := out.GetFloatAt(r, 2) * float32(canvasW)
			h := out.GetFloatAt(r, 3) * float32(canvasH)

			boxes = append(boxes, image.Rect(
				int(cx-w/2), int(cy-h/2),
				int(cx+w/2), int(cy+h/2),
			))
			scores = append(scores, score)
			classes = append(classes, bestClass)
		}
	}

	if len(boxes) == 0 {
		return nil
	}

	keep := gocv.NMSBoxes(boxes, scores, d.scoreThreshold, d.iouThreshold)
	dets := make([]types.RawDetection, 0, len(keep))
	for _, idx := range keep {
		b := boxes[idx]
		dets = append(dets, types.RawDetection{
			Top:        float64(b.Min.Y),
			Left:       float64(b.Min.X),
			Bottom:     float64(b.Max.Y),
			Right:      float64(b.Max.X),
			Score:      float64(scores[idx]),
			ClassIndex: classes[idx],
		})
	}
	return dets
}

// Stop releases the network.
func (d *DNNDetector) Stop() error {
	return d.net.Close()
}
