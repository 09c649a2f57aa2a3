// Package geometry implements the letterbox transform between source
// frames and the fixed-size canvas the detector consumes, and its exact
// inverse for mapping detector output back onto the source frame.
package geometry

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Stride is the detector's spatial stride; canvas dimensions must be
// multiples of it.
const Stride = 32

// ErrInvalidCanvasSize is returned when a canvas dimension is not a
// multiple of Stride and auto sizing is not enabled.
var ErrInvalidCanvasSize = errors.New("canvas dimensions must be multiples of 32")

// padGray is the neutral fill for the unused canvas border.
var padGray = color.NRGBA{R: 128, G: 128, B: 128, A: 255}

// CanvasSize is the detector input size in pixels.
type CanvasSize struct {
	Width  int
	Height int
}

// Valid reports whether both dimensions are positive multiples of Stride.
func (c CanvasSize) Valid() bool {
	return c.Width > 0 && c.Height > 0 && c.Width%Stride == 0 && c.Height%Stride == 0
}

// AutoCanvas derives a canvas from the frame's own size, with both
// dimensions rounded down to the nearest multiple of Stride.
func AutoCanvas(frameWidth, frameHeight int) CanvasSize {
	return CanvasSize{
		Width:  frameWidth - frameWidth%Stride,
		Height: frameHeight - frameHeight%Stride,
	}
}

// Plan holds the scale and padding that letterbox a frame onto a canvas.
//
// The frame is scaled by a single factor (aspect ratio preserved) and
// centered; the border is filled with mid-gray.
type Plan struct {
	// Scale is min(canvasW/frameW, canvasH/frameH)
	Scale float64
	// ResizedWidth and ResizedHeight are the frame dims after scaling, rounded
	ResizedWidth  int
	ResizedHeight int
	// PadLeft and PadTop center the resized frame on the canvas
	PadLeft int
	PadTop  int
	// Canvas is the target size
	Canvas CanvasSize
}

// PlanFor computes the letterbox plan for a frame against a canvas.
// The canvas must satisfy the stride constraint; use AutoCanvas for
// frame-derived sizing.
func PlanFor(frameWidth, frameHeight int, canvas CanvasSize) (Plan, error) {
	if frameWidth <= 0 || frameHeight <= 0 {
		return Plan{}, fmt.Errorf("invalid frame size %dx%d", frameWidth, frameHeight)
	}
	if !canvas.Valid() {
		return Plan{}, fmt.Errorf("%w: got %dx%d", ErrInvalidCanvasSize, canvas.Width, canvas.Height)
	}

	scale := math.Min(
		float64(canvas.Width)/float64(frameWidth),
		float64(canvas.Height)/float64(frameHeight),
	)
	rw := int(math.Round(float64(frameWidth) * scale))
	rh := int(math.Round(float64(frameHeight) * scale))

	return Plan{
		Scale:         scale,
		ResizedWidth:  rw,
		ResizedHeight: rh,
		PadLeft:       (canvas.Width - rw) / 2,
		PadTop:        (canvas.Height - rh) / 2,
		Canvas:        canvas,
	}, nil
}

// Apply letterboxes the frame image onto the plan's canvas: bicubic-quality
// resize, then centered paste over a mid-gray background.
func Apply(img image.Image, plan Plan) *image.NRGBA {
	resized := imaging.Resize(img, plan.ResizedWidth, plan.ResizedHeight, imaging.CatmullRom)
	canvas := imaging.New(plan.Canvas.Width, plan.Canvas.Height, padGray)
	return imaging.Paste(canvas, resized, image.Pt(plan.PadLeft, plan.PadTop))
}

// BoxF is an axis-aligned rectangle with float coordinates, used on both
// sides of the letterbox mapping.
type BoxF struct {
	Top    float64
	Left   float64
	Bottom float64
	Right  float64
}

// ToSource maps a canvas-coordinate box back onto the source frame.
// This is the exact algebraic inverse of the forward transform: subtract
// the padding, divide by the scale.
func (p Plan) ToSource(b BoxF) BoxF {
	return BoxF{
		Top:    (b.Top - float64(p.PadTop)) / p.Scale,
		Left:   (b.Left - float64(p.PadLeft)) / p.Scale,
		Bottom: (b.Bottom - float64(p.PadTop)) / p.Scale,
		Right:  (b.Right - float64(p.PadLeft)) / p.Scale,
	}
}

// ToCanvas maps a source-coordinate box onto the canvas: multiply by the
// scale, add the padding.
func (p Plan) ToCanvas(b BoxF) BoxF {
	return BoxF{
		Top:    b.Top*p.Scale + float64(p.PadTop),
		Left:   b.Left*p.Scale + float64(p.PadLeft),
		Bottom: b.Bottom*p.Scale + float64(p.PadTop),
		Right:  b.Right*p.Scale + float64(p.PadLeft),
	}
}
