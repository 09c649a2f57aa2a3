// Package annotate maps detector output back onto source frames and
// renders the overlay a viewer sees: boxes, class labels and an
// optional throughput stamp.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"github.com/visiona/lookout/internal/geometry"
	"github.com/visiona/lookout/internal/palette"
	"github.com/visiona/lookout/internal/types"
)

// roundHalfUp rounds ties away from zero floor-style, matching the
// coordinate convention of the detector's training pipeline.
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Rescale maps raw canvas-space detections into integer frame
// coordinates. Boxes are clipped to the frame, so downstream drawing
// never touches out-of-bounds pixels.
func Rescale(raw []types.RawDetection, plan geometry.Plan, frameWidth, frameHeight int, pal *palette.Palette) []types.Detection {
	out := make([]types.Detection, 0, len(raw))
	for _, r := range raw {
		src := plan.ToSource(geometry.BoxF{
			Top:    r.Top,
			Left:   r.Left,
			Bottom: r.Bottom,
			Right:  r.Right,
		})

		det := types.Detection{
			Box: types.Box{
				Left:   clamp(roundHalfUp(src.Left), 0, frameWidth),
				Top:    clamp(roundHalfUp(src.Top), 0, frameHeight),
				Right:  clamp(roundHalfUp(src.Right), 0, frameWidth),
				Bottom: clamp(roundHalfUp(src.Bottom), 0, frameHeight),
			},
			Score:      r.Score,
			ClassIndex: r.ClassIndex,
			Class:      pal.Class(r.ClassIndex),
		}
		out = append(out, det)
	}
	return out
}

// Annotator renders detection overlays. It caches parsed font data and
// sized faces, so per-frame rendering does not hit the filesystem.
type Annotator struct {
	pal  *palette.Palette
	ttf  *truetype.Font
	mu   sync.Mutex
	face map[int]font.Face
}

// NewAnnotator builds an annotator. fontPath may be empty, in which
// case a small built-in bitmap face is used for labels.
func NewAnnotator(pal *palette.Palette, fontPath string) (*Annotator, error) {
	a := &Annotator{pal: pal, face: make(map[int]font.Face)}

	if fontPath != "" {
		data, err := os.ReadFile(fontPath)
		if err != nil {
			return nil, fmt.Errorf("loading label font: %w", err)
		}
		ttf, err := truetype.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parsing label font: %w", err)
		}
		a.ttf = ttf
	}
	return a, nil
}

// faceFor returns a cached face for the given pixel size.
func (a *Annotator) faceFor(size int) font.Face {
	if a.ttf == nil {
		return basicfont.Face7x13
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.face[size]; ok {
		return f
	}
	f := truetype.NewFace(a.ttf, &truetype.Options{Size: float64(size)})
	a.face[size] = f
	return f
}

// Render draws the detections onto a copy of the frame image and
// returns the annotated copy. The input frame is never modified.
// Detections are drawn in reverse order so earlier (higher ranked)
// boxes end up on top. A non-positive fps suppresses the overlay stamp.
func (a *Annotator) Render(frame *types.Frame, dets []types.Detection, fps float64) *image.RGBA {
	dc := gg.NewContextForImage(frame.Image)
	w, h := frame.Width, frame.Height

	fontSize := roundHalfUp(0.03 * float64(h))
	if fontSize < 8 {
		fontSize = 8
	}
	dc.SetFontFace(a.faceFor(fontSize))

	thickness := (w + h) / 300
	if thickness < 1 {
		thickness = 1
	}

	for i := len(dets) - 1; i >= 0; i-- {
		a.drawDetection(dc, dets[i], thickness)
	}

	if fps > 0 {
		dc.SetRGB(0, 0, 1)
		dc.DrawString(fmt.Sprintf("FPS: %.1f", fps), 3, float64(fontSize)+3)
	}

	out, ok := dc.Image().(*image.RGBA)
	if !ok {
		// gg always backs its context with RGBA; guard anyway.
		b := dc.Image().Bounds()
		out = image.NewRGBA(b)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				out.Set(x, y, dc.Image().At(x, y))
			}
		}
	}
	return out
}

func (a *Annotator) drawDetection(dc *gg.Context, det types.Detection, thickness int) {
	c := a.pal.Color(det.ClassIndex)
	box := det.Box
	if box.Width() <= 0 || box.Height() <= 0 {
		return
	}

	dc.SetLineWidth(1)
	dc.SetColor(c)

	// Concentric 1px outlines inset toward the box center give a solid
	// border without bleeding outside the clipped rectangle.
	for i := 0; i < thickness; i++ {
		x := float64(box.Left+i) + 0.5
		y := float64(box.Top+i) + 0.5
		ww := float64(box.Width() - 2*i - 1)
		hh := float64(box.Height() - 2*i - 1)
		if ww <= 0 || hh <= 0 {
			break
		}
		dc.DrawRectangle(x, y, ww, hh)
		dc.Stroke()
	}

	label := det.Label()
	lw, lh := dc.MeasureString(label)
	labelH := int(math.Ceil(lh)) + 4

	// Place the label above the box when it fits inside the frame,
	// otherwise tuck it just under the top edge of the box.
	labelTop := box.Top - labelH
	if labelTop < 0 {
		labelTop = box.Top + 1
	}

	dc.SetColor(c)
	dc.DrawRectangle(float64(box.Left), float64(labelTop), lw+6, float64(labelH))
	dc.Fill()

	dc.SetColor(color.Black)
	dc.DrawString(label, float64(box.Left)+3, float64(labelTop+labelH)-3)
}
