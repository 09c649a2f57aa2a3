// Package palette assigns each object class a stable display color.
//
// Colors are evenly spaced hues at full saturation and value, shuffled
// with a fixed seed so that neighboring class indexes do not land on
// neighboring hues. The assignment is deterministic per (classes, seed)
// pair, so annotations keep the same colors across restarts.
package palette

import (
	"image/color"
	"math/rand"

	"github.com/lucasb-eyer/go-colorful"
)

// DefaultSeed reproduces the canonical shuffle used by existing streams.
const DefaultSeed = 10101

// Palette maps class indexes to names and display colors.
type Palette struct {
	classes []string
	colors  []color.NRGBA
}

// New builds a palette with one color per class.
func New(classes []string, seed int64) *Palette {
	n := len(classes)
	colors := make([]color.NRGBA, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n) * 360.0
		r, g, b := colorful.Hsv(hue, 1, 1).RGB255()
		colors[i] = color.NRGBA{R: r, G: g, B: b, A: 255}
	}

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(n, func(i, j int) {
		colors[i], colors[j] = colors[j], colors[i]
	})

	return &Palette{classes: classes, colors: colors}
}

// Len returns the number of classes.
func (p *Palette) Len() int { return len(p.classes) }

// Class returns the name for a class index, or "" when out of range.
func (p *Palette) Class(index int) string {
	if index < 0 || index >= len(p.classes) {
		return ""
	}
	return p.classes[index]
}

// Color returns the display color for a class index. Out-of-range
// indexes fall back to white so rendering never fails on a detector
// that reports an unexpected class.
func (p *Palette) Color(index int) color.NRGBA {
	if index < 0 || index >= len(p.colors) {
		return color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	}
	return p.colors[index]
}
