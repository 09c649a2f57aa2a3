package geometry

import "image"

// Tensor is the detector input: the letterboxed canvas as H×W×3 float32
// RGB values normalized to [0,1] (batch dimension of 1 is implicit).
//
// FrameWidth/FrameHeight carry the original frame size so a backend that
// performs its own coordinate scaling can do so; the pipeline assumes the
// backend returns canvas-space boxes.
type Tensor struct {
	Width       int
	Height      int
	FrameWidth  int
	FrameHeight int
	// Pixels is row-major H×W×3 (R, G, B interleaved)
	Pixels []float32
}

// MakeTensor converts a letterboxed canvas image into a detector input
// tensor for a frame of the given original size.
func MakeTensor(canvas *image.NRGBA, frameWidth, frameHeight int) Tensor {
	b := canvas.Bounds()
	w, h := b.Dx(), b.Dy()
	pixels := make([]float32, h*w*3)

	i := 0
	for y := 0; y < h; y++ {
		row := canvas.Pix[y*canvas.Stride : y*canvas.Stride+w*4]
		for x := 0; x < w; x++ {
			pixels[i+0] = float32(row[x*4+0]) / 255.0
			pixels[i+1] = float32(row[x*4+1]) / 255.0
			pixels[i+2] = float32(row[x*4+2]) / 255.0
			i += 3
		}
	}

	return Tensor{
		Width:       w,
		Height:      h,
		FrameWidth:  frameWidth,
		FrameHeight: frameHeight,
		Pixels:      pixels,
	}
}
