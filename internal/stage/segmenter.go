package stage

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
)

// Segmenter estimates, per pixel, the probability that a person is
// present. Implementations are created once by the caller and shared.
type Segmenter interface {
	// Segment returns a mask of any size; it is rescaled to the frame.
	Segment(img image.Image) (*Mask, error)
}

// Mask holds foreground probabilities in [0,1], row major.
type Mask struct {
	Width  int
	Height int
	Pix    []float32
}

// NewMask allocates an all-background mask.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Pix: make([]float32, width*height)}
}

// At returns the probability at (x, y).
func (m *Mask) At(x, y int) float32 {
	return m.Pix[y*m.Width+x]
}

// Resize scales the mask bilinearly to width x height.
func (m *Mask) Resize(width, height int) *Mask {
	if m.Width == width && m.Height == height {
		return m
	}

	gray := image.NewGray16(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Pix {
		gray.Pix[2*i], gray.Pix[2*i+1] = split16(v)
	}

	scaled := resize.Resize(uint(width), uint(height), gray, resize.Bilinear)

	out := NewMask(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g := color.Gray16Model.Convert(scaled.At(x, y)).(color.Gray16)
			out.Pix[y*width+x] = float32(g.Y) / 0xffff
		}
	}
	return out
}

func split16(v float32) (byte, byte) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	y := uint16(v*0xffff + 0.5)
	return byte(y >> 8), byte(y)
}
