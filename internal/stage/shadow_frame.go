package stage

import "math"

// Reference frame the shadow parameters are expressed against.
const (
	refWidth  = 1280
	refHeight = 720
)

// personThreshold is the mask value above which a pixel belongs to the
// person and must not be darkened by its own shadow.
const personThreshold = 0.5

// ShadowConfig describes the drop shadow cast by the person. Offsets and
// blur are in pixels of a 1280x720 frame; Spread is a percentage of the
// short edge; Opacity is a fraction.
type ShadowConfig struct {
	Enabled bool
	OffsetX float64
	OffsetY float64
	Blur    float64
	Opacity float64
	Spread  float64
}

// DefaultShadowConfig returns the stock shadow look, disabled.
func DefaultShadowConfig() ShadowConfig {
	return ShadowConfig{
		OffsetX: 25,
		OffsetY: 15,
		Blur:    21,
		Opacity: 0.45,
		Spread:  1.5,
	}
}

// shadowGeometry is a ShadowConfig resolved for one frame size.
type shadowGeometry struct {
	offX, offY int
	blurKernel int
	dilate     int
	opacity    float32
}

func (c ShadowConfig) geometry(width, height int) shadowGeometry {
	sx := float64(width) / refWidth
	sy := float64(height) / refHeight

	g := shadowGeometry{
		offX:       int(math.Round(c.OffsetX * sx)),
		offY:       int(math.Round(c.OffsetY * sy)),
		blurKernel: oddKernel(c.Blur * math.Min(sx, sy)),
		opacity:    float32(math.Max(0, math.Min(1, c.Opacity))),
	}
	if c.Spread > 0 {
		g.dilate = oddKernel(float64(min(width, height)) * c.Spread / 100)
	}
	return g
}

// oddKernel rounds v to the nearest odd size; sizes below 3 disable the
// operation.
func oddKernel(v float64) int {
	k := int(math.Round(v))
	if k%2 == 0 {
		k++
	}
	if k < 3 {
		return 0
	}
	return k
}

// shadowRenderer keeps scratch buffers between frames of one video.
type shadowRenderer struct {
	width, height int
	geom          shadowGeometry
	pad           int

	silhouette []float32
	scratch    []float32
	canvas     []float32
	canvasTmp  []float32
}

func newShadowRenderer(cfg ShadowConfig, width, height int) *shadowRenderer {
	g := cfg.geometry(width, height)
	// three box passes reach 3*r pixels
	pad := 3*(g.blurKernel/2) + 1

	cw, ch := width+2*pad, height+2*pad
	return &shadowRenderer{
		width:      width,
		height:     height,
		geom:       g,
		pad:        pad,
		silhouette: make([]float32, width*height),
		scratch:    make([]float32, width*height),
		canvas:     make([]float32, cw*ch),
		canvasTmp:  make([]float32, cw*ch),
	}
}

// Render darkens the rgb24 frame in place using mask, which must match
// the frame size.
func (r *shadowRenderer) Render(frame []byte, mask *Mask) {
	if r.geom.opacity == 0 {
		return
	}
	w, h := r.width, r.height

	// 1. silhouette intensity 0..255, optionally grown by spread
	for i, v := range mask.Pix {
		r.silhouette[i] = clamp01(v) * 255
	}
	if r.geom.dilate > 0 {
		rad := r.geom.dilate / 2
		for y := 0; y < h; y++ {
			maxFilter(r.silhouette, r.scratch, y*w, 1, w, rad)
		}
		for x := 0; x < w; x++ {
			maxFilter(r.scratch, r.silhouette, x, w, h, rad)
		}
	}

	// 2. place on the padded canvas at the offset
	cw, ch := w+2*r.pad, h+2*r.pad
	clear(r.canvas)
	for y := 0; y < h; y++ {
		cy := y + r.pad + r.geom.offY
		if cy < 0 || cy >= ch {
			continue
		}
		for x := 0; x < w; x++ {
			cx := x + r.pad + r.geom.offX
			if cx < 0 || cx >= cw {
				continue
			}
			r.canvas[cy*cw+cx] = r.silhouette[y*w+x]
		}
	}

	// 3. blur; three box passes approximate a gaussian
	if r.geom.blurKernel > 0 {
		rad := r.geom.blurKernel / 2
		for pass := 0; pass < 3; pass++ {
			for y := 0; y < ch; y++ {
				boxBlur(r.canvas, r.canvasTmp, y*cw, 1, cw, rad)
			}
			for x := 0; x < cw; x++ {
				boxBlur(r.canvasTmp, r.canvas, x, cw, ch, rad)
			}
		}
	}

	// 4. crop, convert to alpha and darken
	for y := 0; y < h; y++ {
		row := (y+r.pad)*cw + r.pad
		for x := 0; x < w; x++ {
			i := y*w + x
			if mask.Pix[i] > personThreshold {
				continue
			}
			alpha := r.canvas[row+x] / 255 * r.geom.opacity
			if alpha <= 0 {
				continue
			}
			if alpha > 1 {
				alpha = 1
			}
			keep := 1 - alpha
			p := frame[3*i : 3*i+3 : 3*i+3]
			p[0] = toByte(float32(p[0]) * keep)
			p[1] = toByte(float32(p[1]) * keep)
			p[2] = toByte(float32(p[2]) * keep)
		}
	}
}

// boxBlur averages n samples of src starting at start with the given
// stride over a window of 2*rad+1, treating samples outside as zero.
func boxBlur(src, dst []float32, start, stride, n, rad int) {
	inv := 1 / float32(2*rad+1)
	var sum float32
	for j := 0; j <= rad && j < n; j++ {
		sum += src[start+j*stride]
	}
	for i := 0; i < n; i++ {
		dst[start+i*stride] = sum * inv
		if add := i + rad + 1; add < n {
			sum += src[start+add*stride]
		}
		if rem := i - rad; rem >= 0 {
			sum -= src[start+rem*stride]
		}
	}
}

// maxFilter is the 1-D dilation counterpart of boxBlur.
func maxFilter(src, dst []float32, start, stride, n, rad int) {
	for i := 0; i < n; i++ {
		lo, hi := max(0, i-rad), min(n-1, i+rad)
		var m float32
		for j := lo; j <= hi; j++ {
			if v := src[start+j*stride]; v > m {
				m = v
			}
		}
		dst[start+i*stride] = m
	}
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func toByte(v float32) byte {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return byte(v + 0.5)
}
