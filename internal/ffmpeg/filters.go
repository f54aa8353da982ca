package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

// FilterBuilder helps construct ffmpeg filter chains
type FilterBuilder struct {
	filters []string
}

// NewFilterBuilder creates a new filter builder
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{
		filters: make([]string, 0),
	}
}

// ScaleLanczos adds a scale filter using the lanczos resampler.
func (fb *FilterBuilder) ScaleLanczos(width, height int) *FilterBuilder {
	if width <= 0 || height <= 0 {
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf("scale=%d:%d:flags=lanczos", width, height))
	return fb
}

// Fit scales to fit inside width x height keeping the aspect ratio and pads
// the remainder with black, centred.
func (fb *FilterBuilder) Fit(width, height int) *FilterBuilder {
	if width <= 0 || height <= 0 {
		return fb
	}
	fb.filters = append(fb.filters,
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", width, height),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", width, height),
	)
	return fb
}

// FPS adds an fps filter
func (fb *FilterBuilder) FPS(fps float64) *FilterBuilder {
	if fps <= 0 {
		return fb
	}
	fb.filters = append(fb.filters, "fps="+strconv.FormatFloat(fps, 'f', -1, 64))
	return fb
}

// HFlip mirrors the picture horizontally.
func (fb *FilterBuilder) HFlip() *FilterBuilder {
	fb.filters = append(fb.filters, "hflip")
	return fb
}

// SetSAR forces square pixels.
func (fb *FilterBuilder) SetSAR() *FilterBuilder {
	fb.filters = append(fb.filters, "setsar=1")
	return fb
}

// Eq adds a brightness/contrast/saturation adjustment.
func (fb *FilterBuilder) Eq(brightness, contrast, saturation float64) *FilterBuilder {
	fb.filters = append(fb.filters, fmt.Sprintf("eq=brightness=%s:contrast=%s:saturation=%s",
		formatFloat(brightness), formatFloat(contrast), formatFloat(saturation)))
	return fb
}

// Unsharp adds an unsharp mask, e.g. "5:5:1.0:5:5:0.0".
func (fb *FilterBuilder) Unsharp(params string) *FilterBuilder {
	if params == "" {
		return fb
	}
	fb.filters = append(fb.filters, "unsharp="+params)
	return fb
}

// Format forces a pixel format.
func (fb *FilterBuilder) Format(pixFmt string) *FilterBuilder {
	if pixFmt == "" {
		return fb
	}
	fb.filters = append(fb.filters, "format="+pixFmt)
	return fb
}

// Build returns the complete filter string joined with commas
func (fb *FilterBuilder) Build() string {
	if len(fb.filters) == 0 {
		return ""
	}
	return strings.Join(fb.filters, ",")
}

// FilterGraph assembles labelled chains into a -filter_complex expression.
type FilterGraph struct {
	chains []string
}

// NewFilterGraph creates an empty graph.
func NewFilterGraph() *FilterGraph {
	return &FilterGraph{}
}

// Chain appends "[in...]filters[out...]". Labels are given without brackets.
func (g *FilterGraph) Chain(inputs []string, filters string, outputs ...string) *FilterGraph {
	var b strings.Builder
	for _, in := range inputs {
		b.WriteString("[" + in + "]")
	}
	b.WriteString(filters)
	for _, out := range outputs {
		b.WriteString("[" + out + "]")
	}
	g.chains = append(g.chains, b.String())
	return g
}

// String joins the chains with semicolons.
func (g *FilterGraph) String() string {
	return strings.Join(g.chains, ";")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
