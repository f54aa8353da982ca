// Package stitch turns three still photos into a short portrait video
// that can be fed to the hologram composer like a recorded clip.
package stitch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/8bitGames/creative-mut-app/internal/ffmpeg"
	"github.com/8bitGames/creative-mut-app/internal/logging"
	"github.com/8bitGames/creative-mut-app/pkg/util"
)

// ImageCount is the number of photos a stitch takes.
const ImageCount = 3

// DefaultPerImage is how long each photo is shown, in seconds.
const DefaultPerImage = 3.0

// Renderer runs a single ffmpeg encode.
type Renderer interface {
	Render(ctx context.Context, opts ffmpeg.RenderOptions) error
}

// Options sets the output geometry.
type Options struct {
	Width   int
	Height  int
	FPS     float64
	Timeout time.Duration
}

// DefaultOptions returns 1080x1920 at 30 fps.
func DefaultOptions() Options {
	return Options{Width: 1080, Height: 1920, FPS: 30, Timeout: 2 * time.Minute}
}

// Result is printed as JSON by the stitch command.
type Result struct {
	Success   bool    `json:"success"`
	VideoPath string  `json:"videoPath,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Stitcher builds slideshow videos.
type Stitcher struct {
	renderer Renderer
	opts     Options
	logger   zerolog.Logger
}

// New creates a Stitcher. Zero fields in opts take their defaults.
func New(logger zerolog.Logger, renderer Renderer, opts Options) *Stitcher {
	def := DefaultOptions()
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = def.Width, def.Height
	}
	if opts.FPS <= 0 {
		opts.FPS = def.FPS
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	return &Stitcher{
		renderer: renderer,
		opts:     opts,
		logger:   logging.Component(logger, "stitch"),
	}
}

// BuildGraph fits every input into the frame, evens out the frame rate and
// joins the inputs back to back.
func BuildGraph(n, width, height int, fps float64) string {
	g := ffmpeg.NewFilterGraph()
	labels := make([]string, n)
	for i := 0; i < n; i++ {
		labels[i] = "v" + strconv.Itoa(i)
		chain := ffmpeg.NewFilterBuilder().Fit(width, height).SetSAR().FPS(fps).Build()
		g.Chain([]string{strconv.Itoa(i) + ":v"}, chain, labels[i])
	}
	g.Chain(labels, fmt.Sprintf("concat=n=%d:v=1:a=0", n), "outv")
	return g.String()
}

// Stitch shows each image for perImage seconds and writes output.
func (s *Stitcher) Stitch(ctx context.Context, images []string, output string, perImage float64) (*Result, error) {
	if len(images) != ImageCount {
		return nil, fmt.Errorf("expected exactly %d images, got %d", ImageCount, len(images))
	}
	for _, img := range images {
		if !util.FileExists(img) {
			return nil, fmt.Errorf("image not found: %s", img)
		}
	}
	if output == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if perImage <= 0 {
		perImage = DefaultPerImage
	}

	inputs := make([]ffmpeg.Input, len(images))
	for i, img := range images {
		inputs[i] = ffmpeg.Input{
			Path: img,
			Args: []string{"-loop", "1", "-t", util.SecondsLabel(perImage)},
		}
	}

	start := time.Now()
	err := s.renderer.Render(ctx, ffmpeg.RenderOptions{
		Inputs:        inputs,
		FilterComplex: BuildGraph(len(images), s.opts.Width, s.opts.Height, s.opts.FPS),
		Maps:          []string{"[outv]"},
		PixFmt:        ffmpeg.DefaultPixFmt,
		Output:        output,
		Timeout:       s.opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stitch images: %w", err)
	}

	total := perImage * float64(len(images))
	s.logger.Info().
		Str("output", output).
		Float64("duration", total).
		Dur("elapsed", time.Since(start)).
		Msg("images stitched")

	return &Result{Success: true, VideoPath: output, Duration: total}, nil
}
