package ffmpeg

import (
	"context"
	"fmt"
	"time"
)

// Input is one "-i" source together with the options that must precede it
// (seek, duration, image looping).
type Input struct {
	Path string
	Args []string
}

// RenderOptions describes a single-output ffmpeg encode.
type RenderOptions struct {
	Inputs []Input
	// FilterComplex and VideoFilter are mutually exclusive.
	FilterComplex string
	VideoFilter   string
	Maps          []string
	// CodecArgs carries the encoder selection and its quality knobs,
	// e.g. "-c:v libx264 -preset veryfast -crf 23".
	CodecArgs  []string
	PixFmt     string
	Shortest   bool
	NoAudio    bool
	CustomArgs []string
	Output     string

	Timeout      time.Duration
	ProgressFunc ProgressFunc
}

// Render performs an encode described by opts.
func (e *Executor) Render(ctx context.Context, opts RenderOptions) error {
	args, err := BuildRenderArgs(opts)
	if err != nil {
		return fmt.Errorf("invalid render options: %w", err)
	}

	e.logger.Info().
		Int("inputs", len(opts.Inputs)).
		Str("output", opts.Output).
		Msg("starting render")

	runOpts := RunOptions{
		Args:            args,
		Timeout:         opts.Timeout,
		ProgressHandler: opts.ProgressFunc,
		Progress:        opts.ProgressFunc != nil,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("render output")
		},
	}

	if err := e.Run(ctx, runOpts); err != nil {
		return fmt.Errorf("render failed: %w", err)
	}

	e.logger.Info().Str("output", opts.Output).Msg("render completed")
	return nil
}

// BuildRenderArgs converts opts into an ffmpeg argument list (without the
// executor's global flags).
func BuildRenderArgs(opts RenderOptions) ([]string, error) {
	if err := validateRenderOptions(opts); err != nil {
		return nil, err
	}

	var args []string
	for _, in := range opts.Inputs {
		args = append(args, in.Args...)
		args = append(args, "-i", in.Path)
	}

	if opts.FilterComplex != "" {
		args = append(args, "-filter_complex", opts.FilterComplex)
	}
	if opts.VideoFilter != "" {
		args = append(args, "-vf", opts.VideoFilter)
	}
	for _, m := range opts.Maps {
		args = append(args, "-map", m)
	}

	codec := opts.CodecArgs
	if len(codec) == 0 {
		codec = []string{"-c:v", DefaultVideoCodec, "-preset", DefaultPreset, "-crf", fmt.Sprintf("%d", DefaultCRF)}
	}
	args = append(args, codec...)

	if opts.PixFmt != "" {
		args = append(args, "-pix_fmt", opts.PixFmt)
	}
	if opts.NoAudio {
		args = append(args, "-an")
	}
	if opts.Shortest {
		args = append(args, "-shortest")
	}

	// Custom arguments
	args = append(args, opts.CustomArgs...)

	// Output file
	args = append(args, opts.Output)
	return args, nil
}

// validateRenderOptions validates the render options
func validateRenderOptions(opts RenderOptions) error {
	if len(opts.Inputs) == 0 {
		return fmt.Errorf("at least one input is required")
	}
	for i, in := range opts.Inputs {
		if in.Path == "" {
			return fmt.Errorf("input %d has no path", i)
		}
	}
	if opts.Output == "" {
		return fmt.Errorf("output path is required")
	}
	if opts.FilterComplex != "" && opts.VideoFilter != "" {
		return fmt.Errorf("filter_complex and vf cannot be combined")
	}
	return nil
}
