// Package compose drives the stage transforms and the final composite
// encode. The composite is retried with an encoder that only ever moves
// from hardware to software, and every output is checked by the
// integrity verifier before it is returned.
package compose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/8bitGames/creative-mut-app/internal/encoder"
	"github.com/8bitGames/creative-mut-app/internal/ffmpeg"
	"github.com/8bitGames/creative-mut-app/internal/logging"
	"github.com/8bitGames/creative-mut-app/internal/stage"
	"github.com/8bitGames/creative-mut-app/internal/verify"
	"github.com/8bitGames/creative-mut-app/pkg/util"
)

// ErrInputMissing is returned when the source video or overlay image does
// not exist. It is never retried.
var ErrInputMissing = errors.New("input file missing")

// Tool is the subset of the ffmpeg executor the composer drives.
type Tool interface {
	Render(ctx context.Context, opts ffmpeg.RenderOptions) error
	Concat(ctx context.Context, opts ffmpeg.ConcatOptions) error
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// Verifier checks a produced file.
type Verifier interface {
	Verify(ctx context.Context, path string) verify.Report
}

// Selector picks the initial encoder for a compose call.
type Selector interface {
	Select(ctx context.Context) encoder.Choice
}

// Stages runs the pre-composite transforms.
type Stages interface {
	Normalize(ctx context.Context, path string) (string, error)
	Enhance(ctx context.Context, path string, level stage.Level) string
}

// Shadow applies the drop shadow effect.
type Shadow interface {
	Apply(ctx context.Context, path string, cfg stage.ShadowConfig, enc encoder.Choice) string
}

// Recorder receives per-call measurements. All methods must be safe to
// call on a nil receiver of the concrete type.
type Recorder interface {
	ObserveStage(name string, d time.Duration)
	ObserveAttempt(enc string, ok bool)
	ObserveFallback(from, to string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveStage(string, time.Duration) {}
func (nopRecorder) ObserveAttempt(string, bool)        {}
func (nopRecorder) ObserveFallback(string, string)     {}

// Options configures the composite.
type Options struct {
	Width       int
	Height      int
	Mirror      bool
	MaxAttempts int
	// Timeout bounds one encode attempt (or one segment in parallel mode).
	Timeout time.Duration
	// Parallel splits the encode into Segments time ranges run on up to
	// Workers goroutines.
	Parallel bool
	Segments int
	Workers  int
	// SeparateEnhance runs the colour recipe as its own encode instead of
	// inside the composite graph.
	SeparateEnhance   bool
	KeepIntermediates bool
}

// DefaultOptions returns the portrait hologram output settings.
func DefaultOptions() Options {
	return Options{
		Width:       1080,
		Height:      1920,
		Mirror:      true,
		MaxAttempts: 3,
		Timeout:     10 * time.Minute,
		Segments:    4,
	}
}

// Request is one composition.
type Request struct {
	Video   string
	Overlay string
	// Output defaults to <video dir>/<video name>_final.mp4.
	Output   string
	Shadow   stage.ShadowConfig
	Enhance  bool
	Level    stage.Level
	Progress ffmpeg.ProgressFunc
}

// Timings is the elapsed time of each stage.
type Timings struct {
	Normalize time.Duration `json:"normalize"`
	Enhance   time.Duration `json:"enhance"`
	Shadow    time.Duration `json:"shadow"`
	Compose   time.Duration `json:"compose"`
}

// Result describes a verified composite.
type Result struct {
	Path      string
	Encoder   encoder.Choice
	Attempts  int
	Fallbacks int
	Report    verify.Report
	Timings   Timings
}

// Composer runs compositions. It is safe for sequential reuse.
type Composer struct {
	tool     Tool
	verifier Verifier
	selector Selector
	stages   Stages
	shadow   Shadow
	recorder Recorder
	opts     Options
	logger   zerolog.Logger
}

// Option customizes a Composer.
type Option func(*Composer)

// WithShadow enables the shadow stage.
func WithShadow(s Shadow) Option {
	return func(c *Composer) { c.shadow = s }
}

// WithRecorder reports measurements to r.
func WithRecorder(r Recorder) Option {
	return func(c *Composer) {
		if r != nil {
			c.recorder = r
		}
	}
}

// New creates a Composer. Zero fields in opts take their defaults.
func New(logger zerolog.Logger, tool Tool, verifier Verifier, selector Selector, stages Stages, opts Options, options ...Option) *Composer {
	def := DefaultOptions()
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = def.Width, def.Height
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Segments <= 1 {
		opts.Segments = def.Segments
	}

	c := &Composer{
		tool:     tool,
		verifier: verifier,
		selector: selector,
		stages:   stages,
		recorder: nopRecorder{},
		opts:     opts,
		logger:   logging.Component(logger, "compose"),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Compose runs normalize, shadow and the composite encode for req.
func (c *Composer) Compose(ctx context.Context, req Request) (*Result, error) {
	if err := checkInputs(req); err != nil {
		return nil, err
	}

	output := req.Output
	if output == "" {
		output = util.DerivedPath(req.Video, "final", ".mp4")
	}

	var (
		timings       Timings
		intermediates []string
	)
	defer func() {
		if c.opts.KeepIntermediates {
			return
		}
		util.CleanupFiles(intermediates...)
	}()

	// normalize
	source := req.Video
	if stage.NeedsNormalize(source) || req.Shadow.Enabled {
		start := time.Now()
		normalized, err := c.stages.Normalize(ctx, source)
		timings.Normalize = time.Since(start)
		c.recorder.ObserveStage(stage.NameNormalize, timings.Normalize)
		if err != nil {
			return nil, err
		}
		if normalized != source {
			intermediates = append(intermediates, normalized)
			source = normalized
		}
	}

	enc := c.selector.Select(ctx)

	// shadow
	if req.Shadow.Enabled && c.shadow != nil {
		start := time.Now()
		shadowed := c.shadow.Apply(ctx, source, req.Shadow, enc)
		timings.Shadow = time.Since(start)
		c.recorder.ObserveStage(stage.NameShadow, timings.Shadow)
		if shadowed != source {
			intermediates = append(intermediates, shadowed)
			source = shadowed
		}
	}

	var recipe *stage.Recipe
	if req.Enhance {
		r, err := stage.RecipeFor(req.Level)
		if err != nil {
			return nil, err
		}
		if c.opts.SeparateEnhance {
			start := time.Now()
			enhanced := c.stages.Enhance(ctx, source, req.Level)
			timings.Enhance = time.Since(start)
			c.recorder.ObserveStage(stage.NameEnhance, timings.Enhance)
			if enhanced != source {
				intermediates = append(intermediates, enhanced)
				source = enhanced
			}
		} else {
			recipe = &r
		}
	}

	graph := BuildGraph(c.opts.Width, c.opts.Height, c.opts.Mirror, recipe)

	start := time.Now()
	res, err := c.encode(ctx, source, req.Overlay, output, graph, enc, req.Progress)
	timings.Compose = time.Since(start)
	c.recorder.ObserveStage(stage.NameCompose, timings.Compose)
	if err != nil {
		return nil, err
	}

	res.Timings = timings
	return res, nil
}

func checkInputs(req Request) error {
	for _, p := range []struct{ role, path string }{
		{"video", req.Video},
		{"overlay", req.Overlay},
	} {
		if p.path == "" || !util.FileExists(p.path) {
			return fmt.Errorf("%w: %s %q", ErrInputMissing, p.role, p.path)
		}
	}
	return nil
}

// encode runs the composite retry loop.
func (c *Composer) encode(ctx context.Context, source, overlay, output, graph string, initial encoder.Choice, progress ffmpeg.ProgressFunc) (*Result, error) {
	fb := newFallback(initial)

	var total float64
	if c.opts.Parallel {
		d, err := c.tool.ProbeDuration(ctx, source)
		if err != nil || d <= 0 {
			c.logger.Warn().Err(err).Msg("duration unknown, encoding in a single pass")
		} else {
			total = d
		}
	}

	var (
		lastErr     error
		lastExcerpt string
		fallbacks   int
	)

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		enc := fb.Encoder()
		final := attempt == c.opts.MaxAttempts
		log := c.logger.With().
			Int(logging.FieldAttempt, attempt).
			Str(logging.FieldEncoder, enc.String()).
			Logger()

		downgrade := func() {
			if final {
				return
			}
			from := fb.Encoder().String()
			if fb.Downgrade() {
				fallbacks++
				to := fb.Encoder().String()
				c.recorder.ObserveFallback(from, to)
				log.Warn().Str("to", to).Msg("downgrading encoder")
			}
		}

		log.Info().Str("output", output).Msg("encoding composite")

		var err error
		if total > 0 {
			err = c.encodeSegments(ctx, source, overlay, output, graph, enc, total)
		} else {
			err = c.tool.Render(ctx, ffmpeg.RenderOptions{
				Inputs:        []ffmpeg.Input{{Path: source}, {Path: overlay}},
				FilterComplex: graph,
				Maps:          []string{"[" + labelFinal + "]"},
				CodecArgs:     enc.Args(),
				PixFmt:        ffmpeg.DefaultPixFmt,
				Shortest:      true,
				Output:        output,
				Timeout:       c.opts.Timeout,
				ProgressFunc:  progress,
			})
		}

		if err != nil {
			_ = os.Remove(output)
			c.recorder.ObserveAttempt(enc.String(), false)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			lastExcerpt = ffmpeg.Excerpt(err)
			log.Warn().
				Err(err).
				Bool("timeout", ffmpeg.IsTimeout(err)).
				Msg("encode failed")
			downgrade()
			continue
		}

		if !util.FileExists(output) {
			c.recorder.ObserveAttempt(enc.String(), false)
			lastErr = fmt.Errorf("encoder exited cleanly but produced no file at %s", output)
			lastExcerpt = ""
			log.Warn().Msg("output missing after encode")
			continue
		}

		report := c.verifier.Verify(ctx, output)
		if !report.Valid {
			_ = os.Remove(output)
			c.recorder.ObserveAttempt(enc.String(), false)
			lastErr = fmt.Errorf("output failed verification: %s", report.Error)
			lastExcerpt = report.Error
			log.Warn().Str("reason", report.Error).Msg("composite failed verification")
			downgrade()
			continue
		}

		c.recorder.ObserveAttempt(enc.String(), true)
		log.Info().
			Float64("duration", report.Duration).
			Int("width", report.Width).
			Int("height", report.Height).
			Msg("composite verified")

		return &Result{
			Path:      output,
			Encoder:   enc,
			Attempts:  attempt,
			Fallbacks: fallbacks,
			Report:    report,
		}, nil
	}

	return nil, &stage.StageError{
		Stage:   stage.NameCompose,
		Attempt: c.opts.MaxAttempts,
		Excerpt: ffmpeg.Truncate(lastExcerpt, ffmpeg.MaxExcerpt),
		Err:     lastErr,
	}
}
