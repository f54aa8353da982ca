// Package stage implements the per-asset transforms that run before the
// final composite: container normalization, colour enhancement and the
// segmentation-driven drop shadow. Every transform writes a new file next
// to its input and leaves the input untouched.
package stage

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/8bitGames/creative-mut-app/internal/ffmpeg"
	"github.com/8bitGames/creative-mut-app/internal/verify"
	"github.com/8bitGames/creative-mut-app/pkg/util"
)

// Renderer runs a single ffmpeg encode.
type Renderer interface {
	Render(ctx context.Context, opts ffmpeg.RenderOptions) error
}

// Verifier checks a produced file.
type Verifier interface {
	Verify(ctx context.Context, path string) verify.Report
}

// Options holds per-stage time limits.
type Options struct {
	NormalizeTimeout time.Duration
	EnhanceTimeout   time.Duration
}

// Transformer runs the normalize and enhance stages.
type Transformer struct {
	renderer Renderer
	verifier Verifier
	opts     Options
	logger   zerolog.Logger
}

// New creates a Transformer.
func New(logger zerolog.Logger, renderer Renderer, verifier Verifier, opts Options) *Transformer {
	if opts.NormalizeTimeout <= 0 {
		opts.NormalizeTimeout = 30 * time.Second
	}
	if opts.EnhanceTimeout <= 0 {
		opts.EnhanceTimeout = 5 * time.Minute
	}
	return &Transformer{
		renderer: renderer,
		verifier: verifier,
		opts:     opts,
		logger:   logger.With().Str("component", "stage").Logger(),
	}
}

// NeedsNormalize reports whether path is in a container with unreliable
// headers (browser WebM/Matroska recordings), by extension or by magic.
func NeedsNormalize(path string) bool {
	switch util.GetExtension(path) {
	case ".webm", ".mkv":
		return true
	}
	return verify.Sniff(path) == verify.Matroska
}

// Normalize re-encodes path into a plain H.264 MP4. Inputs that already
// are MP4 are only verified; a failed check is logged and the input is
// returned anyway. A conversion that fails, or whose output does not
// verify, is returned as *StageError.
func (t *Transformer) Normalize(ctx context.Context, path string) (string, error) {
	log := t.logger.With().Str("stage", NameNormalize).Str("path", path).Logger()

	if !NeedsNormalize(path) {
		if report := t.verifier.Verify(ctx, path); !report.Valid {
			log.Warn().Str("reason", report.Error).Msg("input failed verification, continuing with it")
		} else {
			log.Debug().Msg("input already mp4, skipping normalization")
		}
		return path, nil
	}

	out := util.DerivedPath(path, "normalized", ".mp4")
	log.Info().Str("output", out).Msg("normalizing to mp4")

	err := t.renderer.Render(ctx, ffmpeg.RenderOptions{
		Inputs:    []ffmpeg.Input{{Path: path}},
		CodecArgs: []string{"-c:v", "libx264", "-preset", "ultrafast", "-crf", "18"},
		PixFmt:    ffmpeg.DefaultPixFmt,
		Output:    out,
		Timeout:   t.opts.NormalizeTimeout,
	})
	if err != nil {
		_ = os.Remove(out)
		return "", &StageError{Stage: NameNormalize, Excerpt: ffmpeg.Excerpt(err), Err: err}
	}

	report := t.verifier.Verify(ctx, out)
	if !report.Valid {
		_ = os.Remove(out)
		return "", &StageError{
			Stage:   NameNormalize,
			Excerpt: report.Error,
			Err:     &invalidOutputError{path: out, reason: report.Error},
		}
	}

	log.Info().
		Float64("duration", report.Duration).
		Int("width", report.Width).
		Int("height", report.Height).
		Msg("normalized")
	return out, nil
}

// Enhance applies the level's colour recipe in a separate encode and
// verifies the result. It is cosmetic: on any failure, including an output
// that does not verify, the original path is returned.
func (t *Transformer) Enhance(ctx context.Context, path string, level Level) string {
	log := t.logger.With().Str("stage", NameEnhance).Str("path", path).Logger()

	recipe, err := RecipeFor(level)
	if err != nil {
		log.Warn().Err(err).Msg("skipping enhancement")
		return path
	}

	out := util.DerivedPath(path, "enhanced", ".mp4")
	err = t.renderer.Render(ctx, ffmpeg.RenderOptions{
		Inputs:      []ffmpeg.Input{{Path: path}},
		VideoFilter: recipe.Filter(),
		CodecArgs:   []string{"-c:v", "libx264", "-preset", "medium", "-crf", "18"},
		PixFmt:      ffmpeg.DefaultPixFmt,
		NoAudio:     true,
		Output:      out,
		Timeout:     t.opts.EnhanceTimeout,
	})
	if err != nil {
		_ = os.Remove(out)
		log.Warn().
			Err(err).
			Bool("timeout", ffmpeg.IsTimeout(err)).
			Msg("enhancement failed, using original")
		return path
	}

	if report := t.verifier.Verify(ctx, out); !report.Valid {
		_ = os.Remove(out)
		log.Warn().Str("reason", report.Error).Msg("enhanced output failed verification, using original")
		return path
	}

	log.Info().Str("level", string(level)).Str("output", out).Msg("enhanced")
	return out
}

type invalidOutputError struct {
	path   string
	reason string
}

func (e *invalidOutputError) Error() string {
	return e.path + " failed verification: " + e.reason
}
