// Package frames samples still images from a finished composite. The
// timestamps adapt to the probed duration and every extraction is retried
// with a slower, frame-exact seek before it is declared failed.
package frames

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/8bitGames/creative-mut-app/internal/ffmpeg"
	"github.com/8bitGames/creative-mut-app/internal/logging"
	"github.com/8bitGames/creative-mut-app/pkg/util"
)

// ErrIncomplete matches any extraction that produced fewer frames than
// planned.
var ErrIncomplete = errors.New("frame extraction incomplete")

// IncompleteError names the timestamps that could not be extracted.
type IncompleteError struct {
	Expected int
	Got      int
	Failed   []float64
}

func (e *IncompleteError) Error() string {
	labels := make([]string, len(e.Failed))
	for i, t := range e.Failed {
		labels[i] = util.SecondsLabel(t) + "s"
	}
	return fmt.Sprintf("frame extraction failed: expected %d frames, got %d; failed at [%s]",
		e.Expected, e.Got, strings.Join(labels, ", "))
}

func (e *IncompleteError) Is(target error) bool { return target == ErrIncomplete }

// Tool is the subset of the ffmpeg executor the extractor drives.
type Tool interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ExtractFrame(ctx context.Context, input, output string, timestamp float64, mode ffmpeg.SeekMode, timeout time.Duration) error
}

// Options configures sampling.
type Options struct {
	Timestamps []float64
	Margin     float64
	Attempts   int
	Timeout    time.Duration
	RetryDelay time.Duration
}

// DefaultOptions returns the 5/10/15 second plan.
func DefaultOptions() Options {
	return Options{
		Timestamps: []float64{5, 10, 15},
		Margin:     0.5,
		Attempts:   3,
		Timeout:    10 * time.Second,
		RetryDelay: 500 * time.Millisecond,
	}
}

// Recorder receives the outcome of every timestamp.
type Recorder interface {
	ObserveFrame(ok bool, attempts int)
}

// Extractor pulls the planned frames out of a video.
type Extractor struct {
	tool     Tool
	opts     Options
	recorder Recorder
	logger   zerolog.Logger
}

// New creates an Extractor. recorder may be nil.
func New(logger zerolog.Logger, tool Tool, opts Options, recorder Recorder) *Extractor {
	def := DefaultOptions()
	if len(opts.Timestamps) == 0 {
		opts.Timestamps = def.Timestamps
	}
	if opts.Attempts <= 0 {
		opts.Attempts = def.Attempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	return &Extractor{
		tool:     tool,
		opts:     opts,
		recorder: recorder,
		logger:   logging.Component(logger, "frames"),
	}
}

// Timestamps probes video and returns the adapted plan. A failed probe is
// not an error; the fallback plan is used.
func (x *Extractor) Timestamps(ctx context.Context, video string) []float64 {
	duration, err := x.tool.ProbeDuration(ctx, video)
	if err != nil {
		x.logger.Warn().Err(err).Msg("could not probe duration, using fallback timestamps")
		duration = 0
	}
	plan := Plan(duration, x.opts.Timestamps, x.opts.Margin)
	x.logger.Debug().
		Float64("duration", duration).
		Floats64("timestamps", plan).
		Msg("frame plan")
	return plan
}

// Extract writes one JPEG per planned timestamp into dir and returns the
// paths in plan order. It returns exactly len(Timestamps) paths or an
// *IncompleteError.
func (x *Extractor) Extract(ctx context.Context, video, dir string) ([]string, error) {
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}

	plan := x.Timestamps(ctx, video)

	var (
		paths  []string
		failed []float64
	)
	for i, ts := range plan {
		out := filepath.Join(dir, frameName(plan, i))
		attempts, ok := x.extractOne(ctx, video, out, ts)
		if x.recorder != nil {
			x.recorder.ObserveFrame(ok, attempts)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !ok {
			failed = append(failed, ts)
			x.logger.Error().Float64("timestamp", ts).Int("attempts", attempts).Msg("frame extraction failed")
			continue
		}
		paths = append(paths, out)
		x.logger.Info().
			Int("frame", i+1).
			Int("of", len(plan)).
			Float64("timestamp", ts).
			Msg("frame extracted")
	}

	if len(paths) != len(plan) {
		util.CleanupFiles(paths...)
		return nil, &IncompleteError{Expected: len(plan), Got: len(paths), Failed: failed}
	}
	return paths, nil
}

// frameName is "frame_<t>s.jpg". A timestamp repeated in the plan, which
// only happens for clips shorter than the margin, gets its plan position
// as a prefix so every planned frame has its own file.
func frameName(plan []float64, i int) string {
	label := util.SecondsLabel(plan[i]) + "s.jpg"
	for _, prev := range plan[:i] {
		if prev == plan[i] {
			return fmt.Sprintf("frame_%d_%s", i+1, label)
		}
	}
	return "frame_" + label
}

// extractOne tries fast seek first, then accurate seek for the remaining
// attempts. It reports the number of attempts made.
func (x *Extractor) extractOne(ctx context.Context, video, out string, ts float64) (int, bool) {
	for attempt := 1; attempt <= x.opts.Attempts; attempt++ {
		mode := ffmpeg.SeekFast
		if attempt > 1 {
			mode = ffmpeg.SeekAccurate
		}

		err := x.tool.ExtractFrame(ctx, video, out, ts, mode, x.opts.Timeout)
		if err == nil && util.NonEmptyFile(out) {
			return attempt, true
		}

		log := x.logger.Warn().
			Int(logging.FieldAttempt, attempt).
			Float64("timestamp", ts).
			Stringer("seek", mode)
		if err != nil {
			log.Err(err).Bool("timeout", ffmpeg.IsTimeout(err)).Msg("frame attempt failed")
		} else {
			log.Msg("frame file empty or missing")
		}
		_ = os.Remove(out)

		if attempt < x.opts.Attempts {
			if !sleep(ctx, x.opts.RetryDelay) {
				return attempt, false
			}
		}
	}
	return x.opts.Attempts, false
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
