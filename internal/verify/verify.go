// Package verify checks that a produced media file is well formed and
// actually decodes. Hardware encoders occasionally emit files with a sane
// size and readable headers whose frames do not decode; only the bounded
// decode probe catches those.
package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/8bitGames/creative-mut-app/internal/ffmpeg"
)

// Report is the outcome of verifying one file. It is built fresh on every
// call.
type Report struct {
	Path      string  `json:"path"`
	Valid     bool    `json:"valid"`
	Duration  float64 `json:"duration"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Codec     string  `json:"codec,omitempty"`
	Bitrate   int64   `json:"bitrate"`
	Frames    int64   `json:"frames"`
	Container string  `json:"container,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Tool is the subset of the ffmpeg executor the verifier drives.
type Tool interface {
	ProbeVideo(ctx context.Context, path string) (*ffmpeg.VideoInfo, error)
	DecodeCheck(ctx context.Context, path string, frames int, timeout time.Duration) (string, error)
}

// Options bounds the probes.
type Options struct {
	ProbeTimeout  time.Duration
	DecodeFrames  int
	DecodeTimeout time.Duration
}

// DefaultOptions returns the probe bounds used when none are configured.
func DefaultOptions() Options {
	return Options{
		ProbeTimeout:  15 * time.Second,
		DecodeFrames:  10,
		DecodeTimeout: 20 * time.Second,
	}
}

// Verifier runs integrity checks.
type Verifier struct {
	tool   Tool
	opts   Options
	logger zerolog.Logger
}

// New creates a verifier. Zero fields in opts take their defaults.
func New(logger zerolog.Logger, tool Tool, opts Options) *Verifier {
	def := DefaultOptions()
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = def.ProbeTimeout
	}
	if opts.DecodeFrames <= 0 {
		opts.DecodeFrames = def.DecodeFrames
	}
	if opts.DecodeTimeout <= 0 {
		opts.DecodeTimeout = def.DecodeTimeout
	}
	return &Verifier{
		tool:   tool,
		opts:   opts,
		logger: logger.With().Str("component", "verify").Logger(),
	}
}

// Verify inspects path. Problems are reported through Report.Error and
// never returned as an error; the caller decides what invalid means.
func (v *Verifier) Verify(ctx context.Context, path string) Report {
	report := Report{Path: path}

	stat, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		report.Error = "file does not exist"
		return report
	case err != nil:
		report.Error = fmt.Sprintf("stat failed: %v", err)
		return report
	case stat.IsDir():
		report.Error = "path is a directory"
		return report
	case stat.Size() == 0:
		report.Error = "file is empty (0 bytes)"
		return report
	}

	report.Container = Sniff(path).String()

	probeCtx, cancel := context.WithTimeout(ctx, v.opts.ProbeTimeout)
	info, err := v.tool.ProbeVideo(probeCtx, path)
	cancel()
	if err != nil {
		report.Error = fmt.Sprintf("metadata probe failed: %v", err)
		v.logger.Warn().Str("path", path).Err(err).Msg("probe failed")
		return report
	}

	report.Duration = info.DurationSeconds()
	report.Width = info.Width
	report.Height = info.Height
	report.Codec = info.VideoCodec
	report.Bitrate = info.Bitrate
	report.Frames = info.Frames

	stderr, err := v.tool.DecodeCheck(ctx, path, v.opts.DecodeFrames, v.opts.DecodeTimeout)
	if err != nil || ffmpeg.MatchDecodeError(stderr) {
		if stderr == "" {
			stderr = ffmpeg.Excerpt(err)
		}
		if stderr == "" && err != nil {
			stderr = err.Error()
		}
		report.Error = "decode check failed: " + ffmpeg.Truncate(stderr, ffmpeg.MaxExcerpt)
		v.logger.Warn().
			Str("path", path).
			Err(err).
			Msg("decode check failed")
		return report
	}

	report.Valid = true
	v.logger.Debug().
		Str("path", path).
		Float64("duration", report.Duration).
		Int("width", report.Width).
		Int("height", report.Height).
		Str("codec", report.Codec).
		Msg("file verified")
	return report
}
