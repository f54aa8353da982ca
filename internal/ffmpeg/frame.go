package ffmpeg

import (
	"context"
	"fmt"
	"time"

	"github.com/8bitGames/creative-mut-app/pkg/util"
)

// SeekMode selects where -ss is placed relative to -i.
type SeekMode int

const (
	// SeekFast seeks the demuxer before decoding starts: cheap, lands on
	// the nearest keyframe.
	SeekFast SeekMode = iota
	// SeekAccurate decodes from the start and discards frames up to the
	// timestamp: slower, frame exact.
	SeekAccurate
)

func (m SeekMode) String() string {
	if m == SeekAccurate {
		return "accurate"
	}
	return "fast"
}

// FrameArgs returns the arguments that grab one JPEG at timestamp seconds.
func FrameArgs(input, output string, timestamp float64, mode SeekMode) []string {
	ss := util.FormatSeconds(timestamp)

	var args []string
	if mode == SeekAccurate {
		args = []string{"-i", input, "-ss", ss}
	} else {
		args = []string{"-ss", ss, "-i", input}
	}

	return append(args,
		"-frames:v", "1",
		"-q:v", "2", // high quality JPEG
		output,
	)
}

// ExtractFrame writes a single frame at timestamp seconds to output.
func (e *Executor) ExtractFrame(ctx context.Context, input, output string, timestamp float64, mode SeekMode, timeout time.Duration) error {
	if input == "" {
		return fmt.Errorf("input path is required")
	}
	if output == "" {
		return fmt.Errorf("output path is required")
	}

	e.logger.Debug().
		Str("input", input).
		Str("output", output).
		Float64("timestamp", timestamp).
		Stringer("seek", mode).
		Msg("extracting frame")

	opts := RunOptions{
		Args:    FrameArgs(input, output, timestamp, mode),
		Timeout: timeout,
		LogHandler: func(line string) {
			e.logger.Trace().Str("ffmpeg", line).Msg("frame extraction")
		},
	}

	return e.Run(ctx, opts)
}
