package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"strconv"
	"strings"
	"time"
)

// ListEncoders returns the names of the video encoders ffmpeg advertises.
func (e *Executor) ListEncoders(ctx context.Context) ([]string, error) {
	out, err := e.Output(ctx, "ffmpeg", "-hide_banner", "-encoders")
	if err != nil {
		return nil, err
	}
	return ParseEncoders(out), nil
}

// ParseEncoders extracts video encoder names from "ffmpeg -encoders".
// Entries look like " V....D libx264    libx264 H.264 / AVC ...".
func ParseEncoders(out []byte) []string {
	var names []string
	pastHeader := false

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !pastHeader {
			pastHeader = strings.HasPrefix(line, "------")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "V") {
			continue
		}
		names = append(names, fields[1])
	}
	return names
}

// TestEncode encodes one synthetic frame with codec to the null muxer. It
// returns the stderr text so callers can look for driver markers even when
// the exit status is zero.
func (e *Executor) TestEncode(ctx context.Context, codec string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tail := &tailBuffer{}
	err := e.Run(ctx, RunOptions{
		Args: []string{
			"-f", "lavfi",
			"-i", "color=black:s=256x256:d=0.1",
			"-frames:v", "1",
			"-c:v", codec,
			"-f", "null", "-",
		},
		LogHandler: tail.add,
	})
	return tail.String(), err
}

// DecodeCheck decodes the first frames of path and discards them. The
// returned stderr is already bounded to MaxExcerpt.
func (e *Executor) DecodeCheck(ctx context.Context, path string, frames int, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tail := &tailBuffer{}
	err := e.Run(ctx, RunOptions{
		Args: []string{
			"-v", "error",
			"-i", path,
			"-frames:v", strconv.Itoa(frames),
			"-f", "null", "-",
		},
		LogHandler: tail.add,
	})
	return Truncate(tail.String(), MaxExcerpt), err
}
