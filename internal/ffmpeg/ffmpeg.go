package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Executor handles all ffmpeg operations with progress streaming
type Executor struct {
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	threads     int
}

// New creates a new ffmpeg executor. ffmpegBin and ffprobeBin may be bare
// names resolved through PATH or absolute paths.
func New(logger zerolog.Logger, ffmpegBin, ffprobeBin string, threads int) (*Executor, error) {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}

	ffmpegPath, err := exec.LookPath(ffmpegBin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found (%s): %w", ffmpegBin, err)
	}

	ffprobePath, err := exec.LookPath(ffprobeBin)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found (%s): %w", ffprobeBin, err)
	}

	return &Executor{
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		threads:     threads,
	}, nil
}

// FFmpegPath returns the resolved ffmpeg binary.
func (e *Executor) FFmpegPath() string { return e.ffmpegPath }

// FFprobePath returns the resolved ffprobe binary.
func (e *Executor) FFprobePath() string { return e.ffprobePath }

// Run executes ffmpeg with the given arguments and streams progress.
// Failures are returned as *ExecError carrying a bounded stderr tail.
func (e *Executor) Run(ctx context.Context, opts RunOptions) error {
	if len(opts.Args) == 0 {
		return fmt.Errorf("no arguments provided")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := e.baseArgs(opts.Progress)
	args = append(args, opts.Args...)

	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", args).
		Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// Stream stderr (progress + logs); it must be drained before Wait.
	tail := &tailBuffer{}
	e.streamOutput(stderr, tail, opts.ProgressHandler, opts.LogHandler)

	if err := cmd.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
		return newExecError("ffmpeg", err, timedOut, tail.String())
	}

	e.logger.Debug().Msg("ffmpeg execution completed")
	return nil
}

// Output runs a tool to completion and returns its stdout. stderr is kept
// for the error on failure.
func (e *Executor) Output(ctx context.Context, tool string, args ...string) ([]byte, error) {
	bin := e.ffmpegPath
	if tool == "ffprobe" {
		bin = e.ffprobePath
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
		return stdout.Bytes(), newExecError(tool, err, timedOut, stderr.String())
	}

	return stdout.Bytes(), nil
}

func (e *Executor) baseArgs(progress bool) []string {
	args := []string{"-y", "-hide_banner", "-nostdin", "-loglevel", "info"}

	if e.threads > 0 {
		args = append(args, "-threads", strconv.Itoa(e.threads))
	}

	if progress {
		args = append(args, "-nostats", "-progress", "pipe:2")
	}
	return args
}

// streamOutput parses ffmpeg output and calls handlers
func (e *Executor) streamOutput(r io.Reader, tail *tailBuffer, progressHandler func(*Progress), logHandler func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	progressData := &Progress{}

	for scanner.Scan() {
		line := scanner.Text()
		tail.add(line)

		if logHandler != nil {
			logHandler(line)
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch key {
		case "frame":
			progressData.Frame, _ = strconv.Atoi(value)
		case "fps":
			progressData.FPS, _ = strconv.ParseFloat(value, 64)
		case "bitrate":
			progressData.Bitrate = value
		case "out_time":
			progressData.Time = value
		case "out_time_us":
			if us, err := strconv.ParseInt(value, 10, 64); err == nil {
				progressData.OutTime = time.Duration(us) * time.Microsecond
			}
		case "speed":
			progressData.Speed = value
		case "progress":
			// End of progress block
			if progressHandler != nil && progressData.Frame > 0 {
				progressHandler(progressData)
			}
			progressData = &Progress{}
		}
	}
}
