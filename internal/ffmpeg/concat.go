package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ConcatOptions defines concatenation parameters
type ConcatOptions struct {
	// Inputs are joined in slice order.
	Inputs []string
	Output string
	// WorkDir holds the temporary list file; empty means the output's dir.
	WorkDir      string
	Timeout      time.Duration
	ProgressFunc ProgressFunc
}

// Concat joins inputs with the concat demuxer without re-encoding. All
// inputs must share codec parameters.
func (e *Executor) Concat(ctx context.Context, opts ConcatOptions) error {
	if len(opts.Inputs) == 0 {
		return fmt.Errorf("no input files provided")
	}
	if opts.Output == "" {
		return fmt.Errorf("output path is required")
	}

	e.logger.Info().
		Int("inputs", len(opts.Inputs)).
		Str("output", opts.Output).
		Msg("concatenating videos")

	dir := opts.WorkDir
	if dir == "" {
		dir = filepath.Dir(opts.Output)
	}

	// Create temporary concat file list
	concatFile, err := createConcatFile(dir, opts.Inputs)
	if err != nil {
		return fmt.Errorf("failed to create concat file: %w", err)
	}
	defer os.Remove(concatFile)

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", concatFile,
		"-c", "copy",
		"-movflags", "+faststart",
		opts.Output,
	}

	runOpts := RunOptions{
		Args:            args,
		Timeout:         opts.Timeout,
		ProgressHandler: opts.ProgressFunc,
		Progress:        opts.ProgressFunc != nil,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("concatenating")
		},
	}

	return e.Run(ctx, runOpts)
}

// createConcatFile generates a temporary file list for ffmpeg concat
func createConcatFile(dir string, inputs []string) (string, error) {
	tmpFile, err := os.CreateTemp(dir, "concat-*.txt")
	if err != nil {
		return "", err
	}
	defer tmpFile.Close()

	for _, input := range inputs {
		absPath, err := filepath.Abs(input)
		if err != nil {
			return "", err
		}
		if _, err := fmt.Fprintf(tmpFile, "file '%s'\n", escapeConcatPath(absPath)); err != nil {
			return "", err
		}
	}

	return tmpFile.Name(), nil
}

// escapeConcatPath quotes a single quote for the concat demuxer list.
func escapeConcatPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}
