// Package ffmpegtest provides helpers for tests that need a real ffmpeg
// and small synthetic fixtures generated with lavfi.
package ffmpegtest

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/8bitGames/creative-mut-app/internal/ffmpeg"
)

// SkipIfNoFFmpeg skips the test if ffmpeg is not available
func SkipIfNoFFmpeg(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH - install with: brew install ffmpeg")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH - install with: brew install ffmpeg")
	}
}

// Executor returns an executor logging to the test output.
func Executor(t testing.TB) *ffmpeg.Executor {
	t.Helper()
	SkipIfNoFFmpeg(t)

	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.InfoLevel)
	exec, err := ffmpeg.New(logger, "", "", 2)
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}
	return exec
}

// Video generates a testsrc clip of the given length and size. The
// extension of name selects the container (".mp4" or ".webm").
func Video(t testing.TB, dir, name string, seconds float64, width, height int) string {
	t.Helper()
	path := filepath.Join(dir, name)

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi",
		"-i", fmt.Sprintf("testsrc=duration=%g:size=%dx%d:rate=30", seconds, width, height),
	}
	if filepath.Ext(name) == ".webm" {
		args = append(args, "-c:v", "libvpx-vp9", "-deadline", "realtime", "-b:v", "500k")
	} else {
		args = append(args, "-c:v", "libx264", "-preset", "ultrafast")
	}
	args = append(args, "-pix_fmt", "yuv420p", path)

	run(t, args)
	return path
}

// Image generates a single PNG frame, e.g. for overlay inputs.
func Image(t testing.TB, dir, name string, width, height int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	run(t, []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=red@0.3:s=%dx%d,format=rgba", width, height),
		"-frames:v", "1",
		path,
	})
	return path
}

func run(t testing.TB, args []string) {
	t.Helper()
	out, err := exec.Command("ffmpeg", args...).CombinedOutput()
	if err != nil {
		t.Skipf("could not generate fixture: %v: %s", err, out)
	}
}
