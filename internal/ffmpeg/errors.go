package ffmpeg

import (
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
)

// MaxExcerpt bounds stderr text carried in errors and reports.
const MaxExcerpt = 4096

// ExecError describes a failed ffmpeg/ffprobe invocation.
type ExecError struct {
	Tool     string
	ExitCode int
	TimedOut bool
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", e.Tool)
	switch {
	case e.TimedOut:
		b.WriteString(" (timeout)")
	case e.ExitCode > 0:
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if last := lastLine(e.Stderr); last != "" {
		fmt.Fprintf(&b, ": %s", last)
	}
	return b.String()
}

func (e *ExecError) Unwrap() error { return e.Err }

// Excerpt returns the stderr excerpt of err if it is an ExecError.
func Excerpt(err error) string {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Stderr
	}
	return ""
}

// IsTimeout reports whether err is an ExecError caused by a timeout.
func IsTimeout(err error) bool {
	var ee *ExecError
	return errors.As(err, &ee) && ee.TimedOut
}

func newExecError(tool string, err error, timedOut bool, stderr string) *ExecError {
	ee := &ExecError{
		Tool:     tool,
		TimedOut: timedOut,
		Stderr:   Truncate(stderr, MaxExcerpt),
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		ee.ExitCode = exitErr.ExitCode()
	}
	return ee
}

// Truncate keeps the last max bytes of s; ffmpeg puts the cause at the end.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

var (
	driverTooOldRe = regexp.MustCompile(`(?i)(driver does not support the required nvenc api version|minimum required nvidia driver|driver version is insufficient|nvenc api version .* not supported|cannot load libnvidia-encode|cannot load nvcuda|no nvenc capable devices found|openencodesessionex failed)`)
	decodeErrorRe  = regexp.MustCompile(`(?i)(error while decoding|invalid data found when processing input|corrupt(ed)? (frame|input|packet)|missing reference picture|non-existing pps|decode_slice_header error|no frame!|concealing \d+ (dc|ac|mv) errors|moov atom not found|error splitting the input)`)
)

// MatchDriverTooOld reports whether stderr shows a GPU runtime that cannot
// drive the advertised hardware encoder.
func MatchDriverTooOld(stderr string) bool {
	return driverTooOldRe.MatchString(stderr)
}

// MatchDecodeError reports whether stderr contains decoder error markers.
func MatchDecodeError(stderr string) bool {
	return decodeErrorRe.MatchString(stderr)
}

// tailBuffer keeps the most recent diagnostic lines, dropping progress
// key=value chatter.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	size  int
}

func (t *tailBuffer) add(line string) {
	if isProgressLine(line) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	t.size += len(line) + 1
	for t.size > 2*MaxExcerpt && len(t.lines) > 1 {
		t.size -= len(t.lines[0]) + 1
		t.lines = t.lines[1:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

var progressKeys = []string{
	"frame=", "fps=", "stream_", "bitrate=", "total_size=", "out_time",
	"dup_frames=", "drop_frames=", "speed=", "progress=",
}

func isProgressLine(line string) bool {
	if strings.ContainsRune(line, ' ') {
		return false
	}
	for _, key := range progressKeys {
		if strings.HasPrefix(line, key) {
			return true
		}
	}
	return false
}
