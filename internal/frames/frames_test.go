package frames

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/8bitGames/creative-mut-app/internal/ffmpeg"
	"github.com/8bitGames/creative-mut-app/internal/ffmpeg/ffmpegtest"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestPlan(t *testing.T) {
	defaults := []float64{5, 10, 15}

	tests := []struct {
		name     string
		duration float64
		want     []float64
	}{
		{"all fit", 20, []float64{5, 10, 15}},
		{"exactly at limit", 15.5, []float64{5, 10, 15}},
		{"last pinned", 12, []float64{5, 10, 11.5}},
		{"evenly spaced", 7, []float64{0.5, 3.5, 6.5}},
		{"second point on limit spreads", 10.5, []float64{0.5, 5.25, 10}},
		{"minimal spread", 2, []float64{0.5, 1, 1.5}},
		{"quarter points", 1.2, []float64{0.175, 0.35, 0.525}},
		{"shorter than margin", 0.3, []float64{0, 0, 0}},
		{"unknown", 0, []float64{1, 2, 3}},
		{"negative", -1, []float64{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan(tt.duration, defaults, 0.5)
			if diff := cmp.Diff(tt.want, got, approx); diff != "" {
				t.Errorf("Plan(%v) mismatch (-want +got):\n%s", tt.duration, diff)
			}
		})
	}
}

func TestPlanBounds(t *testing.T) {
	defaults := []float64{5, 10, 15}
	for d := 0.05; d < 40; d += 0.05 {
		plan := Plan(d, defaults, 0.5)
		require.Len(t, plan, 3)
		for _, ts := range plan {
			assert.GreaterOrEqual(t, ts, 0.0, "duration %v", d)
			assert.LessOrEqual(t, ts, max(d-0.5, 0)+1e-9, "duration %v", d)
		}
		if d > 0.5 {
			assert.Less(t, plan[0], plan[1], "duration %v", d)
			assert.Less(t, plan[1], plan[2], "duration %v", d)
		}
	}
}

func TestPlanDoesNotAliasDefaults(t *testing.T) {
	defaults := []float64{5, 10, 15}
	plan := Plan(30, defaults, 0.5)
	plan[0] = 99
	assert.Equal(t, 5.0, defaults[0])
}

type call struct {
	ts   float64
	mode ffmpeg.SeekMode
}

// scriptedTool fails the first failures[ts] extraction attempts of ts.
type scriptedTool struct {
	mu       sync.Mutex
	duration float64
	probeErr error
	failures map[float64]int
	empty    bool
	calls    []call
}

func (s *scriptedTool) ProbeDuration(context.Context, string) (float64, error) {
	return s.duration, s.probeErr
}

func (s *scriptedTool) ExtractFrame(_ context.Context, _, output string, ts float64, mode ffmpeg.SeekMode, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{ts, mode})
	if s.failures[ts] > 0 {
		s.failures[ts]--
		return &ffmpeg.ExecError{Tool: "ffmpeg", ExitCode: 1, Err: errors.New("exit status 1")}
	}
	if s.empty {
		return os.WriteFile(output, nil, 0644)
	}
	return os.WriteFile(output, []byte{0xff, 0xd8, 0xff}, 0644)
}

type frameRecorder struct {
	ok       []bool
	attempts []int
}

func (r *frameRecorder) ObserveFrame(ok bool, attempts int) {
	r.ok = append(r.ok, ok)
	r.attempts = append(r.attempts, attempts)
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.RetryDelay = 0
	return opts
}

func TestExtractAllFrames(t *testing.T) {
	tool := &scriptedTool{duration: 12}
	dir := t.TempDir()

	paths, err := New(zerolog.Nop(), tool, fastOptions(), nil).Extract(context.Background(), "in.mp4", dir)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "frame_5s.jpg"),
		filepath.Join(dir, "frame_10s.jpg"),
		filepath.Join(dir, "frame_11.5s.jpg"),
	}, paths)
	for _, c := range tool.calls {
		assert.Equal(t, ffmpeg.SeekFast, c.mode)
	}
}

func TestExtractRetriesWithAccurateSeek(t *testing.T) {
	tool := &scriptedTool{duration: 20, failures: map[float64]int{10: 2}}
	rec := &frameRecorder{}

	paths, err := New(zerolog.Nop(), tool, fastOptions(), rec).Extract(context.Background(), "in.mp4", t.TempDir())
	require.NoError(t, err)
	require.Len(t, paths, 3)

	want := []call{
		{5, ffmpeg.SeekFast},
		{10, ffmpeg.SeekFast},
		{10, ffmpeg.SeekAccurate},
		{10, ffmpeg.SeekAccurate},
		{15, ffmpeg.SeekFast},
	}
	if diff := cmp.Diff(want, tool.calls, cmp.AllowUnexported(call{})); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{1, 3, 1}, rec.attempts)
}

func TestExtractIncomplete(t *testing.T) {
	tool := &scriptedTool{duration: 20, failures: map[float64]int{15: 3}}
	rec := &frameRecorder{}
	dir := t.TempDir()

	paths, err := New(zerolog.Nop(), tool, fastOptions(), rec).Extract(context.Background(), "in.mp4", dir)
	require.Error(t, err)
	assert.Nil(t, paths, "partial results are never returned")
	assert.ErrorIs(t, err, ErrIncomplete)

	var ie *IncompleteError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 3, ie.Expected)
	assert.Equal(t, 2, ie.Got)
	assert.Equal(t, []float64{15}, ie.Failed)
	assert.Contains(t, err.Error(), "15s")
	assert.Equal(t, []bool{true, true, false}, rec.ok)

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestExtractEmptyFileIsFailure(t *testing.T) {
	tool := &scriptedTool{duration: 20, empty: true}

	_, err := New(zerolog.Nop(), tool, fastOptions(), nil).Extract(context.Background(), "in.mp4", t.TempDir())
	var ie *IncompleteError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, []float64{5, 10, 15}, ie.Failed)
	assert.Len(t, tool.calls, 9)
}

func TestExtractUnknownDuration(t *testing.T) {
	tool := &scriptedTool{probeErr: errors.New("ffprobe exploded")}
	x := New(zerolog.Nop(), tool, fastOptions(), nil)

	assert.Equal(t, []float64{1, 2, 3}, x.Timestamps(context.Background(), "in.mp4"))

	paths, err := x.Extract(context.Background(), "in.mp4", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "frame_1s.jpg", filepath.Base(paths[0]))
}

func TestExtractClipShorterThanMargin(t *testing.T) {
	tool := &scriptedTool{duration: 0.3}
	dir := t.TempDir()

	paths, err := New(zerolog.Nop(), tool, fastOptions(), nil).Extract(context.Background(), "in.mp4", dir)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "frame_0s.jpg"),
		filepath.Join(dir, "frame_2_0s.jpg"),
		filepath.Join(dir, "frame_3_0s.jpg"),
	}, paths)

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Len(t, entries, 3, "every planned frame has its own file")
}

func TestFrameName(t *testing.T) {
	plan := []float64{5, 10, 11.5}
	assert.Equal(t, "frame_5s.jpg", frameName(plan, 0))
	assert.Equal(t, "frame_11.5s.jpg", frameName(plan, 2))

	plan = []float64{0, 0, 0}
	assert.Equal(t, "frame_0s.jpg", frameName(plan, 0))
	assert.Equal(t, "frame_3_0s.jpg", frameName(plan, 2))
}

func TestExtractCanceledDuringBackoff(t *testing.T) {
	tool := &scriptedTool{duration: 20, failures: map[float64]int{5: 3}}
	opts := DefaultOptions()
	opts.RetryDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(zerolog.Nop(), tool, opts, nil).Extract(ctx, "in.mp4", t.TempDir())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, tool.calls, 1)
}

// TestExtractFromVideo pins both seek modes against a real encode: every
// planned timestamp yields a decodable JPEG.
func TestExtractFromVideo(t *testing.T) {
	exec := ffmpegtest.Executor(t)
	dir := t.TempDir()
	video := ffmpegtest.Video(t, dir, "clip.mp4", 7, 320, 240)

	paths, err := New(zerolog.Nop(), exec, fastOptions(), nil).Extract(context.Background(), video, filepath.Join(dir, "frames"))
	require.NoError(t, err)
	require.Len(t, paths, 3)

	for _, p := range paths {
		info, statErr := os.Stat(p)
		require.NoError(t, statErr)
		assert.Positive(t, info.Size())
	}
	assert.Regexp(t, `^frame_6\.\d+s\.jpg$`, filepath.Base(paths[2]))
}
