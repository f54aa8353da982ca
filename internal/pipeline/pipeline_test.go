package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/8bitGames/creative-mut-app/internal/compose"
	"github.com/8bitGames/creative-mut-app/internal/encoder"
	"github.com/8bitGames/creative-mut-app/internal/frames"
	"github.com/8bitGames/creative-mut-app/internal/history"
	"github.com/8bitGames/creative-mut-app/internal/session"
	"github.com/8bitGames/creative-mut-app/internal/stage"
	"github.com/8bitGames/creative-mut-app/internal/upload"
)

// lockProbe checks the session lock while a stage is running.
type lockProbe struct {
	t        *testing.T
	root     string
	observed bool
}

func (l *lockProbe) check() {
	matches, err := filepath.Glob(filepath.Join(l.root, "*", session.LockName))
	require.NoError(l.t, err)
	require.Len(l.t, matches, 1, "lock must exist while the run is in progress")
	l.observed = true
}

type fakeComposer struct {
	probe *lockProbe
	err   error
	req   compose.Request
}

func (f *fakeComposer) Compose(_ context.Context, req compose.Request) (*compose.Result, error) {
	f.req = req
	f.probe.check()
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(req.Output, []byte("video"), 0644); err != nil {
		return nil, err
	}
	return &compose.Result{
		Path:     req.Output,
		Encoder:  encoder.For(encoder.NVENC),
		Attempts: 2,
		Timings:  compose.Timings{Normalize: time.Second, Compose: 4 * time.Second},
	}, nil
}

type fakeFrames struct {
	err error
}

func (f *fakeFrames) Extract(_ context.Context, _, dir string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []string{
		filepath.Join(dir, "frame_5s.jpg"),
		filepath.Join(dir, "frame_10s.jpg"),
		filepath.Join(dir, "frame_15s.jpg"),
	}, nil
}

type fakeUploader struct {
	err    error
	folder string
}

func (f *fakeUploader) Upload(_ context.Context, file, folder string) (*upload.Result, error) {
	f.folder = folder
	if f.err != nil {
		return nil, f.err
	}
	key := upload.Key(folder, file)
	return &upload.Result{Key: key, URL: upload.PublicURL("bucket", "ap-northeast-2", key)}, nil
}

type fakeQR struct {
	err     error
	content string
}

func (f *fakeQR) Generate(content, path string) error {
	f.content = content
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(path, []byte("png"), 0644)
}

type memHistory struct{ runs []history.Run }

func (m *memHistory) Record(_ context.Context, run history.Run) error {
	m.runs = append(m.runs, run)
	return nil
}

type harness struct {
	root     string
	probe    *lockProbe
	composer *fakeComposer
	frames   *fakeFrames
	uploader *fakeUploader
	qr       *fakeQR
	history  *memHistory
}

func newHarness(t *testing.T) *harness {
	root := t.TempDir()
	probe := &lockProbe{t: t, root: root}
	return &harness{
		root:     root,
		probe:    probe,
		composer: &fakeComposer{probe: probe},
		frames:   &fakeFrames{},
		uploader: &fakeUploader{},
		qr:       &fakeQR{},
		history:  &memHistory{},
	}
}

func (h *harness) pipeline(t *testing.T, withUpload bool) *Pipeline {
	t.Helper()
	deps := Deps{
		Sessions: session.NewManager(zerolog.Nop(), h.root, session.Options{}),
		Composer: h.composer,
		Frames:   h.frames,
		QR:       h.qr,
		History:  h.history,
	}
	if withUpload {
		deps.Uploader = h.uploader
	}
	p, err := New(zerolog.Nop(), deps)
	require.NoError(t, err)
	return p
}

func (h *harness) assertUnlocked(t *testing.T) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(h.root, "*", session.LockName))
	require.NoError(t, err)
	assert.Empty(t, matches, "lock must be released after the run")
}

func request() Request {
	return Request{
		Video:    "/in/take.webm",
		Overlay:  "/in/frame.png",
		S3Folder: "mut-hologram",
		Enhance:  true,
		Level:    stage.Medium,
	}
}

func TestRunSuccess(t *testing.T) {
	h := newHarness(t)
	res, err := h.pipeline(t, true).Run(context.Background(), request())
	require.NoError(t, err)

	assert.True(t, h.probe.observed)
	h.assertUnlocked(t)

	assert.True(t, res.Success)
	assert.True(t, session.IsID(res.SessionID))
	sessDir := filepath.Join(h.root, res.SessionID)
	assert.Equal(t, filepath.Join(sessDir, "final_"+res.SessionID+".mp4"), res.VideoPath)
	assert.Equal(t, res.VideoPath, h.composer.req.Output)
	assert.Equal(t, stage.Medium, h.composer.req.Level)
	assert.Len(t, res.FramePaths, 3)
	assert.Equal(t, "nvenc", res.Encoder)
	assert.Equal(t, 2, res.Attempts)
	require.NotNil(t, res.CompositionTime)
	assert.Equal(t, 4.0, *res.CompositionTime)
	assert.Equal(t, 1.0, res.Timings.Normalize)

	require.NotNil(t, res.S3URL)
	assert.Equal(t, "mut-hologram/final_"+res.SessionID+".mp4", res.S3Key)
	assert.Equal(t, *res.S3URL, h.qr.content)
	require.NotNil(t, res.QRCodePath)
	assert.Equal(t, filepath.Join(sessDir, "qr_"+res.SessionID+".png"), *res.QRCodePath)
	require.NotNil(t, res.VideoDeleted)
	assert.False(t, *res.VideoDeleted)

	var stored Result
	data, err := os.ReadFile(filepath.Join(sessDir, ResultFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.True(t, stored.Success)
	assert.Equal(t, res.SessionID, stored.SessionID)

	require.Len(t, h.history.runs, 1)
	assert.True(t, h.history.runs[0].Success)
	assert.Equal(t, res.S3Key, h.history.runs[0].S3Key)
}

func TestRunComposeFailureReleasesLock(t *testing.T) {
	h := newHarness(t)
	h.composer.err = &stage.StageError{Stage: stage.NameCompose, Attempt: 3, Err: errors.New("output failed verification")}

	res, err := h.pipeline(t, true).Run(context.Background(), request())
	require.Error(t, err)

	assert.True(t, h.probe.observed)
	h.assertUnlocked(t)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "compose stage failed after 3 attempt(s)")
	assert.Nil(t, res.S3URL)
	assert.Empty(t, h.uploader.folder, "nothing is uploaded after a failed compose")
	require.Len(t, h.history.runs, 1)
	assert.False(t, h.history.runs[0].Success)
}

func TestRunFrameFailure(t *testing.T) {
	h := newHarness(t)
	h.frames.err = &frames.IncompleteError{Expected: 3, Got: 2, Failed: []float64{15}}

	res, err := h.pipeline(t, true).Run(context.Background(), request())
	require.ErrorIs(t, err, frames.ErrIncomplete)
	h.assertUnlocked(t)
	assert.False(t, res.Success)
	assert.Empty(t, res.FramePaths)
}

func TestRunUploadFailureStillSucceeds(t *testing.T) {
	h := newHarness(t)
	h.uploader.err = errors.New("AccessDenied")

	res, err := h.pipeline(t, true).Run(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, res.S3URL)
	assert.Nil(t, res.QRCodePath)
	assert.Empty(t, h.qr.content, "no qr without a url")
}

func TestRunQRFailureKeepsUpload(t *testing.T) {
	h := newHarness(t)
	h.qr.err = errors.New("disk full")

	res, err := h.pipeline(t, true).Run(context.Background(), request())
	require.NoError(t, err)
	require.NotNil(t, res.S3URL)
	assert.NotEmpty(t, res.S3Key)
	assert.Nil(t, res.QRCodePath)
}

func TestRunWithoutUploader(t *testing.T) {
	h := newHarness(t)
	res, err := h.pipeline(t, false).Run(context.Background(), request())
	require.NoError(t, err)
	assert.Nil(t, res.S3URL)
	assert.Nil(t, res.VideoDeleted)
}

func TestResultJSONShape(t *testing.T) {
	res := &Result{VideoPath: "/out/final.mp4", FramePaths: []string{}}

	var buf bytes.Buffer
	require.NoError(t, res.WriteLine(&buf))
	assert.Equal(t, byte('\n'), buf.Bytes()[buf.Len()-1])
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))

	var fields map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	assert.Contains(t, fields, "s3Url")
	assert.Nil(t, fields["s3Url"])
	assert.Contains(t, fields, "qrCodePath")
	assert.Equal(t, []any{}, fields["framePaths"])
	assert.NotContains(t, fields, "error")
	assert.NotContains(t, fields, "compositionTime")
	assert.Equal(t, false, fields["success"])
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(zerolog.Nop(), Deps{})
	assert.Error(t, err)
}
