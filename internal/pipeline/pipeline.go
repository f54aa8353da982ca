// Package pipeline runs one kiosk session end to end: compose the hologram
// video, sample the print frames, upload, and render the download QR.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/8bitGames/creative-mut-app/internal/compose"
	"github.com/8bitGames/creative-mut-app/internal/history"
	"github.com/8bitGames/creative-mut-app/internal/logging"
	"github.com/8bitGames/creative-mut-app/internal/qr"
	"github.com/8bitGames/creative-mut-app/internal/session"
	"github.com/8bitGames/creative-mut-app/internal/upload"
)

// ResultFile is the copy of the result kept in the session directory.
const ResultFile = "result.json"

// Composer produces the verified composite.
type Composer interface {
	Compose(ctx context.Context, req compose.Request) (*compose.Result, error)
}

// FrameExtractor samples the print frames.
type FrameExtractor interface {
	Extract(ctx context.Context, video, dir string) ([]string, error)
}

// Uploader publishes the video.
type Uploader interface {
	Upload(ctx context.Context, file, folder string) (*upload.Result, error)
}

// QRGenerator renders a URL into an image.
type QRGenerator interface {
	Generate(content, path string) error
}

// HistoryStore records finished runs.
type HistoryStore interface {
	Record(ctx context.Context, run history.Run) error
}

// Recorder receives run level measurements.
type Recorder interface {
	ObserveStage(name string, d time.Duration)
	ObserveUpload(ok bool)
	ObserveRun(ok bool, d time.Duration)
}

// Deps are the collaborators of a Pipeline. Uploader, QR, History and
// Recorder are optional.
type Deps struct {
	Sessions *session.Manager
	Composer Composer
	Frames   FrameExtractor
	Uploader Uploader
	QR       QRGenerator
	History  HistoryStore
	Recorder Recorder
}

// Pipeline orchestrates the entire session workflow
type Pipeline struct {
	deps   Deps
	logger zerolog.Logger
}

// New creates a new pipeline instance
func New(logger zerolog.Logger, deps Deps) (*Pipeline, error) {
	if deps.Sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if deps.Composer == nil || deps.Frames == nil {
		return nil, errors.New("composer and frame extractor are required")
	}
	if deps.QR == nil {
		deps.QR = qr.Generator{}
	}
	return &Pipeline{
		deps:   deps,
		logger: logging.Component(logger, "pipeline"),
	}, nil
}

// Run executes one session. The returned Result is never nil; err is the
// escalated failure also reported in Result.Error. The session lock is
// released on every path.
func (p *Pipeline) Run(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	res = &Result{FramePaths: []string{}}

	sess, err := p.deps.Sessions.Create()
	if err != nil {
		res.Error = err.Error()
		res.TotalTime = time.Since(start).Seconds()
		return res, err
	}
	res.SessionID = sess.ID
	res.VideoPath = sess.Path("final_" + sess.ID + ".mp4")

	log := p.logger.With().Str(logging.FieldSessionID, sess.ID).Logger()

	defer func() {
		res.TotalTime = time.Since(start).Seconds()
		res.Success = err == nil
		if err != nil {
			res.Error = err.Error()
		}
		p.finish(log, sess, start, res)
		if relErr := sess.Release(); relErr != nil {
			log.Error().Err(relErr).Msg("failed to release session lock")
		}
	}()

	log.Info().
		Str("input", req.Video).
		Str("frame", req.Overlay).
		Bool("shadow", req.Shadow.Enabled).
		Bool("enhance", req.Enhance).
		Msg("starting session")

	composed, err := p.deps.Composer.Compose(ctx, compose.Request{
		Video:    req.Video,
		Overlay:  req.Overlay,
		Output:   res.VideoPath,
		Shadow:   req.Shadow,
		Enhance:  req.Enhance,
		Level:    req.Level,
		Progress: req.Progress,
	})
	if err != nil {
		return res, err
	}

	res.VideoPath = composed.Path
	res.Encoder = composed.Encoder.String()
	res.Attempts = composed.Attempts
	res.CompositionTime = ptr(composed.Timings.Compose.Seconds())
	res.Timings.Normalize = composed.Timings.Normalize.Seconds()
	res.Timings.Enhance = composed.Timings.Enhance.Seconds()
	res.Timings.Shadow = composed.Timings.Shadow.Seconds()
	res.Timings.Compose = composed.Timings.Compose.Seconds()

	framesStart := time.Now()
	paths, err := p.deps.Frames.Extract(ctx, composed.Path, sess.Dir)
	res.Timings.Frames = time.Since(framesStart).Seconds()
	p.observeStage("frames", time.Since(framesStart))
	if err != nil {
		return res, err
	}
	res.FramePaths = paths

	p.publish(ctx, log, sess, req, res)
	return res, nil
}

// publish uploads the video and renders the QR. Neither failure fails
// the run, and a QR failure leaves the upload in place.
func (p *Pipeline) publish(ctx context.Context, log zerolog.Logger, sess *session.Session, req Request, res *Result) {
	if p.deps.Uploader == nil {
		log.Info().Msg("upload disabled, keeping local video only")
		return
	}

	uploadStart := time.Now()
	up, err := p.deps.Uploader.Upload(ctx, res.VideoPath, req.S3Folder)
	res.Timings.Upload = time.Since(uploadStart).Seconds()
	p.observeStage("upload", time.Since(uploadStart))
	if p.deps.Recorder != nil {
		p.deps.Recorder.ObserveUpload(err == nil)
	}
	if err != nil {
		log.Error().Err(err).Msg("upload failed, continuing without URL")
		return
	}

	res.S3URL = ptr(up.URL)
	res.S3Key = up.Key
	res.VideoDeleted = ptr(false)

	qrPath := sess.Path(qr.FileName(sess.ID))
	if err := p.deps.QR.Generate(up.URL, qrPath); err != nil {
		log.Error().Err(err).Msg("qr generation failed")
		return
	}
	res.QRCodePath = ptr(qrPath)
}

// finish persists the result copy, the history row and the run metrics.
func (p *Pipeline) finish(log zerolog.Logger, sess *session.Session, start time.Time, res *Result) {
	if err := sess.WriteJSON(ResultFile, res); err != nil {
		log.Warn().Err(err).Msg("failed to write result file")
	}

	if p.deps.History != nil {
		run := history.Run{
			SessionID: sess.ID,
			StartedAt: start,
			Success:   res.Success,
			Error:     res.Error,
			Encoder:   res.Encoder,
			Attempts:  res.Attempts,
			VideoPath: res.VideoPath,
			S3Key:     res.S3Key,
			Compose:   time.Duration(res.Timings.Compose * float64(time.Second)),
			Total:     time.Since(start),
		}
		// recorded even when the caller's context is already canceled
		if err := p.deps.History.Record(context.Background(), run); err != nil {
			log.Warn().Err(err).Msg("failed to record run history")
		}
	}

	if p.deps.Recorder != nil {
		p.deps.Recorder.ObserveRun(res.Success, time.Since(start))
	}

	ev := log.Info()
	if !res.Success {
		ev = log.Error().Str("error", res.Error)
	}
	ev.Bool("success", res.Success).Float64("total_seconds", res.TotalTime).Msg("session finished")
}

func (p *Pipeline) observeStage(name string, d time.Duration) {
	if p.deps.Recorder != nil {
		p.deps.Recorder.ObserveStage(name, d)
	}
}
