package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/8bitGames/creative-mut-app/internal/compose"
	"github.com/8bitGames/creative-mut-app/internal/config"
	"github.com/8bitGames/creative-mut-app/internal/encoder"
	"github.com/8bitGames/creative-mut-app/internal/ffmpeg"
	"github.com/8bitGames/creative-mut-app/internal/frames"
	"github.com/8bitGames/creative-mut-app/internal/history"
	"github.com/8bitGames/creative-mut-app/internal/metrics"
	"github.com/8bitGames/creative-mut-app/internal/pipeline"
	"github.com/8bitGames/creative-mut-app/internal/qr"
	"github.com/8bitGames/creative-mut-app/internal/segment"
	"github.com/8bitGames/creative-mut-app/internal/session"
	"github.com/8bitGames/creative-mut-app/internal/stage"
	"github.com/8bitGames/creative-mut-app/internal/upload"
	"github.com/8bitGames/creative-mut-app/internal/verify"
)

// app holds the wired collaborators of one invocation.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	exec     *ffmpeg.Executor
	verifier *verify.Verifier
	selector *encoder.Selector
	metrics  *metrics.Metrics

	segmenter *segment.ONNXSegmenter
	history   *history.Store
}

// newApp builds the ffmpeg executor and the verifier every command needs.
func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	exec, err := ffmpeg.New(logger, cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath, cfg.FFmpeg.Threads)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		exec:   exec,
		verifier: verify.New(logger, exec, verify.Options{
			ProbeTimeout:  cfg.Verify.ProbeTimeout,
			DecodeFrames:  cfg.Verify.DecodeFrames,
			DecodeTimeout: cfg.Verify.DecodeTimeout,
		}),
		selector: encoder.NewSelector(logger, exec,
			encoder.WithForced(cfg.Compose.Encoder),
			encoder.WithDriverCheck(ffmpeg.MatchDriverTooOld),
		),
	}
	if cfg.Metrics.Textfile != "" {
		a.metrics = metrics.New()
	}
	return a, nil
}

// Close releases the model session and the history database and flushes
// the metrics textfile.
func (a *app) Close() {
	if a.segmenter != nil {
		if err := a.segmenter.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close segmenter")
		}
		if err := segment.Shutdown(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to shut down onnxruntime")
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close history store")
		}
	}
	if a.metrics != nil {
		if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			a.logger.Warn().Err(err).Str("path", a.cfg.Metrics.Textfile).Msg("failed to write metrics textfile")
		}
	}
}

// shadower loads the segmentation model when one is configured. Without a
// model the shadow stage is a logged no-op.
func (a *app) shadower() *stage.Shadower {
	var seg stage.Segmenter
	if path := a.cfg.Shadow.ModelPath; path != "" {
		s, err := segment.New(a.logger, segment.Options{
			ModelPath:   path,
			LibraryPath: a.cfg.Shadow.LibraryPath,
			InputSize:   a.cfg.Shadow.InputSize,
			InputName:   a.cfg.Shadow.InputName,
			OutputName:  a.cfg.Shadow.OutputName,
			Layout:      segment.Layout(a.cfg.Shadow.InputLayout),
		})
		if err != nil {
			a.logger.Warn().Err(err).Msg("segmentation model unavailable, shadow disabled")
		} else {
			a.segmenter = s
			seg = s
		}
	}
	return stage.NewShadower(a.logger, a.exec, a.verifier, seg, a.cfg.Shadow.MaxProcessDim)
}

func (a *app) composer() *compose.Composer {
	cc := a.cfg.Compose
	transformer := stage.New(a.logger, a.exec, a.verifier, stage.Options{
		NormalizeTimeout: cc.NormalizeTimeout,
		EnhanceTimeout:   cc.EnhanceTimeout,
	})

	opts := []compose.Option{compose.WithShadow(a.shadower())}
	if a.metrics != nil {
		opts = append(opts, compose.WithRecorder(a.metrics))
	}

	return compose.New(a.logger, a.exec, a.verifier, a.selector, transformer, composeOptions(a.cfg), opts...)
}

func composeOptions(cfg *config.Config) compose.Options {
	cc := cfg.Compose
	return compose.Options{
		Width:             cc.Width,
		Height:            cc.Height,
		Mirror:            cc.Mirror,
		MaxAttempts:       cc.MaxAttempts,
		Timeout:           cc.Timeout,
		Parallel:          cc.Parallel,
		Segments:          cc.Segments,
		Workers:           cfg.Concurrency,
		SeparateEnhance:   cc.SeparateEnhance,
		KeepIntermediates: cc.KeepIntermediates,
	}
}

func (a *app) extractor() *frames.Extractor {
	fc := a.cfg.Frames
	opts := frames.Options{
		Timestamps: fc.Timestamps,
		Margin:     fc.Margin,
		Attempts:   fc.Attempts,
		Timeout:    fc.Timeout,
		RetryDelay: fc.RetryDelay,
	}
	if a.metrics != nil {
		return frames.New(a.logger, a.exec, opts, a.metrics)
	}
	return frames.New(a.logger, a.exec, opts, nil)
}

func (a *app) sessions() *session.Manager {
	return session.NewManager(a.logger, a.cfg.WorkDir, session.Options{
		LockStaleAfter: a.cfg.Session.LockStaleAfter,
		RetainFor:      a.cfg.Session.RetainFor,
	})
}

func (a *app) openHistory() (*history.Store, error) {
	if a.history != nil {
		return a.history, nil
	}
	if a.cfg.History.Path == "" {
		return nil, fmt.Errorf("history.path is not configured")
	}
	store, err := history.Open(a.cfg.History.Path)
	if err != nil {
		return nil, err
	}
	a.history = store
	return store, nil
}

// pipeline wires the full session runner. Optional collaborators are only
// set when configured so the pipeline sees true nil interfaces.
func (a *app) pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	deps := pipeline.Deps{
		Sessions: a.sessions(),
		Composer: a.composer(),
		Frames:   a.extractor(),
		QR:       qr.Generator{ModulePixels: a.cfg.QR.ModulePixels},
	}

	if a.cfg.S3.Enabled {
		up, err := upload.NewFromEnv(ctx, a.logger, upload.Options{
			Bucket: a.cfg.S3.Bucket,
			Region: a.cfg.S3.Region,
			ACL:    a.cfg.S3.ACL,
		})
		if err != nil {
			// the composite is still useful locally
			a.logger.Warn().Err(err).Msg("s3 unavailable, upload disabled")
		} else {
			deps.Uploader = up
		}
	}

	if a.cfg.History.Path != "" {
		store, err := a.openHistory()
		if err != nil {
			a.logger.Warn().Err(err).Msg("history store unavailable")
		} else {
			deps.History = store
		}
	}

	if a.metrics != nil {
		deps.Recorder = a.metrics
	}

	return pipeline.New(a.logger, deps)
}
