package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Field names shared by every component so log lines can be joined per run.
const (
	FieldComponent = "component"
	FieldSessionID = "session_id"
	FieldStage     = "stage"
	FieldEncoder   = "encoder"
	FieldAttempt   = "attempt"
	FieldPath      = "path"
)

// Options controls how the global logger is set up.
type Options struct {
	Verbose bool
	// Structured switches to line-delimited JSON on stderr. Used when the
	// caller parses stdout, so nothing but the result may go there.
	Structured bool
	Out        io.Writer
}

// Init initializes the global logger
func Init(opts Options) {
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}

	zerolog.SetGlobalLevel(level)

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	if opts.Structured {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}

	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		NoColor:    false,
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// Component derives a child of logger tagged with component.
func Component(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str(FieldComponent, component).Logger()
}
