// Package encoder picks the H.264 encoder used for the final composite.
//
// Three variants exist: libx264 (software), VideoToolbox (macOS hardware)
// and NVENC (NVIDIA hardware). Each carries its own quality parameters;
// callers never branch on the variant to build arguments.
package encoder

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"time"

	"github.com/rs/zerolog"
)

// Kind identifies an encoder variant.
type Kind int

const (
	Software Kind = iota
	VideoToolbox
	NVENC
)

func (k Kind) String() string {
	switch k {
	case VideoToolbox:
		return "videotoolbox"
	case NVENC:
		return "nvenc"
	default:
		return "software"
	}
}

// Choice is a resolved encoder with its parameter set.
type Choice struct {
	Kind  Kind
	Codec string
	// Params are the quality/rate-control arguments placed after -c:v.
	Params []string
}

var variants = map[Kind]Choice{
	Software: {
		Kind:   Software,
		Codec:  "libx264",
		Params: []string{"-preset", "veryfast", "-crf", "23"},
	},
	VideoToolbox: {
		Kind:   VideoToolbox,
		Codec:  "h264_videotoolbox",
		Params: []string{"-b:v", "5M", "-allow_sw", "1"},
	},
	NVENC: {
		Kind:   NVENC,
		Codec:  "h264_nvenc",
		Params: []string{"-preset", "p4", "-tune", "hq", "-rc", "vbr", "-cq", "23", "-b:v", "5M"},
	},
}

// For returns the parameter set of kind.
func For(kind Kind) Choice {
	c := variants[kind]
	c.Params = slices.Clone(c.Params)
	return c
}

// Parse maps a configuration name to its variant.
func Parse(name string) (Choice, error) {
	for _, kind := range []Kind{Software, VideoToolbox, NVENC} {
		if kind.String() == name {
			return For(kind), nil
		}
	}
	return Choice{}, fmt.Errorf("unknown encoder %q", name)
}

// Hardware reports whether the choice runs on a GPU/media engine.
func (c Choice) Hardware() bool {
	return c.Kind != Software
}

// Args returns "-c:v <codec> <params...>".
func (c Choice) Args() []string {
	return append([]string{"-c:v", c.Codec}, c.Params...)
}

func (c Choice) String() string {
	return c.Kind.String()
}

// Prober is the subset of the ffmpeg executor used to test encoders.
type Prober interface {
	ListEncoders(ctx context.Context) ([]string, error)
	TestEncode(ctx context.Context, codec string, timeout time.Duration) (string, error)
}

// Selector chooses the best working encoder on this host.
type Selector struct {
	prober      Prober
	logger      zerolog.Logger
	goos        string
	forced      string
	testTimeout time.Duration
	driverCheck func(stderr string) bool
}

// Option configures a Selector.
type Option func(*Selector)

// WithForced pins the selection to a named variant ("software",
// "videotoolbox", "nvenc"). Empty keeps auto-detection.
func WithForced(name string) Option {
	return func(s *Selector) { s.forced = name }
}

// WithGOOS overrides runtime.GOOS.
func WithGOOS(goos string) Option {
	return func(s *Selector) { s.goos = goos }
}

// WithDriverCheck sets the matcher for "driver too old" diagnostics.
func WithDriverCheck(match func(stderr string) bool) Option {
	return func(s *Selector) { s.driverCheck = match }
}

// NewSelector creates a new encoder selector.
func NewSelector(logger zerolog.Logger, prober Prober, opts ...Option) *Selector {
	s := &Selector{
		prober:      prober,
		logger:      logger.With().Str("component", "encoder").Logger(),
		goos:        runtime.GOOS,
		testTimeout: 15 * time.Second,
		driverCheck: func(string) bool { return false },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns the encoder to use. It never fails: any problem with a
// hardware path yields the software choice.
func (s *Selector) Select(ctx context.Context) Choice {
	if s.forced != "" {
		if c, err := Parse(s.forced); err == nil {
			s.logger.Debug().Str("encoder", c.String()).Msg("encoder forced by configuration")
			return c
		}
		s.logger.Warn().Str("encoder", s.forced).Msg("unknown forced encoder, auto-detecting")
	}

	// VideoToolbox ships with the OS and is assumed to work.
	if s.goos == "darwin" {
		return For(VideoToolbox)
	}

	if s.prober == nil {
		return For(Software)
	}

	names, err := s.prober.ListEncoders(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("listing encoders failed, using software")
		return For(Software)
	}

	nvenc := For(NVENC)
	if !slices.Contains(names, nvenc.Codec) {
		return For(Software)
	}

	// Advertised is not the same as usable: the driver may be too old for
	// the NVENC API ffmpeg was built against.
	stderr, err := s.prober.TestEncode(ctx, nvenc.Codec, s.testTimeout)
	if err != nil || s.driverCheck(stderr) {
		s.logger.Warn().
			Err(err).
			Bool("driver_too_old", s.driverCheck(stderr)).
			Msg("nvenc advertised but not functional, using software")
		return For(Software)
	}

	s.logger.Info().Str("encoder", nvenc.String()).Msg("nvenc test encode passed")
	return nvenc
}
