package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	// Core settings
	WorkDir     string `yaml:"work_dir" env:"MUT_OUTPUT_DIR"`
	Concurrency int    `yaml:"concurrency"`

	FFmpeg   FFmpegConfig  `yaml:"ffmpeg"`
	Compose  ComposeConfig `yaml:"compose"`
	Shadow   ShadowConfig  `yaml:"shadow"`
	Verify   VerifyConfig  `yaml:"verify"`
	Frames   FramesConfig  `yaml:"frames"`
	Session  SessionConfig `yaml:"session"`
	S3       S3Config      `yaml:"s3"`
	QR       QRConfig      `yaml:"qr"`
	History  HistoryConfig `yaml:"history"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Overlays OverlayConfig `yaml:"overlays"`
}

type FFmpegConfig struct {
	BinaryPath string `yaml:"binary_path" env:"MUT_FFMPEG"`
	ProbePath  string `yaml:"probe_path" env:"MUT_FFPROBE"`
	Threads    int    `yaml:"threads"`
}

type ComposeConfig struct {
	Width        int           `yaml:"width"`
	Height       int           `yaml:"height"`
	Mirror       bool          `yaml:"mirror"`
	Enhance      bool          `yaml:"enhance"`
	EnhanceLevel string        `yaml:"enhance_level"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Timeout      time.Duration `yaml:"timeout"`
	// Encoder forces a variant ("software", "videotoolbox", "nvenc");
	// empty means auto-detect.
	Encoder string `yaml:"encoder"`

	Parallel bool `yaml:"parallel"`
	Segments int  `yaml:"segments"`

	// SeparateEnhance runs the enhance recipe as its own verified encode
	// instead of inside the composite graph.
	SeparateEnhance   bool `yaml:"separate_enhance"`
	KeepIntermediates bool `yaml:"keep_intermediates"`

	NormalizeTimeout time.Duration `yaml:"normalize_timeout"`
	EnhanceTimeout   time.Duration `yaml:"enhance_timeout"`
}

// ShadowConfig mirrors stage.ShadowConfig plus the segmentation model
// settings. Offsets, blur and spread are relative to a 1280x720 frame.
type ShadowConfig struct {
	Enabled bool    `yaml:"enabled"`
	OffsetX float64 `yaml:"offset_x"`
	OffsetY float64 `yaml:"offset_y"`
	Blur    float64 `yaml:"blur"`
	Opacity float64 `yaml:"opacity"`
	Spread  float64 `yaml:"spread"`

	ModelPath     string `yaml:"model_path" env:"MUT_SEGMENT_MODEL"`
	LibraryPath   string `yaml:"library_path" env:"ONNXRUNTIME_LIB"`
	InputSize     int    `yaml:"input_size"`
	InputName     string `yaml:"input_name"`
	OutputName    string `yaml:"output_name"`
	InputLayout   string `yaml:"input_layout"`
	MaxProcessDim int    `yaml:"max_process_dim"`
}

type VerifyConfig struct {
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	DecodeFrames  int           `yaml:"decode_frames"`
	DecodeTimeout time.Duration `yaml:"decode_timeout"`
}

type FramesConfig struct {
	Timestamps []float64     `yaml:"timestamps"`
	Margin     float64       `yaml:"margin"`
	Attempts   int           `yaml:"attempts"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type SessionConfig struct {
	LockStaleAfter time.Duration `yaml:"lock_stale_after"`
	RetainFor      time.Duration `yaml:"retain_for"`
}

type S3Config struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket" env:"AWS_S3_BUCKET"`
	Region  string `yaml:"region" env:"AWS_REGION"`
	Folder  string `yaml:"folder"`
	ACL     string `yaml:"acl"`
}

type QRConfig struct {
	ModulePixels int `yaml:"module_pixels"`
}

type HistoryConfig struct {
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// OverlayConfig maps short frame names to overlay image paths so callers
// can pass "--frame hologram" instead of a full path.
type OverlayConfig struct {
	DefaultFrame string            `yaml:"default_frame"`
	Frames       map[string]string `yaml:"frames"`
}

// Load reads configuration from file or returns defaults. Dotenv files
// are loaded afterwards and the env-tagged fields override file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	loadEnvFiles()
	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return errors.New("work_dir is required")
	}
	if c.Compose.Width <= 0 || c.Compose.Height <= 0 {
		return errors.New("compose width and height must be positive")
	}
	if c.Compose.MaxAttempts < 1 {
		return errors.New("compose.max_attempts must be at least 1")
	}
	switch c.Compose.EnhanceLevel {
	case "light", "medium", "strong":
	default:
		return fmt.Errorf("unknown enhance level %q", c.Compose.EnhanceLevel)
	}
	switch c.Compose.Encoder {
	case "", "software", "videotoolbox", "nvenc":
	default:
		return fmt.Errorf("unknown encoder %q", c.Compose.Encoder)
	}
	if c.Compose.Parallel && c.Compose.Segments < 2 {
		return errors.New("compose.segments must be at least 2 when parallel is enabled")
	}
	if c.Shadow.Opacity < 0 || c.Shadow.Opacity > 1 {
		return errors.New("shadow.opacity must be within [0,1]")
	}
	if c.Shadow.Blur < 0 || c.Shadow.Spread < 0 {
		return errors.New("shadow.blur and shadow.spread cannot be negative")
	}
	switch c.Shadow.InputLayout {
	case "nhwc", "nchw":
	default:
		return fmt.Errorf("unknown shadow.input_layout %q", c.Shadow.InputLayout)
	}
	if len(c.Frames.Timestamps) == 0 {
		return errors.New("frames.timestamps cannot be empty")
	}
	if c.Frames.Attempts < 1 {
		return errors.New("frames.attempts must be at least 1")
	}
	if c.Frames.Margin < 0 {
		return errors.New("frames.margin cannot be negative")
	}
	if c.Verify.DecodeFrames < 1 {
		return errors.New("verify.decode_frames must be at least 1")
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		WorkDir:     defaultWorkDir(),
		Concurrency: 4,
		FFmpeg: FFmpegConfig{
			BinaryPath: "ffmpeg",
			ProbePath:  "ffprobe",
			Threads:    0,
		},
		Compose: ComposeConfig{
			Width:            1080,
			Height:           1920,
			Mirror:           true,
			Enhance:          true,
			EnhanceLevel:     "medium",
			MaxAttempts:      3,
			Timeout:          10 * time.Minute,
			Segments:         4,
			NormalizeTimeout: 30 * time.Second,
			EnhanceTimeout:   5 * time.Minute,
		},
		Shadow: ShadowConfig{
			Enabled:       false,
			OffsetX:       25,
			OffsetY:       15,
			Blur:          21,
			Opacity:       0.45,
			Spread:        1.5,
			InputSize:     256,
			InputName:     "input",
			OutputName:    "output",
			InputLayout:   "nhwc",
			MaxProcessDim: 720,
		},
		Verify: VerifyConfig{
			ProbeTimeout:  15 * time.Second,
			DecodeFrames:  10,
			DecodeTimeout: 20 * time.Second,
		},
		Frames: FramesConfig{
			Timestamps: []float64{5, 10, 15},
			Margin:     0.5,
			Attempts:   3,
			Timeout:    10 * time.Second,
			RetryDelay: 500 * time.Millisecond,
		},
		Session: SessionConfig{
			LockStaleAfter: 30 * time.Minute,
			RetainFor:      72 * time.Hour,
		},
		S3: S3Config{
			Enabled: true,
			Bucket:  "mut-demo-2025",
			Region:  "ap-northeast-2",
			Folder:  "mut-hologram",
			ACL:     "public-read",
		},
		QR: QRConfig{
			ModulePixels: 10,
		},
		Overlays: OverlayConfig{
			Frames: make(map[string]string),
		},
	}
}

// applyEnv overrides fields tagged with env from the process environment.
func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	set(&c.WorkDir, "MUT_OUTPUT_DIR")
	set(&c.FFmpeg.BinaryPath, "MUT_FFMPEG")
	set(&c.FFmpeg.ProbePath, "MUT_FFPROBE")
	set(&c.Shadow.ModelPath, "MUT_SEGMENT_MODEL")
	set(&c.Shadow.LibraryPath, "ONNXRUNTIME_LIB")
	set(&c.S3.Bucket, "AWS_S3_BUCKET")
	set(&c.S3.Region, "AWS_REGION")
}

// loadEnvFiles loads dotenv files from the working directory and from
// next to the executable. Missing files are skipped; variables already
// present in the environment win.
func loadEnvFiles() {
	candidates := []string{".env", ".env.local"}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), ".env"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		_ = godotenv.Load(path)
	}
}

func defaultWorkDir() string {
	if exe, err := os.Executable(); err == nil {
		return filepath.Join(filepath.Dir(exe), "output")
	}
	return "./output"
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		filepath.Join(os.Getenv("HOME"), ".mutpipeline", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return Default()
}
