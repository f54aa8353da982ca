package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []float64{5, 10, 15}, cfg.Frames.Timestamps)
	assert.Equal(t, 0.5, cfg.Frames.Margin)
	assert.Equal(t, 3, cfg.Compose.MaxAttempts)
	assert.Equal(t, "mut-hologram", cfg.S3.Folder)
	assert.Equal(t, "mut-demo-2025", cfg.S3.Bucket)
	assert.Equal(t, "ap-northeast-2", cfg.S3.Region)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	t.Setenv("MUT_OUTPUT_DIR", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
work_dir: /var/mut/output
compose:
  enhance_level: strong
  timeout: 90s
  parallel: true
  segments: 6
  separate_enhance: true
  keep_intermediates: true
frames:
  timestamps: [2, 4, 6]
  retry_delay: 250ms
shadow:
  enabled: true
  opacity: 0.3
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/mut/output", cfg.WorkDir)
	assert.Equal(t, "strong", cfg.Compose.EnhanceLevel)
	assert.Equal(t, 90*time.Second, cfg.Compose.Timeout)
	assert.True(t, cfg.Compose.Parallel)
	assert.Equal(t, 6, cfg.Compose.Segments)
	assert.True(t, cfg.Compose.SeparateEnhance)
	assert.True(t, cfg.Compose.KeepIntermediates)
	assert.Equal(t, []float64{2, 4, 6}, cfg.Frames.Timestamps)
	assert.Equal(t, 250*time.Millisecond, cfg.Frames.RetryDelay)
	assert.True(t, cfg.Shadow.Enabled)
	assert.Equal(t, 0.3, cfg.Shadow.Opacity)

	// untouched sections keep their defaults
	assert.Equal(t, 1080, cfg.Compose.Width)
	assert.Equal(t, 10, cfg.Verify.DecodeFrames)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Compose, cfg.Compose)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compose:\n  enhance_level: extreme\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extreme")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"AWS_S3_BUCKET":  "kiosk-bucket",
		"AWS_REGION":     "us-west-2",
		"MUT_OUTPUT_DIR": "/srv/sessions",
	}

	cfg := Default()
	cfg.applyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "kiosk-bucket", cfg.S3.Bucket)
	assert.Equal(t, "us-west-2", cfg.S3.Region)
	assert.Equal(t, "/srv/sessions", cfg.WorkDir)
	assert.Equal(t, "ffmpeg", cfg.FFmpeg.BinaryPath)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero attempts", func(c *Config) { c.Compose.MaxAttempts = 0 }},
		{"opacity above one", func(c *Config) { c.Shadow.Opacity = 1.5 }},
		{"no timestamps", func(c *Config) { c.Frames.Timestamps = nil }},
		{"unknown encoder", func(c *Config) { c.Compose.Encoder = "quicksync" }},
		{"parallel with one segment", func(c *Config) { c.Compose.Parallel = true; c.Compose.Segments = 1 }},
		{"negative margin", func(c *Config) { c.Frames.Margin = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.Compose.EnhanceLevel = "light"
	cfg.Session.LockStaleAfter = 5 * time.Minute
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "light", loaded.Compose.EnhanceLevel)
	assert.Equal(t, 5*time.Minute, loaded.Session.LockStaleAfter)
}

func TestContextRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.WorkDir = "/x"
	ctx := WithConfig(context.Background(), cfg)
	assert.Same(t, cfg, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
