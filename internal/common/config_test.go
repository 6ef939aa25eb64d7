package common

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_EnvDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("QUEUE_WORKERS", "7")
	t.Setenv("OCR_ENGINE_ORDER", "tesseract, vision")
	t.Setenv("DOCEXTRACT_CONFIG", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 7, cfg.Queue.Workers)
	assert.Equal(t, []string{"tesseract", "vision"}, cfg.Orchestrator.DefaultOrder)
	assert.Equal(t, 5*time.Second, cfg.Queue.BaseDelay.Duration)
	assert.True(t, cfg.Engines["tesseract"].Enabled)
	require.NoError(t, cfg.Validate())
}

func TestMergeTOML_OverlaysAndReplacesEngines(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	err = cfg.MergeTOML([]byte(`
[queue]
base_delay = "250ms"

[storage]
watch = true

[engines.Vision]
enabled = true
endpoint = "https://vision.example.test"
timeout = "5s"
`))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.BaseDelay.Duration)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.True(t, cfg.Storage.Watch)

	v := cfg.Engines["vision"]
	assert.True(t, v.Enabled)
	assert.Equal(t, 5*time.Second, v.Timeout.Duration)
	assert.Zero(t, v.RatePerSecond)
	assert.Contains(t, cfg.Engines, "tesseract")
}

func TestMergeTOML_BadInputKeepsEngines(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	n := len(cfg.Engines)

	err = cfg.MergeTOML([]byte(`[queue`))
	require.Error(t, err)
	assert.Len(t, cfg.Engines, n)
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		t.Helper()
		t.Setenv("DB_DRIVER", "sqlite")
		cfg, err := LoadConfig()
		require.NoError(t, err)
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres"; c.Database.DSN = "" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"no workers", func(c *Config) { c.Queue.Workers = 0 }},
		{"threshold out of range", func(c *Config) { c.Orchestrator.ReviewThreshold = 1.5 }},
		{"unconfigured engine", func(c *Config) { c.Orchestrator.DefaultOrder = []string{"abbyy"} }},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = "s3"; c.Storage.S3Endpoint = "localhost:9000" }},
		{"watch on s3", func(c *Config) {
			c.Storage = StorageConfig{Backend: "s3", S3Endpoint: "localhost:9000", S3Bucket: "docs", Watch: true}
		}},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "ftp" }},
		{"negative sharpen", func(c *Config) { c.Enhance.SharpenAmount = -1 }},
		{"clip too wide", func(c *Config) { c.Enhance.ClipPercent = 0.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base(t)
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))
		})
	}
}

func TestEnhanceConfig_EnvAndTOML(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("ENHANCE_MAX_DIMENSION", "2000")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Enhance.EstimateSkew)
	assert.Equal(t, 2000, cfg.Enhance.MaxDimension)
	assert.Equal(t, 0.5, cfg.Enhance.SharpenAmount)
	assert.Equal(t, 1000, cfg.Queue.RetainFinished)

	require.NoError(t, cfg.MergeTOML([]byte(`
[enhance]
estimate_skew = false
sharpen_amount = 0.8
`)))
	assert.False(t, cfg.Enhance.EstimateSkew)
	assert.Equal(t, 0.8, cfg.Enhance.SharpenAmount)
	assert.Equal(t, 2000, cfg.Enhance.MaxDimension)
	require.NoError(t, cfg.Validate())
}
