package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1080, cfg.Normalize.Width)
	assert.Equal(t, 1920, cfg.Normalize.Height)
	assert.Equal(t, 500*1024, cfg.Normalize.MaxBytes)
	assert.Equal(t, "letterbox", cfg.Normalize.Fit)
	assert.Equal(t, 10*time.Second, cfg.Fetch.RequestTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Fetch.BackoffInitial)
	assert.Equal(t, 3, cfg.Fetch.MaxAttempts)
	assert.True(t, cfg.Overlay.JoinTrickLocation)
	assert.False(t, cfg.Overlay.ShowObstacle)
	assert.Empty(t, cfg.Eras)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: false
fetch:
  start_year: 2019
  end_year: 2020
  concurrency: 2
  request_timeout: 3s
eras:
  - name: modern
    from: 2019
    to: 2020
    patterns:
      - /images/{MM}_{YY}_Cover.jpg
normalize:
  width: 1179
  height: 2556
  fit: crop
  max_bytes: 400000
overlay:
  text_x: 590
  text_y_center: 2350
  show_obstacle: true
manifest:
  sample_size: 10
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, 2019, cfg.Fetch.StartYear)
	assert.Equal(t, 3*time.Second, cfg.Fetch.RequestTimeout)
	require.Len(t, cfg.Eras, 1)
	assert.Equal(t, []string{"/images/{MM}_{YY}_Cover.jpg"}, cfg.Eras[0].Patterns)
	assert.Equal(t, "crop", cfg.Normalize.Fit)
	assert.Equal(t, 2556, cfg.Normalize.Height)
	assert.Equal(t, 590, cfg.Overlay.TextX)
	assert.True(t, cfg.Overlay.ShowObstacle)
	assert.Equal(t, 10, cfg.Manifest.SampleSize)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"fit":          func(c *Config) { c.Normalize.Fit = "stretch" },
		"quality":      func(c *Config) { c.Normalize.MinQuality = 90 },
		"concurrency":  func(c *Config) { c.Fetch.Concurrency = 0 },
		"years":        func(c *Config) { c.Fetch.EndYear = 1970 },
		"era":          func(c *Config) { c.Eras = []EraConfig{{From: 2000, To: 1999, Patterns: []string{"x"}}} },
		"era patterns": func(c *Config) { c.Eras = []EraConfig{{From: 2000, To: 2001}} },
		"notify":       func(c *Config) { c.Notify.Topic = "covers" },
		"metadata": func(c *Config) {
			c.Metadata.SearchURL = ""
			c.Metadata.CSVPath = ""
		},
	}
	for name, mutate := range cases {
		cfg := base
		cfg.Eras = nil
		mutate(&cfg)
		require.Error(t, cfg.Validate(), name)
	}
}

func TestResolveEndYear(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 2026, FetchConfig{}.ResolveEndYear(now))
	assert.Equal(t, 2020, FetchConfig{EndYear: 2020}.ResolveEndYear(now))
}
