package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kemonod/pkg/timer"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://kemono.cr", cfg.Platform.BaseURL)
	assert.Equal(t, timer.Daily, cfg.Scheduler.GlobalTimer.Type)
	assert.Equal(t, "02:00", cfg.Scheduler.GlobalTimer.Time)
	assert.True(t, cfg.Download.SkipExisting)
	assert.True(t, cfg.Naming.RenameImagesOnly)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.Platform.BaseURL = "" }},
		{"zero timeout", func(c *Config) { c.Platform.RequestTimeout = 0 }},
		{"zero rate", func(c *Config) { c.Platform.RequestsPerMinute = 0 }},
		{"empty download dir", func(c *Config) { c.Download.Directory = "" }},
		{"zero retries", func(c *Config) { c.Download.MaxRetries = 0 }},
		{"negative pacing", func(c *Config) { c.Download.PacingDelay = -time.Second }},
		{"empty date format", func(c *Config) { c.Naming.DateFormat = "" }},
		{"zero tick", func(c *Config) { c.Scheduler.TickInterval = 0 }},
		{"bad timer time", func(c *Config) { c.Scheduler.GlobalTimer.Time = "25:00" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
platform:
  base_url: https://mirror.example
  requests_per_minute: 30
download:
  directory: /srv/downloads
  pacing_delay: 3s
scheduler:
  global_timer:
    type: weekly
    time: "14:30"
    day: 5
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, "https://mirror.example", cfg.Platform.BaseURL)
	assert.Equal(t, 30, cfg.Platform.RequestsPerMinute)
	assert.Equal(t, "/srv/downloads", cfg.Download.Directory)
	assert.Equal(t, 3*time.Second, cfg.Download.PacingDelay)
	assert.Equal(t, timer.Weekly, cfg.Scheduler.GlobalTimer.Type)
	assert.Equal(t, 5, cfg.Scheduler.GlobalTimer.Day)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched values keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Platform.RequestTimeout)
}

func TestLoadFromFileErrors(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.LoadFromFile("/nonexistent/config.yaml"))

	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml: ["), 0644))
	assert.Error(t, cfg.LoadFromFile(path))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KEMONOD_BASE_URL", "https://env.example")
	t.Setenv("KEMONOD_DOWNLOAD_DIR", "/env/downloads")
	t.Setenv("KEMONOD_LOG_LEVEL", "warn")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "https://env.example", cfg.Platform.BaseURL)
	assert.Equal(t, "/env/downloads", cfg.Download.Directory)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()

	cfg.MergeCommandLineFlags(map[string]interface{}{
		"download-dir": "/flag/downloads",
		"log-level":    "debug",
		"base-url":     "",
	})

	assert.Equal(t, "/flag/downloads", cfg.Download.Directory)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "https://kemono.cr", cfg.Platform.BaseURL, "empty flags do not override")
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("download:\n  directory: /file/downloads\n"), 0644))

	t.Setenv("KEMONOD_DOWNLOAD_DIR", "/env/downloads")

	// Env beats file.
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "/env/downloads", cfg.Download.Directory)

	// Flags beat env.
	cfg, err = Load(path, map[string]interface{}{"download-dir": "/flag/downloads"})
	require.NoError(t, err)
	assert.Equal(t, "/flag/downloads", cfg.Download.Directory)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Download.Directory = "/srv/downloads"
	cfg.GlobalFilter.Keywords = []string{"wallpaper"}
	require.NoError(t, cfg.Save(path))

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))

	assert.Equal(t, "/srv/downloads", loaded.Download.Directory)
	assert.Equal(t, []string{"wallpaper"}, loaded.GlobalFilter.Keywords)
}
