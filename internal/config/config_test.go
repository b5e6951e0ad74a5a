package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "relwatch.db", cfg.Database.Path)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseBackoff)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxBackoff)
	assert.Equal(t, 2*time.Second, cfg.Retry.Cooldown)
	assert.Equal(t, 50, cfg.Scheduler.BatchSize)
	assert.Equal(t, 4, cfg.Scheduler.Concurrency)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/relwatch/state.db
calendar:
  base_url: https://calendar.example.com/api
  token: secret
retry:
  max_retries: 5
rate_limit:
  max_calls: 2
  window: 1s
  platforms:
    crunchyroll:
      max_calls: 1
      window: 2s
scheduler:
  batch_size: 10
log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/relwatch/state.db", cfg.Database.Path)
	assert.Equal(t, "https://calendar.example.com/api", cfg.Calendar.BaseURL)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 10, cfg.Scheduler.BatchSize)
	assert.Equal(t, "debug", cfg.LogLevel)

	fallback, overrides := cfg.Limits()
	assert.Equal(t, 2, fallback.MaxCalls)
	assert.Equal(t, time.Second, fallback.Window)
	require.Contains(t, overrides, "crunchyroll")
	assert.Equal(t, 1, overrides["crunchyroll"].MaxCalls)
	assert.Equal(t, 2*time.Second, overrides["crunchyroll"].Window)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RELWATCH_SCHEDULER_BATCH_SIZE", "7")
	t.Setenv("RELWATCH_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Scheduler.BatchSize)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_RejectsInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, "log_level: loud\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation")
}

func TestLoad_RejectsNonPositiveRetries(t *testing.T) {
	path := writeConfig(t, "retry:\n  max_retries: 0\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation")
}

func TestLoad_RejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestRetryPolicy_Translation(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	pol := cfg.RetryPolicy()
	assert.Equal(t, cfg.Retry.MaxRetries, pol.MaxAttempts)
	assert.Equal(t, cfg.Retry.BaseBackoff, pol.BaseBackoff)
	assert.Equal(t, cfg.Retry.MaxBackoff, pol.MaxBackoff)
	assert.Equal(t, cfg.Retry.Cooldown, pol.Cooldown)
}

func TestSlogLevel_Mapping(t *testing.T) {
	cfg := &Config{LogLevel: "error"}
	assert.Equal(t, "ERROR", cfg.SlogLevel().String())

	cfg.LogLevel = "info"
	assert.Equal(t, "INFO", cfg.SlogLevel().String())
}
