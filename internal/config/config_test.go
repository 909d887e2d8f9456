package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST PLAN: Configuration
//
// Test Cases:
// 1. Defaults are valid and map onto pipeline options.
// 2. Validation rejects each out-of-range field with its sentinel error.
// 3. A .metawatch/config.yml overrides defaults.
// 4. METAWATCH_* environment variables override the file.
// 5. A missing config file falls back to defaults.
// 6. Database path resolution: explicit path wins, otherwise under the root.

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, Validate(cfg))

	opts := cfg.ToPipelineOptions()
	assert.Equal(t, 2*time.Second, opts.DebounceWindow)
	assert.Equal(t, 60*time.Second, opts.MaxDelay)
	assert.Equal(t, 250*time.Millisecond, opts.PollInterval)
	assert.Equal(t, 4, opts.Workers)
	assert.Equal(t, 4096, opts.MaxQueueSize)
	assert.Equal(t, 30*time.Second, opts.ExtractTimeout)
	assert.Equal(t, 3, opts.MaxAttempts)
	require.NoError(t, opts.Validate())
}

func TestValidate_Pipeline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"negative debounce", func(c *Config) { c.Pipeline.DebounceSeconds = -1 }, ErrInvalidDebounce},
		{"max delay below debounce", func(c *Config) { c.Pipeline.MaxDelaySeconds = 1 }, ErrInvalidMaxDelay},
		{"zero workers", func(c *Config) { c.Pipeline.Workers = 0 }, ErrInvalidWorkers},
		{"negative queue size", func(c *Config) { c.Pipeline.MaxQueueSize = -5 }, ErrInvalidQueueSize},
		{"zero timeout", func(c *Config) { c.Pipeline.ExtractTimeoutSeconds = 0 }, ErrInvalidTimeout},
		{"zero retry limit", func(c *Config) { c.Pipeline.RetryLimit = 0 }, ErrInvalidRetryLimit},
		{"zero poll interval", func(c *Config) { c.Pipeline.PollIntervalMillis = 0 }, ErrInvalidPollInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, Validate(cfg), tt.wantErr)
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Pipeline.Workers = 0
	cfg.Pipeline.RetryLimit = 0

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers")
	assert.Contains(t, err.Error(), "retry_limit")
}

func writeConfigFile(t *testing.T, rootDir, content string) {
	t.Helper()

	configDir := filepath.Join(rootDir, ".metawatch")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yml"), []byte(content), 0o644))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromDir(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default().Pipeline, cfg.Pipeline)
	assert.Equal(t, Default().Paths.Ignore, cfg.Paths.Ignore)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Parallel()

	rootDir := t.TempDir()
	writeConfigFile(t, rootDir, `
pipeline:
  workers: 8
  debounce_seconds: 5
paths:
  ignore:
    - "*.log"
`)

	cfg, err := LoadConfigFromDir(rootDir)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, 5, cfg.Pipeline.DebounceSeconds)
	// Untouched keys keep their defaults.
	assert.Equal(t, 60, cfg.Pipeline.MaxDelaySeconds)
	assert.Equal(t, []string{"*.log"}, cfg.Paths.Ignore)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	rootDir := t.TempDir()
	writeConfigFile(t, rootDir, "pipeline:\n  workers: 8\n")

	t.Setenv("METAWATCH_PIPELINE_WORKERS", "2")
	t.Setenv("METAWATCH_STORAGE_DB_PATH", "/var/lib/metawatch/index.db")

	cfg, err := LoadConfigFromDir(rootDir)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Pipeline.Workers)
	assert.Equal(t, "/var/lib/metawatch/index.db", cfg.Storage.DBPath)
}

func TestLoad_EnvOverridesIgnorePatterns(t *testing.T) {
	rootDir := t.TempDir()
	writeConfigFile(t, rootDir, `
paths:
  ignore:
    - "vendor/**"
`)

	t.Setenv("METAWATCH_PATHS_IGNORE", "*.log,tmp/**")

	cfg, err := LoadConfigFromDir(rootDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"*.log", "tmp/**"}, cfg.Paths.Ignore)
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	t.Parallel()

	rootDir := t.TempDir()
	writeConfigFile(t, rootDir, "pipeline:\n  workers: -3\n")

	_, err := LoadConfigFromDir(rootDir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidWorkers)
}

func TestDatabasePath(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.Equal(t, filepath.Join("/repo", ".metawatch", "index.db"), cfg.DatabasePath("/repo"))

	cfg.Storage.DBPath = "/elsewhere/index.db"
	assert.Equal(t, "/elsewhere/index.db", cfg.DatabasePath("/repo"))
}
