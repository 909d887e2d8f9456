package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader provides configuration loading capabilities.
type Loader interface {
	// Load loads configuration from file and environment variables.
	// Priority: defaults → config file → environment variables (env wins)
	Load() (*Config, error)
}

type loader struct {
	rootDir string
}

// NewLoader creates a new configuration loader for the given root directory.
func NewLoader(rootDir string) Loader {
	return &loader{
		rootDir: rootDir,
	}
}

// Load loads configuration with the following priority (highest to lowest):
// 1. Environment variables (METAWATCH_*)
// 2. Config file (.metawatch/config.yml or .metawatch/config.yaml)
// 3. Default values
func (l *loader) Load() (*Config, error) {
	v := viper.New()

	configDir := filepath.Join(l.rootDir, ".metawatch")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	v.SetEnvPrefix("METAWATCH")
	v.AutomaticEnv()
	// Replace . with _ in env var names (e.g., METAWATCH_PIPELINE_WORKERS)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind environment variables to config keys
	v.BindEnv("pipeline.debounce_seconds")
	v.BindEnv("pipeline.max_delay_seconds")
	v.BindEnv("pipeline.poll_interval_millis")
	v.BindEnv("pipeline.workers")
	v.BindEnv("pipeline.max_queue_size")
	v.BindEnv("pipeline.extract_timeout_seconds")
	v.BindEnv("pipeline.retry_limit")
	v.BindEnv("paths.ignore")
	v.BindEnv("storage.db_path")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is acceptable - we'll use defaults + env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults configures viper with default values.
func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("pipeline.debounce_seconds", defaults.Pipeline.DebounceSeconds)
	v.SetDefault("pipeline.max_delay_seconds", defaults.Pipeline.MaxDelaySeconds)
	v.SetDefault("pipeline.poll_interval_millis", defaults.Pipeline.PollIntervalMillis)
	v.SetDefault("pipeline.workers", defaults.Pipeline.Workers)
	v.SetDefault("pipeline.max_queue_size", defaults.Pipeline.MaxQueueSize)
	v.SetDefault("pipeline.extract_timeout_seconds", defaults.Pipeline.ExtractTimeoutSeconds)
	v.SetDefault("pipeline.retry_limit", defaults.Pipeline.RetryLimit)

	v.SetDefault("paths.ignore", defaults.Paths.Ignore)

	v.SetDefault("storage.db_path", defaults.Storage.DBPath)
}

// LoadConfig is a convenience function that creates a loader and loads config.
// It uses the current working directory as the root.
func LoadConfig() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return NewLoader(wd).Load()
}

// LoadConfigFromDir loads configuration from a specific directory.
func LoadConfigFromDir(rootDir string) (*Config, error) {
	return NewLoader(rootDir).Load()
}
