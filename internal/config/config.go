package config

import (
	"path/filepath"
	"time"

	"github.com/mpender/metawatch/internal/pipeline"
)

// Config represents the complete metawatch configuration.
// It can be loaded from .metawatch/config.yml with environment variable
// overrides.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Paths    PathsConfig    `yaml:"paths" mapstructure:"paths"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
}

// PipelineConfig sizes the change-processing pipeline.
type PipelineConfig struct {
	DebounceSeconds       int `yaml:"debounce_seconds" mapstructure:"debounce_seconds"`               // quiet period before a path is processed
	MaxDelaySeconds       int `yaml:"max_delay_seconds" mapstructure:"max_delay_seconds"`             // liveness bound under continuous changes
	PollIntervalMillis    int `yaml:"poll_interval_millis" mapstructure:"poll_interval_millis"`       // dispatch loop cadence
	Workers               int `yaml:"workers" mapstructure:"workers"`                                 // fixed worker pool size
	MaxQueueSize          int `yaml:"max_queue_size" mapstructure:"max_queue_size"`                   // admission backpressure threshold
	ExtractTimeoutSeconds int `yaml:"extract_timeout_seconds" mapstructure:"extract_timeout_seconds"` // per-invocation extractor timeout
	RetryLimit            int `yaml:"retry_limit" mapstructure:"retry_limit"`                         // attempt ceiling for transient failures
}

// PathsConfig defines which files the pipeline ignores.
type PathsConfig struct {
	Ignore []string `yaml:"ignore" mapstructure:"ignore"` // glob patterns to ignore
}

// StorageConfig locates the persistent index store.
type StorageConfig struct {
	DBPath string `yaml:"db_path" mapstructure:"db_path"` // empty means <root>/.metawatch/index.db
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			DebounceSeconds:       2,
			MaxDelaySeconds:       60,
			PollIntervalMillis:    250,
			Workers:               4,
			MaxQueueSize:          4096,
			ExtractTimeoutSeconds: 30,
			RetryLimit:            3,
		},
		Paths: PathsConfig{
			Ignore: []string{
				".git/**",
				"node_modules/**",
				"vendor/**",
				"dist/**",
				"build/**",
				"target/**",
				"__pycache__/**",
				"**/*.tmp",
				"**/*.swp",
			},
		},
		Storage: StorageConfig{
			DBPath: "", // Empty means default under the monitored root
		},
	}
}

// ToPipelineOptions converts the config into pipeline options.
func (c *Config) ToPipelineOptions() pipeline.Options {
	return pipeline.Options{
		DebounceWindow: time.Duration(c.Pipeline.DebounceSeconds) * time.Second,
		MaxDelay:       time.Duration(c.Pipeline.MaxDelaySeconds) * time.Second,
		PollInterval:   time.Duration(c.Pipeline.PollIntervalMillis) * time.Millisecond,
		Workers:        c.Pipeline.Workers,
		MaxQueueSize:   c.Pipeline.MaxQueueSize,
		ExtractTimeout: time.Duration(c.Pipeline.ExtractTimeoutSeconds) * time.Second,
		MaxAttempts:    c.Pipeline.RetryLimit,
	}
}

// DatabasePath resolves the index database location for a monitored root.
func (c *Config) DatabasePath(rootDir string) string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return filepath.Join(rootDir, ".metawatch", "index.db")
}
