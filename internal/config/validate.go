package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidDebounce indicates an invalid debounce window
	ErrInvalidDebounce = errors.New("invalid debounce window")

	// ErrInvalidMaxDelay indicates an invalid max delay
	ErrInvalidMaxDelay = errors.New("invalid max delay")

	// ErrInvalidWorkers indicates an invalid worker count
	ErrInvalidWorkers = errors.New("invalid worker count")

	// ErrInvalidQueueSize indicates an invalid queue size
	ErrInvalidQueueSize = errors.New("invalid queue size")

	// ErrInvalidTimeout indicates an invalid extractor timeout
	ErrInvalidTimeout = errors.New("invalid extractor timeout")

	// ErrInvalidRetryLimit indicates an invalid retry limit
	ErrInvalidRetryLimit = errors.New("invalid retry limit")

	// ErrInvalidPollInterval indicates an invalid poll interval
	ErrInvalidPollInterval = errors.New("invalid poll interval")
)

// Validate checks that the configuration is valid and complete.
// Runs before any pipeline thread starts.
func Validate(cfg *Config) error {
	var errs []error

	if err := validatePipeline(&cfg.Pipeline); err != nil {
		errs = append(errs, err)
	}

	// Ignore patterns may be empty; glob compilation errors surface when the
	// path filter is constructed.

	if len(errs) > 0 {
		return joinErrors(errs)
	}

	return nil
}

func validatePipeline(cfg *PipelineConfig) error {
	var errs []error

	if cfg.DebounceSeconds < 0 {
		errs = append(errs, fmt.Errorf("%w: debounce_seconds cannot be negative, got %d", ErrInvalidDebounce, cfg.DebounceSeconds))
	}

	if cfg.MaxDelaySeconds < cfg.DebounceSeconds {
		errs = append(errs, fmt.Errorf("%w: max_delay_seconds (%d) must be >= debounce_seconds (%d)", ErrInvalidMaxDelay, cfg.MaxDelaySeconds, cfg.DebounceSeconds))
	}

	if cfg.Workers <= 0 {
		errs = append(errs, fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidWorkers, cfg.Workers))
	}

	if cfg.MaxQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: max_queue_size must be positive, got %d", ErrInvalidQueueSize, cfg.MaxQueueSize))
	}

	if cfg.ExtractTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("%w: extract_timeout_seconds must be positive, got %d", ErrInvalidTimeout, cfg.ExtractTimeoutSeconds))
	}

	if cfg.RetryLimit <= 0 {
		errs = append(errs, fmt.Errorf("%w: retry_limit must be positive, got %d", ErrInvalidRetryLimit, cfg.RetryLimit))
	}

	if cfg.PollIntervalMillis <= 0 {
		errs = append(errs, fmt.Errorf("%w: poll_interval_millis must be positive, got %d", ErrInvalidPollInterval, cfg.PollIntervalMillis))
	}

	if len(errs) > 0 {
		return joinErrors(errs)
	}

	return nil
}

// joinErrors combines multiple errors into a single error with clear formatting.
func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	if len(errs) == 1 {
		return errs[0]
	}

	var msgs []string
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}

	return fmt.Errorf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}
