// Package retry runs operations with classification-driven retries, exponential
// backoff with jitter, and per-attempt progressive timeouts.
package retry

import (
	"errors"
	"fmt"
	"time"
)

// Defaults applied by DefaultConfig and to zero fields of a partial config.
const (
	DefaultMaxRetries            = 3
	DefaultBaseDelay             = time.Second
	DefaultMaxDelay              = 30 * time.Second
	DefaultBackoffMultiplier     = 2.0
	DefaultJitterFactor          = 0.10
	DefaultInitialTimeout        = 30 * time.Second
	DefaultMaxTimeout            = 2 * time.Minute
	DefaultTimeoutIncreaseFactor = 1.5
)

// RetryConfig controls how many times an operation is retried and how long to
// wait between attempts.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries        int           `yaml:"max_retries"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`

	// DisableJitter turns off the ±JitterFactor perturbation of each delay.
	DisableJitter bool    `yaml:"disable_jitter"`
	JitterFactor  float64 `yaml:"jitter_factor"`

	// The per-attempt timeout grows by TimeoutIncreaseFactor each attempt
	// unless DisableProgressiveTimeout pins it at InitialTimeout.
	DisableProgressiveTimeout bool          `yaml:"disable_progressive_timeout"`
	InitialTimeout            time.Duration `yaml:"initial_timeout"`
	MaxTimeout                time.Duration `yaml:"max_timeout"`
	TimeoutIncreaseFactor     float64       `yaml:"timeout_increase_factor"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:            DefaultMaxRetries,
		BaseDelay:             DefaultBaseDelay,
		MaxDelay:              DefaultMaxDelay,
		BackoffMultiplier:     DefaultBackoffMultiplier,
		JitterFactor:          DefaultJitterFactor,
		InitialTimeout:        DefaultInitialTimeout,
		MaxTimeout:            DefaultMaxTimeout,
		TimeoutIncreaseFactor: DefaultTimeoutIncreaseFactor,
	}
}

// WithDefaults returns DefaultConfig for a zero config, and otherwise fills
// every zero-valued field except MaxRetries, where zero means a single attempt.
func (c RetryConfig) WithDefaults() RetryConfig {
	if c == (RetryConfig{}) {
		return DefaultConfig()
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = max(DefaultMaxDelay, c.BaseDelay)
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if !c.DisableJitter && c.JitterFactor == 0 {
		c.JitterFactor = DefaultJitterFactor
	}
	if c.InitialTimeout == 0 {
		c.InitialTimeout = DefaultInitialTimeout
	}
	if c.MaxTimeout == 0 {
		c.MaxTimeout = max(DefaultMaxTimeout, c.InitialTimeout)
	}
	if c.TimeoutIncreaseFactor == 0 {
		c.TimeoutIncreaseFactor = DefaultTimeoutIncreaseFactor
	}
	return c
}

// Validate rejects configs that cannot produce sane delays.
func (c RetryConfig) Validate() error {
	var errs []error
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries))
	}
	if c.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("base_delay must be >= 0, got %s", c.BaseDelay))
	}
	if c.MaxDelay < 0 {
		errs = append(errs, fmt.Errorf("max_delay must be >= 0, got %s", c.MaxDelay))
	}
	if c.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("backoff_multiplier must be >= 1, got %g", c.BackoffMultiplier))
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		errs = append(errs, fmt.Errorf("jitter_factor must be within [0, 1], got %g", c.JitterFactor))
	}
	if c.InitialTimeout < 0 {
		errs = append(errs, fmt.Errorf("initial_timeout must be >= 0, got %s", c.InitialTimeout))
	}
	if c.MaxTimeout < 0 {
		errs = append(errs, fmt.Errorf("max_timeout must be >= 0, got %s", c.MaxTimeout))
	}
	if !c.DisableProgressiveTimeout && c.TimeoutIncreaseFactor < 1 {
		errs = append(errs, fmt.Errorf("timeout_increase_factor must be >= 1, got %g", c.TimeoutIncreaseFactor))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid retry config: %w", errors.Join(errs...))
	}
	return nil
}
