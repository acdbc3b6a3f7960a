package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/retrykit/internal/activity"
	"github.com/vietddude/retrykit/internal/core/domain"
	"github.com/vietddude/retrykit/internal/resilience/batch"
	"github.com/vietddude/retrykit/internal/resilience/retry"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding ${VAR} references first, and
// fills in defaults.
func Parse(data []byte) (*AppConfig, error) {
	// yaml.v2 leaves absent keys alone, so a partial retry section keeps the
	// remaining defaults.
	cfg := AppConfig{Retry: retry.DefaultConfig()}
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Bulk.Mode.Valid() {
		return nil, fmt.Errorf("unknown bulk mode %q", cfg.Bulk.Mode)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	var cfg AppConfig
	cfg.applyDefaults()
	return &cfg
}

func (c *AppConfig) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}

	c.Retry = c.Retry.WithDefaults()

	if c.Batch.Concurrency == 0 {
		c.Batch.Concurrency = batch.DefaultConcurrency
	}
	if c.Batch.MaxBatchSize == 0 {
		c.Batch.MaxBatchSize = batch.DefaultMaxBatchSize
	}

	if c.Bulk.Mode == "" {
		c.Bulk.Mode = domain.BulkModePartial
	}
	if c.Bulk.Concurrency == 0 {
		c.Bulk.Concurrency = c.Batch.Concurrency
	}

	if c.Activity.Quiet == 0 {
		c.Activity.Quiet = activity.DefaultQuiet
	}
	if c.Activity.FlushTimeout == 0 {
		c.Activity.FlushTimeout = activity.DefaultFlushTimeout
	}

	if c.Call.Timeout == 0 {
		c.Call.Timeout = 30 * time.Second
	}
}

// RetryOptions builds engine options for a named operation.
func (c *AppConfig) RetryOptions(name string) retry.Options {
	return retry.Options{Config: c.Retry, OperationName: name}
}

// BatchExecutorConfig converts the batch section for the executor.
func (c *AppConfig) BatchExecutorConfig(name string) batch.Config {
	return batch.Config{
		Concurrency:     c.Batch.Concurrency,
		MaxBatchSize:    c.Batch.MaxBatchSize,
		OperationName:   name,
		ContinueOnError: c.Batch.ContinueOnError,
		RatePerSecond:   c.Batch.RatePerSecond,
		Burst:           c.Batch.Burst,
	}
}
