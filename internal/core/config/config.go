package config

import (
	"time"

	"github.com/vietddude/retrykit/internal/activity"
	"github.com/vietddude/retrykit/internal/core/domain"
	redisclient "github.com/vietddude/retrykit/internal/infra/redis"
	"github.com/vietddude/retrykit/internal/infra/storage/postgres"
	"github.com/vietddude/retrykit/internal/resilience/retry"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Logging  LoggingConfig      `yaml:"logging"`
	Metrics  MetricsConfig      `yaml:"metrics"`
	Database postgres.Config    `yaml:"database"`
	Redis    redisclient.Config `yaml:"redis"`
	Retry    retry.RetryConfig  `yaml:"retry"`
	Batch    BatchConfig        `yaml:"batch"`
	Bulk     BulkConfig         `yaml:"bulk"`
	Activity activity.Config    `yaml:"activity"`
	Call     CallConfig         `yaml:"call"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// BatchConfig holds batch executor settings.
type BatchConfig struct {
	Concurrency     int     `yaml:"concurrency"`
	MaxBatchSize    int     `yaml:"max_batch_size"`
	ContinueOnError bool    `yaml:"continue_on_error"`
	RatePerSecond   float64 `yaml:"rate_per_second"`
	Burst           int     `yaml:"burst"`
}

// BulkConfig holds bulk transaction settings.
type BulkConfig struct {
	Mode        domain.BulkMode `yaml:"mode"`
	MaxRetries  int             `yaml:"max_retries"` // 0 = use retry.max_retries, <0 = no retries
	Concurrency int             `yaml:"concurrency"`

	// RunRetention is how long bulk run audit rows are kept; 0 keeps them forever.
	RunRetention time.Duration `yaml:"run_retention"`
}

// CallConfig holds settings for the call command's HTTP client.
type CallConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}
