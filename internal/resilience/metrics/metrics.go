// Package metrics holds the Prometheus collectors shared by the retry, batch and
// bulk executors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Retry outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeRetry     = "retry"
	OutcomeExhausted = "exhausted"
	OutcomeAborted   = "aborted"
)

// Batch item statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

var (
	// RetryAttempts counts attempt outcomes per operation.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrykit_retry_attempts_total",
			Help: "Total number of retry attempts by outcome",
		},
		[]string{"operation", "outcome"},
	)

	// RetryExhausted counts operations that gave up, by final error type.
	RetryExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrykit_retry_exhausted_total",
			Help: "Total number of operations that exhausted their retries",
		},
		[]string{"operation", "error_type"},
	)

	// RetryDelay tracks the wait scheduled before each retry.
	RetryDelay = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrykit_retry_delay_seconds",
			Help:    "Delay scheduled before a retry in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 30, 60},
		},
		[]string{"operation"},
	)

	// BatchItems counts batch items by final status.
	BatchItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrykit_batch_items_total",
			Help: "Total number of batch items processed",
		},
		[]string{"operation", "status"},
	)

	// BatchDuration tracks how long a whole batch call takes.
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrykit_batch_duration_seconds",
			Help:    "Batch execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// BulkTransactions counts bulk calls per mode and outcome.
	BulkTransactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrykit_bulk_transactions_total",
			Help: "Total number of bulk transactions",
		},
		[]string{"operation", "mode", "outcome"},
	)

	// DBBatchSize tracks the number of items written per bulk call
	DBBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrykit_db_batch_size",
			Help:    "Number of items in a bulk database write",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"operation"},
	)

	// DBConnectionPoolUsage tracks open connections as a percentage of the pool limit
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "retrykit_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
