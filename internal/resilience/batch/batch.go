// Package batch runs an operation over many independent items with bounded
// concurrency, preserving input order in the results.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vietddude/retrykit/internal/activity"
	"github.com/vietddude/retrykit/internal/resilience/metrics"
)

const (
	DefaultConcurrency  = 5
	DefaultMaxBatchSize = 100
)

// ErrNotAttempted marks items abandoned after an early stop.
var ErrNotAttempted = errors.New("item not attempted")

// Operation processes one item.
type Operation[I, R any] func(ctx context.Context, item I) (R, error)

// Config controls a batch run.
type Config struct {
	// Concurrency is the number of items processed at once.
	Concurrency int `yaml:"concurrency"`
	// MaxBatchSize splits the input into sequential chunks of at most this size.
	MaxBatchSize  int    `yaml:"max_batch_size"`
	OperationName string `yaml:"-"`
	// ContinueOnError attempts every item regardless of failures. When false the
	// first failure stops dispatch and is returned from Execute.
	ContinueOnError bool `yaml:"continue_on_error"`

	// RatePerSecond limits item starts across all workers; zero is unlimited.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`

	// Activity, when set, receives a progress update per finished item.
	Activity *activity.Debouncer `yaml:"-"`
	Logger   *slog.Logger        `yaml:"-"`
}

// Validate rejects negative settings.
func (c Config) Validate() error {
	var errs []error
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency must be >= 0, got %d", c.Concurrency))
	}
	if c.MaxBatchSize < 0 {
		errs = append(errs, fmt.Errorf("max_batch_size must be >= 0, got %d", c.MaxBatchSize))
	}
	if c.RatePerSecond < 0 || math.IsNaN(c.RatePerSecond) || math.IsInf(c.RatePerSecond, 0) {
		errs = append(errs, fmt.Errorf("rate_per_second must be a finite value >= 0, got %g", c.RatePerSecond))
	}
	if c.Burst < 0 {
		errs = append(errs, fmt.Errorf("burst must be >= 0, got %d", c.Burst))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid batch config: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.OperationName == "" {
		c.OperationName = "batch"
	}
	if c.RatePerSecond > 0 && c.Burst == 0 {
		c.Burst = max(1, int(math.Ceil(c.RatePerSecond)))
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With("component", "batch")
	}
	return c
}

// ItemResult is the outcome of one item. Index is the item's input position.
type ItemResult[I, R any] struct {
	Index     int
	Item      I
	Attempted bool
	Success   bool
	Result    R
	Err       error
}

// Result is the outcome of a batch run. Results has one entry per input item,
// in input order.
type Result[I, R any] struct {
	Results      []ItemResult[I, R]
	SuccessCount int
	FailureCount int
	SkippedCount int
	Duration     time.Duration
}

// Failed returns the items that were attempted and failed.
func (r *Result[I, R]) Failed() []ItemResult[I, R] {
	var out []ItemResult[I, R]
	for _, ir := range r.Results {
		if ir.Attempted && !ir.Success {
			out = append(out, ir)
		}
	}
	return out
}

// Execute runs op for every item.
//
// The returned error is non-nil only for an invalid config, an early stop with
// ContinueOnError unset (the first failure), or ctx cancellation. Per-item
// failures are otherwise reported in the result only.
func Execute[I, R any](ctx context.Context, items []I, op Operation[I, R], cfg Config) (*Result[I, R], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	start := time.Now()
	res := &Result[I, R]{Results: make([]ItemResult[I, R], len(items))}
	for i, item := range items {
		res.Results[i] = ItemResult[I, R]{Index: i, Item: item, Err: ErrNotAttempted}
	}

	r := &runner[I, R]{cfg: cfg, op: op, res: res, total: len(items)}
	if cfg.RatePerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}

	for offset := 0; offset < len(items) && !r.stopped(ctx); offset += cfg.MaxBatchSize {
		end := min(offset+cfg.MaxBatchSize, len(items))
		r.runChunk(ctx, offset, end)
	}

	for _, ir := range res.Results {
		switch {
		case !ir.Attempted:
			res.SkippedCount++
		case ir.Success:
			res.SuccessCount++
		default:
			res.FailureCount++
		}
	}
	res.Duration = time.Since(start)

	name := cfg.OperationName
	metrics.BatchItems.WithLabelValues(name, metrics.StatusSuccess).Add(float64(res.SuccessCount))
	metrics.BatchItems.WithLabelValues(name, metrics.StatusFailure).Add(float64(res.FailureCount))
	metrics.BatchItems.WithLabelValues(name, metrics.StatusSkipped).Add(float64(res.SkippedCount))
	metrics.BatchDuration.WithLabelValues(name).Observe(res.Duration.Seconds())

	cfg.Logger.Debug("batch finished",
		"operation", name,
		"items", len(items),
		"succeeded", res.SuccessCount,
		"failed", res.FailureCount,
		"skipped", res.SkippedCount,
		"duration", res.Duration,
	)
	if cfg.Activity != nil {
		cfg.Activity.Flush(name)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if r.firstErr != nil {
		return res, r.firstErr
	}
	return res, nil
}

type runner[I, R any] struct {
	cfg     Config
	op      Operation[I, R]
	res     *Result[I, R]
	limiter *rate.Limiter
	total   int

	stop     atomic.Bool
	mu       sync.Mutex
	firstErr error
	done     atomic.Int64
	failed   atomic.Int64
}

func (r *runner[I, R]) stopped(ctx context.Context) bool {
	return r.stop.Load() || ctx.Err() != nil
}

// runChunk processes items [start, end). Workers never share a result slot.
func (r *runner[I, R]) runChunk(ctx context.Context, start, end int) {
	var g errgroup.Group
	g.SetLimit(min(r.cfg.Concurrency, end-start))

	for i := start; i < end; i++ {
		if r.stopped(ctx) {
			break
		}
		g.Go(func() error {
			// Dispatch may have blocked on the limit while a sibling failed.
			if r.stopped(ctx) {
				return nil
			}
			r.runItem(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *runner[I, R]) runItem(ctx context.Context, i int) {
	ir := &r.res.Results[i]
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			ir.Err = fmt.Errorf("%w: %w", ErrNotAttempted, err)
			return
		}
	}

	ir.Attempted = true
	v, err := r.op(ctx, ir.Item)
	if err != nil {
		ir.Err = err
		r.failed.Add(1)
		r.cfg.Logger.Debug("batch item failed", "operation", r.cfg.OperationName, "index", i, "error", err)
		if !r.cfg.ContinueOnError {
			r.mu.Lock()
			if r.firstErr == nil {
				r.firstErr = err
			}
			r.mu.Unlock()
			r.stop.Store(true)
		}
	} else {
		ir.Success = true
		ir.Result = v
		ir.Err = nil
	}

	done := r.done.Add(1)
	if r.cfg.Activity != nil {
		r.cfg.Activity.Touch(r.cfg.OperationName, map[string]any{
			"done":   done,
			"failed": r.failed.Load(),
			"total":  r.total,
		})
	}
}
