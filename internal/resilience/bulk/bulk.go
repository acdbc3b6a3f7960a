// Package bulk executes multi-item writes against a transactional store, either
// atomically (all items or none) or partially (each item in its own
// transaction).
package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/retrykit/internal/activity"
	"github.com/vietddude/retrykit/internal/core/domain"
	"github.com/vietddude/retrykit/internal/infra/storage"
	"github.com/vietddude/retrykit/internal/resilience/batch"
	"github.com/vietddude/retrykit/internal/resilience/metrics"
	"github.com/vietddude/retrykit/internal/resilience/retry"
)

// Mode selects atomic or partial semantics.
type Mode = domain.BulkMode

const (
	ModeAtomic  = domain.BulkModeAtomic
	ModePartial = domain.BulkModePartial
)

// ErrRolledBack marks items whose writes were discarded by an atomic rollback.
var ErrRolledBack = errors.New("rolled back")

// RollbackError is returned once per atomic call whose transaction was rolled
// back. Index is the failing item, or -1 when the commit itself failed.
type RollbackError struct {
	Operation string
	Index     int
	Err       error
}

func (e *RollbackError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: transaction rolled back at commit: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s: transaction rolled back at item %d: %v", e.Operation, e.Index, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// Options configures ExecuteWrite and ExecuteTransaction.
type Options struct {
	Mode          Mode
	OperationName string
	// MaxRetries overrides Retry.MaxRetries when positive. A negative value
	// disables retries.
	MaxRetries int
	Retry      retry.RetryConfig
	// Concurrency bounds parallel item transactions in partial mode.
	Concurrency int
	// Activity receives progress updates in partial mode.
	Activity *activity.Debouncer
	// Fields are attached to every log line of the call.
	Fields []any
	Logger *slog.Logger
	Sleep  retry.SleepFunc
}

func (o Options) normalize() (Options, error) {
	if o.Mode == "" {
		o.Mode = ModePartial
	}
	if !o.Mode.Valid() {
		return o, fmt.Errorf("unknown bulk mode %q", o.Mode)
	}
	if o.OperationName == "" {
		o.OperationName = "bulk"
	}
	o.Retry = o.Retry.WithDefaults()
	switch {
	case o.MaxRetries > 0:
		o.Retry.MaxRetries = o.MaxRetries
	case o.MaxRetries < 0:
		o.Retry.MaxRetries = 0
	}
	if err := o.Retry.Validate(); err != nil {
		return o, err
	}
	if o.Logger == nil {
		o.Logger = slog.Default().With("component", "bulk")
	}
	o.Logger = o.Logger.With(o.Fields...).With("operation", o.OperationName, "mode", string(o.Mode))
	return o, nil
}

func (o Options) retryOptions(name string) retry.Options {
	return retry.Options{
		Config:        o.Retry,
		OperationName: name,
		Logger:        o.Logger,
		Sleep:         o.Sleep,
	}
}

// WriteResult is the outcome of ExecuteWrite.
type WriteResult[R any] struct {
	Success          bool
	Result           R
	Err              error
	RetriesAttempted int
	Duration         time.Duration
}

// ExecuteWrite runs fn once inside a transaction, retrying the whole
// transaction on transient failures. The returned error equals Result.Err.
func ExecuteWrite[Tx, R any](
	ctx context.Context,
	store storage.Transactor[Tx],
	fn func(ctx context.Context, tx Tx) (R, error),
	opts Options,
) (*WriteResult[R], error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	d, err := retry.DoDetailed(ctx, func(ctx context.Context, _ *retry.RetryContext) (R, error) {
		return runTx(ctx, store, fn)
	}, opts.retryOptions(opts.OperationName))

	res := &WriteResult[R]{
		Success:          err == nil,
		Result:           d.Value,
		Err:              err,
		RetriesAttempted: retriesOf(d.Context),
		Duration:         time.Since(start),
	}
	outcome := "committed"
	if err != nil {
		outcome = "rolled_back"
		opts.Logger.Error("bulk write failed", "retries", res.RetriesAttempted, "error", err)
	}
	metrics.BulkTransactions.WithLabelValues(opts.OperationName, "write", outcome).Inc()
	return res, err
}

// TransactionResult is the outcome of ExecuteTransaction. Results holds one
// entry per input item in input order.
type TransactionResult[I, R any] struct {
	Mode             Mode
	Results          []batch.ItemResult[I, R]
	Success          bool
	RolledBack       bool
	SuccessCount     int
	FailureCount     int
	RetriesAttempted int
	Duration         time.Duration
	Err              error
}

// ExecuteTransaction applies fn to every item.
//
// In atomic mode all items run in one transaction that is retried as a whole;
// any failure rolls every item back and returns a *RollbackError alongside the
// populated result. In partial mode each item runs in its own retried
// transaction and Success is true once every item was attempted, whatever the
// per-item outcomes.
func ExecuteTransaction[Tx, I, R any](
	ctx context.Context,
	store storage.Transactor[Tx],
	items []I,
	fn func(ctx context.Context, tx Tx, item I) (R, error),
	opts Options,
) (*TransactionResult[I, R], error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	metrics.DBBatchSize.WithLabelValues(opts.OperationName).Observe(float64(len(items)))

	if opts.Mode == ModeAtomic {
		return executeAtomic(ctx, store, items, fn, opts)
	}
	return executePartial(ctx, store, items, fn, opts)
}

func executeAtomic[Tx, I, R any](
	ctx context.Context,
	store storage.Transactor[Tx],
	items []I,
	fn func(ctx context.Context, tx Tx, item I) (R, error),
	opts Options,
) (*TransactionResult[I, R], error) {
	start := time.Now()
	var (
		ran      bool
		failedAt int
		itemErr  error
	)

	d, err := retry.DoDetailed(ctx, func(ctx context.Context, _ *retry.RetryContext) ([]R, error) {
		ran, failedAt, itemErr = true, -1, nil
		return runTx(ctx, store, func(ctx context.Context, tx Tx) ([]R, error) {
			values := make([]R, len(items))
			for i, item := range items {
				v, err := fn(ctx, tx, item)
				if err != nil {
					failedAt, itemErr = i, err
					return nil, err
				}
				values[i] = v
			}
			return values, nil
		})
	}, opts.retryOptions(opts.OperationName))

	res := &TransactionResult[I, R]{
		Mode:             ModeAtomic,
		Results:          make([]batch.ItemResult[I, R], len(items)),
		RetriesAttempted: retriesOf(d.Context),
	}

	if err == nil {
		for i, item := range items {
			res.Results[i] = batch.ItemResult[I, R]{Index: i, Item: item, Attempted: true, Success: true, Result: d.Value[i]}
		}
		res.Success = true
		res.SuccessCount = len(items)
		res.Duration = time.Since(start)
		metrics.BulkTransactions.WithLabelValues(opts.OperationName, string(ModeAtomic), "committed").Inc()
		opts.Logger.Info("bulk transaction committed", "items", len(items), "retries", res.RetriesAttempted, "duration", res.Duration)
		return res, nil
	}

	// Item outcomes describe the last transaction that ran.
	for i, item := range items {
		ir := batch.ItemResult[I, R]{Index: i, Item: item}
		switch {
		case !ran:
			ir.Err = err
		case failedAt < 0 || i < failedAt:
			ir.Attempted = true
			ir.Err = ErrRolledBack
		case i == failedAt:
			ir.Attempted = true
			ir.Err = itemErr
		default:
			ir.Err = batch.ErrNotAttempted
		}
		res.Results[i] = ir
	}
	res.RolledBack = true
	res.FailureCount = len(items)
	res.Duration = time.Since(start)

	rbErr := &RollbackError{Operation: opts.OperationName, Index: failedAt, Err: err}
	res.Err = rbErr
	metrics.BulkTransactions.WithLabelValues(opts.OperationName, string(ModeAtomic), "rolled_back").Inc()
	opts.Logger.Error("bulk transaction rolled back",
		"items", len(items),
		"failed_index", failedAt,
		"retries", res.RetriesAttempted,
		"error", err,
	)
	return res, rbErr
}

// slot carries an item's input position through the batch executor.
type slot[I any] struct {
	index int
	item  I
}

func executePartial[Tx, I, R any](
	ctx context.Context,
	store storage.Transactor[Tx],
	items []I,
	fn func(ctx context.Context, tx Tx, item I) (R, error),
	opts Options,
) (*TransactionResult[I, R], error) {
	start := time.Now()
	retries := make([]int, len(items))
	slots := make([]slot[I], len(items))
	for i, item := range items {
		slots[i] = slot[I]{index: i, item: item}
	}

	br, err := batch.Execute(ctx, slots, func(ctx context.Context, s slot[I]) (R, error) {
		d, err := retry.DoDetailed(ctx, func(ctx context.Context, _ *retry.RetryContext) (R, error) {
			return runTx(ctx, store, func(ctx context.Context, tx Tx) (R, error) {
				return fn(ctx, tx, s.item)
			})
		}, opts.retryOptions(opts.OperationName))
		retries[s.index] = retriesOf(d.Context)
		return d.Value, err
	}, batch.Config{
		Concurrency:     opts.Concurrency,
		OperationName:   opts.OperationName,
		ContinueOnError: true,
		Activity:        opts.Activity,
		Logger:          opts.Logger,
	})
	if br == nil {
		return nil, err
	}

	res := &TransactionResult[I, R]{
		Mode:         ModePartial,
		Results:      make([]batch.ItemResult[I, R], len(items)),
		SuccessCount: br.SuccessCount,
		FailureCount: br.FailureCount,
		Duration:     time.Since(start),
	}
	for i, ir := range br.Results {
		res.Results[i] = batch.ItemResult[I, R]{
			Index:     ir.Index,
			Item:      ir.Item.item,
			Attempted: ir.Attempted,
			Success:   ir.Success,
			Result:    ir.Result,
			Err:       ir.Err,
		}
	}
	for _, n := range retries {
		res.RetriesAttempted += n
	}

	if err != nil {
		res.Err = err
		metrics.BulkTransactions.WithLabelValues(opts.OperationName, string(ModePartial), "aborted").Inc()
		opts.Logger.Warn("bulk run interrupted", "succeeded", res.SuccessCount, "failed", res.FailureCount, "error", err)
		return res, err
	}

	res.Success = true
	outcome := "committed"
	if res.FailureCount > 0 {
		outcome = "partial"
	}
	metrics.BulkTransactions.WithLabelValues(opts.OperationName, string(ModePartial), outcome).Inc()
	opts.Logger.Info("bulk run finished",
		"items", len(items),
		"succeeded", res.SuccessCount,
		"failed", res.FailureCount,
		"retries", res.RetriesAttempted,
		"duration", res.Duration,
	)
	return res, nil
}

// runTx runs fn in one transaction and hands back its value only on commit.
func runTx[Tx, R any](ctx context.Context, store storage.Transactor[Tx], fn func(ctx context.Context, tx Tx) (R, error)) (R, error) {
	var out R
	err := store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return out, nil
}

func retriesOf(rc *retry.RetryContext) int {
	if rc == nil {
		return 0
	}
	return rc.Attempt
}
