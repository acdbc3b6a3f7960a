package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/vietddude/retrykit/internal/core/failure"
	"github.com/vietddude/retrykit/internal/resilience/classify"
	"github.com/vietddude/retrykit/internal/resilience/metrics"
)

// Operation is one attempt of a retried call. It receives the live RetryContext
// so it can read the attempt number and CurrentTimeout.
type Operation[T any] func(ctx context.Context, rc *RetryContext) (T, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// DefaultSleep waits on a timer and returns ctx.Err() if ctx finishes first.
func DefaultSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Options configures Do and DoDetailed. Every field is optional.
type Options struct {
	Config        RetryConfig
	OperationName string

	// ShouldRetry overrides the classifier's retry verdict.
	ShouldRetry func(err error, cls classify.Classification) bool
	// OnRetry runs after a failed attempt, before the wait.
	OnRetry func(rc *RetryContext, err error, delay time.Duration)
	// OnExhausted runs once when the operation gives up.
	OnExhausted func(rc *RetryContext, err error)

	Classifier func(error) classify.Classification
	Sleep      SleepFunc
	Logger     *slog.Logger

	// Now and Rand replace the clock and the jitter source.
	Now  func() time.Time
	Rand func() float64
}

// Detailed is the outcome of DoDetailed.
type Detailed[T any] struct {
	Value    T
	Context  *RetryContext
	Duration time.Duration
}

// Do runs op until it succeeds, a failure is classified as permanent, retries
// are exhausted or ctx is cancelled.
//
// On exhaustion the last error is returned unchanged. Cancellation is observed
// only between attempts and yields a *failure.AbortError.
func Do[T any](ctx context.Context, op Operation[T], opts Options) (T, error) {
	res, err := DoDetailed(ctx, op, opts)
	return res.Value, err
}

// DoDetailed is Do that also returns the final RetryContext and the wall-clock
// duration of the whole call.
func DoDetailed[T any](ctx context.Context, op Operation[T], opts Options) (Detailed[T], error) {
	cfg := opts.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Detailed[T]{}, err
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	randFloat := opts.Rand
	if randFloat == nil {
		randFloat = rand.Float64
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = DefaultSleep
	}
	classifyErr := opts.Classifier
	if classifyErr == nil {
		classifyErr = classify.Classifier{Now: now}.Classify
	}
	name := opts.OperationName
	if name == "" {
		name = "operation"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "retry")
	}
	logger = logger.With("operation", name)

	start := now()
	rc := newRetryContext(cfg, now)
	result := func(v T) Detailed[T] {
		return Detailed[T]{Value: v, Context: rc, Duration: now().Sub(start)}
	}
	var zero T

	for {
		if err := ctx.Err(); err != nil {
			return result(zero), abort(rc, rc.Attempt, name, err, logger)
		}

		v, err := op(ctx, rc)
		if err == nil {
			_ = rc.MarkSucceeded()
			metrics.RetryAttempts.WithLabelValues(name, metrics.OutcomeSuccess).Inc()
			if rc.Attempt > 0 {
				logger.Info("operation succeeded after retry",
					"attempts", rc.Attempt+1,
					"elapsed", rc.Elapsed,
				)
			}
			return result(v), nil
		}
		// An attempt that failed because ctx ended is an abort, not a failure.
		ctxErr := ctx.Err()
		if ctxErr != nil && errors.Is(err, ctxErr) {
			return result(zero), abort(rc, rc.Attempt+1, name, err, logger)
		}

		cls := classifyErr(err)
		shouldRetry := cls.IsRetryable
		if opts.ShouldRetry != nil {
			shouldRetry = opts.ShouldRetry(err, cls)
		}

		if !shouldRetry || rc.Attempt >= cfg.MaxRetries {
			_ = rc.MarkFailed(err)
			metrics.RetryAttempts.WithLabelValues(name, metrics.OutcomeExhausted).Inc()
			metrics.RetryExhausted.WithLabelValues(name, cls.ErrorType).Inc()
			logger.Error("operation failed",
				"attempts", rc.Attempt+1,
				"retryable", shouldRetry,
				"error_type", cls.ErrorType,
				"reason", cls.Reason,
				"error", err,
			)
			if opts.OnExhausted != nil {
				opts.OnExhausted(rc, err)
			}
			return result(zero), err
		}
		if ctxErr != nil {
			return result(zero), abort(rc, rc.Attempt+1, name, fmt.Errorf("%w: %w", ctxErr, err), logger)
		}

		delay := backoffDelay(rc.Attempt, cfg, randFloat)
		if cls.RetryAfter != nil {
			delay = clampDuration(float64(*cls.RetryAfter), cfg.MaxDelay)
		}
		_ = rc.Update(cfg, err, delay, cls)

		metrics.RetryAttempts.WithLabelValues(name, metrics.OutcomeRetry).Inc()
		metrics.RetryDelay.WithLabelValues(name).Observe(delay.Seconds())
		logger.Warn("attempt failed, retrying",
			"attempt", rc.Attempt,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
			"timeout", rc.CurrentTimeout,
			"error_type", cls.ErrorType,
			"error", err,
		)
		if opts.OnRetry != nil {
			opts.OnRetry(rc, err, delay)
		}

		if err := sleep(ctx, delay); err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			return result(zero), abort(rc, rc.Attempt, name, err, logger)
		}
	}
}

// abort marks rc failed; next is the index of the attempt that will not run.
func abort(rc *RetryContext, next int, name string, cause error, logger *slog.Logger) error {
	err := &failure.AbortError{Operation: name, Attempt: next, Err: cause}
	_ = rc.MarkFailed(err)
	metrics.RetryAttempts.WithLabelValues(name, metrics.OutcomeAborted).Inc()
	logger.Warn("operation aborted", "attempt", next, "error", cause)
	return err
}

// Func adapts a plain function to an Operation that ignores the RetryContext.
func Func[T any](fn func(ctx context.Context) (T, error)) Operation[T] {
	return func(ctx context.Context, _ *RetryContext) (T, error) {
		return fn(ctx)
	}
}

// WithTimeout adapts fn to an Operation whose attempts run under the
// context's progressive timeout.
func WithTimeout[T any](fn func(ctx context.Context) (T, error)) Operation[T] {
	return func(ctx context.Context, rc *RetryContext) (T, error) {
		actx, cancel := rc.AttemptContext(ctx)
		defer cancel()
		v, err := fn(actx)
		if err != nil && actx.Err() != nil && ctx.Err() == nil {
			return v, fmt.Errorf("attempt %d timed out after %s: %w", rc.Attempt+1, rc.CurrentTimeout, err)
		}
		return v, err
	}
}
