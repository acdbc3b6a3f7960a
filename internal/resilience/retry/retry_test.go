package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietddude/retrykit/internal/core/failure"
	"github.com/vietddude/retrykit/internal/resilience/classify"
	"github.com/vietddude/retrykit/internal/resilience/metrics"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func testOptions(name string, rec *sleepRecorder) Options {
	return Options{
		OperationName: name,
		Config: RetryConfig{
			MaxRetries:        3,
			BaseDelay:         100 * time.Millisecond,
			MaxDelay:          time.Second,
			BackoffMultiplier: 2,
			DisableJitter:     true,
		},
		Sleep: rec.sleep,
	}
}

func TestDo_ExhaustsRetryableFailure(t *testing.T) {
	rec := &sleepRecorder{}
	opts := testOptions("test-exhaust", rec)

	var exhausted int
	opts.OnExhausted = func(rc *RetryContext, err error) { exhausted++ }

	boom := failure.Retryable("UPSTREAM_ERROR", "upstream flapped")
	calls := 0
	res, err := DoDetailed(context.Background(), func(ctx context.Context, rc *RetryContext) (string, error) {
		assert.Equal(t, calls, rc.Attempt)
		calls++
		return "", boom
	}, opts)

	require.Error(t, err)
	assert.True(t, err == boom, "original error must be returned unwrapped")
	assert.Equal(t, 4, calls)
	assert.Equal(t, 1, exhausted)

	rc := res.Context
	require.NotNil(t, rc)
	assert.Len(t, rc.History, 3)
	assert.True(t, rc.PermanentlyFailed)
	assert.Equal(t, boom, rc.FinalError)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, rec.delays)

	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.RetryAttempts.WithLabelValues("test-exhaust", metrics.OutcomeRetry)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RetryExhausted.WithLabelValues("test-exhaust", classify.TypeStructured)))
}

func TestDo_SucceedsOnThirdCall(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	res, err := DoDetailed(context.Background(), func(ctx context.Context, rc *RetryContext) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection reset by peer")
		}
		return 42, nil
	}, testOptions("test-third", rec))

	require.NoError(t, err)
	assert.Equal(t, 42, res.Value)
	assert.Equal(t, 3, calls)
	assert.True(t, res.Context.Succeeded)
	assert.False(t, res.Context.PermanentlyFailed)
	assert.Len(t, res.Context.History, 2)
	assert.Equal(t, 2, res.Context.Attempt)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	_, err := Do(context.Background(), func(ctx context.Context, rc *RetryContext) (int, error) {
		calls++
		return 0, failure.New("VALIDATION_ERROR", "bad input")
	}, testOptions("test-permanent", rec))

	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", failure.CodeOf(err))
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDo_ShouldRetryOverride(t *testing.T) {
	rec := &sleepRecorder{}
	opts := testOptions("test-override", rec)
	opts.ShouldRetry = func(err error, cls classify.Classification) bool { return true }

	calls := 0
	_, err := Do(context.Background(), func(ctx context.Context, rc *RetryContext) (int, error) {
		calls++
		return 0, failure.New("VALIDATION_ERROR", "bad input")
	}, opts)

	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestDo_RetryAfterOverridesBackoff(t *testing.T) {
	rec := &sleepRecorder{}
	opts := testOptions("test-retry-after", rec)
	opts.Config.MaxRetries = 3
	opts.Config.MaxDelay = 5 * time.Second

	var onRetry []time.Duration
	opts.OnRetry = func(rc *RetryContext, err error, delay time.Duration) {
		onRetry = append(onRetry, delay)
	}

	calls := 0
	_, err := Do(context.Background(), func(ctx context.Context, rc *RetryContext) (int, error) {
		calls++
		switch calls {
		case 1:
			return 0, &failure.HTTPError{StatusCode: 429, Header: http.Header{"Retry-After": []string{"2"}}}
		case 2:
			return 0, &failure.HTTPError{StatusCode: 503, Header: http.Header{"Retry-After": []string{"120"}}}
		default:
			return 0, &failure.HTTPError{StatusCode: 429, Header: http.Header{"X-Ratelimit-Reset": []string{"9999999999999"}}}
		}
	}, opts)

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	// 2s is honoured; 120s and a far-future reset are clamped to MaxDelay.
	assert.Equal(t, []time.Duration{2 * time.Second, 5 * time.Second, 5 * time.Second}, rec.delays)
	assert.Equal(t, rec.delays, onRetry)
}

func TestDo_AbortBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	res, err := DoDetailed(ctx, func(ctx context.Context, rc *RetryContext) (int, error) {
		calls++
		return 1, nil
	}, testOptions("test-abort-early", &sleepRecorder{}))

	var abortErr *failure.AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, abortErr.Attempt)
	assert.Equal(t, 0, calls)
	assert.True(t, res.Context.PermanentlyFailed)
}

func TestDo_AbortWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := testOptions("test-abort-wait", &sleepRecorder{})
	opts.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return DefaultSleep(ctx, d)
	}

	calls := 0
	res, err := DoDetailed(ctx, func(ctx context.Context, rc *RetryContext) (int, error) {
		calls++
		return 0, errors.New("socket hang up")
	}, opts)

	var abortErr *failure.AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, 1, abortErr.Attempt)
	assert.Equal(t, 1, calls)
	assert.Len(t, res.Context.History, 1)
	assert.True(t, res.Context.PermanentlyFailed)
}

func TestDo_CancelDuringFailedAttempt(t *testing.T) {
	t.Run("non-retryable keeps its error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		permanent := failure.New("VALIDATION_ERROR", "bad input")
		res, err := DoDetailed(ctx, func(ctx context.Context, rc *RetryContext) (int, error) {
			cancel()
			return 0, permanent
		}, testOptions("test-cancel-permanent", &sleepRecorder{}))

		var abortErr *failure.AbortError
		assert.False(t, errors.As(err, &abortErr))
		assert.Same(t, permanent, err)
		assert.Equal(t, permanent, res.Context.FinalError)
	})

	t.Run("last attempt keeps its error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		opts := testOptions("test-cancel-last", &sleepRecorder{})
		opts.Config.MaxRetries = 1
		calls := 0
		_, err := Do(ctx, func(ctx context.Context, rc *RetryContext) (int, error) {
			calls++
			if calls == 2 {
				cancel()
			}
			return 0, failure.Retryable("TIMEOUT", "slow")
		}, opts)

		var abortErr *failure.AbortError
		assert.False(t, errors.As(err, &abortErr))
		assert.Equal(t, "TIMEOUT", failure.CodeOf(err))
		assert.Equal(t, 2, calls)
	})

	t.Run("pending retry aborts with both causes", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		rec := &sleepRecorder{}
		_, err := Do(ctx, func(ctx context.Context, rc *RetryContext) (int, error) {
			cancel()
			return 0, failure.Retryable("TIMEOUT", "slow")
		}, testOptions("test-cancel-retry", rec))

		var abortErr *failure.AbortError
		require.ErrorAs(t, err, &abortErr)
		assert.Equal(t, 1, abortErr.Attempt)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, "TIMEOUT", failure.CodeOf(err))
		assert.Empty(t, rec.delays)
	})

	t.Run("attempt interrupted by cancel aborts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		_, err := Do(ctx, func(ctx context.Context, rc *RetryContext) (int, error) {
			cancel()
			return 0, fmt.Errorf("read body: %w", ctx.Err())
		}, testOptions("test-cancel-interrupted", &sleepRecorder{}))

		var abortErr *failure.AbortError
		require.ErrorAs(t, err, &abortErr)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDo_InvalidConfig(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), func(ctx context.Context, rc *RetryContext) (int, error) {
		calls++
		return 0, nil
	}, Options{Config: RetryConfig{MaxRetries: -1}})

	require.Error(t, err)
	assert.Equal(t, 0, calls)
}

func TestWithTimeout_AttemptDeadline(t *testing.T) {
	opts := testOptions("test-timeout", &sleepRecorder{})
	opts.Config.MaxRetries = 1
	opts.Config.InitialTimeout = 10 * time.Millisecond
	opts.Config.MaxTimeout = 50 * time.Millisecond
	opts.Config.TimeoutIncreaseFactor = 2

	var budgets []time.Duration
	res, err := DoDetailed(context.Background(), WithTimeout(func(ctx context.Context) (int, error) {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		budgets = append(budgets, time.Until(deadline).Round(10*time.Millisecond))
		<-ctx.Done()
		return 0, ctx.Err()
	}), opts)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, budgets, 2)
	assert.Equal(t, 20*time.Millisecond, res.Context.CurrentTimeout)
	assert.Equal(t, "ETIMEDOUT", res.Context.History[0].ErrorCode)
}

func TestFunc(t *testing.T) {
	v, err := Do(context.Background(), Func(func(ctx context.Context) (string, error) {
		return "ok", nil
	}), Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
