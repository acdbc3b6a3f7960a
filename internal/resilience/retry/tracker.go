package retry

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/retrykit/internal/core/failure"
	"github.com/vietddude/retrykit/internal/resilience/classify"
)

// ErrContextTerminal is returned when a finished RetryContext is mutated.
var ErrContextTerminal = errors.New("retry context is terminal")

// AttemptRecord describes one failed attempt that was followed by a retry.
type AttemptRecord struct {
	Attempt        int
	Timestamp      time.Time
	ErrorCode      string
	Message        string
	Delay          time.Duration
	Timeout        time.Duration
	Classification classify.Classification
}

// RetryContext is the per-call state of one retried operation. It is owned by a
// single call and must not be shared between goroutines.
type RetryContext struct {
	// Attempt is the 0-based index of the current attempt.
	Attempt          int
	MaxRetries       int
	FirstAttemptAt   time.Time
	CurrentAttemptAt time.Time
	Elapsed          time.Duration
	// CurrentTimeout is the budget for the current attempt; zero means none.
	CurrentTimeout time.Duration
	History        []AttemptRecord

	PermanentlyFailed bool
	FinalError        error
	Succeeded         bool

	now func() time.Time
}

// NewRetryContext starts a context at attempt 0.
func NewRetryContext(cfg RetryConfig) *RetryContext {
	return newRetryContext(cfg, time.Now)
}

func newRetryContext(cfg RetryConfig, now func() time.Time) *RetryContext {
	ts := now()
	return &RetryContext{
		MaxRetries:       cfg.MaxRetries,
		FirstAttemptAt:   ts,
		CurrentAttemptAt: ts,
		CurrentTimeout:   ProgressiveTimeout(0, cfg),
		now:              now,
	}
}

// Terminal reports whether the context has succeeded or permanently failed.
func (rc *RetryContext) Terminal() bool {
	return rc.PermanentlyFailed || rc.Succeeded
}

// Update records a failed attempt and advances to the next one.
func (rc *RetryContext) Update(cfg RetryConfig, err error, delay time.Duration, cls classify.Classification) error {
	if rc.Terminal() {
		return ErrContextTerminal
	}
	ts := rc.clock()

	rec := AttemptRecord{
		Attempt:        rc.Attempt,
		Timestamp:      ts,
		ErrorCode:      errorCode(err, cls),
		Delay:          delay,
		Timeout:        rc.CurrentTimeout,
		Classification: cls,
	}
	if err != nil {
		rec.Message = err.Error()
	}
	rc.History = append(rc.History, rec)

	rc.Attempt++
	rc.CurrentAttemptAt = ts
	rc.Elapsed = rc.CurrentAttemptAt.Sub(rc.FirstAttemptAt)
	rc.CurrentTimeout = ProgressiveTimeout(rc.Attempt, cfg)
	return nil
}

// MarkFailed makes the context terminal with err as the final error.
func (rc *RetryContext) MarkFailed(err error) error {
	if rc.Terminal() {
		return ErrContextTerminal
	}
	rc.PermanentlyFailed = true
	rc.FinalError = err
	rc.touch()
	return nil
}

// MarkSucceeded makes the context terminal after a successful attempt.
func (rc *RetryContext) MarkSucceeded() error {
	if rc.Terminal() {
		return ErrContextTerminal
	}
	rc.Succeeded = true
	rc.touch()
	return nil
}

// AttemptContext derives a context bounded by CurrentTimeout. Operations that
// opt into progressive timeouts run each attempt under it.
func (rc *RetryContext) AttemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if rc.CurrentTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, rc.CurrentTimeout)
}

func (rc *RetryContext) touch() {
	rc.CurrentAttemptAt = rc.clock()
	rc.Elapsed = rc.CurrentAttemptAt.Sub(rc.FirstAttemptAt)
}

func (rc *RetryContext) clock() time.Time {
	if rc.now == nil {
		return time.Now()
	}
	return rc.now()
}

func errorCode(err error, cls classify.Classification) string {
	if code := failure.CodeOf(err); code != "" {
		return code
	}
	if code := failure.NetworkCodeOf(err); code != "" {
		return code
	}
	return cls.ErrorType
}
