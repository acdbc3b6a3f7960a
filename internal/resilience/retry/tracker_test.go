package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietddude/retrykit/internal/core/failure"
	"github.com/vietddude/retrykit/internal/resilience/classify"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRetryContext_Update(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	rc := newRetryContext(cfg, clock.now)

	assert.Equal(t, 0, rc.Attempt)
	assert.Equal(t, cfg.InitialTimeout, rc.CurrentTimeout)

	cls := classify.Classification{IsRetryable: true, ErrorType: classify.TypeStructured}
	for i := 1; i <= 3; i++ {
		clock.advance(time.Second)
		require.NoError(t, rc.Update(cfg, failure.Retryable("TIMEOUT", "slow"), time.Second, cls))

		assert.Equal(t, i, rc.Attempt)
		assert.Len(t, rc.History, i)
		assert.Equal(t, rc.CurrentAttemptAt.Sub(rc.FirstAttemptAt), rc.Elapsed)
		assert.LessOrEqual(t, rc.CurrentTimeout, cfg.MaxTimeout)
		assert.GreaterOrEqual(t, rc.CurrentTimeout, time.Duration(0))
	}

	rec := rc.History[0]
	assert.Equal(t, 0, rec.Attempt)
	assert.Equal(t, "TIMEOUT", rec.ErrorCode)
	assert.Equal(t, "TIMEOUT: slow", rec.Message)
	assert.Equal(t, cfg.InitialTimeout, rec.Timeout)
	assert.Equal(t, 3*time.Second, rc.Elapsed)
}

func TestRetryContext_TerminalIsFrozen(t *testing.T) {
	cfg := DefaultConfig()
	rc := NewRetryContext(cfg)
	final := errors.New("final")
	require.NoError(t, rc.MarkFailed(final))

	snapshot := *rc
	assert.ErrorIs(t, rc.Update(cfg, errors.New("late"), time.Second, classify.Classification{}), ErrContextTerminal)
	assert.ErrorIs(t, rc.MarkSucceeded(), ErrContextTerminal)
	assert.ErrorIs(t, rc.MarkFailed(errors.New("again")), ErrContextTerminal)

	assert.Equal(t, snapshot.Attempt, rc.Attempt)
	assert.Equal(t, snapshot.CurrentAttemptAt, rc.CurrentAttemptAt)
	assert.Len(t, rc.History, 0)
	assert.Equal(t, final, rc.FinalError)
	assert.False(t, rc.Succeeded)
}

func TestRetryContext_AttemptContext(t *testing.T) {
	rc := NewRetryContext(RetryConfig{InitialTimeout: time.Minute, DisableProgressiveTimeout: true})
	ctx, cancel := rc.AttemptContext(context.Background())
	defer cancel()
	_, ok := ctx.Deadline()
	assert.True(t, ok)

	rc = NewRetryContext(RetryConfig{})
	ctx, cancel = rc.AttemptContext(context.Background())
	defer cancel()
	_, ok = ctx.Deadline()
	assert.False(t, ok)
}
