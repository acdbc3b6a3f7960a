package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffDelay returns the wait before the retry that follows attempt (0-based).
//
// The base is BaseDelay*BackoffMultiplier^attempt. Unless DisableJitter is set
// the base is perturbed uniformly within ±JitterFactor*base. The result is
// clamped to [0, MaxDelay].
func BackoffDelay(attempt int, cfg RetryConfig) time.Duration {
	return backoffDelay(attempt, cfg, rand.Float64)
}

func backoffDelay(attempt int, cfg RetryConfig, randFloat func() float64) time.Duration {
	base := float64(cfg.BaseDelay) * math.Pow(cfg.BackoffMultiplier, float64(max(attempt, 0)))
	if !cfg.DisableJitter && cfg.JitterFactor > 0 && !math.IsInf(base, 0) {
		// randFloat is in [0, 1); map it onto [-factor, +factor).
		base += base * cfg.JitterFactor * (2*randFloat() - 1)
	}
	return clampDuration(base, cfg.MaxDelay)
}

// ProgressiveTimeout returns the per-attempt timeout for attempt (0-based).
func ProgressiveTimeout(attempt int, cfg RetryConfig) time.Duration {
	if cfg.DisableProgressiveTimeout {
		return cfg.InitialTimeout
	}
	t := float64(cfg.InitialTimeout) * math.Pow(cfg.TimeoutIncreaseFactor, float64(max(attempt, 0)))
	return clampDuration(t, cfg.MaxTimeout)
}

func clampDuration(v float64, ceiling time.Duration) time.Duration {
	switch {
	case math.IsNaN(v) || v <= 0 || ceiling <= 0:
		return 0
	case v >= float64(ceiling):
		return ceiling
	default:
		return time.Duration(v)
	}
}
