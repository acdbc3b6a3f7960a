package classify

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// resetBuffer is added to X-RateLimit-Reset epochs to avoid waking up early.
const resetBuffer = time.Second

const (
	maxDuration = time.Duration(math.MaxInt64)
	maxSeconds  = float64(math.MaxInt64) / float64(time.Second)
)

// RetryAfter extracts a server-requested delay from rate-limit headers.
//
// Precedence is fixed: Retry-After, then X-RateLimit-Reset-After, then
// X-RateLimit-Reset. The first two accept delta-seconds or an HTTP date.
// X-RateLimit-Reset is a Unix epoch in seconds converted to a delay from now
// plus one second. Delays saturate at the largest time.Duration. Returns nil
// when no header parses.
func RetryAfter(h http.Header, now time.Time) *time.Duration {
	if len(h) == 0 {
		return nil
	}

	for _, key := range []string{"Retry-After", "X-RateLimit-Reset-After"} {
		if v := headerValue(h, key); v != "" {
			if d, ok := parseDelay(v, now); ok {
				return &d
			}
		}
	}

	if v := headerValue(h, "X-RateLimit-Reset"); v != "" {
		if d, ok := parseResetEpoch(v, now); ok {
			return &d
		}
	}

	return nil
}

func parseDelay(v string, now time.Time) (time.Duration, bool) {
	if d, ok := parseSeconds(v); ok {
		return d, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0), true
	}
	return 0, false
}

func parseResetEpoch(v string, now time.Time) (time.Duration, bool) {
	epoch, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || epoch <= 0 || math.IsNaN(epoch) {
		return 0, false
	}
	// Past this bound int64(sec) is undefined and time.Unix cannot hold it.
	if epoch >= maxSeconds {
		return maxDuration, true
	}
	sec, frac := math.Modf(epoch)
	reset := time.Unix(int64(sec), int64(frac*float64(time.Second)))
	d := max(reset.Sub(now), 0)
	if d > maxDuration-resetBuffer {
		return maxDuration, true
	}
	return d + resetBuffer, true
}

// headerValue looks a header up case-insensitively, including maps that were
// built without canonical keys.
func headerValue(h http.Header, key string) string {
	if v := h.Get(key); v != "" {
		return v
	}
	for k, vals := range h {
		if strings.EqualFold(k, key) && len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

func parseSeconds(v string) (time.Duration, bool) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, false
	}
	if secs >= maxSeconds {
		return maxDuration, true
	}
	return time.Duration(secs * float64(time.Second)), true
}
