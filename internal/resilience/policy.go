// Package resilience wraps outbound calls in bounded retries and a
// per-operation circuit breaker.
package resilience

import (
	"cmp"
	"time"
)

// Config tunes retries and the breaker. Zero fields take defaults.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64
	// RetryAfterMax bounds how long a server-requested Retry-After is
	// honoured. Hosted models ask for tens of seconds when rate limited,
	// far beyond the computed backoff.
	RetryAfterMax time.Duration

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

// DefaultConfig suits model calls that take seconds to minutes: few
// attempts, second-scale backoff, and a breaker that needs a handful of
// failures before it trips.
func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Second,
		RetryMaxBackoff:     8 * time.Second,
		RetryMultiplier:     2.0,
		RetryAfterMax:       30 * time.Second,

		BreakerEnabled:          true,
		BreakerMinRequests:      4,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      60 * time.Second,
		BreakerHalfOpenMaxCalls: 1,
	}
}

// orDefault returns def when v is zero or negative.
func orDefault[T cmp.Ordered](v, def T) T {
	var zero T
	if v <= zero {
		return def
	}
	return v
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	out := c

	out.RetryMaxAttempts = orDefault(c.RetryMaxAttempts, def.RetryMaxAttempts)
	out.RetryInitialBackoff = orDefault(c.RetryInitialBackoff, def.RetryInitialBackoff)
	out.RetryMaxBackoff = max(orDefault(c.RetryMaxBackoff, def.RetryMaxBackoff), out.RetryInitialBackoff)
	out.RetryAfterMax = max(orDefault(c.RetryAfterMax, def.RetryAfterMax), out.RetryMaxBackoff)
	if c.RetryMultiplier < 1 {
		out.RetryMultiplier = def.RetryMultiplier
	}

	out.BreakerMinRequests = orDefault(c.BreakerMinRequests, def.BreakerMinRequests)
	out.BreakerHalfOpenMaxCalls = orDefault(c.BreakerHalfOpenMaxCalls, def.BreakerHalfOpenMaxCalls)
	out.BreakerOpenTimeout = orDefault(c.BreakerOpenTimeout, def.BreakerOpenTimeout)
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	return out
}

// retryWait is the pause before the next attempt: the computed backoff, or
// the server's Retry-After when longer, bounded by RetryAfterMax.
func (c Config) retryWait(backoff, retryAfter time.Duration) time.Duration {
	if retryAfter <= backoff {
		return backoff
	}
	return min(retryAfter, c.RetryAfterMax)
}
