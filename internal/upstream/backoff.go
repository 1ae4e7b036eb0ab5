package upstream

import "time"

// BackoffConfig bounds the wait schedule between retry attempts. It is an
// immutable value injected at construction so tests can tighten the timing
// without touching process state.
type BackoffConfig struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultBackoff matches the schedule the upstream service tolerates well:
// 2s, 4s, 8s, 16s across the four retries.
var DefaultBackoff = BackoffConfig{
	BaseDelay:  2 * time.Second,
	MaxDelay:   16 * time.Second,
	MaxRetries: 4,
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBackoff.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultBackoff.MaxDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultBackoff.MaxRetries
	}
	return c
}

// DelayFor computes the wait before the next attempt. Rate-limited failures
// honor the server's hint verbatim when present; otherwise the schedule is
// exponential in the 0-indexed attempt number, capped at MaxDelay.
func (c BackoffConfig) DelayFor(kind FailureKind, attempt int, hint *time.Duration) time.Duration {
	if kind == KindRateLimited && hint != nil && *hint >= 0 {
		return *hint
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := c.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}
