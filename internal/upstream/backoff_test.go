package upstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelayForExponentialSchedule(t *testing.T) {
	cfg := DefaultBackoff

	require.Equal(t, 2*time.Second, cfg.DelayFor(KindServerError, 0, nil))
	require.Equal(t, 4*time.Second, cfg.DelayFor(KindServerError, 1, nil))
	require.Equal(t, 8*time.Second, cfg.DelayFor(KindNetworkError, 2, nil))
	require.Equal(t, 16*time.Second, cfg.DelayFor(KindServerError, 3, nil))
	// Capped beyond the schedule.
	require.Equal(t, 16*time.Second, cfg.DelayFor(KindServerError, 4, nil))
	require.Equal(t, 16*time.Second, cfg.DelayFor(KindServerError, 30, nil))
}

func TestDelayForIsMonotoneAndBounded(t *testing.T) {
	cfg := DefaultBackoff
	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		d := cfg.DelayFor(KindNetworkError, attempt, nil)
		require.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		require.LessOrEqual(t, d, cfg.MaxDelay, "attempt %d", attempt)
		prev = d
	}
}

func TestDelayForRateLimitHonorsHint(t *testing.T) {
	cfg := DefaultBackoff
	hint := 5 * time.Second
	for attempt := 0; attempt < 5; attempt++ {
		require.Equal(t, hint, cfg.DelayFor(KindRateLimited, attempt, &hint))
	}

	// Without a hint, rate limiting falls back to the exponential schedule.
	require.Equal(t, 2*time.Second, cfg.DelayFor(KindRateLimited, 0, nil))
	require.Equal(t, 4*time.Second, cfg.DelayFor(KindRateLimited, 1, nil))
}

func TestDelayForZeroConfigTakesDefaults(t *testing.T) {
	cfg := BackoffConfig{}.withDefaults()
	require.Equal(t, DefaultBackoff.BaseDelay, cfg.BaseDelay)
	require.Equal(t, DefaultBackoff.MaxDelay, cfg.MaxDelay)
	require.Equal(t, DefaultBackoff.MaxRetries, cfg.MaxRetries)
}
