package upstream

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Caller orchestrates retries around individual upstream calls. Each call
// runs independently; the per-call attempt state never outlives the
// invocation and is never shared across goroutines.
type Caller struct {
	backoff BackoffConfig
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
	observe func(op string, kind FailureKind)
}

// WithRetryObserver registers a callback invoked once per scheduled retry,
// before the backoff sleep. Used to feed retry counters.
func (c *Caller) WithRetryObserver(fn func(op string, kind FailureKind)) *Caller {
	c.observe = fn
	return c
}

// NewCaller builds a retry orchestrator with the supplied schedule. A zero
// BackoffConfig takes the defaults.
func NewCaller(backoff BackoffConfig, logger *slog.Logger) *Caller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Caller{
		backoff: backoff.withDefaults(),
		logger:  logger.With(slog.String("component", "upstream")),
		sleep:   sleepCtx,
	}
}

// Do invokes fn, retrying transient failures up to MaxRetries additional
// attempts. Non-idempotent calls are only retried on rate limiting: a 429 was
// rejected before execution, whereas a timed-out write may already have
// landed. The returned error is always one of the seven typed failures, or
// the context's error when the caller cancels mid-backoff. Intermediate
// attempt failures are logged, never surfaced.
func Do[T any](ctx context.Context, c *Caller, op string, idempotent bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if c == nil {
		c = NewCaller(BackoffConfig{}, nil)
	}

	for attempt := 0; ; attempt++ {
		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		kind := Classify(err)
		hint := RetryAfterHint(err)

		retryable := kind.Retryable()
		if retryable && !idempotent && kind != KindRateLimited {
			retryable = false
		}
		if !retryable || attempt >= c.backoff.MaxRetries {
			typed := typedFromRaw(kind, hint, err)
			c.logger.Error("upstream call failed",
				slog.String("operation", op),
				slog.String("kind", string(kind)),
				slog.Int("attempts", attempt+1),
				slog.Any("error", err))
			return zero, typed
		}

		delay := c.backoff.DelayFor(kind, attempt, hint)
		if c.observe != nil {
			c.observe(op, kind)
		}
		c.logger.Warn("upstream call retrying",
			slog.String("operation", op),
			slog.String("kind", string(kind)),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err))

		if err := c.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

func typedFromRaw(kind FailureKind, hint *time.Duration, raw error) error {
	msg := raw.Error()
	status := 0
	var se *StatusError
	if errors.As(raw, &se) {
		status = se.StatusCode
		if se.Body != "" {
			msg = se.Body
		}
	}
	if kind != KindRateLimited {
		hint = nil
	}
	return newFailure(kind, msg, status, hint, raw)
}

// sleepCtx waits for the backoff delay, aborting promptly on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
