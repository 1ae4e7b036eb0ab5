package upstream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Classify maps a raw failure signal onto the taxonomy. It is pure and total:
// every error yields exactly one kind and identical input always yields the
// same result.
func Classify(err error) FailureKind {
	if err == nil {
		return KindUnexpected
	}

	var se *StatusError
	if errors.As(err, &se) {
		return classifyStatus(se.StatusCode)
	}

	// Connection-level failures: dial errors, resets, timeouts, and request
	// failures that never carried a status.
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetworkError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetworkError
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindNetworkError
	}

	return KindUnexpected
}

func classifyStatus(status int) FailureKind {
	switch status {
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusUnauthorized:
		return KindTokenExpired
	case http.StatusTooManyRequests:
		return KindRateLimited
	}
	switch {
	case status >= 500 && status <= 504:
		return KindServerError
	case status >= 400 && status < 500:
		return KindClientError
	case status >= 505 && status < 600:
		return KindServerError
	default:
		return KindUnexpected
	}
}

// RetryAfterHint extracts the server-supplied wait hint from a raw failure
// signal. The hint is only honored when it parses as a non-negative integer
// number of seconds; anything else is treated as absent.
func RetryAfterHint(err error) *time.Duration {
	var se *StatusError
	if !errors.As(err, &se) || se.Header == nil {
		return nil
	}
	raw := strings.TrimSpace(se.Header.Get("Retry-After"))
	if raw == "" {
		return nil
	}
	secs, perr := strconv.Atoi(raw)
	if perr != nil || secs < 0 {
		return nil
	}
	d := time.Duration(secs) * time.Second
	return &d
}
