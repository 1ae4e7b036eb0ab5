// Package upstream mediates every outbound call to the music service API. It
// classifies raw transport failures into a fixed taxonomy, decides which of
// them are worth retrying, computes backoff delays, and surfaces exactly one
// typed failure per call once retries are exhausted.
package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// FailureKind is the classified category of an upstream failure. Every raw
// failure signal maps to exactly one kind.
type FailureKind string

const (
	// KindNotFound covers 404 responses for missing resources.
	KindNotFound FailureKind = "not_found"
	// KindTokenExpired covers 401 responses; callers refresh credentials and
	// retry at a higher layer, this package never does.
	KindTokenExpired FailureKind = "token_expired"
	// KindRateLimited covers 429 responses, optionally carrying a
	// server-supplied Retry-After hint.
	KindRateLimited FailureKind = "rate_limited"
	// KindServerError covers 5xx responses.
	KindServerError FailureKind = "server_error"
	// KindClientError covers the remaining 4xx responses.
	KindClientError FailureKind = "client_error"
	// KindNetworkError covers connection-level failures that never produced a
	// status code.
	KindNetworkError FailureKind = "network_error"
	// KindUnexpected covers everything else, including programming errors.
	KindUnexpected FailureKind = "unexpected"
)

// Failure is the base type shared by the seven concrete failure errors.
type Failure struct {
	Kind       FailureKind
	Message    string
	StatusCode int
	// RetryAfter carries the parsed Retry-After hint for rate-limited
	// failures; nil when the server supplied none.
	RetryAfter *time.Duration
	cause      error
}

func (f *Failure) Error() string {
	if f.StatusCode > 0 {
		return fmt.Sprintf("upstream: %s (status %d): %s", f.Kind, f.StatusCode, f.Message)
	}
	return fmt.Sprintf("upstream: %s: %s", f.Kind, f.Message)
}

// Unwrap exposes the raw signal that produced the failure.
func (f *Failure) Unwrap() error { return f.cause }

func (f *Failure) failure() *Failure { return f }

// The concrete failure types. Callers catch narrowly with errors.As on one of
// these, or broadly with FailureOf.
type (
	// NotFoundError reports a missing upstream resource.
	NotFoundError struct{ Failure }
	// TokenExpiredError reports rejected credentials.
	TokenExpiredError struct{ Failure }
	// RateLimitedError reports upstream throttling.
	RateLimitedError struct{ Failure }
	// ServerError reports an upstream 5xx after retries were exhausted.
	ServerError struct{ Failure }
	// ClientError reports a request the upstream rejected as invalid.
	ClientError struct{ Failure }
	// NetworkError reports a connection-level failure after retries were
	// exhausted.
	NetworkError struct{ Failure }
	// UnexpectedError reports a failure outside the known taxonomy.
	UnexpectedError struct{ Failure }
)

type failureCarrier interface {
	error
	failure() *Failure
}

// FailureOf extracts the shared Failure from any of the seven concrete types,
// regardless of wrapping. The second return is false for errors that did not
// originate in this package.
func FailureOf(err error) (*Failure, bool) {
	var fc failureCarrier
	if errors.As(err, &fc) {
		return fc.failure(), true
	}
	return nil, false
}

// KindOf reports the classified kind of a typed failure, or KindUnexpected
// for foreign errors.
func KindOf(err error) FailureKind {
	if f, ok := FailureOf(err); ok {
		return f.Kind
	}
	return KindUnexpected
}

// newFailure wraps a raw signal in the concrete type matching its kind.
func newFailure(kind FailureKind, msg string, status int, retryAfter *time.Duration, cause error) error {
	base := Failure{Kind: kind, Message: msg, StatusCode: status, RetryAfter: retryAfter, cause: cause}
	switch kind {
	case KindNotFound:
		return &NotFoundError{base}
	case KindTokenExpired:
		return &TokenExpiredError{base}
	case KindRateLimited:
		return &RateLimitedError{base}
	case KindServerError:
		return &ServerError{base}
	case KindClientError:
		return &ClientError{base}
	case KindNetworkError:
		return &NetworkError{base}
	default:
		return &UnexpectedError{base}
	}
}

// StatusError is the raw failure signal the transport layer produces for a
// non-2xx response. It preserves the response headers so classification can
// read the Retry-After hint.
type StatusError struct {
	StatusCode int
	Header     http.Header
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream: status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("upstream: status %d", e.StatusCode)
}
