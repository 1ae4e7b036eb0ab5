package upstream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		want   FailureKind
	}{
		{404, KindNotFound},
		{401, KindTokenExpired},
		{429, KindRateLimited},
		{500, KindServerError},
		{501, KindServerError},
		{502, KindServerError},
		{503, KindServerError},
		{504, KindServerError},
		{505, KindServerError},
		{520, KindServerError},
		{599, KindServerError},
		{400, KindClientError},
		{403, KindClientError},
		{409, KindClientError},
		{418, KindClientError},
		{422, KindClientError},
	}
	for _, tc := range cases {
		err := &StatusError{StatusCode: tc.status}
		require.Equal(t, tc.want, Classify(err), "status %d", tc.status)
		// Determinism: same input, same answer.
		require.Equal(t, Classify(err), Classify(err))
	}
}

func TestClassifyTransportErrors(t *testing.T) {
	var timeout net.Error = &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	cases := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"dial failure", timeout, KindNetworkError},
		{"url error", &url.Error{Op: "Get", URL: "https://api.example.com", Err: errors.New("EOF")}, KindNetworkError},
		{"deadline", context.DeadlineExceeded, KindNetworkError},
		{"wrapped deadline", &url.Error{Op: "Get", URL: "x", Err: context.DeadlineExceeded}, KindNetworkError},
		{"programming error", errors.New("invalid state"), KindUnexpected},
		{"nil", nil, KindUnexpected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestClassifyWrappedStatus(t *testing.T) {
	raw := &StatusError{StatusCode: 503}
	wrapped := errors.Join(errors.New("page 2 of 4"), raw)
	require.Equal(t, KindServerError, Classify(wrapped))
}

func TestRetryAfterHint(t *testing.T) {
	hdr := func(v string) http.Header {
		h := http.Header{}
		h.Set("Retry-After", v)
		return h
	}
	cases := []struct {
		name string
		err  error
		want *time.Duration
	}{
		{"valid seconds", &StatusError{StatusCode: 429, Header: hdr("5")}, durationPtr(5 * time.Second)},
		{"zero", &StatusError{StatusCode: 429, Header: hdr("0")}, durationPtr(0)},
		{"negative", &StatusError{StatusCode: 429, Header: hdr("-3")}, nil},
		{"http date ignored", &StatusError{StatusCode: 429, Header: hdr("Wed, 21 Oct 2026 07:28:00 GMT")}, nil},
		{"missing header", &StatusError{StatusCode: 429, Header: http.Header{}}, nil},
		{"nil header", &StatusError{StatusCode: 429}, nil},
		{"not a status error", errors.New("boom"), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RetryAfterHint(tc.err)
			if tc.want == nil {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.Equal(t, *tc.want, *got)
		})
	}
}

func durationPtr(d time.Duration) *time.Duration { return &d }
