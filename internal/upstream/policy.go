package upstream

// Retryable reports whether the kind represents a transient upstream
// condition worth another attempt. Rate limiting, 5xx responses, and network
// failures clear on their own; everything else will not change on an
// immediate retry and must surface to the caller.
func (k FailureKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindServerError, KindNetworkError:
		return true
	default:
		return false
	}
}
