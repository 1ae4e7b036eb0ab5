package cache

import "time"

// Resource identifies the kind of upstream data an entry holds. The kind
// selects one of three TTL tiers: collections mutate often, profile data
// drifts slowly, derived audio analysis is effectively immutable.
type Resource string

const (
	// ResourcePlaylists is the caller's playlist listing.
	ResourcePlaylists Resource = "playlists"
	// ResourceTracks is the ordered contents of one playlist.
	ResourceTracks Resource = "tracks"
	// ResourceProfile is the acting user's profile.
	ResourceProfile Resource = "profile"
	// ResourceFeatures is per-track audio analysis.
	ResourceFeatures Resource = "features"
)

// TTLPolicy maps resource kinds onto expiry tiers.
type TTLPolicy struct {
	Collections time.Duration
	Profile     time.Duration
	Derived     time.Duration
}

// DefaultTTLPolicy keeps mutable collections fresh within a minute while
// letting audio features live for a day.
var DefaultTTLPolicy = TTLPolicy{
	Collections: time.Minute,
	Profile:     15 * time.Minute,
	Derived:     24 * time.Hour,
}

func (p TTLPolicy) withDefaults() TTLPolicy {
	if p.Collections <= 0 {
		p.Collections = DefaultTTLPolicy.Collections
	}
	if p.Profile <= 0 {
		p.Profile = DefaultTTLPolicy.Profile
	}
	if p.Derived <= 0 {
		p.Derived = DefaultTTLPolicy.Derived
	}
	return p
}

// For resolves the TTL tier for a resource kind. Unknown kinds get the
// shortest tier so stale data never outlives its welcome.
func (p TTLPolicy) For(resource Resource) time.Duration {
	p = p.withDefaults()
	switch resource {
	case ResourceProfile:
		return p.Profile
	case ResourceFeatures:
		return p.Derived
	default:
		return p.Collections
	}
}
