package cache

import "time"

// Policy configures TTL behavior for cache entries.
type Policy struct {
	// DefaultTTL is applied when a Set specifies no TTL.
	// If zero, unspecified TTLs mean "no expiry".
	DefaultTTL time.Duration

	// MaxTTL is the maximum allowed TTL. Longer TTLs are clamped to this.
	// If zero, no maximum is enforced.
	MaxTTL time.Duration
}

// DefaultPolicy returns the default TTL policy.
// DefaultTTL: 0 (entries live until invalidated), MaxTTL: 24 hours.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL: 0,
		MaxTTL:     24 * time.Hour,
	}
}

// EffectiveTTL returns the TTL to store, applying the default and clamping.
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	ttl := override
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}
