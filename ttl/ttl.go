// Package ttl provides functionality for managing time-to-live (TTL) values in the cache.
// It resolves defaults and limits and checks expiry against a caller-supplied clock.
package ttl

import "time"

// Config represents configuration for TTL behavior
type Config struct {
	// DefaultTTL is used when an entry is stored without a TTL
	DefaultTTL time.Duration

	// MaxTTL is the maximum allowed TTL value; longer TTLs are clamped (0 disables the limit)
	MaxTTL time.Duration
}

// Resolve returns the TTL an entry is actually stored with
func Resolve(ttl time.Duration, config Config) time.Duration {
	if ttl == 0 {
		ttl = config.DefaultTTL
	}
	if config.MaxTTL > 0 && ttl > config.MaxTTL {
		return config.MaxTTL
	}
	return ttl
}

// ExpiresAt returns the instant an entry created at created stops being served.
// A zero time means the entry never expires.
func ExpiresAt(created time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return created.Add(ttl)
}

// Expired reports whether an entry created at created with the given TTL is
// expired at now. An entry is expired once its age reaches the TTL.
func Expired(created time.Time, ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return !now.Before(created.Add(ttl))
}
