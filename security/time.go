package security

import "time"

// IsExpired reports whether a credential's expiry has passed. gracePeriod
// absorbs clock drift between hosts: a credential is only considered
// expired once it has been past its expiry for longer than the grace.
// A zero expiry never expires.
func IsExpired(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}

// ExpiresIn computes the whole remaining seconds until expiry, clamped at
// zero. Used for the expires_in field of token responses.
func ExpiresIn(expiresAt time.Time) int64 {
	remaining := time.Until(expiresAt)
	if remaining < 0 {
		return 0
	}
	return int64(remaining / time.Second)
}
