package cache

import (
	"net/http"
	"time"
)

// Entry is a cached upstream response.
type Entry struct {
	// Body is the response payload.
	Body []byte `json:"body"`

	// Header is a snapshot of the response headers at insertion time.
	Header http.Header `json:"header"`

	// StatusCode is the HTTP status of the cached response.
	StatusCode int `json:"status_code"`

	// CachedAt is when the entry was inserted.
	CachedAt time.Time `json:"cached_at"`

	// ExpiresAt is when the entry becomes logically absent.
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired returns true once the entry's TTL has elapsed.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// TTL returns the remaining time until expiry, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}
