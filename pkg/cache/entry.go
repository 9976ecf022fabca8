package cache

import (
	"net/http"
	"time"
)

// ResponseEntry represents a cached upstream response.
type ResponseEntry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// ETag for conditional requests (If-None-Match)
	ETag string `json:"etag"`

	// Expires is when the entry becomes stale
	Expires time.Time `json:"expires"`

	// LastModified from the Last-Modified header
	LastModified time.Time `json:"last_modified"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Headers are the response headers
	Headers http.Header `json:"headers"`

	// CachedAt is when the response was stored
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the entry is stale.
func (e *ResponseEntry) IsExpired() bool {
	return !time.Now().Before(e.Expires)
}

// TTL returns the time until expiration, or 0 if already stale.
func (e *ResponseEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// CanRevalidate reports whether a conditional request can be made for e.
func (e *ResponseEntry) CanRevalidate() bool {
	return e != nil && (e.ETag != "" || !e.LastModified.IsZero())
}
