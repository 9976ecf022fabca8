package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is the fallback freshness when a response carries no caching
// headers.
const DefaultTTL = 5 * time.Minute

// NewResponseEntry builds a cache entry from response parts. Freshness comes
// from Cache-Control max-age, then Expires, then defaultTTL.
func NewResponseEntry(status int, header http.Header, body []byte, defaultTTL time.Duration) *ResponseEntry {
	now := time.Now()
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	entry := &ResponseEntry{
		Data:       append([]byte(nil), body...),
		ETag:       header.Get("ETag"),
		StatusCode: status,
		Headers:    header.Clone(),
		CachedAt:   now,
		Expires:    parseExpires(header, now, defaultTTL),
	}
	if lastModStr := header.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}
	return entry
}

// NoStore reports whether the response forbids caching.
func NoStore(header http.Header) bool {
	cc := strings.ToLower(header.Get("Cache-Control"))
	return strings.Contains(cc, "no-store")
}

// parseExpires returns the expiry from the caching headers.
func parseExpires(headers http.Header, now time.Time, defaultTTL time.Duration) time.Time {
	for _, directive := range strings.Split(headers.Get("Cache-Control"), ",") {
		directive = strings.TrimSpace(strings.ToLower(directive))
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
				return now.Add(time.Duration(secs) * time.Second)
			}
		}
		if directive == "no-cache" {
			return now
		}
	}

	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return now.Add(defaultTTL)
	}
	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		return now.Add(defaultTTL)
	}
	if expires.Before(now) {
		return now
	}
	return expires
}

// ConditionalHeaders returns If-None-Match or If-Modified-Since for entry.
// ETag is preferred.
func ConditionalHeaders(entry *ResponseEntry) map[string]string {
	if !entry.CanRevalidate() {
		return nil
	}
	if entry.ETag != "" {
		return map[string]string{"If-None-Match": entry.ETag}
	}
	return map[string]string{"If-Modified-Since": entry.LastModified.UTC().Format(http.TimeFormat)}
}
