package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// EntityKey is the emission key of an entity or relationship id.
func EntityKey(dataset, id string) string {
	return fmt.Sprintf("emit/%s/entity/%s", dataset, id)
}

// URLKey is the emission key of a source URL.
func URLKey(dataset, rawURL string) string {
	return fmt.Sprintf("emit/%s/url/%s", dataset, SanitizeURL(rawURL))
}

// SanitizeURL strips the scheme so http:// and https:// variants collapse.
func SanitizeURL(rawURL string) string {
	u := strings.TrimSpace(rawURL)
	if i := strings.Index(u, "://"); i >= 0 {
		scheme := strings.ToLower(u[:i])
		if scheme == "http" || scheme == "https" {
			u = u[i+3:]
		}
	}
	return u
}

// RequestKey identifies a cached upstream response.
type RequestKey struct {
	// URL is the absolute request URL without query.
	URL string

	// Query holds the query parameters.
	Query url.Values
}

// String generates a deterministic cache key string.
// Format: pipeline:http:<url without scheme>:param1=v1,v2:param2=v3
//
// Example:
//
//	pipeline:http:www.abgeordnetenwatch.de/api/v2/sidejobs:range_end=100:range_start=0
func (k RequestKey) String() string {
	parts := []string{"pipeline:http"}

	if u := strings.TrimRight(SanitizeURL(k.URL), "/"); u != "" {
		parts = append(parts, u)
	}

	// Add query params (sorted for determinism)
	if len(k.Query) > 0 {
		keys := make([]string, 0, len(k.Query))
		for key := range k.Query {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(k.Query[key], ",")))
		}
	}

	return strings.Join(parts, ":")
}
