// Package ratelimit paces outgoing requests per host and shares upstream
// cooldowns (Retry-After) across pipeline processes via Redis.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RedisKeyPrefix prefixes every cooldown key: <prefix><host>.
const RedisKeyPrefix = "pipeline:cooldown:"

// DefaultMaxWait bounds a single cooldown wait.
const DefaultMaxWait = 2 * time.Minute

// CooldownState is the shared back-off state of one upstream host.
type CooldownState struct {
	// Host is the upstream host name.
	Host string `json:"host"`

	// Until is when requests to Host may resume.
	Until time.Time `json:"until"`

	// UntilMs is Until in Unix milliseconds, compared atomically in Redis.
	UntilMs int64 `json:"until_ms"`

	// LastStatus is the status code that triggered the cooldown (429 or 503).
	LastStatus int `json:"last_status"`

	// UpdatedAt is when the cooldown was recorded.
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the cooldown is still running at now.
func (s *CooldownState) Active(now time.Time) bool {
	return s != nil && now.Before(s.Until)
}

// Remaining returns the cooldown left at now, or 0.
func (s *CooldownState) Remaining(now time.Time) time.Duration {
	if !s.Active(now) {
		return 0
	}
	return s.Until.Sub(now)
}

// RedisKey returns the shared key of host.
func RedisKey(host string) string {
	return RedisKeyPrefix + strings.ToLower(host)
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date.
func ParseRetryAfter(header http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(header.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
