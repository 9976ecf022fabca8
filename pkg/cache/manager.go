package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// DefaultRetention keeps stale entries around for revalidation.
const DefaultRetention = 24 * time.Hour

// ResponseCache stores upstream responses in Redis.
type ResponseCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
	retention  time.Duration
}

// NewResponseCache creates a response cache. defaultTTL applies to responses
// without caching headers; retention is how long stale entries stay
// available for conditional requests.
func NewResponseCache(redisClient *redis.Client, defaultTTL, retention time.Duration) *ResponseCache {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if retention < 0 {
		retention = 0
	}
	return &ResponseCache{redis: redisClient, defaultTTL: defaultTTL, retention: retention}
}

// DefaultTTL returns the freshness applied to responses without caching
// headers.
func (m *ResponseCache) DefaultTTL() time.Duration {
	return m.defaultTTL
}

// Get retrieves an entry, stale or fresh. Returns ErrCacheMiss if the key
// doesn't exist.
func (m *ResponseCache) Get(ctx context.Context, key RequestKey) (*ResponseEntry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			ResponseMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry ResponseEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() && !entry.CanRevalidate() {
		_ = m.Delete(ctx, key)
		ResponseMisses.Inc()
		return nil, ErrCacheMiss
	}
	return &entry, nil
}

// Set stores an entry. The Redis TTL covers freshness plus the retention
// window.
func (m *ResponseCache) Set(ctx context.Context, key RequestKey, entry *ResponseEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if entry.CanRevalidate() {
		ttl += m.retention
	}
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	ResponseSize.Add(float64(len(data)))
	return nil
}

// Delete removes an entry.
func (m *ResponseCache) Delete(ctx context.Context, key RequestKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Refresh extends an entry after a 304 Not Modified answer.
func (m *ResponseCache) Refresh(ctx context.Context, key RequestKey, entry *ResponseEntry, newExpires time.Time) error {
	if newExpires.IsZero() || !newExpires.After(time.Now()) {
		newExpires = time.Now().Add(m.defaultTTL)
	}
	updated := *entry
	updated.Expires = newExpires
	return m.Set(ctx, key, &updated)
}
