package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Store persists emission marks.
type Store interface {
	// Exists reports whether key was marked.
	Exists(ctx context.Context, key string) (bool, error)

	// Touch marks key at the given time. Repeated touches overwrite.
	Touch(ctx context.Context, key string, at time.Time) error

	// Close releases the store's resources.
	Close() error
}

// EmissionCache decides whether a key still needs to be emitted.
// A nil store disables the cache: everything is emitted and marks are
// dropped.
type EmissionCache struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewEmissionCache wraps store.
func NewEmissionCache(store Store, logger zerolog.Logger) *EmissionCache {
	return &EmissionCache{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Enabled reports whether the cache has a backing store.
func (c *EmissionCache) Enabled() bool {
	return c != nil && c.store != nil
}

// ShouldEmit reports whether key has not been emitted yet. Store errors are
// logged and treated as "not emitted".
func (c *EmissionCache) ShouldEmit(ctx context.Context, key string) bool {
	if !c.Enabled() {
		EmissionChecks.WithLabelValues("emit").Inc()
		return true
	}

	exists, err := c.store.Exists(ctx, key)
	if err != nil {
		CacheErrors.WithLabelValues("exists").Inc()
		EmissionChecks.WithLabelValues("fail_open").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("Emission cache lookup failed, emitting anyway")
		return true
	}
	if exists {
		EmissionChecks.WithLabelValues("suppress").Inc()
		return false
	}
	EmissionChecks.WithLabelValues("emit").Inc()
	return true
}

// MarkEmitted records key as emitted.
func (c *EmissionCache) MarkEmitted(ctx context.Context, key string) error {
	if !c.Enabled() {
		return nil
	}
	if err := c.store.Touch(ctx, key, c.now()); err != nil {
		CacheErrors.WithLabelValues("touch").Inc()
		return err
	}
	EmissionMarks.Inc()
	return nil
}

// Close closes the backing store.
func (c *EmissionCache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.store.Close()
}
