// Package cache provides the two caches of a pipeline run.
//
// # Emission cache
//
// EmissionCache remembers which entities and source URLs were already handed
// to the sink, so that an interrupted or repeated run skips completed work:
//
//	store := cache.NewRedisStore(redisClient, "", 0)
//	emissions := cache.NewEmissionCache(store, logger)
//
//	key := cache.EntityKey("de_abgeordnetenwatch", entity.ID)
//	if emissions.ShouldEmit(ctx, key) {
//	    sink.Emit(ctx, entity)
//	    emissions.MarkEmitted(ctx, key)
//	}
//
// Keys are derived from entity ids or from source URLs with the scheme
// stripped, so http:// and https:// variants collapse. Stores only need
// Exists and Touch; MemoryStore, RedisStore and SQLiteStore are provided.
// Concurrent writers are last-write-wins, which is safe because marking is
// idempotent.
//
// Lookups fail open: when the store is unreachable ShouldEmit returns true,
// preferring duplicate output over silently dropping data.
//
// # Response cache
//
// ResponseCache keeps upstream HTTP responses in Redis. Fresh entries are
// served without a request; stale entries are kept for a retention window
// and revalidated with If-None-Match / If-Modified-Since. A 304 answer
// refreshes the entry's expiry.
//
// # Metrics
//
//   - pipeline_emission_checks_total{result}: emit / suppress / fail_open
//   - pipeline_emission_marks_total
//   - pipeline_cache_errors_total{operation}
//   - pipeline_response_cache_hits_total{state}: fresh / revalidated
//   - pipeline_response_cache_misses_total
//   - pipeline_response_cache_size_bytes
package cache
