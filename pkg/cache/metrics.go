package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EmissionChecks counts ShouldEmit outcomes.
	EmissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_emission_checks_total",
			Help: "Emission cache lookups by result",
		},
		[]string{"result"}, // "emit", "suppress", "fail_open"
	)

	// EmissionMarks counts MarkEmitted calls that reached the store.
	EmissionMarks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_emission_marks_total",
			Help: "Keys marked as emitted",
		},
	)

	// CacheErrors tracks store and Redis errors.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_cache_errors_total",
			Help: "Cache operation errors",
		},
		[]string{"operation"}, // "exists", "touch", "get", "set", "delete"
	)

	// ResponseHits tracks response cache hits.
	ResponseHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_response_cache_hits_total",
			Help: "Response cache hits by state",
		},
		[]string{"state"}, // "fresh", "revalidated"
	)

	// ResponseMisses tracks response cache misses.
	ResponseMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_response_cache_misses_total",
			Help: "Response cache misses",
		},
	)

	// ResponseSize tracks bytes written to the response cache.
	ResponseSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_response_cache_size_bytes",
			Help: "Bytes written to the response cache",
		},
	)
)
