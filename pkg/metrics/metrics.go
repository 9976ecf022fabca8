// Package metrics exposes the Prometheus registry of the pipeline.
// All metrics are defined in their respective packages (client, pagination,
// resolver, materialize, cache, sink, pipeline) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation and the /metrics handler.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dataresearchcenter/datasets/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the pipeline.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Fetch Metrics (pkg/client):
//   - pipeline_fetch_requests_total{host, status} (Counter): Upstream requests by host and HTTP status
//   - pipeline_fetch_request_duration_seconds{host} (Histogram): Request duration by host
//   - pipeline_fetch_errors_total{class} (Counter): Failed attempts by class (client, server, rate_limit, network)
//   - pipeline_fetch_retries_total{error_class} (Counter): Retry attempts by error class
//   - pipeline_fetch_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - pipeline_fetch_retry_exhausted_total{error_class} (Counter): Requests that ended as service unavailable
//
// Cooldown Metrics (pkg/ratelimit):
//   - pipeline_ratelimit_cooldowns_total{host} (Counter): Cooldowns recorded from 429 responses
//   - pipeline_ratelimit_cooldown_wait_seconds (Histogram): Time spent waiting for a shared cooldown
//   - pipeline_ratelimit_tracker_errors_total{operation} (Counter): Redis errors in the tracker
//
// Collection Metrics (pkg/pagination, pkg/resolver):
//   - pipeline_pages_fetched_total{endpoint} (Counter): Pages fetched
//   - pipeline_records_collected_total{endpoint} (Counter): Records yielded
//   - pipeline_lookup_chunks_total{endpoint, result} (Counter): Id lookup chunks
//   - pipeline_lookup_duration_seconds{endpoint} (Histogram): Duration of a full id lookup
//   - pipeline_references_resolved_total{spec} (Counter): Reference ids resolved
//   - pipeline_references_unresolved_total{spec} (Counter): Reference ids the upstream did not return
//   - pipeline_resolve_duration_seconds{spec} (Histogram): Duration of one spec including nested specs
//
// Materialization Metrics (pkg/materialize, pkg/failure):
//   - pipeline_entities_materialized_total{kind, schema} (Counter): Entities built
//   - pipeline_records_skipped_total{reason} (Counter): Records without a usable kind
//   - pipeline_data_quality_issues_total{stage, kind} (Counter): Reported data-quality issues
//
// Cache Metrics (pkg/cache):
//   - pipeline_emission_checks_total{result} (Counter): Emission checks (emit, suppress, fail_open)
//   - pipeline_emission_marks_total (Counter): Keys marked as emitted
//   - pipeline_cache_errors_total{operation} (Counter): Cache operation errors
//   - pipeline_response_cache_hits_total{state} (Counter): Response cache hits (fresh, revalidated)
//   - pipeline_response_cache_misses_total (Counter): Response cache misses
//   - pipeline_response_cache_size_bytes (Gauge): Bytes written to the response cache
//
// Run Metrics (pkg/sink, pkg/pipeline):
//   - pipeline_sink_writes_total{sink, result} (Counter): Entities written per sink
//   - pipeline_runs_total{dataset, result} (Counter): Runs by result (ok, service_unavailable, configuration, ...)
//   - pipeline_run_duration_seconds{dataset} (Histogram): Run duration
//   - pipeline_records_processed_total{dataset, result} (Counter): Primary records (materialized, url_skipped)
//
// Example Prometheus Queries:
//
//   # Emission suppression rate
//   sum(rate(pipeline_emission_checks_total{result="suppress"}[1h])) /
//   sum(rate(pipeline_emission_checks_total[1h]))
//
//   # Cache backend failing open
//   rate(pipeline_emission_checks_total{result="fail_open"}[5m]) > 0
//
//   # Upstream error rate
//   rate(pipeline_fetch_errors_total[5m])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(pipeline_fetch_request_duration_seconds_bucket[5m]))
//
//   # Unresolved references per run
//   increase(pipeline_references_unresolved_total[1d])

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	logger := logging.NewLogger("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}
