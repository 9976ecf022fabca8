// Package pipeline runs one source dataset end to end: collect, resolve,
// materialize and emit through the emission cache.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"time"

	"github.com/dataresearchcenter/datasets/pkg/cache"
	"github.com/dataresearchcenter/datasets/pkg/client"
	"github.com/dataresearchcenter/datasets/pkg/entity"
	"github.com/dataresearchcenter/datasets/pkg/failure"
	"github.com/dataresearchcenter/datasets/pkg/logging"
	"github.com/dataresearchcenter/datasets/pkg/record"
	"github.com/dataresearchcenter/datasets/pkg/resolver"
	"github.com/dataresearchcenter/datasets/pkg/sink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_runs_total",
		Help: "Pipeline runs by dataset and result",
	}, []string{"dataset", "result"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_run_duration_seconds",
		Help:    "Pipeline run duration by dataset",
		Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
	}, []string{"dataset"})

	recordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_records_processed_total",
		Help: "Primary records by dataset and result (materialized, url_skipped)",
	}, []string{"dataset", "result"})
)

// DefaultBatchSize is the number of primary records resolved together.
const DefaultBatchSize = 500

// Exit codes returned by ExitCode.
const (
	ExitOK                 = 0
	ExitFailure            = 1
	ExitConfiguration      = 2
	ExitServiceUnavailable = 3
)

// Definition describes what a run reads.
type Definition struct {
	Dataset  string
	Endpoint string
	Query    url.Values

	// References are resolved on every batch before materialization.
	References []resolver.Spec

	// URLField is the dotted record path of the record's source URL, used
	// by the URL gate.
	URLField string
}

// Validate checks the definition.
func (d Definition) Validate() error {
	if d.Dataset == "" {
		return failure.Configf("pipeline", "dataset", "is required")
	}
	if d.Endpoint == "" {
		return failure.Configf("pipeline", "endpoint", "is required")
	}
	for _, spec := range d.References {
		if err := spec.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Source yields primary records. *pagination.Collector implements it.
type Source interface {
	Collect(ctx context.Context, endpoint string, query url.Values) iter.Seq2[record.Record, error]
}

// Materializer turns a resolved record into entities. *materialize.Materializer
// implements it.
type Materializer interface {
	Materialize(ctx context.Context, rec record.Record) iter.Seq2[entity.Entity, error]
}

// Stats summarizes a run.
type Stats struct {
	RecordsSeen        int `json:"records_seen"`
	RecordsSkipped     int `json:"records_skipped"`
	EntitiesEmitted    int `json:"entities_emitted"`
	EntitiesSuppressed int `json:"entities_suppressed"`
	Warnings           int `json:"warnings"`
}

// Pipeline is a configured run. A Pipeline may be run repeatedly; each Run
// starts with an empty in-process seen-set.
type Pipeline struct {
	def          Definition
	source       Source
	materializer Materializer
	sink         sink.Sink
	emissions    *cache.EmissionCache
	reporter     failure.Reporter
	batchSize    int
	urlGate      bool
	limit        int
	logger       zerolog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEmissionCache gates emission through c. Without it every entity is
// emitted.
func WithEmissionCache(c *cache.EmissionCache) Option {
	return func(p *Pipeline) { p.emissions = c }
}

// WithReporter receives data-quality issues of the resolver. Stats.Warnings
// counts the issues seen by r during the run; pass the materializer's
// *failure.CountingReporter to cover both stages.
func WithReporter(r failure.Reporter) Option {
	return func(p *Pipeline) { p.reporter = r }
}

// WithBatchSize sets the number of records resolved together.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) { p.batchSize = n }
}

// WithURLGate skips records whose source URL is already marked.
func WithURLGate(enabled bool) Option {
	return func(p *Pipeline) { p.urlGate = enabled }
}

// WithLimit stops after n primary records; 0 reads everything.
func WithLimit(n int) Option {
	return func(p *Pipeline) { p.limit = n }
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// New creates a pipeline.
func New(def Definition, source Source, materializer Materializer, out sink.Sink, opts ...Option) (*Pipeline, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if source == nil || materializer == nil || out == nil {
		return nil, failure.Configf("pipeline", "components", "source, materializer and sink are required")
	}
	p := &Pipeline{
		def:          def,
		source:       source,
		materializer: materializer,
		sink:         out,
		reporter:     failure.Discard,
		batchSize:    DefaultBatchSize,
		logger:       logging.NewLogger("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.batchSize < 1 {
		return nil, failure.Configf("pipeline", "batch_size", "must be at least 1, got %d", p.batchSize)
	}
	if p.limit < 0 {
		return nil, failure.Configf("pipeline", "limit", "must not be negative")
	}
	p.logger = logging.ForDataset(p.logger, def.Dataset)
	return p, nil
}

// run holds the state of one Run call.
type run struct {
	*Pipeline
	resolver *resolver.Resolver
	seen     map[string]struct{}
	stats    Stats
}

// Run collects every primary record and emits its entities. Emissions made
// before an error stay valid; the emission cache makes a re-run after a
// failure safe.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	warnings, ok := p.reporter.(*failure.CountingReporter)
	if !ok {
		warnings = failure.Counting(p.reporter)
	}
	before := warnings.Count()
	r := &run{
		Pipeline: p,
		resolver: resolver.New(warnings),
		seen:     make(map[string]struct{}),
	}

	p.logger.Info().
		Str("endpoint", p.def.Endpoint).
		Int("batch_size", p.batchSize).
		Bool("cache", p.emissions.Enabled()).
		Msg("Pipeline run started")

	err := r.collect(ctx)
	r.stats.Warnings = warnings.Count() - before

	runDuration.WithLabelValues(p.def.Dataset).Observe(time.Since(start).Seconds())
	event := p.logger.Info()
	result := "ok"
	if err != nil {
		result = string(Classify(err))
		event = p.logger.Error().Err(err).Str("error_class", result)
	}
	runsTotal.WithLabelValues(p.def.Dataset, result).Inc()
	event.
		Int("records_seen", r.stats.RecordsSeen).
		Int("records_skipped", r.stats.RecordsSkipped).
		Int("entities_emitted", r.stats.EntitiesEmitted).
		Int("entities_suppressed", r.stats.EntitiesSuppressed).
		Int("warnings", r.stats.Warnings).
		Dur("duration", time.Since(start)).
		Msg("Pipeline run finished")

	return r.stats, err
}

func (r *run) collect(ctx context.Context) error {
	batch := make([]record.Record, 0, r.batchSize)
	for rec, err := range r.source.Collect(ctx, r.def.Endpoint, r.def.Query) {
		if err != nil {
			return fmt.Errorf("collect %s: %w", r.def.Endpoint, err)
		}
		r.stats.RecordsSeen++
		batch = append(batch, rec)
		if len(batch) == r.batchSize {
			if err := r.process(ctx, batch); err != nil {
				return err
			}
			batch = make([]record.Record, 0, r.batchSize)
		}
		if r.limit > 0 && r.stats.RecordsSeen >= r.limit {
			break
		}
	}
	if len(batch) > 0 {
		return r.process(ctx, batch)
	}
	return nil
}

func (r *run) process(ctx context.Context, batch []record.Record) error {
	resolved := batch
	if len(r.def.References) > 0 {
		var err error
		resolved, err = r.resolver.Resolve(ctx, batch, r.def.References)
		if err != nil {
			return fmt.Errorf("resolve references: %w", err)
		}
	}
	r.logger.Debug().Int("records", len(resolved)).Msg("Batch resolved")

	for _, rec := range resolved {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.record(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) record(ctx context.Context, rec record.Record) error {
	var urlKey string
	if r.urlGate && r.def.URLField != "" {
		if u := rec.String(r.def.URLField); u != "" {
			urlKey = cache.URLKey(r.def.Dataset, u)
			if !r.emissions.ShouldEmit(ctx, urlKey) {
				r.stats.RecordsSkipped++
				recordsProcessed.WithLabelValues(r.def.Dataset, "url_skipped").Inc()
				r.logger.Debug().Str("url", u).Msg("Source URL already emitted, skipping record")
				return nil
			}
		}
	}

	for e, err := range r.materializer.Materialize(ctx, rec) {
		if err != nil {
			return fmt.Errorf("materialize record %s: %w", record.IDString(rec["id"]), err)
		}
		if err := r.emit(ctx, e); err != nil {
			return err
		}
	}
	recordsProcessed.WithLabelValues(r.def.Dataset, "materialized").Inc()

	if urlKey != "" {
		r.mark(ctx, urlKey)
	}
	return nil
}

func (r *run) emit(ctx context.Context, e entity.Entity) error {
	if _, ok := r.seen[e.ID]; ok {
		r.stats.EntitiesSuppressed++
		return nil
	}
	r.seen[e.ID] = struct{}{}

	key := cache.EntityKey(r.def.Dataset, e.ID)
	if !r.emissions.ShouldEmit(ctx, key) {
		r.stats.EntitiesSuppressed++
		return nil
	}
	if err := r.sink.Emit(ctx, e); err != nil {
		return fmt.Errorf("emit %s: %w", e.ID, err)
	}
	r.stats.EntitiesEmitted++
	r.mark(ctx, key)
	return nil
}

// mark records key. A failed mark costs a duplicate emission on the next
// run, so it is logged and the run continues.
func (r *run) mark(ctx context.Context, key string) {
	if err := r.emissions.MarkEmitted(ctx, key); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("Failed to mark emission")
	}
}

// Classify maps a run error onto the failure taxonomy.
func Classify(err error) failure.Class {
	if err == nil {
		return ""
	}
	return client.FailureClass(err)
}

// ExitCode maps a run error onto the process exit status. Data-quality
// issues are reported, never returned, so they exit 0.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case failure.IsConfiguration(err):
		return ExitConfiguration
	case errors.Is(err, client.ErrServiceUnavailable):
		return ExitServiceUnavailable
	default:
		return ExitFailure
	}
}
