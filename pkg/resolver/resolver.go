// Package resolver replaces reference placeholders in records with the full
// records fetched from other endpoints.
//
// A placeholder is a mapping (or a list of mappings) carrying at least an
// id, e.g. {"id": 7, "label": "SPD"}. For each Spec the resolver gathers the
// distinct ids of every placeholder in the batch, looks them up once, and
// deep-merges each resolved record into its placeholders: keys are united,
// the resolved value wins on collision. Input records are never modified.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dataresearchcenter/datasets/pkg/failure"
	"github.com/dataresearchcenter/datasets/pkg/logging"
	"github.com/dataresearchcenter/datasets/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	referencesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_references_resolved_total",
		Help: "Distinct reference ids resolved by spec",
	}, []string{"spec"})

	referencesUnresolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_references_unresolved_total",
		Help: "Distinct reference ids the lookup did not return, by spec",
	}, []string{"spec"})

	resolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_resolve_duration_seconds",
		Help:    "Duration of one spec resolution including nested specs",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"spec"})
)

// LookupFunc returns the records for ids. Records not found are simply
// absent from the result.
type LookupFunc func(ctx context.Context, ids []string) ([]record.Record, error)

// Spec describes one kind of reference.
type Spec struct {
	// Name identifies the spec in logs, metrics and cycle detection. Specs
	// that resolve the same kind of record share a name.
	Name string

	// Field is the dotted path of the placeholder: a mapping or a list of
	// mappings.
	Field string

	// IDKey is the id field of placeholders and resolved records, default
	// "id".
	IDKey string

	Lookup LookupFunc

	// Nested specs are applied to the resolved records before they are
	// merged.
	Nested []Spec
}

func (s Spec) idKey() string {
	if s.IDKey == "" {
		return "id"
	}
	return s.IDKey
}

// Validate checks s and its nested specs.
func (s Spec) Validate() error {
	if s.Name == "" {
		return failure.Configf("resolver", "name", "reference spec without name (field %q)", s.Field)
	}
	if s.Field == "" {
		return failure.Configf("resolver", s.Name+".field", "is required")
	}
	if s.Lookup == nil {
		return failure.Configf("resolver", s.Name+".lookup", "is required")
	}
	for _, n := range s.Nested {
		if err := n.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ReferenceSet is a set of normalized reference ids.
type ReferenceSet map[string]struct{}

// IDs returns the ids sorted.
func (s ReferenceSet) IDs() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// References collects the ids of every placeholder of spec in records.
func References(records []record.Record, spec Spec) ReferenceSet {
	refs := make(ReferenceSet)
	key := spec.idKey()
	for _, rec := range records {
		v, ok := rec.Get(spec.Field)
		if !ok {
			continue
		}
		for _, placeholder := range record.Records(v) {
			if id := record.IDString(placeholder[key]); id != "" {
				refs[id] = struct{}{}
			}
		}
	}
	return refs
}

// Resolver applies reference specs to record batches.
type Resolver struct {
	reporter failure.Reporter
	logger   zerolog.Logger
}

// New creates a resolver. A nil reporter discards issues.
func New(reporter failure.Reporter) *Resolver {
	if reporter == nil {
		reporter = failure.Discard
	}
	return &Resolver{
		reporter: reporter,
		logger:   logging.NewLogger("resolver"),
	}
}

// Resolve returns new records with the placeholders of every spec replaced.
// Unresolved ids keep their placeholder and are reported as data-quality
// issues; a lookup error aborts the pass.
func (r *Resolver) Resolve(ctx context.Context, records []record.Record, specs []Spec) ([]record.Record, error) {
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
	}
	return r.resolve(ctx, records, specs, make(map[string]ReferenceSet))
}

// resolve applies specs in order. inProgress holds, per spec name, the ids
// already being resolved by an ancestor level.
func (r *Resolver) resolve(ctx context.Context, records []record.Record, specs []Spec, inProgress map[string]ReferenceSet) ([]record.Record, error) {
	for _, spec := range specs {
		start := time.Now()
		refs := References(records, spec)

		ancestors := inProgress[spec.Name]
		var ids []string
		for _, id := range refs.IDs() {
			if _, busy := ancestors[id]; busy {
				continue
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			continue
		}

		fetched, err := spec.Lookup(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", spec.Name, err)
		}

		if len(spec.Nested) > 0 {
			if ancestors == nil {
				ancestors = make(ReferenceSet)
				inProgress[spec.Name] = ancestors
			}
			added := make([]string, 0, len(ids))
			for _, id := range ids {
				if _, ok := ancestors[id]; !ok {
					ancestors[id] = struct{}{}
					added = append(added, id)
				}
			}
			fetched, err = r.resolve(ctx, fetched, spec.Nested, inProgress)
			for _, id := range added {
				delete(ancestors, id)
			}
			if err != nil {
				return nil, err
			}
		}

		index := make(map[string]record.Record, len(fetched))
		for _, rec := range fetched {
			if id := record.IDString(rec[spec.idKey()]); id != "" {
				index[id] = rec
			}
		}

		missing := 0
		for _, id := range ids {
			if _, ok := index[id]; ok {
				continue
			}
			missing++
			r.reporter.Report(ctx, failure.Issue{
				Stage:  "resolve",
				Kind:   "unresolved_reference",
				Key:    spec.Name + ":" + id,
				Reason: fmt.Sprintf("%s %s not returned by lookup", spec.Name, id),
			})
		}
		referencesResolved.WithLabelValues(spec.Name).Add(float64(len(ids) - missing))
		referencesUnresolved.WithLabelValues(spec.Name).Add(float64(missing))

		records = apply(records, spec, index)

		resolveDuration.WithLabelValues(spec.Name).Observe(time.Since(start).Seconds())
		r.logger.Debug().
			Str("spec", spec.Name).
			Int("ids", len(ids)).
			Int("resolved", len(ids)-missing).
			Dur("duration", time.Since(start)).
			Msg("Resolved references")
	}
	return records, nil
}

// apply merges resolved records into the placeholders of spec.
func apply(records []record.Record, spec Spec, index map[string]record.Record) []record.Record {
	key := spec.idKey()
	out := make([]record.Record, len(records))
	for i, rec := range records {
		out[i] = rec
		v, ok := rec.Get(spec.Field)
		if !ok {
			continue
		}

		if placeholder, ok := record.AsRecord(v); ok {
			if resolved, ok := index[record.IDString(placeholder[key])]; ok {
				out[i] = rec.With(spec.Field, record.Merge(placeholder, resolved))
			}
			continue
		}

		list, ok := v.([]any)
		if !ok {
			continue
		}
		merged := make([]any, len(list))
		changed := false
		for j, item := range list {
			merged[j] = item
			placeholder, ok := record.AsRecord(item)
			if !ok {
				continue
			}
			if resolved, ok := index[record.IDString(placeholder[key])]; ok {
				merged[j] = record.Merge(placeholder, resolved)
				changed = true
			}
		}
		if changed {
			out[i] = rec.With(spec.Field, merged)
		}
	}
	return out
}
