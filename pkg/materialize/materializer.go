package materialize

import (
	"context"
	"iter"
	"strings"

	"github.com/dataresearchcenter/datasets/pkg/entity"
	"github.com/dataresearchcenter/datasets/pkg/failure"
	"github.com/dataresearchcenter/datasets/pkg/logging"
	"github.com/dataresearchcenter/datasets/pkg/normalize"
	"github.com/dataresearchcenter/datasets/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	entitiesBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_entities_materialized_total",
		Help: "Entities produced by the materializer by kind and schema",
	}, []string{"kind", "schema"})

	recordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_records_skipped_total",
		Help: "Records the materializer could not classify, by reason",
	}, []string{"reason"})
)

// DefaultDiscriminator is the record field naming the kind.
const DefaultDiscriminator = "entity_type"

// Config configures a Materializer.
type Config struct {
	// Dataset prefixes every derived id.
	Dataset string `yaml:"dataset"`

	// Discriminator is the dotted record path holding the kind.
	Discriminator string `yaml:"discriminator"`

	// DefaultKind applies to records without a discriminator.
	DefaultKind Kind `yaml:"default_kind"`

	// FallbackKind applies to records whose discriminator is not a known
	// kind. Without it such a record is a configuration error.
	FallbackKind Kind `yaml:"fallback_kind"`

	// Mappings replace the built-in tables per kind.
	Mappings Mappings `yaml:"mappings"`
}

// Materializer builds entities from records. It is safe for concurrent use
// as long as the normalizer's vocabularies are.
type Materializer struct {
	ids           entity.IDFactory
	discriminator string
	defaultKind   Kind
	fallbackKind  Kind
	mappings      Mappings
	norm          *normalize.Normalizer
	reporter      failure.Reporter
	logger        zerolog.Logger
}

// New validates cfg and creates a Materializer. A nil normalizer selects the
// default one; a nil reporter discards issues.
func New(cfg Config, norm *normalize.Normalizer, reporter failure.Reporter) (*Materializer, error) {
	if norm == nil {
		norm = normalize.New(nil, nil)
	}
	if reporter == nil {
		reporter = failure.Discard
	}
	if strings.TrimSpace(cfg.Dataset) == "" {
		return nil, failure.Configf("materialize", "dataset", "is required")
	}
	if cfg.Discriminator == "" {
		cfg.Discriminator = DefaultDiscriminator
	}
	for field, k := range map[string]Kind{"default_kind": cfg.DefaultKind, "fallback_kind": cfg.FallbackKind} {
		if k != "" && !k.Valid() {
			return nil, failure.Configf("materialize", field, "unknown kind %q", k)
		}
	}

	mappings := DefaultMappings().With(cfg.Mappings)
	if err := mappings.Validate(norm); err != nil {
		return nil, err
	}

	return &Materializer{
		ids:           entity.IDFactory{Prefix: cfg.Dataset},
		discriminator: cfg.Discriminator,
		defaultKind:   cfg.DefaultKind,
		fallbackKind:  cfg.FallbackKind,
		mappings:      mappings,
		norm:          norm,
		reporter:      reporter,
		logger:        logging.NewLogger("materialize"),
	}, nil
}

// IDs returns the id factory used for derived ids.
func (m *Materializer) IDs() entity.IDFactory {
	return m.ids
}

// KindOf classifies rec. ok is false when the record has no discriminator
// and no default kind applies.
func (m *Materializer) KindOf(rec record.Record) (Kind, bool, error) {
	value := rec.String(m.discriminator)
	if value == "" {
		if m.defaultKind != "" {
			return m.defaultKind, true, nil
		}
		return "", false, nil
	}
	if kind, ok := ParseKind(value); ok {
		return kind, true, nil
	}
	if m.fallbackKind != "" {
		return m.fallbackKind, true, nil
	}
	return "", false, failure.Configf("materialize", m.discriminator, "unknown kind %q and no fallback_kind", value)
}

// Materialize yields the entities of rec, nodes before the relationships
// that reference them. A record without a kind is reported and yields
// nothing; an unknown kind yields a single configuration error.
func (m *Materializer) Materialize(ctx context.Context, rec record.Record) iter.Seq2[entity.Entity, error] {
	return func(yield func(entity.Entity, error) bool) {
		kind, ok, err := m.KindOf(rec)
		if err != nil {
			recordsSkipped.WithLabelValues("unknown_kind").Inc()
			yield(entity.Entity{}, err)
			return
		}
		if !ok {
			recordsSkipped.WithLabelValues("missing_kind").Inc()
			m.reporter.Report(ctx, failure.Issue{
				Stage:  "materialize",
				Kind:   "missing_kind",
				Key:    rec.String("id"),
				Reason: "record has no " + m.discriminator,
			})
			return
		}

		b := &builder{m: m, ctx: ctx, kind: kind, seen: make(map[string]struct{})}
		switch kind {
		case KindPolitician:
			b.politician(rec)
		case KindParty:
			b.party(rec)
		case KindCandidacyMandate:
			b.mandate(rec)
		case KindSidejobOrganization:
			b.organization(rec)
		case KindSidejob:
			b.sidejob(rec)
		case KindDonation:
			b.donation(rec)
		case KindLobbyEntry:
			b.lobbyEntry(rec)
		}

		for _, e := range b.out {
			entitiesBuilt.WithLabelValues(string(kind), string(e.Schema)).Inc()
			if !yield(*e, nil) {
				return
			}
		}
	}
}

// builder collects the entities of one record.
type builder struct {
	m    *Materializer
	ctx  context.Context
	kind Kind
	out  []*entity.Entity
	seen map[string]struct{}
}

// emit appends e unless an entity with the same id was already emitted for
// this record.
func (b *builder) emit(e *entity.Entity) {
	if e == nil {
		return
	}
	if _, dup := b.seen[e.ID]; dup {
		return
	}
	b.seen[e.ID] = struct{}{}
	b.out = append(b.out, e)
}

func (b *builder) issue(kind, key, reason string) {
	b.m.reporter.Report(b.ctx, failure.Issue{
		Stage:  "materialize",
		Kind:   kind,
		Key:    string(b.kind) + ":" + key,
		Reason: reason,
	})
}

// apply runs the rule table of kind over rec into e.
func (b *builder) apply(e *entity.Entity, kind Kind, rec record.Record) {
	for _, rule := range b.m.mappings[kind] {
		for _, raw := range rec.Values(rule.From) {
			value, ok, err := b.m.norm.Apply(b.ctx, rule.Normalize, raw)
			if err != nil {
				b.issue("normalize_failed", rule.From, err.Error())
				continue
			}
			if !ok {
				b.m.logger.Debug().
					Str("kind", string(kind)).
					Str("field", rule.From).
					Str("value", raw).
					Msg("Dropped value rejected by normalizer")
				continue
			}
			e.Add(rule.To, value)
		}
	}
}

// edge creates a relationship between two emitted entities.
func (b *builder) edge(schema entity.Schema, id string, from, to *entity.Entity) *entity.Entity {
	source, target := schema.Roles()
	e := entity.New(schema, id)
	e.Add(source, from.ID)
	e.Add(target, to.ID)
	return e
}

func (b *builder) date(value string) string {
	if value == "" {
		return ""
	}
	return b.m.norm.Dates.Normalize(value)
}

func (b *builder) country(value string) string {
	code, _ := b.m.norm.Countries.Code(value)
	return code
}

// joinText joins the non-empty parts with sep.
func joinText(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func first(values []string) string {
	if len(values) > 0 {
		return values[0]
	}
	return ""
}
