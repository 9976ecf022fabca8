// Package sink delivers materialized entities to their destination: a
// Neo4j-compatible graph, a Kafka topic, memory or the log.
package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/dataresearchcenter/datasets/pkg/entity"
	"github.com/dataresearchcenter/datasets/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pipeline_sink_writes_total",
	Help: "Entities written to sinks by sink and result",
}, []string{"sink", "result"})

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("sink closed")

// Sink receives entities in emission order.
type Sink interface {
	Emit(ctx context.Context, e entity.Entity) error
	Close(ctx context.Context) error
}

func observe(sink string, err error) error {
	if err != nil {
		writesTotal.WithLabelValues(sink, "error").Inc()
		return err
	}
	writesTotal.WithLabelValues(sink, "ok").Inc()
	return nil
}

// MemorySink keeps every emitted entity. Used for tests and dry runs.
type MemorySink struct {
	mu       sync.Mutex
	entities []entity.Entity
	closed   bool
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(_ context.Context, e entity.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.entities = append(s.entities, e)
	return observe("memory", nil)
}

// Entities returns the emitted entities in order.
func (s *MemorySink) Entities() []entity.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.Entity(nil), s.entities...)
}

// IDs returns the ids of the emitted entities in order.
func (s *MemorySink) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.entities))
	for i, e := range s.entities {
		ids[i] = e.ID
	}
	return ids
}

// Reset drops the collected entities and reopens the sink.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	s.entities = nil
	s.closed = false
	s.mu.Unlock()
}

func (s *MemorySink) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// LogSink writes one debug line per entity.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a LogSink on the "sink" component logger.
func NewLogSink() *LogSink {
	return &LogSink{logger: logging.NewLogger("sink")}
}

func (s *LogSink) Emit(_ context.Context, e entity.Entity) error {
	ev := s.logger.Debug().
		Str("entity_id", e.ID).
		Str("schema", string(e.Schema))
	if from, to := e.Endpoints(); from != "" {
		ev = ev.Str("from", from).Str("to", to)
	} else {
		ev = ev.Str("caption", e.Caption())
	}
	ev.Msg("Emitted entity")
	return observe("log", nil)
}

func (s *LogSink) Close(context.Context) error { return nil }

// Tee fans every entity out to several sinks in order. The first failing
// sink stops the fan-out for that entity.
type Tee []Sink

func (t Tee) Emit(ctx context.Context, e entity.Entity) error {
	for _, s := range t {
		if err := s.Emit(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and returns the joined errors.
func (t Tee) Close(ctx context.Context) error {
	var errs []error
	for _, s := range t {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
