package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dataresearchcenter/datasets/pkg/entity"
	"github.com/dataresearchcenter/datasets/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds the producer settings.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	RequiredAcks int           `yaml:"required_acks"`
	Compression  string        `yaml:"compression"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes one JSON message per entity, keyed by entity id so
// that every version of an entity lands on the same partition.
type KafkaSink struct {
	writer  messageWriter
	topic   string
	dataset string
	logger  zerolog.Logger
}

// NewKafkaSink creates a producer for cfg.
func NewKafkaSink(cfg KafkaConfig, dataset string) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink needs brokers and topic")
	}

	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}
	return newKafkaSink(writer, cfg.Topic, dataset), nil
}

func newKafkaSink(w messageWriter, topic, dataset string) *KafkaSink {
	return &KafkaSink{
		writer:  w,
		topic:   topic,
		dataset: dataset,
		logger:  logging.NewLogger("sink"),
	}
}

// Emit publishes e.
func (s *KafkaSink) Emit(ctx context.Context, e entity.Entity) error {
	data, err := json.Marshal(e)
	if err != nil {
		return observe("kafka", fmt.Errorf("encode %s: %w", e.ID, err))
	}

	msg := kafka.Message{
		Topic: s.topic,
		Key:   []byte(e.ID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "schema", Value: []byte(e.Schema)},
			{Key: "dataset", Value: []byte(s.dataset)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Error().Err(err).Str("entity_id", e.ID).Msg("Failed to publish entity")
		return observe("kafka", fmt.Errorf("publish %s: %w", e.ID, err))
	}
	return observe("kafka", nil)
}

// Close flushes pending messages and closes the producer.
func (s *KafkaSink) Close(context.Context) error {
	return s.writer.Close()
}
