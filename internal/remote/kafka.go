package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures KafkaSink.
type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string // topics are "<prefix>.<table>"
	Timeout     time.Duration
}

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type kafkaWriteCloser interface {
	Close() error
}

// KafkaSink publishes each record to a per-table topic, keyed by session so a
// session's records stay ordered within a partition.
type KafkaSink struct {
	writer kafkaMessageWriter
	closer kafkaWriteCloser
	prefix string
}

// NewKafkaSink builds a sink on a kafka.Writer.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if strings.TrimSpace(cfg.TopicPrefix) == "" {
		return nil, fmt.Errorf("topic prefix must not be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           timeout,
	}
	return &KafkaSink{writer: w, closer: w, prefix: cfg.TopicPrefix}, nil
}

// newKafkaSinkWithWriter is used by tests to capture messages.
func newKafkaSinkWithWriter(w kafkaMessageWriter, prefix string) *KafkaSink {
	return &KafkaSink{writer: w, prefix: prefix}
}

// Topic returns the topic a table is published to.
func (k *KafkaSink) Topic(table Table) string {
	return k.prefix + "." + string(table)
}

// Insert publishes record synchronously.
func (k *KafkaSink) Insert(ctx context.Context, table Table, record json.RawMessage) error {
	if !table.Valid() {
		return fmt.Errorf("unknown table %q", table)
	}
	msg := kafka.Message{
		Topic: k.Topic(table),
		Key:   []byte(sessionOf(record)),
		Value: append([]byte(nil), record...),
		Time:  time.Now().UTC(),
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", table, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	if k.closer == nil {
		return nil
	}
	return k.closer.Close()
}
