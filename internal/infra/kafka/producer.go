// Package kafka publishes market snapshots to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EventIDHeader carries a unique id per message so consumers can drop
// redelivered duplicates.
const EventIDHeader = "event-id"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes keyed JSON messages. Messages with the same key (market id)
// go to the same partition so consumers see them in order.
type Producer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewProducer creates an asynchronous producer for topic.
func NewProducer(brokers []string, topic string) *Producer {
	logger := slog.Default().With(slog.String("module", "kafka"))
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			BatchTimeout: 10 * time.Millisecond,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					logger.Warn("Kafka write failed", slog.Any("error", err), slog.Int("count", len(messages)))
				}
			},
		},
		logger: logger,
	}
}

func newProducerWithWriter(w messageWriter) *Producer {
	return &Producer{writer: w, logger: slog.Default().With(slog.String("module", "kafka"))}
}

// Send writes one message tagged with a fresh event id.
func (p *Producer) Send(ctx context.Context, key []byte, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
		Headers: []kafka.Header{
			{Key: EventIDHeader, Value: []byte(uuid.NewString())},
		},
	})
}

// SendJSON marshals v and sends it under key.
func (p *Producer) SendJSON(ctx context.Context, key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal kafka message: %w", err)
	}
	return p.Send(ctx, []byte(key), value)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
