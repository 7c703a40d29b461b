package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes RunCompleted events to a single topic keyed by user,
// so that events of one user stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a synchronous writer that waits for all in-sync
// replicas.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Snappy,
			Balancer:     &kafka.Hash{},
			Async:        false,
		},
		topic: topic,
	}
}

func (p *KafkaPublisher) PublishRunCompleted(ctx context.Context, e RunCompleted) error {
	body, err := e.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.UserID),
		Value: body,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("run_completed")},
			{Key: "run_id", Value: []byte(e.RunID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to %s: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
