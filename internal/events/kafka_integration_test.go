//go:build integration

package events

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func TestKafkaPublisherDeliversRunCompleted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkaContainer.RunContainer(ctx, testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	topic := "spendcast.runs"
	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
	_ = conn.Close()

	pub := NewKafkaPublisher(brokers, topic)
	t.Cleanup(func() { _ = pub.Close() })

	mape := 8.5
	sent := RunCompleted{
		RunID:           "run-int",
		UserID:          "u1",
		Variant:         "multivariate",
		State:           "done",
		BacktestMAPE:    &mape,
		NextPeriodTotal: 912.4,
		StartedAt:       time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC),
		FinishedAt:      time.Date(2024, 3, 1, 2, 4, 0, 0, time.UTC),
	}
	require.NoError(t, pub.PublishRunCompleted(ctx, sent))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, "u1", string(msg.Key))

	got, err := RunCompletedFromJSON(msg.Value)
	require.NoError(t, err)
	require.Equal(t, sent.RunID, got.RunID)
	require.True(t, got.Succeeded())
	require.NotNil(t, got.BacktestMAPE)
	require.InDelta(t, mape, *got.BacktestMAPE, 1e-9)

	var eventType string
	for _, h := range msg.Headers {
		if h.Key == "event_type" {
			eventType = string(h.Value)
		}
	}
	require.Equal(t, "run_completed", eventType)
}
