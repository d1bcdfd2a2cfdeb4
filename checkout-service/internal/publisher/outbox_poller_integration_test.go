//go:build integration

package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	r "github.com/fjod/storefront/checkout-service/internal/repository"
	"github.com/fjod/storefront/pkg/events"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap"
)

func setupKafka(t *testing.T) (string, func()) {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestOutboxPoller_PublishesEventsToKafka(t *testing.T) {
	brokerAddr, cleanup := setupKafka(t)
	defer cleanup()

	createTopic(t, brokerAddr, events.TopicCheckoutOutbox)

	// Give Kafka time to fully initialize the topic
	time.Sleep(5 * time.Second)

	repo := &MockRepository{OutboxEvents: []*r.OutboxEvent{{
		ID:          1,
		AggregateId: "checkout-123",
		EventType:   events.TypeCheckoutCompleted,
		Payload:     json.RawMessage(`{"checkout_id":"checkout-123","shopper_id":"user-456"}`),
		CreatedAt:   time.Now(),
	}}}

	writer := NewKafkaWriter(brokerAddr)
	writer.WriteTimeout = 10 * time.Second
	poller := NewOutboxPoller(repo, writer, time.Hour, zap.NewNop())
	defer poller.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	go poller.Run(ctx)

	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:  []string{brokerAddr},
		Topic:    events.TopicCheckoutOutbox,
		GroupID:  "test-consumer",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)

	assert.Equal(t, "checkout-123", string(msg.Key))
	var payload events.CheckoutCompleted
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, "user-456", payload.ShopperID)
	require.Eventually(t, func() bool {
		return len(repo.processedIDs()) == 1
	}, 5*time.Second, 100*time.Millisecond)
}
