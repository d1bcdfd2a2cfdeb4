//go:build integration

package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/fjod/storefront/pkg/events"
	"github.com/fjod/storefront/pkg/shopper"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap/zaptest"
)

func setupKafka(t *testing.T) string {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	})

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")
	return brokers[0]
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

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestPoller_ConsumesFromKafka(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	broker := setupKafka(t)
	createTopic(t, broker, events.TopicCheckoutOutbox)

	carts := &fakeClearer{}
	p := NewPoller(carts, NewKafkaReader(broker), zaptest.NewLogger(t))
	defer p.Close()

	payload, err := json.Marshal(events.CheckoutCompleted{CheckoutID: "chk-1", OrderID: "ord-1", ShopperID: "user-123"})
	require.NoError(t, err)
	w := &kafkaGo.Writer{
		Addr:                   kafkaGo.TCP(broker),
		Topic:                  events.TopicCheckoutOutbox,
		Balancer:               &kafkaGo.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	err = w.WriteMessages(ctx, kafkaGo.Message{
		Key:     []byte("chk-1"),
		Value:   payload,
		Headers: []kafkaGo.Header{{Key: events.HeaderEventType, Value: []byte(events.TypeCheckoutCompleted)}},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	go p.Run(ctx)

	require.Eventually(t, func() bool {
		ids := carts.clearedIDs()
		return len(ids) == 1 && ids[0] == shopper.Identity{ID: "user-123"}
	}, 30*time.Second, 500*time.Millisecond)
}
