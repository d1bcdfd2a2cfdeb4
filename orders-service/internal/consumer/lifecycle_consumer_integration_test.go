//go:build integration

package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/fjod/storefront/orders-service/internal/domain"
	"github.com/fjod/storefront/orders-service/internal/repository"
	"github.com/fjod/storefront/orders-service/internal/service"
	"github.com/fjod/storefront/pkg/events"
	"github.com/fjod/storefront/pkg/pricing"
	"github.com/google/uuid"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
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
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func setupPostgres(t *testing.T) *repository.Repository {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &repository.Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "../repository/migrations",
	}
	repo, err := repository.NewRepository(ctx, creds)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	require.NoError(t, repo.RunMigrations(creds))
	return repo
}

func TestConsumer_AppliesBankTransferSettlement(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := setupKafka(t)
	repo := setupPostgres(t)
	log := zaptest.NewLogger(t)

	order := &domain.Order{
		ID:             uuid.New(),
		IdempotencyKey: uuid.NewString(),
		ShopperID:      "user-1",
		Status:         domain.OrderStatusPending,
		PaymentStatus:  domain.PaymentStatusPending,
		Items:          []pricing.LineItem{{ProductID: "whey", UnitPrice: 4599, Quantity: 1}},
	}
	require.NoError(t, repo.CreateOrder(ctx, order))

	orders := service.NewOrderService(repo, nil, nil, nil, log, service.Config{})
	c := NewConsumer(orders, NewKafkaReader(broker), log)
	defer c.Close()

	w := &kafkaGo.Writer{
		Addr:                   kafkaGo.TCP(broker),
		Topic:                  events.TopicOrderLifecycle,
		Balancer:               &kafkaGo.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	for _, e := range []events.OrderLifecycle{
		{OrderID: order.ID.String(), PaymentStatus: string(domain.PaymentStatusAuthorized)},
		{OrderID: order.ID.String(), PaymentStatus: string(domain.PaymentStatusCaptured)},
		{OrderID: order.ID.String(), Status: string(domain.OrderStatusProcessing)},
	} {
		payload, err := json.Marshal(e)
		require.NoError(t, err)
		require.NoError(t, w.WriteMessages(ctx, kafkaGo.Message{
			Key:     []byte(e.OrderID),
			Value:   payload,
			Headers: []kafkaGo.Header{{Key: events.HeaderEventType, Value: []byte(eventTypeOf(e))}},
		}))
	}
	require.NoError(t, w.Close())

	go c.Run(ctx)

	require.Eventually(t, func() bool {
		got, err := repo.GetOrderByID(ctx, order.ID)
		if err != nil {
			return false
		}
		return got.Status == domain.OrderStatusProcessing && got.PaymentStatus == domain.PaymentStatusCaptured
	}, 30*time.Second, 500*time.Millisecond, fmt.Sprintf("order %s never reached PROCESSING", order.ID))
}

func eventTypeOf(e events.OrderLifecycle) string {
	if e.PaymentStatus != "" {
		return events.TypePaymentStatusChanged
	}
	return events.TypeOrderStatusChanged
}
