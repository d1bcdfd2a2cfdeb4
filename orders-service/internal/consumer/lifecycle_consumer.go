// Package consumer applies fulfilment and payment updates published by the
// warehouse and the payment gateway.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fjod/storefront/orders-service/internal/domain"
	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/events"
	"github.com/fjod/storefront/pkg/orderapi"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type StatusUpdater interface {
	AdvanceStatus(ctx context.Context, orderID string, update orderapi.StatusUpdate) (*domain.Order, error)
	ApplyPaymentStatus(ctx context.Context, orderID string, update orderapi.StatusUpdate) (*domain.Order, error)
}

type Consumer struct {
	orders      StatusUpdater
	reader      MessageReader
	log         *zap.Logger
	retryDelay  time.Duration
	maxAttempts int
}

func NewKafkaReader(brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    events.TopicOrderLifecycle,
		GroupID:  "orders-service",
		MaxBytes: 10e6, // 10MB
	})
}

func NewConsumer(orders StatusUpdater, reader MessageReader, log *zap.Logger) *Consumer {
	return &Consumer{orders: orders, reader: reader, log: log, retryDelay: time.Second, maxAttempts: 5}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.handleNext(ctx)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Warn("error closing kafka reader", zap.Error(err))
	}
}

func (c *Consumer) handleNext(ctx context.Context) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.log.Warn("error reading message", zap.Error(err))
		}
		return
	}

	var event events.OrderLifecycle
	if err := json.Unmarshal(m.Value, &event); err != nil {
		c.log.Warn("error parsing message, skipping", zap.Error(err))
	} else {
		c.applyWithRetry(ctx, event)
	}

	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.log.Warn("failed to commit message", zap.Error(err))
	}
}

func (c *Consumer) applyWithRetry(ctx context.Context, event events.OrderLifecycle) {
	log := c.log.With(zap.String("order_id", event.OrderID))
	for attempt := 1; ; attempt++ {
		err := c.apply(ctx, event)
		if err == nil {
			return
		}
		if !transient(err) {
			log.Warn("update rejected, skipping",
				zap.String("status", event.Status), zap.String("payment_status", event.PaymentStatus),
				zap.String("code", apperr.CodeOf(err)), zap.Error(err))
			return
		}
		if attempt == c.maxAttempts {
			log.Error("giving up applying update", zap.Int("attempts", attempt), zap.Error(err))
			return
		}
		log.Warn("failed to apply update, retrying", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retryDelay):
		}
	}
}

func (c *Consumer) apply(ctx context.Context, event events.OrderLifecycle) error {
	var err error
	switch {
	case event.PaymentStatus != "":
		_, err = c.orders.ApplyPaymentStatus(ctx, event.OrderID,
			orderapi.StatusUpdate{Status: event.PaymentStatus, Reason: event.Reason})
	case event.Status != "":
		_, err = c.orders.AdvanceStatus(ctx, event.OrderID,
			orderapi.StatusUpdate{Status: event.Status, Reason: event.Reason})
	default:
		err = apperr.Wrap(apperr.ErrInvalidRequest, "update carries no status")
	}
	return err
}

// transient reports whether retrying the same update may succeed.
func transient(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindUnavailable, apperr.KindPersistence, apperr.KindConflict:
		return true
	}
	return false
}
