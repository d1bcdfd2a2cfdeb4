package poller

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fjod/storefront/pkg/events"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/fjod/storefront/pkg/shopper"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageReader is the part of *kafka.Reader the poller uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type CartClearer interface {
	ClearAfterCheckout(ctx context.Context, id shopper.Identity) error
}

// Poller empties a shopper's cart when their checkout produced an order.
type Poller struct {
	carts       CartClearer
	reader      MessageReader
	log         *zap.Logger
	retryDelay  time.Duration
	maxAttempts int
}

func NewKafkaReader(brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    events.TopicCheckoutOutbox,
		GroupID:  "cart-service-consumer",
		MaxBytes: 10e6, // 10MB
	})
}

func NewPoller(carts CartClearer, reader MessageReader, log *zap.Logger) *Poller {
	return &Poller{carts: carts, reader: reader, log: log, retryDelay: time.Second, maxAttempts: 5}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.handleNext(ctx)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Warn("error closing reader", zap.Error(err))
	}
}

func (p *Poller) handleNext(ctx context.Context) {
	m, err := p.reader.FetchMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.log.Warn("error reading message", zap.Error(err))
		}
		return
	}

	if eventType(m) == events.TypeCheckoutCompleted {
		p.clearWithRetry(ctx, m)
	}

	if err := p.reader.CommitMessages(ctx, m); err != nil {
		p.log.Warn("failed to commit message", zap.Error(err))
	}
}

func (p *Poller) clearWithRetry(ctx context.Context, m kafka.Message) {
	for attempt := 1; ; attempt++ {
		err := p.clearCart(ctx, m)
		if err == nil {
			return
		}
		if attempt == p.maxAttempts {
			p.log.Error("giving up clearing cart", zap.Int("attempts", attempt), zap.Error(err))
			return
		}
		p.log.Warn("failed to clear cart, retrying", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.retryDelay):
		}
	}
}

func (p *Poller) clearCart(ctx context.Context, m kafka.Message) error {
	var event events.CheckoutCompleted
	if err := json.Unmarshal(m.Value, &event); err != nil {
		p.log.Warn("error parsing message, skipping", zap.Error(err))
		return nil
	}
	if event.ShopperID == "" {
		p.log.Warn("missing shopper_id, skipping", zap.String("checkout_id", event.CheckoutID))
		return nil
	}

	id := shopper.Identity{ID: event.ShopperID, Guest: event.Guest}
	if err := p.carts.ClearAfterCheckout(ctx, id); err != nil {
		return err
	}
	p.log.Info("cart cleared after checkout",
		logger.Shopper(id.ID), zap.String("checkout_id", event.CheckoutID), zap.String("order_id", event.OrderID))
	return nil
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == events.HeaderEventType {
			return string(h.Value)
		}
	}
	return ""
}
