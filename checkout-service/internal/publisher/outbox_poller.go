package publisher

import (
	"context"
	"time"

	r "github.com/fjod/storefront/checkout-service/internal/repository"
	"github.com/fjod/storefront/pkg/events"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Outbox is the part of the repository the poller drains.
type Outbox interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*r.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MessageWriter is the part of *kafka.Writer the poller uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type OutboxPoller struct {
	timeout   time.Duration
	eventTick time.Duration
	purgeTick time.Duration
	retention time.Duration
	batch     int
	repo      Outbox
	writer    MessageWriter
	log       *zap.Logger
}

func NewKafkaWriter(brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  events.TopicCheckoutOutbox,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

// NewOutboxPoller publishes pending events every second and deletes events
// published more than retention ago.
func NewOutboxPoller(repo Outbox, writer MessageWriter, retention time.Duration, log *zap.Logger) *OutboxPoller {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &OutboxPoller{
		timeout:   5 * time.Second,
		eventTick: time.Second,
		purgeTick: time.Hour,
		retention: retention,
		batch:     100,
		repo:      repo,
		writer:    writer,
		log:       log,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	purgeTicker := time.NewTicker(p.purgeTick)
	defer eventTicker.Stop()
	defer purgeTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-purgeTicker.C:
			p.purgeProcessedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() {
	if err := p.writer.Close(); err != nil {
		p.log.Warn("error closing kafka writer", zap.Error(err))
	}
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	pending, err := p.repo.GetUnprocessedEvents(ctx, p.batch)
	if err != nil {
		p.log.Warn("failed to fetch outbox events", zap.Error(err))
		return
	}

	for _, event := range pending {
		if err := p.publishToKafka(ctx, event); err != nil {
			p.log.Warn("failed to publish event", zap.Int64("event_id", event.ID), zap.Error(err))
			// keep aggregate order: later events of the batch wait for the next tick
			return
		}

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.log.Warn("failed to mark event as processed", zap.Int64("event_id", event.ID), zap.Error(err))
			return
		}
	}
}

func (p *OutboxPoller) purgeProcessedEvents(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	n, err := p.repo.DeleteProcessedBefore(ctx, time.Now().Add(-p.retention))
	if err != nil {
		p.log.Warn("failed to purge outbox", zap.Error(err))
		return
	}
	if n > 0 {
		p.log.Info("outbox purged", zap.Int64("deleted", n))
	}
}

func (p *OutboxPoller) publishToKafka(ctx context.Context, event *r.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateId), // checkout_id for ordering
		Value: event.Payload,             // Already JSON from database
		Headers: []kafka.Header{
			{Key: events.HeaderEventType, Value: []byte(event.EventType)},
		},
	}

	return p.writer.WriteMessages(ctx, msg)
}
