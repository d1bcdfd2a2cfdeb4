package repository

import (
	"context"
	"fmt"
	"time"
)

// OutboxEvent is a message waiting to be published to Kafka.
type OutboxEvent struct {
	ID          int64
	AggregateId string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

// InsertEvents stores events atomically.
func (r *Repository) InsertEvents(ctx context.Context, events ...OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outbox transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at)
	          VALUES ($1, $2, $3, NOW())`
	for _, ev := range events {
		if _, err := tx.ExecContext(ctx, query, ev.AggregateId, ev.EventType, ev.Payload); err != nil {
			return fmt.Errorf("insert outbox event %s: %w", ev.EventType, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outbox transaction: %w", err)
	}
	return nil
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at
	          FROM outbox_events WHERE processed_at IS NULL ORDER BY id LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var ev OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.AggregateId, &ev.EventType, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	query := `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark event %d processed: %w", id, err)
	}
	return nil
}

// DeleteProcessedBefore removes published events older than cutoff.
func (r *Repository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM outbox_events WHERE processed_at IS NOT NULL AND processed_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete processed events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
