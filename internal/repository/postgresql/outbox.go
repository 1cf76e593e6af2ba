package postgresql

import (
	"context"
	"fmt"
	"time"

	"github.com/Chrisphine10/intellicash-sub009/internal/domain/outbox"
	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/database"
)

type outboxRepository struct {
	db *database.DB
}

func NewOutboxRepository(db *database.DB) outbox.Repository {
	return &outboxRepository{db: db}
}

// Create joins the caller's transaction when ctx carries one.
func (r *outboxRepository) Create(ctx context.Context, event outbox.Event) error {
	q := GetQuerier(ctx, r.db)

	if event.ID == "" {
		event.ID = newID()
	}
	if event.Status == "" {
		event.Status = outbox.StatusPending
	}

	_, err := q.Exec(ctx, `
		INSERT INTO payroll_outbox_events (
			id, company_id, aggregate_type, aggregate_id, event_type, topic, payload, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, event.ID, event.CompanyID, event.AggregateType, event.AggregateID,
		event.EventType, event.Topic, event.Payload, event.Status)
	if err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	return nil
}

func (r *outboxRepository) ListPending(ctx context.Context, limit int, maxRetries int) ([]outbox.Event, error) {
	q := GetQuerier(ctx, r.db)

	rows, err := q.Query(ctx, `
		SELECT id, company_id, aggregate_type, aggregate_id, event_type, topic, payload,
			   status, retry_count, last_error, created_at, sent_at
		FROM payroll_outbox_events
		WHERE (status = $1 OR (status = $2 AND retry_count < $3))
		  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY created_at ASC
		LIMIT $4
	`, outbox.StatusPending, outbox.StatusFailed, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending outbox events: %w", err)
	}
	defer rows.Close()

	events := make([]outbox.Event, 0, limit)
	for rows.Next() {
		var e outbox.Event
		if err := rows.Scan(
			&e.ID, &e.CompanyID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Topic, &e.Payload,
			&e.Status, &e.RetryCount, &e.LastError, &e.CreatedAt, &e.SentAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	q := GetQuerier(ctx, r.db)

	_, err := q.Exec(ctx, `
		UPDATE payroll_outbox_events
		SET status = $2, sent_at = NOW(), last_error = NULL
		WHERE id = $1
	`, id, outbox.StatusSent)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event sent: %w", err)
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	q := GetQuerier(ctx, r.db)

	_, err := q.Exec(ctx, `
		UPDATE payroll_outbox_events
		SET status = $2,
			retry_count = retry_count + 1,
			last_error = LEFT($3, 500),
			next_retry_at = NOW() + (LEAST(retry_count + 1, 10) * INTERVAL '15 seconds')
		WHERE id = $1
	`, id, outbox.StatusFailed, reason)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event failed: %w", err)
	}
	return nil
}

func (r *outboxRepository) PurgeSent(ctx context.Context, olderThan time.Time) (int64, error) {
	q := GetQuerier(ctx, r.db)

	tag, err := q.Exec(ctx, `DELETE FROM payroll_outbox_events WHERE status = $1 AND sent_at < $2`, outbox.StatusSent, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sent outbox events: %w", err)
	}
	return tag.RowsAffected(), nil
}
