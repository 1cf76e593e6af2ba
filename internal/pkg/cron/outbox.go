package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/Chrisphine10/intellicash-sub009/internal/domain/outbox"
)

const (
	outboxBatchSize  = 50
	outboxMaxRetries = 5
	outboxRetention  = 7 * 24 * time.Hour
)

type EventPublisher interface {
	Publish(ctx context.Context, event outbox.Event) error
}

// OutboxJobs drains the payroll outbox to the message broker.
type OutboxJobs struct {
	repo      outbox.Repository
	publisher EventPublisher
	now       func() time.Time
}

// NewOutboxJobs accepts a nil publisher, in which case only the purge job
// is registered and events stay pending.
func NewOutboxJobs(repo outbox.Repository, publisher EventPublisher) *OutboxJobs {
	return &OutboxJobs{repo: repo, publisher: publisher, now: time.Now}
}

func (j *OutboxJobs) RegisterJobs(scheduler *Scheduler, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if j.publisher != nil {
		scheduler.AddJob("payroll_outbox_publisher", pollInterval, j.PublishPending)
	}
	scheduler.AddJob("payroll_outbox_purge", 1*time.Hour, j.PurgeSent)
}

// PublishPending sends one batch. A failed publish is recorded on the event
// and does not stop the batch.
func (j *OutboxJobs) PublishPending(ctx context.Context) error {
	events, err := j.repo.ListPending(ctx, outboxBatchSize, outboxMaxRetries)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	slog.Info("processing pending outbox events", "count", len(events))

	for _, event := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := j.publisher.Publish(ctx, event); err != nil {
			slog.Error("publish outbox event failed",
				"outbox_id", event.ID,
				"event_type", event.EventType,
				"retry_count", event.RetryCount,
				"error", err,
			)
			if markErr := j.repo.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
				slog.Error("mark outbox failed failed", "outbox_id", event.ID, "error", markErr)
			}
			continue
		}

		if err := j.repo.MarkSent(ctx, event.ID); err != nil {
			slog.Error("mark outbox sent failed", "outbox_id", event.ID, "error", err)
			continue
		}

		slog.Debug("outbox event sent", "outbox_id", event.ID, "event_type", event.EventType, "topic", event.Topic)
	}

	return nil
}

func (j *OutboxJobs) PurgeSent(ctx context.Context) error {
	purged, err := j.repo.PurgeSent(ctx, j.now().Add(-outboxRetention))
	if err != nil {
		return err
	}
	if purged > 0 {
		slog.Info("purged sent outbox events", "count", purged)
	}
	return nil
}
