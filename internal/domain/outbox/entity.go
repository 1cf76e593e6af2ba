package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Event is a domain event stored in the same transaction as the change it
// describes and published to Kafka afterwards.
type Event struct {
	ID            string
	CompanyID     string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	Payload       []byte
	Status        Status
	RetryCount    int
	LastError     *string
	CreatedAt     time.Time
	SentAt        *time.Time
}

// Event types
const (
	EventItemApproved = "payroll.item.approved.v1"
	EventItemPaid     = "payroll.item.paid.v1"
	EventPeriodClosed = "payroll.period.closed.v1"
)

var ErrInvalidEvent = errors.New("invalid outbox event")

// NewEvent marshals payload and builds a pending event.
func NewEvent(companyID, aggregateType, aggregateID, eventType, topic string, payload any) (Event, error) {
	if topic == "" || eventType == "" || aggregateID == "" {
		return Event{}, fmt.Errorf("%w: topic, event type and aggregate id are required", ErrInvalidEvent)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return Event{
		CompanyID:     companyID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		Payload:       body,
		Status:        StatusPending,
	}, nil
}

type Repository interface {
	Create(ctx context.Context, event Event) error
	// ListPending returns pending events and failed events that have been
	// retried fewer than maxRetries times, oldest first.
	ListPending(ctx context.Context, limit int, maxRetries int) ([]Event, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason string) error
	PurgeSent(ctx context.Context, olderThan time.Time) (int64, error)
}
