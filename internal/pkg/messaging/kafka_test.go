package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/Chrisphine10/intellicash-sub009/internal/domain/outbox"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafkago.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func header(msg kafkago.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w)

	event, err := outbox.NewEvent("co-1", "payroll_item", "item-1", outbox.EventItemApproved, "payroll.events", map[string]string{"status": "approved"})
	require.NoError(t, err)
	event.ID = "evt-1"

	require.NoError(t, p.Publish(context.Background(), event))
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "payroll.events", msg.Topic)
	assert.Equal(t, "item-1", string(msg.Key))
	assert.JSONEq(t, `{"status":"approved"}`, string(msg.Value))
	assert.Equal(t, outbox.EventItemApproved, header(msg, "event_type"))
	assert.Equal(t, "evt-1", header(msg, "event_id"))
	assert.Equal(t, "co-1", header(msg, "company_id"))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisher_PublishError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewPublisher(w)

	err := p.Publish(context.Background(), outbox.Event{EventType: outbox.EventItemPaid, AggregateID: "item-1"})
	assert.ErrorContains(t, err, "broker down")
}
