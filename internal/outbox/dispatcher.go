package outbox

import (
	"context"
	"log/slog"
)

// Publisher delivers a message body with string attributes to a queue.
type Publisher interface {
	Publish(ctx context.Context, body string, attributes map[string]string) (string, error)
}

type Dispatcher struct {
	log       *slog.Logger
	publisher Publisher
}

func NewDispatcher(log *slog.Logger, publisher Publisher) *Dispatcher {
	return &Dispatcher{log: log, publisher: publisher}
}

// Dispatch sends one event. The event type and ids travel as message attributes.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	attrs := map[string]string{
		"event_id":     event.EventID,
		"event_type":   event.Type,
		"aggregate_id": event.AggregateID,
	}
	msgID, err := d.publisher.Publish(ctx, event.Payload, attrs)
	if err != nil {
		d.log.Error("outbox dispatch failed", "event_id", event.EventID, "err", err)
		return err
	}
	d.log.Info("outbox dispatched", "event_id", event.EventID, "type", event.Type, "message_id", msgID)
	return nil
}
