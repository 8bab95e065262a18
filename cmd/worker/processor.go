package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-khipu-checkout/internal/fulfillment"
	"github.com/imrishuroy/go-khipu-checkout/internal/orders"
	"github.com/imrishuroy/go-khipu-checkout/internal/outbox"
)

const (
	// MetricFulfilled counts orders that reached COMPLETE.
	MetricFulfilled = "OrderFulfilled"
	// MetricFulfillmentError counts orders parked in FULFILLMENT_ERROR.
	MetricFulfillmentError = "FulfillmentError"
)

// OrderStore is the subset of orders.Store the worker uses.
type OrderStore interface {
	Get(ctx context.Context, orderNumber string) (*orders.Order, error)
	UpdateStatus(ctx context.Context, orderNumber, expectedStatus, newStatus string) error
	IncrementAttempts(ctx context.Context, orderNumber string) (int, error)
}

// LineFulfiller grants one purchased line to the buyer.
type LineFulfiller interface {
	Fulfill(ctx context.Context, order *orders.Order, line orders.Line) error
}

// Metrics publishes counters.
type Metrics interface {
	Count(ctx context.Context, name string, dimensions map[string]string) error
}

// Processor handles SQS messages and performs order lifecycle transitions.
type Processor struct {
	orders      OrderStore
	lines       LineFulfiller
	metrics     Metrics
	logger      *slog.Logger
	maxAttempts int
}

// NewProcessor creates a worker processor. After maxAttempts failed fulfillments an
// order is parked in FULFILLMENT_ERROR instead of being retried.
func NewProcessor(orderStore OrderStore, lines LineFulfiller, metrics Metrics, logger *slog.Logger, maxAttempts int) *Processor {
	return &Processor{
		orders:      orderStore,
		lines:       lines,
		metrics:     metrics,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// Handle processes a batch and reports the messages that must be redelivered.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("worker error", "message_id", rec.MessageId, "err", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	if t, ok := rec.MessageAttributes["event_type"]; ok && t.StringValue != nil && *t.StringValue != outbox.TypeOrderPlaced {
		p.logger.Warn("skipping unknown event type", "event_type", *t.StringValue)
		return nil
	}

	var msg fulfillment.OrderPlacedMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	log := p.logger.With("order_number", msg.OrderNumber, "basket_id", msg.BasketID,
		"processor", msg.Processor, "transaction_id", msg.TransactionID, "correlation_id", msg.CorrelationID)
	log.Info("received order")

	order, err := p.orders.Get(ctx, msg.OrderNumber)
	if err != nil {
		return fmt.Errorf("failed to fetch order: %w", err)
	}
	if order == nil {
		return fmt.Errorf("order not found: %s", msg.OrderNumber)
	}

	// PLACED -> FULFILLING
	err = p.orders.UpdateStatus(ctx, msg.OrderNumber, orders.StatusPlaced, orders.StatusFulfilling)
	if errors.Is(err, orders.ErrStatusMismatch) {
		current, gerr := p.orders.Get(ctx, msg.OrderNumber)
		if gerr != nil {
			return fmt.Errorf("failed to re-read order: %w", gerr)
		}
		if current == nil {
			return fmt.Errorf("order disappeared: %s", msg.OrderNumber)
		}
		switch current.Status {
		case orders.StatusComplete:
			log.Info("already completed")
			return nil
		case orders.StatusFulfillmentError:
			log.Warn("order parked in fulfillment error")
			return nil
		case orders.StatusFulfilling:
			// a previous delivery failed midway; resume it
			log.Info("resuming fulfillment")
		default:
			return fmt.Errorf("unexpected status for order=%s: %s", msg.OrderNumber, current.Status)
		}
	} else if err != nil {
		return fmt.Errorf("failed to update status to FULFILLING: %w", err)
	}

	attempts, err := p.orders.IncrementAttempts(ctx, msg.OrderNumber)
	if err != nil {
		return fmt.Errorf("failed to count attempt: %w", err)
	}

	for _, line := range order.Lines {
		if err := p.lines.Fulfill(ctx, order, line); err != nil {
			if attempts >= p.maxAttempts {
				log.Error("fulfillment abandoned", "attempts", attempts, "sku", line.SKU, "err", err)
				if uerr := p.orders.UpdateStatus(ctx, msg.OrderNumber, orders.StatusFulfilling, orders.StatusFulfillmentError); uerr != nil {
					return fmt.Errorf("failed to park order: %w", uerr)
				}
				p.count(ctx, MetricFulfillmentError, msg.Processor)
				return nil
			}
			return fmt.Errorf("fulfill %s (attempt %d): %w", line.SKU, attempts, err)
		}
	}

	// FULFILLING -> COMPLETE
	if err := p.orders.UpdateStatus(ctx, msg.OrderNumber, orders.StatusFulfilling, orders.StatusComplete); err != nil {
		return fmt.Errorf("failed to update status to COMPLETE: %w", err)
	}
	p.count(ctx, MetricFulfilled, msg.Processor)
	log.Info("completed order", "attempts", attempts)
	return nil
}

func (p *Processor) count(ctx context.Context, name, processor string) {
	if err := p.metrics.Count(ctx, name, map[string]string{"Processor": processor}); err != nil {
		p.logger.Error("emit metric", "metric", name, "err", err)
	}
}

// logFulfiller records the grant; the catalogue owns the actual entitlement.
type logFulfiller struct {
	logger *slog.Logger
}

func (f logFulfiller) Fulfill(_ context.Context, order *orders.Order, line orders.Line) error {
	f.logger.Info("fulfilling line", "order_number", order.OrderNumber, "sku", line.SKU, "quantity", line.Quantity)
	return nil
}
