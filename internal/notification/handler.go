// Package notification handles asynchronous payment notifications: it validates the
// notification with the gateway, finds the basket, reconciles the payment and places
// the order exactly once.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-khipu-checkout/internal/baskets"
	"github.com/imrishuroy/go-khipu-checkout/internal/fulfillment"
	"github.com/imrishuroy/go-khipu-checkout/internal/idempotency"
	"github.com/imrishuroy/go-khipu-checkout/internal/orders"
	"github.com/imrishuroy/go-khipu-checkout/internal/payment"
)

// OrganizationAttribute is the basket attribute set from the notification's
// organization query parameter.
const OrganizationAttribute = "organization"

// MetricOutcome counts handled notifications by processor and outcome.
const MetricOutcome = "NotificationOutcome"

type State string

const (
	StateReceived        State = "RECEIVED"
	StateValidated       State = "VALIDATED"
	StateBasketResolved  State = "BASKET_RESOLVED"
	StatePaymentRecorded State = "PAYMENT_RECORDED"
	StateOrderPlaced     State = "ORDER_PLACED"
	StateFailed          State = "FAILED"
)

type Outcome string

const (
	OutcomePlaced   Outcome = "placed"
	OutcomeConflict Outcome = "conflict"
	OutcomeFailed   Outcome = "failed"
)

// Result is the terminal state of one notification.
type Result struct {
	State         State
	Outcome       Outcome
	OrderNumber   string
	TransactionID string
	Err           error
}

// BasketResolver maps a gateway transaction to its basket.
type BasketResolver interface {
	GetByTransaction(ctx context.Context, processorName, transactionID string) (*baskets.Basket, error)
}

// BasketAttributes stores basket attributes.
type BasketAttributes interface {
	SetAttribute(ctx context.Context, b *baskets.Basket, name, value string) error
}

// Ledger tracks handling attempts per transaction.
type Ledger interface {
	Claim(ctx context.Context, key, orderNumber string) (*idempotency.Record, error)
	MarkDone(ctx context.Context, key, orderNumber string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string, responseStatus int) error
}

// Fulfiller places orders and triggers their fulfillment.
type Fulfiller interface {
	PlaceOrder(ctx context.Context, req fulfillment.PlaceOrderRequest) (*fulfillment.Placed, error)
	HandlePostOrder(ctx context.Context, placed *fulfillment.Placed) error
}

// Metrics publishes counters.
type Metrics interface {
	Count(ctx context.Context, name string, dimensions map[string]string) error
}

// Handler runs the notification state machine.
type Handler struct {
	resolver   BasketResolver
	attributes BasketAttributes
	ledger     Ledger
	fulfiller  Fulfiller
	metrics    Metrics
	logger     *slog.Logger
}

func NewHandler(resolver BasketResolver, attrs BasketAttributes, ledger Ledger, fulfiller Fulfiller, metrics Metrics, logger *slog.Logger) *Handler {
	return &Handler{
		resolver:   resolver,
		attributes: attrs,
		ledger:     ledger,
		fulfiller:  fulfiller,
		metrics:    metrics,
		logger:     logger,
	}
}

// attempt is the mutable state of one Handle call.
type attempt struct {
	h         *Handler
	processor payment.Processor
	log       *slog.Logger
	state     State
	ledgerKey string

	transactionID string
	orderNumber   string
}

func (a *attempt) advance(s State, args ...any) {
	a.state = s
	a.log.Info("notification state", append([]any{"state", string(s)}, args...)...)
}

func (a *attempt) result(outcome Outcome, err error) Result {
	if outcome == OutcomeFailed {
		a.log.Error("notification failed", "from_state", string(a.state), "err", err)
		a.state = StateFailed
	}
	return Result{
		State:         a.state,
		Outcome:       outcome,
		OrderNumber:   a.orderNumber,
		TransactionID: a.transactionID,
		Err:           err,
	}
}

// Handle processes one notification for processor. attrs carries optional request
// attributes (organization).
func (h *Handler) Handle(ctx context.Context, processor payment.Processor, n payment.Notification, attrs map[string]string) Result {
	a := &attempt{
		h:         h,
		processor: processor,
		log:       h.logger.With("processor", processor.Name()),
	}
	a.advance(StateReceived)

	res := a.run(ctx, n, attrs)
	a.finish(ctx, res)
	return res
}

func (a *attempt) run(ctx context.Context, n payment.Notification, attrs map[string]string) Result {
	h := a.h

	detail, err := a.processor.ParseNotification(ctx, n)
	if err != nil {
		return a.result(OutcomeFailed, err)
	}
	a.transactionID = detail.PaymentID
	a.log = a.log.With("transaction_id", detail.PaymentID, "amount", detail.Amount.String())
	a.advance(StateValidated, "status", detail.Status)

	basket, err := h.resolver.GetByTransaction(ctx, a.processor.Name(), detail.PaymentID)
	if err != nil {
		if errors.Is(err, baskets.ErrDuplicateTransaction) {
			a.log.Warn("duplicate transaction id received")
		}
		a.processor.RecordDetail(ctx, detail, nil)
		return a.result(OutcomeFailed, fmt.Errorf("%w: %w", payment.ErrBasketUnresolved, err))
	}
	if org := attrs[OrganizationAttribute]; org != "" {
		if err := h.attributes.SetAttribute(ctx, basket, OrganizationAttribute, org); err != nil {
			return a.result(OutcomeFailed, fmt.Errorf("%w: %w", payment.ErrBasketUnresolved, err))
		}
	}
	a.orderNumber = basket.OrderNumber
	a.log = a.log.With("basket_id", basket.BasketID, "order_number", basket.OrderNumber)
	a.advance(StateBasketResolved)

	a.ledgerKey = idempotency.Key(a.processor.Name(), detail.PaymentID)
	prev, err := h.ledger.Claim(ctx, a.ledgerKey, basket.OrderNumber)
	if err != nil {
		a.ledgerKey = ""
		return a.result(OutcomeFailed, fmt.Errorf("claim notification: %w", err))
	}
	if prev != nil {
		a.log.Info("repeated notification", "ledger_status", prev.Status, "attempts", prev.Attempts)
	}

	rec, err := a.processor.Reconcile(ctx, detail, basket)
	if err != nil {
		return a.result(OutcomeFailed, err)
	}
	if rec.Outcome == payment.OutcomeAlreadyProcessed {
		return a.result(OutcomeConflict, nil)
	}
	a.advance(StatePaymentRecorded)

	placed, err := h.fulfiller.PlaceOrder(ctx, fulfillment.PlaceOrderRequest{
		Basket:        basket,
		Payment:       *rec.Confirmation,
		CorrelationID: uuid.NewString(),
	})
	if err != nil {
		if errors.Is(err, orders.ErrOrderExists) {
			return a.result(OutcomeConflict, nil)
		}
		return a.result(OutcomeFailed, fmt.Errorf("%w: %w", payment.ErrFulfillmentFailure, err))
	}
	a.orderNumber = placed.Order.OrderNumber
	a.advance(StateOrderPlaced)

	if err := h.fulfiller.HandlePostOrder(ctx, placed); err != nil {
		// the event stays in the outbox and the relay delivers it
		a.log.Error("post order dispatch failed", "err", err)
	}
	return a.result(OutcomePlaced, nil)
}

// finish settles the ledger and emits the outcome metric.
func (a *attempt) finish(ctx context.Context, res Result) {
	h := a.h
	if a.ledgerKey != "" {
		var err error
		switch res.Outcome {
		case OutcomePlaced:
			err = h.ledger.MarkDone(ctx, a.ledgerKey, res.OrderNumber, http.StatusOK)
		case OutcomeConflict:
			err = h.ledger.MarkDone(ctx, a.ledgerKey, res.OrderNumber, http.StatusConflict)
		default:
			err = h.ledger.MarkFailed(ctx, a.ledgerKey, res.Err.Error(), http.StatusNotFound)
		}
		if err != nil {
			a.log.Error("settle notification ledger", "err", err)
		}
	}

	if res.Outcome == OutcomeConflict {
		a.log.Warn("notification already processed")
	}
	if err := h.metrics.Count(ctx, MetricOutcome, map[string]string{
		"Processor": a.processor.Name(),
		"Outcome":   string(res.Outcome),
	}); err != nil {
		a.log.Error("emit metric", "metric", MetricOutcome, "err", err)
	}
}
