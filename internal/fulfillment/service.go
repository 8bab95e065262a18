// Package fulfillment turns a confirmed payment into an order and hands it to the
// asynchronous fulfillment worker.
package fulfillment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-khipu-checkout/internal/baskets"
	"github.com/imrishuroy/go-khipu-checkout/internal/orders"
	"github.com/imrishuroy/go-khipu-checkout/internal/outbox"
)

// OrderPlacer commits an order together with related writes.
type OrderPlacer interface {
	Place(ctx context.Context, order orders.Order, related ...types.TransactWriteItem) error
}

// BasketSubmitter yields the write that consumes a basket.
type BasketSubmitter interface {
	SubmitItem(id int64) types.TransactWriteItem
}

// EventOutbox builds, stages and acknowledges outbox events.
type EventOutbox interface {
	NewEvent(aggregateID, eventType string, payload any) (outbox.Event, error)
	PutItem(e outbox.Event) (types.TransactWriteItem, error)
	MarkSent(ctx context.Context, eventID string) error
}

// EventDispatcher delivers an event to the fulfillment queue.
type EventDispatcher interface {
	Dispatch(ctx context.Context, e outbox.Event) error
}

// Service places orders for confirmed payments.
type Service struct {
	orders     OrderPlacer
	baskets    BasketSubmitter
	outbox     EventOutbox
	dispatcher EventDispatcher
	prefix     string
	logger     *slog.Logger
}

// NewService wires the placement dependencies. prefix is the site's order number prefix.
func NewService(ord OrderPlacer, bs BasketSubmitter, ob EventOutbox, d EventDispatcher, prefix string, logger *slog.Logger) *Service {
	return &Service{
		orders:     ord,
		baskets:    bs,
		outbox:     ob,
		dispatcher: d,
		prefix:     prefix,
		logger:     logger,
	}
}

// PlaceOrder commits, in one transaction, the order, the basket submission and the
// order.placed event. orders.ErrOrderExists means another placement for the same
// basket won; nothing was written by this call.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Placed, error) {
	b := req.Basket
	basketTotal, err := b.Total()
	if err != nil {
		return nil, err
	}
	shipping := decimal.Zero
	total := basketTotal.Add(shipping)

	// Order number generation is idempotent for a basket, so regenerating it is
	// equivalent to reading it back from the gateway.
	orderNumber := baskets.OrderNumber(s.prefix, b.BasketID)

	order := orders.Order{
		OrderNumber:    orderNumber,
		BasketID:       b.BasketID,
		OwnerID:        b.OwnerID,
		Site:           b.Site,
		Status:         orders.StatusPlaced,
		Currency:       b.Currency,
		Lines:          orderLines(b.Lines),
		ShippingMethod: ShippingNoShippingRequired,
		ShippingCharge: shipping.StringFixed(2),
		Total:          total.StringFixed(2),
		Source: orders.PaymentSource{
			Processor:     req.Payment.Processor,
			TransactionID: req.Payment.TransactionID,
			Amount:        req.Payment.Amount.StringFixed(2),
			Currency:      req.Payment.Currency,
			MethodMarker:  req.Payment.MethodMarker,
		},
		Attributes: b.Attributes,
	}

	event, err := s.outbox.NewEvent(orderNumber, outbox.TypeOrderPlaced, OrderPlacedMessage{
		OrderNumber:   orderNumber,
		BasketID:      b.BasketID,
		Processor:     req.Payment.Processor,
		TransactionID: req.Payment.TransactionID,
		Total:         order.Total,
		Currency:      order.Currency,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return nil, err
	}
	eventPut, err := s.outbox.PutItem(event)
	if err != nil {
		return nil, err
	}

	if err := s.orders.Place(ctx, order, s.baskets.SubmitItem(b.BasketID), eventPut); err != nil {
		return nil, err
	}

	s.logger.Info("order placed",
		"order_number", orderNumber,
		"basket_id", b.BasketID,
		"processor", req.Payment.Processor,
		"transaction_id", req.Payment.TransactionID,
		"amount", order.Total)

	return &Placed{Order: order, Event: event}, nil
}

// HandlePostOrder sends the order.placed event right away. A failure leaves the
// event pending for the relay.
func (s *Service) HandlePostOrder(ctx context.Context, placed *Placed) error {
	if err := s.dispatcher.Dispatch(ctx, placed.Event); err != nil {
		return fmt.Errorf("dispatch %s for order %s: %w", placed.Event.Type, placed.Order.OrderNumber, err)
	}
	if err := s.outbox.MarkSent(ctx, placed.Event.EventID); err != nil {
		return err
	}
	return nil
}

func orderLines(lines []baskets.Line) []orders.Line {
	out := make([]orders.Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, orders.Line{SKU: l.SKU, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return out
}
