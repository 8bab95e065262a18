package fulfillment

import (
	"github.com/imrishuroy/go-khipu-checkout/internal/baskets"
	"github.com/imrishuroy/go-khipu-checkout/internal/orders"
	"github.com/imrishuroy/go-khipu-checkout/internal/outbox"
	"github.com/imrishuroy/go-khipu-checkout/internal/payment"
)

// ShippingNoShippingRequired is the only shipping method: everything sold is digital.
const ShippingNoShippingRequired = "no-shipping-required"

// PlaceOrderRequest carries a reconciled payment and the basket it pays for.
type PlaceOrderRequest struct {
	Basket        *baskets.Basket
	Payment       payment.Confirmation
	CorrelationID string
}

// Placed is a committed order and the event committed with it.
type Placed struct {
	Order orders.Order
	Event outbox.Event
}

// OrderPlacedMessage is the payload sent from API -> SQS -> Worker.
type OrderPlacedMessage struct {
	OrderNumber   string `json:"order_number"`
	BasketID      int64  `json:"basket_id"`
	Processor     string `json:"processor"`
	TransactionID string `json:"transaction_id"`
	Total         string `json:"total"`
	Currency      string `json:"currency"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
