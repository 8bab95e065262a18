package orders

import "time"

// Order statuses
const (
	StatusPlaced           = "PLACED"
	StatusFulfilling       = "FULFILLING"
	StatusComplete         = "COMPLETE"
	StatusFulfillmentError = "FULFILLMENT_ERROR"
)

// Line is an order line copied from the basket at placement time.
type Line struct {
	SKU       string `dynamodbav:"sku" json:"sku"`
	Quantity  int    `dynamodbav:"quantity" json:"quantity"`
	UnitPrice string `dynamodbav:"unit_price" json:"unit_price"`
}

// PaymentSource records how the order was paid.
type PaymentSource struct {
	Processor     string `dynamodbav:"processor" json:"processor"`
	TransactionID string `dynamodbav:"transaction_id" json:"transaction_id"`
	Amount        string `dynamodbav:"amount" json:"amount"`
	Currency      string `dynamodbav:"currency" json:"currency"`
	MethodMarker  string `dynamodbav:"method_marker" json:"method_marker"` // e.g. Khipu_42
}

// Order represents the item stored in the orders table.
type Order struct {
	OrderNumber    string            `dynamodbav:"order_number" json:"order_number"` // PK
	BasketID       int64             `dynamodbav:"basket_id" json:"basket_id"`
	OwnerID        string            `dynamodbav:"owner_id,omitempty" json:"owner_id,omitempty"`
	Site           string            `dynamodbav:"site,omitempty" json:"site,omitempty"`
	Status         string            `dynamodbav:"status" json:"status"` // PLACED | FULFILLING | COMPLETE | FULFILLMENT_ERROR
	Currency       string            `dynamodbav:"currency" json:"currency"`
	Lines          []Line            `dynamodbav:"lines,omitempty" json:"lines,omitempty"`
	ShippingMethod string            `dynamodbav:"shipping_method" json:"shipping_method"`
	ShippingCharge string            `dynamodbav:"shipping_charge" json:"shipping_charge"`
	Total          string            `dynamodbav:"total" json:"total"`
	Source         PaymentSource     `dynamodbav:"source" json:"source"`
	Attributes     map[string]string `dynamodbav:"attributes,omitempty" json:"attributes,omitempty"`
	CreatedAt      time.Time         `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt      time.Time         `dynamodbav:"updated_at" json:"updated_at"`
	Attempts       int               `dynamodbav:"attempts,omitempty" json:"attempts,omitempty"`
}
