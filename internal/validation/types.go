package validation

import "github.com/shopspring/decimal"

// LineItem represents a single basket line.
type LineItem struct {
	SKU       string          `json:"sku" validate:"required"`            // stock keeping unit
	Quantity  int             `json:"quantity" validate:"required,min=1"` // must be >= 1
	UnitPrice decimal.Decimal `json:"unit_price"`                         // price per unit, checked at struct level
}

// CreateBasketRequest is the payload for POST /baskets
type CreateBasketRequest struct {
	OwnerID      string          `json:"owner_id" validate:"required"`         // buyer id
	Currency     string          `json:"currency" validate:"omitempty,len=3"`  // defaults to the site currency
	Lines        []LineItem      `json:"lines" validate:"required,min=1,dive"` // at least one line
	TotalInclTax decimal.Decimal `json:"total_incl_tax"`                       // total the client claims
}

// CheckoutRequest is the payload for POST /payment/:processor/checkout
type CheckoutRequest struct {
	BasketID int64 `json:"basket_id" validate:"required,gt=0"`
}
