package baskets

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Basket statuses
const (
	StatusOpen      = "OPEN"
	StatusFrozen    = "FROZEN"    // a gateway transaction exists for it
	StatusSubmitted = "SUBMITTED" // consumed by order placement
)

// orderNumberOffset keeps order numbers clear of small basket ids.
const orderNumberOffset = 100000

// Line is a single purchasable item in a basket.
type Line struct {
	SKU       string `dynamodbav:"sku" json:"sku"`
	Quantity  int    `dynamodbav:"quantity" json:"quantity"`
	UnitPrice string `dynamodbav:"unit_price" json:"unit_price"`
}

// Basket is a purchase intent: what the buyer is checking out and for how much.
type Basket struct {
	BasketID     int64             `dynamodbav:"basket_id" json:"basket_id"` // PK
	OwnerID      string            `dynamodbav:"owner_id" json:"owner_id"`
	Site         string            `dynamodbav:"site" json:"site"`
	OrderNumber  string            `dynamodbav:"order_number" json:"order_number"`
	Currency     string            `dynamodbav:"currency" json:"currency"`
	Lines        []Line            `dynamodbav:"lines" json:"lines"`
	TotalInclTax string            `dynamodbav:"total_incl_tax" json:"total_incl_tax"`
	Status       string            `dynamodbav:"status" json:"status"`
	Attributes   map[string]string `dynamodbav:"attributes,omitempty" json:"attributes,omitempty"`
	CreatedAt    time.Time         `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `dynamodbav:"updated_at" json:"updated_at"`
}

// Total parses TotalInclTax.
func (b Basket) Total() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(b.TotalInclTax)
	if err != nil {
		return decimal.Zero, fmt.Errorf("basket %d total %q: %w", b.BasketID, b.TotalInclTax, err)
	}
	return d, nil
}

// NewBasket is the input to Store.Create.
type NewBasket struct {
	OwnerID  string
	Site     string
	Currency string
	Lines    []Line
	Total    decimal.Decimal
}

// OrderNumber derives the order number for a basket. Calling it again for the same
// basket always yields the same number.
func OrderNumber(prefix string, basketID int64) string {
	return fmt.Sprintf("%s-%d", prefix, orderNumberOffset+basketID)
}
