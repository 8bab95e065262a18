package payment

import (
	"context"

	"github.com/imrishuroy/go-khipu-checkout/internal/baskets"
)

// Processor is a payment processor integration.
type Processor interface {
	Name() string
	CreateTransaction(ctx context.Context, basket *baskets.Basket) (*TransactionParameters, error)
	ParseNotification(ctx context.Context, n Notification) (*TransactionDetail, error)
	Reconcile(ctx context.Context, detail *TransactionDetail, basket *baskets.Basket) (Result, error)
	// RecordDetail stores the fetched detail for audit; basket may be nil when the
	// transaction matched no basket.
	RecordDetail(ctx context.Context, detail *TransactionDetail, basket *baskets.Basket)
	Lookup(ctx context.Context, paymentID string) (*TransactionDetail, error)
}

// Variant is what differs between checkouts hosted by the same gateway.
type Variant interface {
	// Name is the processor name stored on responses and orders.
	Name() string
	// NotifyPath is the webhook path, relative to the ecommerce URL.
	NotifyPath() string
	// MethodMarker prefixes the payment method recorded on the order.
	MethodMarker() string
}

// KhipuVariant is the regular Khipu bank-transfer checkout.
type KhipuVariant struct{}

func (KhipuVariant) Name() string         { return "khipu" }
func (KhipuVariant) NotifyPath() string   { return "/payment/khipu/execute/" }
func (KhipuVariant) MethodMarker() string { return "Khipu" }

// WebpayVariant is the card checkout Khipu hosts on top of Webpay.
type WebpayVariant struct{}

func (WebpayVariant) Name() string         { return "khipu_webpay" }
func (WebpayVariant) NotifyPath() string   { return "/payment/khipuwebpay/execute/" }
func (WebpayVariant) MethodMarker() string { return "KhipuWebpay" }
