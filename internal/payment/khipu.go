package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/imrishuroy/go-khipu-checkout/internal/baskets"
	"github.com/imrishuroy/go-khipu-checkout/internal/config"
	"github.com/imrishuroy/go-khipu-checkout/internal/gateway"
	"github.com/imrishuroy/go-khipu-checkout/internal/responses"
)

// Gateway sends signed requests to the payment gateway.
type Gateway interface {
	Do(ctx context.Context, method, path string, params map[string]string) (*gateway.Response, error)
}

// Recorder persists raw gateway exchanges.
type Recorder interface {
	Record(ctx context.Context, e responses.Entry) (*responses.Record, error)
}

// OrderChecker reports whether an order was already placed.
type OrderChecker interface {
	Exists(ctx context.Context, orderNumber string) (bool, error)
}

// Khipu is the Khipu processor. The variant decides its name, callback path and the
// method marker written on orders.
type Khipu struct {
	variant  Variant
	site     config.Site
	gateway  Gateway
	recorder Recorder
	orders   OrderChecker
	logger   *slog.Logger
}

// NewKhipu wires a processor for one variant.
func NewKhipu(variant Variant, site config.Site, gw Gateway, rec Recorder, orders OrderChecker, logger *slog.Logger) *Khipu {
	return &Khipu{
		variant:  variant,
		site:     site,
		gateway:  gw,
		recorder: rec,
		orders:   orders,
		logger:   logger.With("processor", variant.Name()),
	}
}

func (k *Khipu) Name() string { return k.variant.Name() }

type createResponse struct {
	PaymentID  string `json:"payment_id"`
	PaymentURL string `json:"payment_url"`
}

// CreateTransaction opens a gateway payment for the basket and returns the page the
// buyer must be sent to.
func (k *Khipu) CreateTransaction(ctx context.Context, basket *baskets.Basket) (*TransactionParameters, error) {
	total, err := basket.Total()
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"transaction_id":         basket.OrderNumber,
		"subject":                basket.OrderNumber,
		"currency":               basket.Currency,
		"amount":                 total.StringFixed(2),
		"return_url":             k.site.ReceiptURL(basket.OrderNumber),
		"cancel_url":             k.site.CancelURL(),
		"notify_url":             k.site.CallbackURL(k.variant.NotifyPath()),
		"notify_api_version":     NotificationAPIVersion,
		"responsible_user_email": k.site.Khipu.ResponsibleUserEmail,
	}

	resp, err := k.gateway.Do(ctx, http.MethodPost, "payments", params)
	if err != nil {
		return nil, fmt.Errorf("create payment for basket %d: %w", basket.BasketID, err)
	}

	if resp.StatusCode != http.StatusCreated {
		k.logger.Error("payment declined",
			"basket_id", basket.BasketID,
			"status", resp.StatusCode,
			"body", string(resp.Body))
		k.record(ctx, responses.Entry{BasketID: basket.BasketID, Response: string(resp.Body)})
		return nil, fmt.Errorf("%w: basket %d, http status %d", ErrDeclinedTransaction, basket.BasketID, resp.StatusCode)
	}

	var created createResponse
	if err := json.Unmarshal(resp.Body, &created); err != nil || created.PaymentID == "" {
		k.record(ctx, responses.Entry{BasketID: basket.BasketID, Response: string(resp.Body)})
		return nil, fmt.Errorf("%w: basket %d, unreadable response", ErrDeclinedTransaction, basket.BasketID)
	}

	// Notifications are matched back to the basket through this record, so losing it
	// would strand the payment.
	if _, err := k.recorder.Record(ctx, responses.Entry{
		ProcessorName: k.Name(),
		TransactionID: created.PaymentID,
		BasketID:      basket.BasketID,
		Response:      string(resp.Body),
	}); err != nil {
		return nil, fmt.Errorf("record payment %s: %w", created.PaymentID, err)
	}

	k.logger.Info("payment created",
		"basket_id", basket.BasketID,
		"order_number", basket.OrderNumber,
		"transaction_id", created.PaymentID,
		"amount", total.String())

	return &TransactionParameters{PaymentID: created.PaymentID, PaymentPageURL: created.PaymentURL}, nil
}

// ParseNotification checks the notification protocol version and fetches the
// authoritative transaction detail for its token.
func (k *Khipu) ParseNotification(ctx context.Context, n Notification) (*TransactionDetail, error) {
	if n.APIVersion != NotificationAPIVersion {
		k.logger.Error("unexpected notification api_version",
			"api_version", n.APIVersion,
			"expected", NotificationAPIVersion)
		k.record(ctx, responses.Entry{Response: n.Encode()})
		return nil, fmt.Errorf("%w: %q", ErrInvalidProtocolVersion, n.APIVersion)
	}

	resp, err := k.gateway.Do(ctx, http.MethodGet, "payments", map[string]string{
		"notification_token": n.NotificationToken,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		k.logger.Error("notification token rejected",
			"notification_token", n.NotificationToken,
			"status", resp.StatusCode,
			"body", string(resp.Body))
		k.record(ctx, responses.Entry{Response: string(resp.Body)})
		return nil, fmt.Errorf("%w: notification token rejected with http status %d", ErrLookupFailure, resp.StatusCode)
	}
	return decodeDetail(resp.Body)
}

// Lookup fetches a payment by its gateway id.
func (k *Khipu) Lookup(ctx context.Context, paymentID string) (*TransactionDetail, error) {
	resp, err := k.gateway.Do(ctx, http.MethodGet, "payments/"+paymentID, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: payment %s, http status %d", ErrLookupFailure, paymentID, resp.StatusCode)
	}
	return decodeDetail(resp.Body)
}

// Reconcile decides whether a transaction pays for basket. The detail is recorded
// against the basket whatever the outcome.
func (k *Khipu) Reconcile(ctx context.Context, detail *TransactionDetail, basket *baskets.Basket) (Result, error) {
	k.RecordDetail(ctx, detail, basket)

	log := k.logger.With(
		"transaction_id", detail.PaymentID,
		"basket_id", basket.BasketID,
		"order_number", basket.OrderNumber,
		"amount", detail.Amount.String())

	if detail.Status != StatusDone {
		log.Error("transaction not done", "status", detail.Status)
		return Result{}, fmt.Errorf("%w: payment %s status %q", ErrGatewayNotReady, detail.PaymentID, detail.Status)
	}

	total, err := basket.Total()
	if err != nil {
		return Result{}, err
	}
	if !detail.Amount.Equal(total) {
		log.Error("transaction amount differs from basket total", "expected", total.String())
		return Result{}, fmt.Errorf("%w: %w: paid %s, expected %s",
			ErrGatewayNotReady, ErrAmountMismatch, detail.Amount.String(), total.String())
	}

	exists, err := k.orders.Exists(ctx, basket.OrderNumber)
	if err != nil {
		return Result{}, fmt.Errorf("check order %s: %w", basket.OrderNumber, err)
	}
	if exists {
		log.Warn("order already placed for transaction")
		return Result{Outcome: OutcomeAlreadyProcessed}, nil
	}

	return Result{
		Outcome: OutcomeConfirmed,
		Confirmation: &Confirmation{
			Processor:     k.Name(),
			TransactionID: detail.PaymentID,
			Amount:        detail.Amount,
			Currency:      detail.Currency,
			MethodMarker:  fmt.Sprintf("%s_%d", k.variant.MethodMarker(), basket.BasketID),
		},
	}, nil
}

// RecordDetail writes the transaction detail to the response log.
func (k *Khipu) RecordDetail(ctx context.Context, detail *TransactionDetail, basket *baskets.Basket) {
	e := responses.Entry{Response: detail.Raw}
	if basket != nil {
		e.BasketID = basket.BasketID
	}
	k.record(ctx, e)
}

// record writes an audit entry. Failures are logged and otherwise ignored; the
// caller's outcome does not depend on them.
func (k *Khipu) record(ctx context.Context, e responses.Entry) {
	e.ProcessorName = k.Name()
	if _, err := k.recorder.Record(ctx, e); err != nil {
		k.logger.Error("record processor response", "basket_id", e.BasketID, "err", err)
	}
}

func decodeDetail(body []byte) (*TransactionDetail, error) {
	var d TransactionDetail
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("%w: decode payment: %v", ErrLookupFailure, err)
	}
	d.Raw = string(body)
	return &d, nil
}
