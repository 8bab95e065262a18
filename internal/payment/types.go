package payment

import (
	"net/url"

	"github.com/shopspring/decimal"
)

// NotificationAPIVersion is the notification protocol version requested from, and
// expected back from, the gateway.
const NotificationAPIVersion = "1.3"

// StatusDone is the gateway status of a fully paid transaction.
const StatusDone = "done"

// Notification is the inbound webhook form.
type Notification struct {
	APIVersion        string `form:"api_version"`
	NotificationToken string `form:"notification_token"`
}

// Encode renders the notification as it arrived, for the audit record.
func (n Notification) Encode() string {
	return url.Values{
		"api_version":        {n.APIVersion},
		"notification_token": {n.NotificationToken},
	}.Encode()
}

// TransactionDetail is the authoritative transaction state fetched from the gateway.
type TransactionDetail struct {
	PaymentID        string          `json:"payment_id"`
	PaymentURL       string          `json:"payment_url,omitempty"`
	TransactionID    string          `json:"transaction_id"`
	Subject          string          `json:"subject"`
	Currency         string          `json:"currency"`
	Amount           decimal.Decimal `json:"amount"`
	Status           string          `json:"status"`
	StatusDetail     string          `json:"status_detail,omitempty"`
	PayerEmail       string          `json:"payer_email,omitempty"`
	PaymentMethod    string          `json:"payment_method,omitempty"`
	NotifyAPIVersion string          `json:"notify_api_version,omitempty"`

	// Raw is the body as received, kept for the audit record.
	Raw string `json:"-"`
}

// TransactionParameters is what checkout needs to redirect the buyer.
type TransactionParameters struct {
	PaymentID      string `json:"payment_id"`
	PaymentPageURL string `json:"payment_page_url"`
}

// Outcome of reconciling a confirmed transaction against its basket.
type Outcome int

const (
	// OutcomeConfirmed: payment matches the basket and no order exists yet.
	OutcomeConfirmed Outcome = iota + 1
	// OutcomeAlreadyProcessed: an order already exists for the basket's order
	// number; the caller acknowledges without placing another.
	OutcomeAlreadyProcessed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeAlreadyProcessed:
		return "already_processed"
	default:
		return "unknown"
	}
}

// Confirmation is the normalised payment handed to order placement.
type Confirmation struct {
	Processor     string
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	MethodMarker  string
}

// Result of Reconcile. Confirmation is set only for OutcomeConfirmed.
type Result struct {
	Outcome      Outcome
	Confirmation *Confirmation
}
