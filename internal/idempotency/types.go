package idempotency

import "time"

// Status values for ledger entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Record is one notification ledger entry, keyed by processor and transaction id.
type Record struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK, "<processor>:<transaction id>"
	Status         string    `dynamodbav:"status"`
	OrderNumber    string    `dynamodbav:"order_number,omitempty"`
	ResponseStatus int       `dynamodbav:"response_status,omitempty"` // HTTP status returned to the gateway
	Attempts       int       `dynamodbav:"attempts,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}

// Key builds the ledger key for a processor + transaction id.
func Key(processorName, transactionID string) string {
	return processorName + ":" + transactionID
}
