package outbox

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// undeliveredMarker is the value of Event.Undelivered while an event awaits delivery.
// The attribute is removed once sent, so the index over it only holds pending work.
const undeliveredMarker = "1"

// Event types
const (
	TypeOrderPlaced = "order.placed"
)

// Event is a message committed alongside the state change that caused it and
// delivered to the queue afterwards.
type Event struct {
	EventID     string    `dynamodbav:"event_id" json:"event_id"` // PK
	AggregateID string    `dynamodbav:"aggregate_id" json:"aggregate_id"`
	Type        string    `dynamodbav:"type" json:"type"`
	Payload     string    `dynamodbav:"payload" json:"payload"`
	Status      Status    `dynamodbav:"status" json:"status"`
	Undelivered string    `dynamodbav:"undelivered,omitempty" json:"-"` // sparse index key
	RetryCount  int       `dynamodbav:"retry_count" json:"retry_count"`
	LastError   string    `dynamodbav:"last_error,omitempty" json:"last_error,omitempty"`
	CreatedAt   time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt   time.Time `dynamodbav:"updated_at" json:"updated_at"`
}
