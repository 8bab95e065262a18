package responses

import "time"

// Record is one raw gateway exchange kept for audit and for correlating asynchronous
// notifications with the basket that started the transaction.
type Record struct {
	ResponseID    string `dynamodbav:"response_id"` // PK
	ProcessorName string `dynamodbav:"processor_name"`
	TransactionID string `dynamodbav:"transaction_id,omitempty"`
	BasketID      int64  `dynamodbav:"basket_id,omitempty"`
	Response      string `dynamodbav:"response"`
	// ProcessorTransaction is "<processor>#<transaction id>"; only set when a
	// transaction id is known, so the index stays sparse.
	ProcessorTransaction string    `dynamodbav:"processor_transaction,omitempty"`
	CreatedAt            time.Time `dynamodbav:"created_at"`
}

// Entry is what callers hand to Store.Record.
type Entry struct {
	ProcessorName string
	TransactionID string
	BasketID      int64
	Response      string
}

// TransactionKey builds the index key for processor + transaction id.
func TransactionKey(processorName, transactionID string) string {
	return processorName + "#" + transactionID
}
