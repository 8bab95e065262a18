package payment

import "errors"

var (
	// ErrDeclinedTransaction: the gateway refused to create the transaction.
	ErrDeclinedTransaction = errors.New("transaction declined")
	// ErrInvalidProtocolVersion: the notification declares an unexpected api_version.
	ErrInvalidProtocolVersion = errors.New("invalid notification api_version")
	// ErrLookupFailure: the gateway would not return the transaction detail.
	ErrLookupFailure = errors.New("transaction lookup failed")
	// ErrGatewayNotReady: the transaction is not done, or does not match the basket.
	ErrGatewayNotReady = errors.New("transaction not ready")
	// ErrAmountMismatch accompanies ErrGatewayNotReady when the paid amount differs
	// from the basket total.
	ErrAmountMismatch = errors.New("transaction amount mismatch")
	// ErrBasketUnresolved: no single basket matches the notified transaction.
	ErrBasketUnresolved = errors.New("basket unresolved")
	// ErrFulfillmentFailure: payment was confirmed but the order could not be placed.
	ErrFulfillmentFailure = errors.New("order fulfillment failed")
)
