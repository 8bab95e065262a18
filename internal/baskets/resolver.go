package baskets

import (
	"context"
	"errors"
	"fmt"

	"github.com/imrishuroy/go-khipu-checkout/internal/responses"
)

// ErrDuplicateTransaction means more than one processor response claims the same
// transaction id, so the basket cannot be picked safely.
var ErrDuplicateTransaction = errors.New("duplicate transaction id")

// ResponseFinder looks up processor responses by transaction.
type ResponseFinder interface {
	FindByTransaction(ctx context.Context, processorName, transactionID string) ([]responses.Record, error)
}

// Resolver maps a gateway transaction back to the basket that started it.
type Resolver struct {
	responses ResponseFinder
	baskets   *Store
}

// NewResolver returns a Resolver.
func NewResolver(finder ResponseFinder, store *Store) *Resolver {
	return &Resolver{responses: finder, baskets: store}
}

// GetByTransaction returns the basket recorded for processor + transaction id.
func (r *Resolver) GetByTransaction(ctx context.Context, processorName, transactionID string) (*Basket, error) {
	recs, err := r.responses.FindByTransaction(ctx, processorName, transactionID)
	if err != nil {
		return nil, err
	}
	switch {
	case len(recs) == 0:
		return nil, fmt.Errorf("%w: no response for %s transaction %s", ErrNotFound, processorName, transactionID)
	case len(recs) > 1:
		return nil, fmt.Errorf("%w: %s transaction %s has %d responses", ErrDuplicateTransaction, processorName, transactionID, len(recs))
	}
	if recs[0].BasketID == 0 {
		return nil, fmt.Errorf("%w: response %s has no basket", ErrNotFound, recs[0].ResponseID)
	}

	b, err := r.baskets.Get(ctx, recs[0].BasketID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: basket %d", ErrNotFound, recs[0].BasketID)
	}
	return b, nil
}
