package outbox

import (
	"context"
	"log/slog"
	"time"
)

// EventStore is what the relay needs from the outbox table.
type EventStore interface {
	Pending(ctx context.Context, limit, maxRetries int) ([]Event, error)
	MarkSent(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID, errMsg string) error
}

// Relay re-sends events whose inline dispatch did not happen or failed.
type Relay struct {
	log        *slog.Logger
	store      EventStore
	dispatch   *Dispatcher
	batchSize  int
	maxRetries int
	interval   time.Duration
}

type RelayOption func(*Relay)

func WithBatchSize(n int) RelayOption          { return func(r *Relay) { r.batchSize = n } }
func WithMaxRetries(n int) RelayOption         { return func(r *Relay) { r.maxRetries = n } }
func WithInterval(d time.Duration) RelayOption { return func(r *Relay) { r.interval = d } }

func NewRelay(log *slog.Logger, store EventStore, dispatch *Dispatcher, opts ...RelayOption) *Relay {
	r := &Relay{
		log:        log,
		store:      store,
		dispatch:   dispatch,
		batchSize:  100,
		maxRetries: 10,
		interval:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Flush dispatches one batch and reports how many events were sent.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.store.Pending(ctx, r.batchSize, r.maxRetries)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, e := range events {
		if err := r.dispatch.Dispatch(ctx, e); err != nil {
			if mErr := r.store.MarkFailed(ctx, e.EventID, err.Error()); mErr != nil {
				r.log.Error("relay mark failed error", "event_id", e.EventID, "err", mErr)
			}
			continue
		}
		if err := r.store.MarkSent(ctx, e.EventID); err != nil {
			// delivered but not marked; the next flush sends it again
			r.log.Error("relay mark sent error", "event_id", e.EventID, "err", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// Run flushes on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopping")
			return nil
		case <-t.C:
			n, err := r.Flush(ctx)
			if err != nil {
				r.log.Error("relay flush error", "err", err)
				continue
			}
			if n > 0 {
				r.log.Info("relay flushed", "sent", n)
			}
		}
	}
}
