package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-khipu-checkout/internal/logging"
	"github.com/imrishuroy/go-khipu-checkout/internal/testutil/dynamofake"
)

type publisherStub struct {
	mu     sync.Mutex
	bodies []string
	attrs  []map[string]string
	failOn map[string]bool
}

func (p *publisherStub) Publish(_ context.Context, body string, attrs map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn[attrs["event_id"]] {
		return "", errors.New("queue unavailable")
	}
	p.bodies = append(p.bodies, body)
	p.attrs = append(p.attrs, attrs)
	return "msg-" + attrs["event_id"], nil
}

func newTestStore(t *testing.T) (*Store, *dynamofake.Fake) {
	t.Helper()
	fake := dynamofake.New(map[string]string{"outbox": "event_id"})
	s := NewStore(fake, "outbox", "undelivered-index")
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s, fake
}

// commit writes events the way order placement does: inside a transaction.
func commit(t *testing.T, fake *dynamofake.Fake, s *Store, events ...Event) {
	t.Helper()
	items := make([]types.TransactWriteItem, 0, len(events))
	for _, e := range events {
		it, err := s.PutItem(e)
		require.NoError(t, err)
		items = append(items, it)
	}
	_, err := fake.TransactWriteItems(context.Background(), &dynamodb.TransactWriteItemsInput{TransactItems: items})
	require.NoError(t, err)
}

func TestNewEvent(t *testing.T) {
	s, _ := newTestStore(t)
	e, err := s.NewEvent("EDX-100001", TypeOrderPlaced, map[string]string{"order_number": "EDX-100001"})
	require.NoError(t, err)
	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, StatusPending, e.Status)
	assert.JSONEq(t, `{"order_number":"EDX-100001"}`, e.Payload)
}

func TestPendingOrderAndRetryCap(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	first, _ := s.NewEvent("EDX-1", TypeOrderPlaced, 1)
	second, _ := s.NewEvent("EDX-2", TypeOrderPlaced, 2)
	third, _ := s.NewEvent("EDX-3", TypeOrderPlaced, 3)
	commit(t, fake, s, third, first, second)

	require.NoError(t, s.MarkSent(ctx, second.EventID))
	require.NoError(t, s.MarkFailed(ctx, third.EventID, "boom"))
	require.NoError(t, s.MarkFailed(ctx, third.EventID, "boom again"))

	pending, err := s.Pending(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.EventID, pending[0].EventID)
	assert.Equal(t, third.EventID, pending[1].EventID)
	assert.Equal(t, 2, pending[1].RetryCount)
	assert.Equal(t, "boom again", pending[1].LastError)

	capped, err := s.Pending(ctx, 10, 2)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, first.EventID, capped[0].EventID)

	limited, err := s.Pending(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestPending_ReadsOnlyUndeliveredIndex(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	sent, _ := s.NewEvent("EDX-1", TypeOrderPlaced, 1)
	failed, _ := s.NewEvent("EDX-2", TypeOrderPlaced, 2)
	commit(t, fake, s, sent, failed)

	require.NoError(t, s.MarkSent(ctx, sent.EventID))
	require.NoError(t, s.MarkFailed(ctx, failed.EventID, "boom"))

	_, ok := fake.Item("outbox", sent.EventID)["undelivered"]
	assert.False(t, ok, "sent events drop out of the sparse index")
	_, ok = fake.Item("outbox", failed.EventID)["undelivered"]
	assert.True(t, ok)

	pending, err := s.Pending(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, failed.EventID, pending[0].EventID)
	assert.Equal(t, 1, fake.Calls["Query"])
}

func TestMarkSent_UnknownEvent(t *testing.T) {
	s, _ := newTestStore(t)
	require.Error(t, s.MarkSent(context.Background(), "nope"))
}

func TestRelayFlush(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	ok, _ := s.NewEvent("EDX-1", TypeOrderPlaced, map[string]string{"order_number": "EDX-1"})
	bad, _ := s.NewEvent("EDX-2", TypeOrderPlaced, map[string]string{"order_number": "EDX-2"})
	commit(t, fake, s, ok, bad)

	pub := &publisherStub{failOn: map[string]bool{bad.EventID: true}}
	relay := NewRelay(logging.Discard(), s, NewDispatcher(logging.Discard(), pub), WithBatchSize(10))

	sent, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, pub.attrs, 1)
	assert.Equal(t, TypeOrderPlaced, pub.attrs[0]["event_type"])
	assert.Equal(t, "EDX-1", pub.attrs[0]["aggregate_id"])
	assert.JSONEq(t, `{"order_number":"EDX-1"}`, pub.bodies[0])

	var stored Event
	require.NoError(t, attributevalue.UnmarshalMap(fake.Item("outbox", ok.EventID), &stored))
	assert.Equal(t, StatusSent, stored.Status)
	require.NoError(t, attributevalue.UnmarshalMap(fake.Item("outbox", bad.EventID), &stored))
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)

	// queue recovers; only the failed event goes out again
	pub.failOn = nil
	sent, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, pub.attrs, 2)
	assert.Equal(t, "EDX-2", pub.attrs[1]["aggregate_id"])
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	s, _ := newTestStore(t)
	relay := NewRelay(logging.Discard(), s, NewDispatcher(logging.Discard(), &publisherStub{}), WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
