package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-khipu-checkout/internal/testutil/dynamofake"
)

func newTestStore() (*Store, *dynamofake.Fake) {
	fake := dynamofake.New(map[string]string{"notification_ledger": "idempotency_key"})
	return NewStore(fake, "notification_ledger", 48*time.Hour), fake
}

func TestKey(t *testing.T) {
	assert.Equal(t, "khipu:pay-1", Key("khipu", "pay-1"))
}

func TestCreateIfNotExists_Get_MarkDone(t *testing.T) {
	s, fake := newTestStore()
	ctx := context.Background()
	key := Key("khipu", "pay-1")

	created, err := s.CreateIfNotExists(ctx, key, "EDX-100001")
	require.NoError(t, err)
	require.True(t, created)

	created, err = s.CreateIfNotExists(ctx, key, "EDX-100001")
	require.NoError(t, err)
	require.False(t, created)

	rec, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusInProgress, rec.Status)
	assert.Equal(t, "EDX-100001", rec.OrderNumber)
	assert.Equal(t, 1, rec.Attempts)
	assert.Greater(t, rec.ExpiresAt, time.Now().Unix())

	require.NoError(t, s.MarkDone(ctx, key, "EDX-100001", 200))

	item := fake.Item("notification_ledger", key)
	st, ok := item["status"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, StatusDone, st.Value)
	rs, ok := item["response_status"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	assert.Equal(t, "200", rs.Value)

	// a failure reported after DONE does not overwrite it
	require.NoError(t, s.MarkFailed(ctx, key, "late failure", 404))
	rec, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, rec.Status)
}

func TestClaim_ReopensFailedEntry(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	key := Key("khipu", "pay-2")

	prev, err := s.Claim(ctx, key, "EDX-100002")
	require.NoError(t, err)
	assert.Nil(t, prev)

	require.NoError(t, s.MarkFailed(ctx, key, "fulfillment failed", 404))

	prev, err = s.Claim(ctx, key, "EDX-100002")
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, StatusFailed, prev.Status)
	assert.Equal(t, "fulfillment failed", prev.Note)

	rec, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, rec.Status)
	assert.Equal(t, 2, rec.Attempts)
}

func TestClaim_DoneEntryIsReturnedUnchanged(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	key := Key("khipu", "pay-3")

	_, err := s.Claim(ctx, key, "EDX-100003")
	require.NoError(t, err)
	require.NoError(t, s.MarkDone(ctx, key, "EDX-100003", 200))

	prev, err := s.Claim(ctx, key, "EDX-100003")
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, StatusDone, prev.Status)
	assert.Equal(t, 200, prev.ResponseStatus)
}

func TestMarkDone_KeepsFirstResponse(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	key := Key("khipu", "pay-4")

	_, err := s.Claim(ctx, key, "EDX-100004")
	require.NoError(t, err)
	require.NoError(t, s.MarkDone(ctx, key, "EDX-100004", 200))

	_, err = s.Claim(ctx, key, "EDX-100004")
	require.NoError(t, err)
	require.NoError(t, s.MarkDone(ctx, key, "EDX-100004", 409))

	rec, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, rec.Status)
	assert.Equal(t, 200, rec.ResponseStatus)
}

func TestMarkDone_PlacedAnswerReplacesEarlierConflict(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	key := Key("khipu", "pay-5")

	_, err := s.Claim(ctx, key, "EDX-100005")
	require.NoError(t, err)
	require.NoError(t, s.MarkDone(ctx, key, "EDX-100005", 409))
	require.NoError(t, s.MarkDone(ctx, key, "EDX-100005", 200))

	rec, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.ResponseStatus)
}
