package baskets

import (
	"context"
	"errors"
	"testing"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-khipu-checkout/internal/responses"
	"github.com/imrishuroy/go-khipu-checkout/internal/testutil/dynamofake"
)

func newTestStore() (*Store, *dynamofake.Fake) {
	fake := dynamofake.New(map[string]string{
		"baskets":             "basket_id",
		"counters":            "name",
		"processor_responses": "response_id",
	})
	return NewStore(fake, "baskets", "counters", "EDX"), fake
}

func newBasket(t *testing.T, s *Store) *Basket {
	t.Helper()
	b, err := s.Create(context.Background(), NewBasket{
		OwnerID:  "user-1",
		Site:     "default",
		Currency: "CLP",
		Lines:    []Line{{SKU: "course-v1", Quantity: 1, UnitPrice: "100.00"}},
		Total:    decimal.RequireFromString("100"),
	})
	require.NoError(t, err)
	return b
}

func TestOrderNumber_Idempotent(t *testing.T) {
	assert.Equal(t, "EDX-100042", OrderNumber("EDX", 42))
	assert.Equal(t, OrderNumber("EDX", 42), OrderNumber("EDX", 42))
}

func TestCreate_AllocatesSequentialIDs(t *testing.T) {
	s, _ := newTestStore()

	first := newBasket(t, s)
	second := newBasket(t, s)

	assert.Equal(t, int64(1), first.BasketID)
	assert.Equal(t, int64(2), second.BasketID)
	assert.Equal(t, "EDX-100001", first.OrderNumber)
	assert.Equal(t, "100.00", first.TotalInclTax)
	assert.Equal(t, StatusOpen, first.Status)

	got, err := s.Get(context.Background(), first.BasketID)
	require.NoError(t, err)
	require.NotNil(t, got)
	total, err := got.Total()
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("100.00")))
}

func TestGet_Missing(t *testing.T) {
	s, _ := newTestStore()
	got, err := s.Get(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSetAttribute(t *testing.T) {
	s, _ := newTestStore()
	b := newBasket(t, s)

	require.NoError(t, s.SetAttribute(context.Background(), b, "organization", "acme"))
	assert.Equal(t, "acme", b.Attributes["organization"])

	got, err := s.Get(context.Background(), b.BasketID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"organization": "acme"}, got.Attributes)

	err = s.SetAttribute(context.Background(), &Basket{BasketID: 404}, "organization", "acme")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFreezeAndSubmit(t *testing.T) {
	s, fake := newTestStore()
	b := newBasket(t, s)
	ctx := context.Background()

	require.NoError(t, s.Freeze(ctx, b.BasketID))
	require.NoError(t, s.Freeze(ctx, b.BasketID))

	_, err := fake.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{s.SubmitItem(b.BasketID)},
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, b.BasketID)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, got.Status)

	assert.ErrorIs(t, s.Freeze(ctx, b.BasketID), ErrNotOpen)

	_, err = fake.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{s.SubmitItem(b.BasketID)},
	})
	var tce *types.TransactionCanceledException
	assert.True(t, errors.As(err, &tce))
}

func TestResolver_GetByTransaction(t *testing.T) {
	s, fake := newTestStore()
	rs := responses.NewStore(fake, "processor_responses", "processor_transaction-index")
	r := NewResolver(rs, s)
	ctx := context.Background()

	b := newBasket(t, s)
	_, err := rs.Record(ctx, responses.Entry{ProcessorName: "khipu", TransactionID: "pay-1", BasketID: b.BasketID})
	require.NoError(t, err)

	got, err := r.GetByTransaction(ctx, "khipu", "pay-1")
	require.NoError(t, err)
	assert.Equal(t, b.BasketID, got.BasketID)

	_, err = r.GetByTransaction(ctx, "khipu_webpay", "pay-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = rs.Record(ctx, responses.Entry{ProcessorName: "khipu", TransactionID: "pay-1", BasketID: b.BasketID})
	require.NoError(t, err)
	_, err = r.GetByTransaction(ctx, "khipu", "pay-1")
	assert.ErrorIs(t, err, ErrDuplicateTransaction)
}
