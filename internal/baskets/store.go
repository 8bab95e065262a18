package baskets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-khipu-checkout/internal/aws"
)

var (
	// ErrNotFound means no basket matched.
	ErrNotFound = errors.New("basket not found")
	// ErrNotOpen means the basket was already submitted.
	ErrNotOpen = errors.New("basket not open for checkout")
)

const basketSequence = "basket"

// Store encapsulates basket persistence.
type Store struct {
	client        aws.DynamoDBAPI
	tableName     string
	countersTable string
	prefix        string
	nowFunc       func() time.Time
}

// NewStore returns a Store. prefix is the order number prefix.
func NewStore(client aws.DynamoDBAPI, tableName, countersTable, prefix string) *Store {
	return &Store{
		client:        client,
		tableName:     tableName,
		countersTable: countersTable,
		prefix:        prefix,
		nowFunc:       time.Now,
	}
}

// TableName is exposed for transactions spanning several stores.
func (s *Store) TableName() string { return s.tableName }

// Create allocates a basket id and persists an OPEN basket.
func (s *Store) Create(ctx context.Context, nb NewBasket) (*Basket, error) {
	id, err := s.nextID(ctx)
	if err != nil {
		return nil, err
	}

	now := s.nowFunc().UTC()
	b := Basket{
		BasketID:     id,
		OwnerID:      nb.OwnerID,
		Site:         nb.Site,
		OrderNumber:  OrderNumber(s.prefix, id),
		Currency:     nb.Currency,
		Lines:        nb.Lines,
		TotalInclTax: nb.Total.StringFixed(2),
		Status:       StatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	item, err := attributevalue.MarshalMap(b)
	if err != nil {
		return nil, fmt.Errorf("marshal basket: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(basket_id)"),
	})
	if err != nil {
		return nil, fmt.Errorf("put basket: %w", err)
	}
	return &b, nil
}

// nextID bumps the basket sequence atomically.
func (s *Store) nextID(ctx context.Context) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.countersTable,
		Key: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: basketSequence},
		},
		UpdateExpression: awsString("SET seq = if_not_exists(seq, :zero) + :inc"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":inc":  &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("allocate basket id: %w", err)
	}
	seq, ok := out.Attributes["seq"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("allocate basket id: missing sequence value")
	}
	id, err := strconv.ParseInt(seq.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("allocate basket id: %w", err)
	}
	return id, nil
}

// Get fetches a basket by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, id int64) (*Basket, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       basketKey(id),
	})
	if err != nil {
		return nil, fmt.Errorf("get basket: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var b Basket
	if err := attributevalue.UnmarshalMap(out.Item, &b); err != nil {
		return nil, fmt.Errorf("unmarshal basket: %w", err)
	}
	return &b, nil
}

// SetAttribute attaches name=value to the basket (e.g. the buyer's organization).
func (s *Store) SetAttribute(ctx context.Context, b *Basket, name, value string) error {
	attrs := make(map[string]string, len(b.Attributes)+1)
	for k, v := range b.Attributes {
		attrs[k] = v
	}
	attrs[name] = value

	av, err := attributevalue.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	now := s.nowFunc().UTC()
	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      basketKey(b.BasketID),
		UpdateExpression:         awsString("SET #a = :attrs, updated_at = :ua"),
		ConditionExpression:      awsString("attribute_exists(basket_id)"),
		ExpressionAttributeNames: map[string]string{"#a": "attributes"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":attrs": av,
			":ua":    &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("set basket attribute: %w", err)
	}
	b.Attributes = attrs
	return nil
}

// Freeze marks the basket as having a gateway transaction. Freezing a frozen basket
// is a no-op; a submitted basket yields ErrNotOpen.
func (s *Store) Freeze(ctx context.Context, id int64) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      basketKey(id),
		UpdateExpression:         awsString("SET #s = :frozen, updated_at = :ua"),
		ConditionExpression:      awsString("#s = :open OR #s = :frozen"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":open":   &types.AttributeValueMemberS{Value: StatusOpen},
			":frozen": &types.AttributeValueMemberS{Value: StatusFrozen},
			":ua":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotOpen
		}
		return fmt.Errorf("freeze basket: %w", err)
	}
	return nil
}

// SubmitItem is the transactional write that consumes the basket. It fails the
// surrounding transaction if the basket is already submitted or missing.
func (s *Store) SubmitItem(id int64) types.TransactWriteItem {
	now := s.nowFunc().UTC()
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                &s.tableName,
			Key:                      basketKey(id),
			UpdateExpression:         awsString("SET #s = :submitted, updated_at = :ua"),
			ConditionExpression:      awsString("#s = :open OR #s = :frozen"),
			ExpressionAttributeNames: map[string]string{"#s": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":open":      &types.AttributeValueMemberS{Value: StatusOpen},
				":frozen":    &types.AttributeValueMemberS{Value: StatusFrozen},
				":submitted": &types.AttributeValueMemberS{Value: StatusSubmitted},
				":ua":        &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			},
		},
	}
}

func basketKey(id int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"basket_id": &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
	}
}

func awsString(s string) *string { return &s }
