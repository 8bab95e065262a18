package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-khipu-checkout/internal/aws"
)

var (
	// ErrOrderExists is returned by Place when an order with the same number was
	// already committed. It is the idempotence guard for gateway retries.
	ErrOrderExists = errors.New("order already exists")
	// ErrStatusMismatch is returned by UpdateStatus when the condition failed.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Place atomically creates the order together with the caller's related writes
// (basket submission, outbox event, ...). The order put carries
// attribute_not_exists(order_number), so of two concurrent placements for the same
// number exactly one commits; the other gets ErrOrderExists and nothing is written.
// A TransactionConflict cancellation also maps to ErrOrderExists once the
// competing order is visible.
func (s *Store) Place(ctx context.Context, order Order, related ...types.TransactWriteItem) error {
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = StatusPlaced
	}

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	transactItems := make([]types.TransactWriteItem, 0, len(related)+1)
	transactItems = append(transactItems, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                orderMap,
			ConditionExpression: awsString("attribute_not_exists(order_number)"),
		},
	})
	transactItems = append(transactItems, related...)

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			var code string
			if len(tce.CancellationReasons) > 0 {
				code = reasonCode(tce.CancellationReasons[0])
			}
			switch code {
			case "ConditionalCheckFailed":
				return fmt.Errorf("place order %s: %w", order.OrderNumber, ErrOrderExists)
			case "TransactionConflict":
				// An overlapping placement held the order item. If it committed,
				// this attempt lost the race.
				exists, gerr := s.Exists(ctx, order.OrderNumber)
				if gerr == nil && exists {
					return fmt.Errorf("place order %s: %w", order.OrderNumber, ErrOrderExists)
				}
			}
			return fmt.Errorf("place order %s: transaction canceled (%s): %w", order.OrderNumber, reasons(tce), err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Exists reports whether an order with orderNumber was committed.
func (s *Store) Exists(ctx context.Context, orderNumber string) (bool, error) {
	o, err := s.Get(ctx, orderNumber)
	if err != nil {
		return false, err
	}
	return o != nil, nil
}

// Get fetches an order by order_number. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderNumber string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderNumber),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// Returns nil on success, ErrStatusMismatch if condition failed.
func (s *Store) UpdateStatus(ctx context.Context, orderNumber, expectedStatus, newStatus string) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      orderKey(orderNumber),
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: newStatus},
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("#s = :expected"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// IncrementAttempts increases the attempts counter by 1 (worker retries).
func (s *Store) IncrementAttempts(ctx context.Context, orderNumber string) (int, error) {
	now := s.nowFunc().UTC()
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 orderKey(orderNumber),
		UpdateExpression:    awsString("SET attempts = if_not_exists(attempts, :zero) + :inc, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(order_number)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":inc":  &types.AttributeValueMemberN{Value: "1"},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	var attempts int
	if av, ok := out.Attributes["attempts"]; ok {
		if err := attributevalue.Unmarshal(av, &attempts); err != nil {
			return 0, fmt.Errorf("unmarshal attempts: %w", err)
		}
	}
	return attempts, nil
}

func orderKey(orderNumber string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_number": &types.AttributeValueMemberS{Value: orderNumber},
	}
}

func reasonCode(r types.CancellationReason) string {
	if r.Code == nil {
		return ""
	}
	return *r.Code
}

func reasons(tce *types.TransactionCanceledException) string {
	codes := make([]string, 0, len(tce.CancellationReasons))
	for _, r := range tce.CancellationReasons {
		codes = append(codes, reasonCode(r))
	}
	return strings.Join(codes, ",")
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
