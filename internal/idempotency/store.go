package idempotency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-khipu-checkout/internal/aws"
)

// Store keeps the notification ledger in DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // default TTL window when creating entries
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// tableName: DynamoDB table name for ledger entries.
// ttlWindow: how long entries are kept (e.g., 30*24*time.Hour)
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// CreateIfNotExists creates an IN_PROGRESS entry if the key does not exist.
// Returns (created=true, nil) if successfully created.
// Returns (created=false, nil) if the entry already exists (caller should Get to inspect).
func (s *Store) CreateIfNotExists(ctx context.Context, key, orderNumber string) (bool, error) {
	now := s.nowFunc().UTC()
	rec := Record{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		OrderNumber:    orderNumber,
		Attempts:       1,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
	})
	if err != nil {
		if isConditionFailure(err) {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

// Claim opens the entry for a new handling attempt: it creates it, or re-opens an
// existing entry that is not DONE. The returned record reflects the state before the
// claim; it is nil when the entry was just created.
func (s *Store) Claim(ctx context.Context, key, orderNumber string) (*Record, error) {
	created, err := s.CreateIfNotExists(ctx, key, orderNumber)
	if err != nil {
		return nil, err
	}
	if created {
		return nil, nil
	}

	prev, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if prev == nil || prev.Status == StatusDone {
		return prev, nil
	}

	now := s.nowFunc().UTC()
	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      ledgerKey(key),
		UpdateExpression:         awsString("SET #s = :inprogress, attempts = if_not_exists(attempts, :zero) + :inc, updated_at = :ua"),
		ConditionExpression:      awsString("#s <> :done"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":done":       &types.AttributeValueMemberS{Value: StatusDone},
			":zero":       &types.AttributeValueMemberN{Value: "0"},
			":inc":        &types.AttributeValueMemberN{Value: "1"},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			// finished by a concurrent attempt in the meantime
			return s.Get(ctx, key)
		}
		return nil, fmt.Errorf("update item (claim): %w", err)
	}
	return prev, nil
}

// Get retrieves an entry by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       ledgerKey(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone sets status to DONE and stores the order number and the HTTP status
// answered to the gateway. An entry already DONE with 200 (the notification that
// placed the order) is left as is.
func (s *Store) MarkDone(ctx context.Context, key, orderNumber string, responseStatus int) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      ledgerKey(key),
		UpdateExpression:         awsString("SET #s = :done, order_number = :on, response_status = :rs, updated_at = :ua"),
		ConditionExpression:      awsString("#s <> :done OR response_status <> :ok"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done": &types.AttributeValueMemberS{Value: StatusDone},
			":ok":   &types.AttributeValueMemberN{Value: strconv.Itoa(http.StatusOK)},
			":on":   &types.AttributeValueMemberS{Value: orderNumber},
			":rs":   &types.AttributeValueMemberN{Value: strconv.Itoa(responseStatus)},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if isConditionFailure(err) {
			return nil
		}
		return fmt.Errorf("update item (mark done): %w", err)
	}
	return nil
}

// MarkFailed marks the entry FAILED with a note; the next gateway retry re-claims it.
// A DONE entry is left untouched.
func (s *Store) MarkFailed(ctx context.Context, key, note string, responseStatus int) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      ledgerKey(key),
		UpdateExpression:         awsString("SET #s = :failed, note = :n, response_status = :rs, updated_at = :ua"),
		ConditionExpression:      awsString("#s <> :done"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":done":   &types.AttributeValueMemberS{Value: StatusDone},
			":n":      &types.AttributeValueMemberS{Value: note},
			":rs":     &types.AttributeValueMemberN{Value: strconv.Itoa(responseStatus)},
			":ua":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if isConditionFailure(err) {
			return nil
		}
		return fmt.Errorf("update item (mark failed): %w", err)
	}
	return nil
}

func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var sc smithy.APIError
	return errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException"
}

func ledgerKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}

// Helper
func awsString(s string) *string { return &s }
