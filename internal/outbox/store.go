package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-khipu-checkout/internal/aws"
)

// Store keeps outbox events in DynamoDB. Undelivered events are read through
// pendingIndex, a sparse GSI keyed by undelivered with created_at as sort key.
type Store struct {
	client       aws.DynamoDBAPI
	tableName    string
	pendingIndex string
	nowFunc      func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName, pendingIndex string) *Store {
	return &Store{
		client:       client,
		tableName:    tableName,
		pendingIndex: pendingIndex,
		nowFunc:      time.Now,
	}
}

// NewEvent builds a pending event with a JSON payload.
func (s *Store) NewEvent(aggregateID, eventType string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	now := s.nowFunc().UTC()
	return Event{
		EventID:     uuid.NewString(),
		AggregateID: aggregateID,
		Type:        eventType,
		Payload:     string(body),
		Status:      StatusPending,
		Undelivered: undeliveredMarker,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// PutItem returns the transactional put for e, so the event commits or rolls back
// with the write that produced it.
func (s *Store) PutItem(e Event) (types.TransactWriteItem, error) {
	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal outbox event: %w", err)
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                item,
			ConditionExpression: awsString("attribute_not_exists(event_id)"),
		},
	}, nil
}

// Pending returns up to limit undelivered events, oldest first. Events that failed
// maxRetries times or more are left for manual inspection.
func (s *Store) Pending(ctx context.Context, limit, maxRetries int) ([]Event, error) {
	p := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 &s.tableName,
		IndexName:                 &s.pendingIndex,
		KeyConditionExpression:    awsString("undelivered = :u"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":u": &types.AttributeValueMemberS{Value: undeliveredMarker}},
		ScanIndexForward:          awsBool(true),
	})

	var events []Event
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query pending outbox events: %w", err)
		}
		var batch []Event
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal outbox events: %w", err)
		}
		for _, e := range batch {
			if maxRetries > 0 && e.RetryCount >= maxRetries {
				continue
			}
			events = append(events, e)
		}
		if limit > 0 && len(events) >= limit {
			break
		}
	}

	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// MarkSent records a successful delivery.
func (s *Store) MarkSent(ctx context.Context, eventID string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      eventKey(eventID),
		UpdateExpression:         awsString("SET #s = :sent, updated_at = :now REMOVE undelivered"),
		ConditionExpression:      awsString("attribute_exists(event_id)"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sent": &types.AttributeValueMemberS{Value: string(StatusSent)},
			":now":  &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("mark event %s sent: %w", eventID, err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt.
func (s *Store) MarkFailed(ctx context.Context, eventID, errMsg string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      eventKey(eventID),
		UpdateExpression:         awsString("SET #s = :failed, last_error = :err, updated_at = :now, retry_count = if_not_exists(retry_count, :zero) + :one"),
		ConditionExpression:      awsString("attribute_exists(event_id)"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: string(StatusFailed)},
			":err":    &types.AttributeValueMemberS{Value: errMsg},
			":now":    &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
			":zero":   &types.AttributeValueMemberN{Value: "0"},
			":one":    &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		return fmt.Errorf("mark event %s failed: %w", eventID, err)
	}
	return nil
}

func eventKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"event_id": &types.AttributeValueMemberS{Value: id},
	}
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
