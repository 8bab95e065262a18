package responses

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-khipu-checkout/internal/aws"
)

// Store appends processor responses. Records are never updated.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	indexName string
	nowFunc   func() time.Time
	newID     func() string
}

// NewStore returns a Store. indexName is the GSI keyed on processor_transaction.
func NewStore(client aws.DynamoDBAPI, tableName, indexName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		indexName: indexName,
		nowFunc:   time.Now,
		newID:     uuid.NewString,
	}
}

// Record appends a new entry.
func (s *Store) Record(ctx context.Context, e Entry) (*Record, error) {
	rec := Record{
		ResponseID:    s.newID(),
		ProcessorName: e.ProcessorName,
		TransactionID: e.TransactionID,
		BasketID:      e.BasketID,
		Response:      e.Response,
		CreatedAt:     s.nowFunc().UTC(),
	}
	if e.TransactionID != "" {
		rec.ProcessorTransaction = TransactionKey(e.ProcessorName, e.TransactionID)
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal processor response: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(response_id)"),
	})
	if err != nil {
		return nil, fmt.Errorf("put processor response: %w", err)
	}
	return &rec, nil
}

// FindByTransaction returns every record carrying processor + transaction id.
func (s *Store) FindByTransaction(ctx context.Context, processorName, transactionID string) ([]Record, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              &s.indexName,
		KeyConditionExpression: awsString("processor_transaction = :k"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":k": &types.AttributeValueMemberS{Value: TransactionKey(processorName, transactionID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query processor responses: %w", err)
	}
	var recs []Record
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &recs); err != nil {
		return nil, fmt.Errorf("unmarshal processor responses: %w", err)
	}
	return recs, nil
}

func awsString(s string) *string { return &s }
