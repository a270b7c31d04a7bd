package dentalchart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoAPI interface {
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// chartItem is the DynamoDB item layout. The document travels as one JSON string attribute.
type chartItem struct {
	PatientID string `dynamodbav:"patientId"`
	Version   int64  `dynamodbav:"version"`
	Document  string `dynamodbav:"document"`
	UpdatedAt string `dynamodbav:"updatedAt"`
}

// DynamoRepository stores charts in a DynamoDB table keyed by patientId.
type DynamoRepository struct {
	client    dynamoAPI
	tableName string
}

// NewDynamoRepository builds a store backed by the provided DynamoDB client.
func NewDynamoRepository(client dynamoAPI, tableName string) *DynamoRepository {
	if client == nil {
		panic("dentalchart: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("dentalchart: table name cannot be empty")
	}
	return &DynamoRepository{client: client, tableName: tableName}
}

// Load fetches the stored document.
func (r *DynamoRepository) Load(ctx context.Context, patientID string) (*Document, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"patientId": &types.AttributeValueMemberS{Value: patientID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dentalchart: dynamodb get: %w", err)
	}
	if out.Item == nil {
		return nil, ErrChartNotFound
	}
	var item chartItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("dentalchart: decode item: %w", err)
	}
	doc, err := decodeDocument([]byte(item.Document))
	if err != nil {
		return nil, err
	}
	doc.Version = item.Version
	return doc, nil
}

// Save writes the document with a conditional put, or an unconditional update when forced.
func (r *DynamoRepository) Save(ctx context.Context, doc *Document, opts SaveOptions) error {
	if err := checkSavable(doc); err != nil {
		return err
	}
	if opts.Force {
		return r.overwrite(ctx, doc)
	}

	next := doc.Version + 1
	payload, err := marshalVersion(doc, next)
	if err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(chartItem{
		PatientID: doc.PatientID,
		Version:   next,
		Document:  string(payload),
		UpdatedAt: doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("dentalchart: marshal item: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	}
	if doc.Version == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(patientId)")
	} else {
		input.ConditionExpression = aws.String("#version = :expected")
		input.ExpressionAttributeNames = map[string]string{"#version": "version"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(doc.Version, 10)},
		}
	}

	if _, err := r.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: base version %d", ErrVersionConflict, doc.Version)
		}
		return fmt.Errorf("dentalchart: dynamodb put: %w", err)
	}
	doc.Version = next
	return nil
}

func (r *DynamoRepository) overwrite(ctx context.Context, doc *Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("dentalchart: marshal document: %w", err)
	}
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"patientId": &types.AttributeValueMemberS{Value: doc.PatientID},
		},
		UpdateExpression: aws.String("SET #document = :document, #updated = :updated ADD #version :one"),
		ExpressionAttributeNames: map[string]string{
			"#document": "document",
			"#updated":  "updatedAt",
			"#version":  "version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":document": &types.AttributeValueMemberS{Value: string(payload)},
			":updated":  &types.AttributeValueMemberS{Value: doc.UpdatedAt.UTC().Format(time.RFC3339Nano)},
			":one":      &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return fmt.Errorf("dentalchart: dynamodb update: %w", err)
	}
	if attr, ok := out.Attributes["version"].(*types.AttributeValueMemberN); ok {
		if v, err := strconv.ParseInt(attr.Value, 10, 64); err == nil {
			doc.Version = v
			return nil
		}
	}
	doc.Version++
	return nil
}
