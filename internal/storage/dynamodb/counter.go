package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"barid/backend/internal/domain"
)

const (
	attrKey   = "key"
	attrCount = "count"
)

// dynamodbAPI is the minimal DynamoDB interface required by CounterStore.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// CounterStore keeps sender counters in a DynamoDB table keyed by a string
// partition key "key" with a numeric "count" attribute.
type CounterStore struct {
	api       dynamodbAPI
	tableName string
}

var (
	_ domain.CounterStore = (*CounterStore)(nil)
	_ domain.Incrementer  = (*CounterStore)(nil)
)

// New creates a CounterStore over an existing client.
func New(api dynamodbAPI, tableName string) (*CounterStore, error) {
	if api == nil {
		return nil, errors.New("dynamodb: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamodb: table name must not be empty")
	}
	return &CounterStore{api: api, tableName: tableName}, nil
}

// NewFromRegion loads the default AWS configuration for region and builds a store.
func NewFromRegion(ctx context.Context, region, tableName string) (*CounterStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("dynamodb: load aws config: %w", err)
	}
	return New(dynamodb.NewFromConfig(cfg), tableName)
}

func keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrKey: &types.AttributeValueMemberS{Value: key},
	}
}

// Get returns domain.ErrCounterNotFound when the item does not exist.
func (c *CounterStore) Get(ctx context.Context, key string) (int64, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("dynamodb: get %s: %w", key, err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, domain.ErrCounterNotFound
	}
	return countAttr(out.Item)
}

func (c *CounterStore) Put(ctx context.Context, key string, value int64) error {
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			attrKey:   &types.AttributeValueMemberS{Value: key},
			attrCount: &types.AttributeValueMemberN{Value: strconv.FormatInt(value, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb: put %s: %w", key, err)
	}
	return nil
}

// Incr adds one to the counter atomically, creating it when absent.
func (c *CounterStore) Incr(ctx context.Context, key string) (int64, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(c.tableName),
		Key:                      keyAttr(key),
		UpdateExpression:         aws.String("ADD #c :one"),
		ExpressionAttributeNames: map[string]string{"#c": attrCount},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("dynamodb: incr %s: %w", key, err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return 0, fmt.Errorf("dynamodb: incr %s: no attributes returned", key)
	}
	return countAttr(out.Attributes)
}

// ListByPrefix scans one page of keys starting with prefix. The cursor is the
// last evaluated key value from the previous page.
func (c *CounterStore) ListByPrefix(ctx context.Context, prefix, cursor string, limit int) (domain.CounterPage, error) {
	in := &dynamodb.ScanInput{
		TableName:                aws.String(c.tableName),
		FilterExpression:         aws.String("begins_with(#k, :prefix)"),
		ProjectionExpression:     aws.String("#k"),
		ExpressionAttributeNames: map[string]string{"#k": attrKey},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}
	if cursor != "" {
		in.ExclusiveStartKey = keyAttr(cursor)
	}

	out, err := c.api.Scan(ctx, in)
	if err != nil {
		return domain.CounterPage{}, fmt.Errorf("dynamodb: scan: %w", err)
	}

	keys := make([]string, 0, len(out.Items))
	for _, item := range out.Items {
		s, ok := item[attrKey].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		keys = append(keys, s.Value)
	}

	if len(out.LastEvaluatedKey) == 0 {
		return domain.CounterPage{Keys: keys, Complete: true}, nil
	}
	last, ok := out.LastEvaluatedKey[attrKey].(*types.AttributeValueMemberS)
	if !ok {
		return domain.CounterPage{}, errors.New("dynamodb: unexpected last evaluated key shape")
	}
	return domain.CounterPage{Keys: keys, NextCursor: last.Value}, nil
}

func countAttr(item map[string]types.AttributeValue) (int64, error) {
	v, ok := item[attrCount]
	if !ok {
		return 0, fmt.Errorf("dynamodb: missing attribute %q", attrCount)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamodb: attribute %q is not a number", attrCount)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("dynamodb: parse attribute %q: %w", attrCount, err)
	}
	return parsed, nil
}
