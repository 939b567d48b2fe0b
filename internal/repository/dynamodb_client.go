package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	attrPK        = "PK"
	attrValue     = "value"
	attrTTL       = "ttl"
	attrUpdatedAt = "updatedAt"
)

// maxItemValueBytes keeps a value, its key and the bookkeeping attributes under
// DynamoDB's 400 KB item limit.
const maxItemValueBytes = 400*1024 - 2*1024

// ErrValueTooLarge is returned when an entry cannot fit in one DynamoDB item.
var ErrValueTooLarge = errors.New("value exceeds the DynamoDB item size limit")

// dynamodbAPI is the minimal DynamoDB interface required by DynamoDBKV.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoDBKV stores each key as one item keyed by PK, with the table's TTL
// attribute set to the expiry. DynamoDB deletes expired items lazily, so reads
// also treat an elapsed ttl as a miss.
//
// A whole conversation history lives in a single item, so a conversation stops
// accepting writes once its encoded history nears 400 KB (a few hundred turns
// of short messages). Such writes fail with ErrValueTooLarge.
type DynamoDBKV struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewDynamoDBKV creates a DynamoDB-backed KeyValue.
func NewDynamoDBKV(api dynamodbAPI, tableName string) (*DynamoDBKV, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoDBKV{api: api, tableName: tableName, now: time.Now}, nil
}

// Get reads the item for key with a strongly consistent read.
func (c *DynamoDBKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			attrPK: &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("repository: dynamodb get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, false, nil
	}

	expiresAt, err := intAttr(out.Item, attrTTL)
	if err != nil {
		return nil, false, fmt.Errorf("repository: dynamodb decode ttl: %w", err)
	}
	if expiresAt <= c.now().Unix() {
		return nil, false, nil
	}
	value, err := strAttr(out.Item, attrValue)
	if err != nil {
		return nil, false, fmt.Errorf("repository: dynamodb decode value: %w", err)
	}
	return []byte(value), true, nil
}

// SetWithExpiry writes a single entry with PutItem and several entries in one
// transaction.
func (c *DynamoDBKV) SetWithExpiry(ctx context.Context, ttl time.Duration, entries ...Entry) error {
	if ttl <= 0 {
		return errors.New("repository: dynamodb set: ttl must be positive")
	}
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if len(e.Key)+len(e.Value) > maxItemValueBytes {
			return fmt.Errorf("repository: dynamodb set %q: %d bytes: %w", e.Key, len(e.Value), ErrValueTooLarge)
		}
	}
	now := c.now().UTC()
	expiresAt := now.Add(ttl).Unix()

	if len(entries) == 1 {
		_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(c.tableName),
			Item:      kvItem(entries[0], expiresAt, now),
		})
		if err != nil {
			return fmt.Errorf("repository: dynamodb put item: %w", err)
		}
		return nil
	}

	items := make([]types.TransactWriteItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(c.tableName),
				Item:      kvItem(e, expiresAt, now),
			},
		})
	}
	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: dynamodb transact write: %w", err)
	}
	return nil
}

func kvItem(e Entry, expiresAt int64, now time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK:        &types.AttributeValueMemberS{Value: e.Key},
		attrValue:     &types.AttributeValueMemberS{Value: string(e.Value)},
		attrTTL:       &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt, 10)},
		attrUpdatedAt: &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
