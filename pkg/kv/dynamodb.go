package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

const (
	dynamoKeyAttr   = "key"
	dynamoValueAttr = "value"
)

// dynamoStore keeps every entry as one item with a string partition key
// "key" and a binary attribute "value". Global tables give the region
// replication the registry expects.
type dynamoStore struct {
	table string
	Svc   dynamodbiface.DynamoDBAPI
}

func NewDynamoDB(table, region string) (Store, error) {
	s, err := session.NewSession()
	if err != nil {
		return nil, err
	}

	cfg := &aws.Config{
		MaxRetries: aws.Int(3),
	}
	if region != "" {
		cfg.Region = aws.String(region)
	}

	return NewDynamoDBFromAPI(dynamodb.New(s, cfg), table), nil
}

func NewDynamoDBFromAPI(svc dynamodbiface.DynamoDBAPI, table string) Store {
	return &dynamoStore{
		table: table,
		Svc:   svc,
	}
}

func keyAttributes(key string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		dynamoKeyAttr: {S: aws.String(key)},
	}
}

func (d *dynamoStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := d.Svc.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            keyAttributes(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	v, ok := out.Item[dynamoValueAttr]
	if !ok || v == nil {
		return nil, ErrNotFound
	}
	return v.B, nil
}

func (d *dynamoStore) item(key string, value []byte) map[string]*dynamodb.AttributeValue {
	item := keyAttributes(key)
	item[dynamoValueAttr] = &dynamodb.AttributeValue{B: value}
	return item
}

func (d *dynamoStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := d.Svc.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      d.item(key, value),
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (d *dynamoStore) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	_, err := d.Svc.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                d.item(key, value),
		ConditionExpression: aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]*string{
			"#k": aws.String(dynamoKeyAttr),
		},
	})
	var aerr awserr.Error
	if errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create %s: %w", key, err)
	}
	return true, nil
}

func (d *dynamoStore) Delete(ctx context.Context, key string) error {
	_, err := d.Svc.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       keyAttributes(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// List scans with a begins_with filter. The cursor is the last evaluated key.
func (d *dynamoStore) List(ctx context.Context, prefix, cursor string, limit int) (Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	input := &dynamodb.ScanInput{
		TableName:            aws.String(d.table),
		Limit:                aws.Int64(int64(limit)),
		ProjectionExpression: aws.String("#k"),
		FilterExpression:     aws.String("begins_with(#k, :p)"),
		ExpressionAttributeNames: map[string]*string{
			"#k": aws.String(dynamoKeyAttr),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":p": {S: aws.String(prefix)},
		},
	}
	if cursor != "" {
		input.ExclusiveStartKey = keyAttributes(cursor)
	}

	out, err := d.Svc.ScanWithContext(ctx, input)
	if err != nil {
		return Page{}, fmt.Errorf("failed to scan %s*: %w", prefix, err)
	}

	page := Page{}
	for _, item := range out.Items {
		if k, ok := item[dynamoKeyAttr]; ok && k.S != nil {
			page.Keys = append(page.Keys, aws.StringValue(k.S))
		}
	}

	if last, ok := out.LastEvaluatedKey[dynamoKeyAttr]; ok && last.S != nil {
		page.Cursor = aws.StringValue(last.S)
	} else {
		page.Complete = true
	}

	return page, nil
}
