package repository

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
)

// DynamoDB is a Backend on a single table with partition key "pk" (the
// collection) and sort key "sk" (the record key).
type DynamoDB struct {
	client *dynamodb.Client
	table  string
}

type dynamoItem struct {
	Collection string `dynamodbav:"pk"`
	Key        string `dynamodbav:"sk"`
	Data       string `dynamodbav:"data"`
	UpdatedAt  int64  `dynamodbav:"updated_at"`
}

// NewDynamoDB creates a DynamoDB backend using the default AWS credential chain
func NewDynamoDB(ctx context.Context, table, region string) (*DynamoDB, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load AWS config")
	}

	return &DynamoDB{
		client: dynamodb.NewFromConfig(cfg),
		table:  table,
	}, nil
}

// DynamoDBOpener returns an Opener for NewDynamoDB
func DynamoDBOpener(table, region string) Opener {
	return func(ctx context.Context) (Backend, error) {
		backend, err := NewDynamoDB(ctx, table, region)
		if err != nil {
			return nil, err
		}
		return backend, nil
	}
}

func dynamoKey(col Collection, key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: string(col)},
		"sk": &types.AttributeValueMemberS{Value: key},
	}
}

func (d *DynamoDB) Put(ctx context.Context, col Collection, key string, data []byte) error {
	item, err := attributevalue.MarshalMap(dynamoItem{
		Collection: string(col),
		Key:        key,
		Data:       string(data),
		UpdatedAt:  time.Now().UnixMilli(),
	})
	if err != nil {
		return goerr.Wrap(err, "failed to marshal item", goerr.V("collection", col), goerr.V("key", key))
	}

	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	}); err != nil {
		return goerr.Wrap(err, "failed to put item", goerr.V("collection", col), goerr.V("key", key))
	}
	return nil
}

func (d *DynamoDB) Get(ctx context.Context, col Collection, key string) ([]byte, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            dynamoKey(col, key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get item", goerr.V("collection", col), goerr.V("key", key))
	}
	if out.Item == nil {
		return nil, goerr.Wrap(model.ErrNotFound, "item not found", goerr.V("collection", col), goerr.V("key", key))
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal item", goerr.V("collection", col), goerr.V("key", key))
	}
	return []byte(item.Data), nil
}

func (d *DynamoDB) List(ctx context.Context, col Collection) ([]Record, error) {
	keyCond := expression.Key("pk").Equal(expression.Value(string(col)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build key condition")
	}

	paginator := dynamodb.NewQueryPaginator(d.client, &dynamodb.QueryInput{
		TableName:                 aws.String(d.table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	var records []Record
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to query items", goerr.V("collection", col))
		}

		for _, raw := range page.Items {
			var item dynamoItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, goerr.Wrap(err, "failed to unmarshal item", goerr.V("collection", col))
			}
			records = append(records, Record{Key: item.Key, Data: []byte(item.Data)})
		}
	}
	return records, nil
}

func (d *DynamoDB) Delete(ctx context.Context, col Collection, key string) (bool, error) {
	out, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(d.table),
		Key:          dynamoKey(col, key),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, goerr.Wrap(err, "failed to delete item", goerr.V("collection", col), goerr.V("key", key))
	}
	return len(out.Attributes) > 0, nil
}

func (d *DynamoDB) Clear(ctx context.Context, col Collection) error {
	records, err := d.List(ctx, col)
	if err != nil {
		return err
	}
	for _, r := range records {
		if _, err := d.Delete(ctx, col, r.Key); err != nil {
			return err
		}
	}
	return nil
}

func (d *DynamoDB) Ping(ctx context.Context) error {
	if _, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.table),
	}); err != nil {
		return goerr.Wrap(err, "dynamodb table is not reachable", goerr.V("table", d.table))
	}
	return nil
}

// Close is a no-op; the AWS client holds no resources that need releasing
func (d *DynamoDB) Close() error { return nil }
