package history

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoAPI interface {
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Sort key prefixes, one per list. The counter item holds the length of
// every list.
const (
	skCounter = "COUNTER"
	skMessage = "MSG#"
	skPlot    = "PLOT#"
	skQuery   = "QUERY#"
)

var entryKind = map[string]string{"messages": "message", "plots": "plot", "queries": "query"}

// entryItem is one history entry. Exactly one of the payload fields is set.
type entryItem struct {
	PK        string       `dynamodbav:"PK"`
	SK        string       `dynamodbav:"SK"`
	Message   *Message     `dynamodbav:"message,omitempty"`
	Plot      string       `dynamodbav:"plot,omitempty"`
	Query     *QueryRecord `dynamodbav:"query,omitempty"`
	ExpiresAt int64        `dynamodbav:"expires_at,omitempty"`
}

// DynamoStore keeps one item per entry under the session's partition. An
// atomic ADD on the counter item hands out each index, so appends never grow
// an existing item.
type DynamoStore struct {
	db    dynamoAPI
	table string
	ttl   time.Duration
	now   func() time.Time
}

// NewDynamoStore creates a store on an existing table with a PK/SK string
// key. expires_at is maintained for the table's TTL setting when ttl > 0.
func NewDynamoStore(cfg aws.Config, table string, ttl time.Duration) *DynamoStore {
	return newDynamoStore(dynamodb.NewFromConfig(cfg), table, ttl)
}

func newDynamoStore(db dynamoAPI, table string, ttl time.Duration) *DynamoStore {
	return &DynamoStore{db: db, table: table, ttl: ttl, now: time.Now}
}

func partition(sessionID string) string { return "SESSION#" + sessionID }

func sortKey(prefix string, idx int) string { return fmt.Sprintf("%s%010d", prefix, idx) }

func (d *DynamoStore) key(sessionID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: partition(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (d *DynamoStore) expiresAt() int64 {
	if d.ttl <= 0 {
		return 0
	}
	return d.now().Add(d.ttl).Unix()
}

// next reserves the next index of list.
func (d *DynamoStore) next(ctx context.Context, sessionID, list string) (int, error) {
	expr := "ADD #c :one"
	values := map[string]types.AttributeValue{
		":one": &types.AttributeValueMemberN{Value: "1"},
	}
	if exp := d.expiresAt(); exp > 0 {
		expr += " SET expires_at = :exp"
		values[":exp"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(exp, 10)}
	}
	out, err := d.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.table),
		Key:                       d.key(sessionID, skCounter),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  map[string]string{"#c": list},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("reserving %s index in DynamoDB: %w", list, err)
	}
	var n int
	av, ok := out.Attributes[list]
	if !ok {
		return 0, fmt.Errorf("DynamoDB returned no %s counter", list)
	}
	if err := attributevalue.Unmarshal(av, &n); err != nil {
		return 0, fmt.Errorf("reading %s counter: %w", list, err)
	}
	return n - 1, nil
}

func (d *DynamoStore) put(ctx context.Context, sessionID, list, prefix string, item entryItem) (int, error) {
	idx, err := d.next(ctx, sessionID, list)
	if err != nil {
		return 0, err
	}
	item.PK = partition(sessionID)
	item.SK = sortKey(prefix, idx)
	item.ExpiresAt = d.expiresAt()

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return 0, fmt.Errorf("marshaling %s entry: %w", list, err)
	}
	_, err = d.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      av,
	})
	if err != nil {
		return 0, fmt.Errorf("putting %s entry in DynamoDB: %w", list, err)
	}
	return idx, nil
}

// get reads one entry. A missing entry reports the list length from the
// counter item.
func (d *DynamoStore) get(ctx context.Context, sessionID, list, prefix string, idx int) (*entryItem, error) {
	if idx < 0 {
		return nil, outOfRange(entryKind[list], idx, 0)
	}
	out, err := d.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            d.key(sessionID, sortKey(prefix, idx)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting %s from DynamoDB: %w", list, err)
	}
	if out.Item == nil {
		n, err := d.length(ctx, sessionID, list)
		if err != nil {
			return nil, err
		}
		return nil, outOfRange(entryKind[list], idx, n)
	}
	var item entryItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling %s: %w", list, err)
	}
	return &item, nil
}

func (d *DynamoStore) length(ctx context.Context, sessionID, list string) (int, error) {
	out, err := d.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            d.key(sessionID, skCounter),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("getting history counter from DynamoDB: %w", err)
	}
	var n int
	if av, ok := out.Item[list]; ok {
		if err := attributevalue.Unmarshal(av, &n); err != nil {
			return 0, fmt.Errorf("reading %s counter: %w", list, err)
		}
	}
	return n, nil
}

// scan pages through every item of the session whose sort key starts with
// prefix, in index order.
func (d *DynamoStore) scan(ctx context.Context, sessionID, prefix string) ([]entryItem, error) {
	var items []entryItem
	var start map[string]types.AttributeValue
	for {
		out, err := d.db.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.table),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: partition(sessionID)},
				":prefix": &types.AttributeValueMemberS{Value: prefix},
			},
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("querying history from DynamoDB: %w", err)
		}
		var page []entryItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshaling history: %w", err)
		}
		items = append(items, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		start = out.LastEvaluatedKey
	}
}

func (d *DynamoStore) AppendMessage(ctx context.Context, sessionID string, m Message) (int, error) {
	return d.put(ctx, sessionID, "messages", skMessage, entryItem{Message: &m})
}

func (d *DynamoStore) AppendPlot(ctx context.Context, sessionID, payload string) (int, error) {
	return d.put(ctx, sessionID, "plots", skPlot, entryItem{Plot: payload})
}

func (d *DynamoStore) AppendQuery(ctx context.Context, sessionID string, q QueryRecord) (int, error) {
	return d.put(ctx, sessionID, "queries", skQuery, entryItem{Query: &q})
}

func (d *DynamoStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	items, err := d.scan(ctx, sessionID, skMessage)
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(items))
	for _, it := range items {
		if it.Message != nil {
			msgs = append(msgs, *it.Message)
		}
	}
	return msgs, nil
}

func (d *DynamoStore) Plot(ctx context.Context, sessionID string, idx int) (string, error) {
	item, err := d.get(ctx, sessionID, "plots", skPlot, idx)
	if err != nil {
		return "", err
	}
	return item.Plot, nil
}

func (d *DynamoStore) Query(ctx context.Context, sessionID string, idx int) (QueryRecord, error) {
	item, err := d.get(ctx, sessionID, "queries", skQuery, idx)
	if err != nil {
		return QueryRecord{}, err
	}
	if item.Query == nil {
		return QueryRecord{}, nil
	}
	return *item.Query, nil
}

// Delete removes every item of the session, the counter last.
func (d *DynamoStore) Delete(ctx context.Context, sessionID string) error {
	var keys []string
	for _, prefix := range []string{skMessage, skPlot, skQuery} {
		items, err := d.scan(ctx, sessionID, prefix)
		if err != nil {
			return err
		}
		for _, it := range items {
			keys = append(keys, it.SK)
		}
	}
	keys = append(keys, skCounter)
	for _, sk := range keys {
		_, err := d.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(d.table),
			Key:       d.key(sessionID, sk),
		})
		if err != nil {
			return fmt.Errorf("deleting history from DynamoDB: %w", err)
		}
	}
	return nil
}
