package history

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ignite/marketing-analyst/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo understands the counter ADD, entry puts and begins_with
// queries issued by DynamoStore. Query pages hold at most pageSize items.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int
	queries  int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}, pageSize: 3}
}

func keyOf(key map[string]types.AttributeValue) string {
	return key["PK"].(*types.AttributeValueMemberS).Value + "|" + key["SK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := keyOf(in.Key)
	item, ok := f.items[k]
	if !ok {
		item = map[string]types.AttributeValue{"PK": in.Key["PK"], "SK": in.Key["SK"]}
		f.items[k] = item
	}
	name := in.ExpressionAttributeNames["#c"]
	n := 0
	if cur, ok := item[name].(*types.AttributeValueMemberN); ok {
		n, _ = strconv.Atoi(cur.Value)
	}
	item[name] = &types.AttributeValueMemberN{Value: strconv.Itoa(n + 1)}
	updated := map[string]types.AttributeValue{name: item[name]}
	if exp, ok := in.ExpressionAttributeValues[":exp"]; ok {
		item["expires_at"] = exp
		updated["expires_at"] = exp
	}
	return &dynamodb.UpdateItemOutput{Attributes: updated}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[keyOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	prefix := in.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value
	after := ""
	if in.ExclusiveStartKey != nil {
		after = keyOf(in.ExclusiveStartKey)
	}

	var keys []string
	for k := range f.items {
		if strings.HasPrefix(k, pk+"|"+prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &dynamodb.QueryOutput{}
	for i, k := range keys {
		if i == f.pageSize {
			last := f.items[keys[i-1]]
			out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": last["PK"], "SK": last["SK"]}
			break
		}
		out.Items = append(out.Items, f.items[k])
	}
	return out, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return map[string]Store{
		"memory":   NewMemoryStore(),
		"redis":    NewRedisStore(client, time.Hour),
		"dynamodb": newDynamoStore(newFakeDynamo(), "analyst-history", 24*time.Hour),
	}
}

func TestStores_AppendAndRead(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, Seed(ctx, s, "s1"))
			require.NoError(t, Seed(ctx, s, "s1"), "seeding twice is a no-op")

			i, err := s.AppendMessage(ctx, "s1", Message{Role: RoleUser, Content: "How many customers?"})
			require.NoError(t, err)
			assert.Equal(t, 1, i)

			p0, err := s.AppendPlot(ctx, "s1", `{"data":[1]}`)
			require.NoError(t, err)
			p1, err := s.AppendPlot(ctx, "s1", `{"data":[2]}`)
			require.NoError(t, err)
			assert.Equal(t, []int{0, 1}, []int{p0, p1})

			q0, err := s.AppendQuery(ctx, "s1", QueryRecord{Route: "email_writer", Query: "SELECT 1", Response: "one"})
			require.NoError(t, err)
			assert.Equal(t, 0, q0)

			msgs, err := s.Messages(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, []Message{
				{Role: RoleAssistant, Content: WelcomeMessage},
				{Role: RoleUser, Content: "How many customers?"},
			}, msgs)

			plot, err := s.Plot(ctx, "s1", 1)
			require.NoError(t, err)
			assert.Equal(t, `{"data":[2]}`, plot)

			q, err := s.Query(ctx, "s1", 0)
			require.NoError(t, err)
			assert.Equal(t, QueryRecord{Route: "email_writer", Query: "SELECT 1", Response: "one"}, q)

			_, err = s.Plot(ctx, "s1", 2)
			assert.ErrorIs(t, err, ErrIndexOutOfRange)
			_, err = s.Plot(ctx, "s1", -1)
			assert.ErrorIs(t, err, ErrIndexOutOfRange)
			_, err = s.Query(ctx, "s1", 5)
			assert.ErrorIs(t, err, ErrIndexOutOfRange)
			_, err = s.Query(ctx, "other", 0)
			assert.ErrorIs(t, err, ErrIndexOutOfRange)

			other, err := s.Messages(ctx, "other")
			require.NoError(t, err)
			assert.Empty(t, other)

			require.NoError(t, s.Delete(ctx, "s1"))
			msgs, err = s.Messages(ctx, "s1")
			require.NoError(t, err)
			assert.Empty(t, msgs)
		})
	}
}

func TestStores_ConcurrentAppendsGetDistinctIndices(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const n = 20
			idx := make(chan int, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					i, err := s.AppendPlot(ctx, "s", "{}")
					assert.NoError(t, err)
					idx <- i
				}()
			}
			wg.Wait()
			close(idx)
			seen := map[int]bool{}
			for i := range idx {
				assert.False(t, seen[i], "index %d returned twice", i)
				seen[i] = true
			}
			assert.Len(t, seen, n)
		})
	}
}

func TestRedisStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedisStore(client, 2*time.Hour)

	_, err := s.AppendMessage(context.Background(), "abc", Message{Role: RoleUser, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, mr.TTL("analyst:history:abc:messages"))

	mr.FastForward(3 * time.Hour)
	msgs, err := s.Messages(context.Background(), "abc")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDynamoStore_ExpiresAt(t *testing.T) {
	fake := newFakeDynamo()
	s := newDynamoStore(fake, "t", time.Hour)
	s.now = func() time.Time { return time.Unix(1000, 0) }

	_, err := s.AppendMessage(context.Background(), "abc", Message{Role: RoleUser, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, &types.AttributeValueMemberN{Value: "4600"}, fake.items["SESSION#abc|COUNTER"]["expires_at"])
	assert.Equal(t, &types.AttributeValueMemberN{Value: "4600"}, fake.items["SESSION#abc|MSG#0000000000"]["expires_at"])
}

func TestDynamoStore_LongSessionKeepsItemsSmall(t *testing.T) {
	fake := newFakeDynamo()
	s := newDynamoStore(fake, "t", 0)
	ctx := context.Background()
	payload := `{"data":[` + strings.Repeat("1,", 2000) + `1]}`

	const turns = 200
	for i := 0; i < turns; i++ {
		m, err := s.AppendMessage(ctx, "long", Message{Role: RoleUser, Content: fmt.Sprintf("question %d", i)})
		require.NoError(t, err)
		assert.Equal(t, i, m)
		p, err := s.AppendPlot(ctx, "long", payload)
		require.NoError(t, err)
		assert.Equal(t, i, p)
		q, err := s.AppendQuery(ctx, "long", QueryRecord{Query: "SELECT 1", Response: strings.Repeat("x", 1000)})
		require.NoError(t, err)
		assert.Equal(t, i, q)
	}

	// No item ever holds more than one entry.
	for k, item := range fake.items {
		size := 0
		for _, v := range item {
			switch v := v.(type) {
			case *types.AttributeValueMemberS:
				size += len(v.Value)
			case *types.AttributeValueMemberM:
				for _, f := range v.Value {
					if sv, ok := f.(*types.AttributeValueMemberS); ok {
						size += len(sv.Value)
					}
				}
			}
		}
		assert.Less(t, size, 10*1024, "item %s", k)
	}

	msgs, err := s.Messages(ctx, "long")
	require.NoError(t, err)
	require.Len(t, msgs, turns)
	assert.Equal(t, "question 0", msgs[0].Content)
	assert.Equal(t, "question 199", msgs[turns-1].Content)
	assert.Greater(t, fake.queries, 1, "messages are read across pages")

	plot, err := s.Plot(ctx, "long", turns-1)
	require.NoError(t, err)
	assert.Equal(t, payload, plot)
	_, err = s.Query(ctx, "long", turns)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.Contains(t, err.Error(), fmt.Sprintf("query %d of %d", turns, turns))

	require.NoError(t, s.Delete(ctx, "long"))
	assert.Empty(t, fake.items)
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, config.HistoryConfig{Driver: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = New(ctx, config.HistoryConfig{Driver: "redis"}, nil)
	assert.Error(t, err)

	_, err = New(ctx, config.HistoryConfig{Driver: "dynamodb"}, nil)
	assert.Error(t, err)

	_, err = New(ctx, config.HistoryConfig{Driver: "postgres"}, nil)
	assert.Error(t, err)
}
