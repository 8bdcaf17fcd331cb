package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each conversation as three Redis lists. RPUSH returns the
// new length, so the appended index is length-1 without a second round trip.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a store. A zero ttl keeps keys forever; otherwise
// every append extends the conversation's expiry.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: "analyst:history:", ttl: ttl}
}

func (r *RedisStore) key(sessionID, list string) string {
	return r.prefix + sessionID + ":" + list
}

func (r *RedisStore) push(ctx context.Context, sessionID, list string, v any) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	key := r.key(sessionID, list)
	pipe := r.client.TxPipeline()
	n := pipe.RPush(ctx, key, data)
	if r.ttl > 0 {
		for _, l := range []string{"messages", "plots", "queries"} {
			pipe.Expire(ctx, r.key(sessionID, l), r.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("appending to %s: %w", key, err)
	}
	return int(n.Val()) - 1, nil
}

func (r *RedisStore) index(ctx context.Context, sessionID, list string, idx int, v any) error {
	key := r.key(sessionID, list)
	if idx < 0 {
		n, _ := r.client.LLen(ctx, key).Result()
		return outOfRange(list, idx, int(n))
	}
	data, err := r.client.LIndex(ctx, key, int64(idx)).Bytes()
	if errors.Is(err, redis.Nil) {
		n, _ := r.client.LLen(ctx, key).Result()
		return outOfRange(list, idx, int(n))
	}
	if err != nil {
		return fmt.Errorf("reading %s[%d]: %w", key, idx, err)
	}
	return json.Unmarshal(data, v)
}

func (r *RedisStore) AppendMessage(ctx context.Context, sessionID string, m Message) (int, error) {
	return r.push(ctx, sessionID, "messages", m)
}

func (r *RedisStore) AppendPlot(ctx context.Context, sessionID, payload string) (int, error) {
	return r.push(ctx, sessionID, "plots", payload)
}

func (r *RedisStore) AppendQuery(ctx context.Context, sessionID string, q QueryRecord) (int, error) {
	return r.push(ctx, sessionID, "queries", q)
}

func (r *RedisStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	raw, err := r.client.LRange(ctx, r.key(sessionID, "messages"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}
	out := make([]Message, 0, len(raw))
	for _, s := range raw {
		var m Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("decoding message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *RedisStore) Plot(ctx context.Context, sessionID string, idx int) (string, error) {
	var payload string
	if err := r.index(ctx, sessionID, "plots", idx, &payload); err != nil {
		return "", err
	}
	return payload, nil
}

func (r *RedisStore) Query(ctx context.Context, sessionID string, idx int) (QueryRecord, error) {
	var q QueryRecord
	if err := r.index(ctx, sessionID, "queries", idx, &q); err != nil {
		return QueryRecord{}, err
	}
	return q, nil
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx,
		r.key(sessionID, "messages"),
		r.key(sessionID, "plots"),
		r.key(sessionID, "queries"),
	).Err()
}
