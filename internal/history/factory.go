package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/marketing-analyst/internal/config"
	"github.com/ignite/marketing-analyst/internal/storage"
	"github.com/redis/go-redis/v9"
)

// New builds the store selected by cfg. redisClient is required for the
// redis driver only.
func New(ctx context.Context, cfg config.HistoryConfig, redisClient *redis.Client) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		if redisClient == nil {
			return nil, errors.New("history driver redis needs redis.url")
		}
		return NewRedisStore(redisClient, cfg.TTL()), nil
	case "dynamodb":
		if cfg.DynamoDBTable == "" {
			return nil, errors.New("history.dynamodb_table is required for the dynamodb driver")
		}
		awsCfg, err := storage.LoadAWSConfig(ctx, cfg.AWSRegion, "")
		if err != nil {
			return nil, err
		}
		return NewDynamoStore(awsCfg, cfg.DynamoDBTable, cfg.TTL()), nil
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}
