package resultcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores task results as plain keys with a TTL.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// NewClient parses a redis:// URL and verifies the connection.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (c *Redis) PutOrderID(ctx context.Context, taskID string, orderID int64, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+taskID, orderID, ttl).Err(); err != nil {
		return fmt.Errorf("cache order id for task %s: %w", taskID, err)
	}
	return nil
}

func (c *Redis) GetOrderID(ctx context.Context, taskID string) (int64, bool, error) {
	orderID, err := c.client.Get(ctx, c.prefix+taskID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read cached order id for task %s: %w", taskID, err)
	}
	return orderID, true, nil
}
