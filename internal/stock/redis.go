package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "flash_item_stock:"

// decreaseScript returns -1 for an unknown item, 0 when stock is short and
// 1 after a successful decrement.
var decreaseScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
	return -1
end
local quantity = tonumber(ARGV[1])
if tonumber(current) < quantity then
	return 0
end
redis.call('DECRBY', KEYS[1], quantity)
return 1
`)

// increaseScript refuses to create a counter that was never seeded.
var increaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
return redis.call('INCRBY', KEYS[1], ARGV[1])
`)

// RedisLedger keeps stock counters in Redis so every worker instance sees
// the same numbers.
type RedisLedger struct {
	client redis.UniversalClient
}

func NewRedisLedger(client redis.UniversalClient) *RedisLedger {
	return &RedisLedger{client: client}
}

func stockKey(itemID int64) string {
	return keyPrefix + strconv.FormatInt(itemID, 10)
}

func (l *RedisLedger) Seed(ctx context.Context, itemID int64, quantity int64) error {
	if err := l.client.SetNX(ctx, stockKey(itemID), quantity, 0).Err(); err != nil {
		return fmt.Errorf("seed stock for item %d: %w", itemID, err)
	}
	return nil
}

func (l *RedisLedger) DecreaseStock(ctx context.Context, itemID int64, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, ErrInvalidQuantity
	}
	res, err := decreaseScript.Run(ctx, l.client, []string{stockKey(itemID)}, quantity).Int64()
	if err != nil {
		return false, fmt.Errorf("decrease stock for item %d: %w", itemID, err)
	}
	switch res {
	case -1:
		return false, ErrUnknownItem
	case 0:
		return false, nil
	default:
		return true, nil
	}
}

func (l *RedisLedger) IncreaseStock(ctx context.Context, itemID int64, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	res, err := increaseScript.Run(ctx, l.client, []string{stockKey(itemID)}, quantity).Int64()
	if err != nil {
		return fmt.Errorf("increase stock for item %d: %w", itemID, err)
	}
	if res == -1 {
		return ErrUnknownItem
	}
	return nil
}

func (l *RedisLedger) Available(ctx context.Context, itemID int64) (int64, error) {
	v, err := l.client.Get(ctx, stockKey(itemID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrUnknownItem
	}
	if err != nil {
		return 0, fmt.Errorf("read stock for item %d: %w", itemID, err)
	}
	return v, nil
}
