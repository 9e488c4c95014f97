package ledger

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// BalanceCache mirrors balances outside the store. Implementations are
// advisory: a miss or stale read is always acceptable and the ledger remains
// the source of truth.
type BalanceCache interface {
	GetBalance(ctx context.Context, subject string) (int64, bool)
	SetBalance(ctx context.Context, subject string, balance int64)
	Invalidate(ctx context.Context, subject string)
}

// RedisCache keeps short-lived balance mirrors in Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ BalanceCache = (*RedisCache)(nil)

// NewRedisCache wraps a Redis client. A non-positive ttl defaults to one minute.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func balanceKey(subject string) string {
	return "worldcore:balance:" + subject
}

// GetBalance reads a mirrored balance. Errors degrade to a miss.
func (c *RedisCache) GetBalance(ctx context.Context, subject string) (int64, bool) {
	raw, err := c.client.Get(ctx, balanceKey(subject)).Result()
	if err != nil {
		return 0, false
	}
	balance, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return balance, true
}

// SetBalance stores a mirrored balance, best effort.
func (c *RedisCache) SetBalance(ctx context.Context, subject string, balance int64) {
	c.client.Set(ctx, balanceKey(subject), strconv.FormatInt(balance, 10), c.ttl)
}

// Invalidate drops a mirrored balance, best effort.
func (c *RedisCache) Invalidate(ctx context.Context, subject string) {
	c.client.Del(ctx, balanceKey(subject))
}
