package pricefeed

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "riskguard:price:"

// RedisCache shares last-seen prices across instances with a short TTL so a
// burst of positions on the same symbol costs one upstream call.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, symbol string) (float64, bool) {
	val, err := c.client.Get(ctx, cacheKeyPrefix+symbol).Result()
	if err != nil {
		return 0, false
	}
	price, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

func (c *RedisCache) Set(ctx context.Context, symbol string, price float64) {
	_ = c.client.Set(ctx, cacheKeyPrefix+symbol, strconv.FormatFloat(price, 'f', -1, 64), c.ttl).Err()
}
