// Package cache provides the balance read-through cache that sits in front
// of the ledger. Writes never go to the cache; they invalidate it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyBalance = "balance:%s"

// RedisBalanceCache caches user balances in Redis with a short TTL.
// Cache failures are logged and treated as misses.
type RedisBalanceCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisBalanceCache creates a cache over client.
func NewRedisBalanceCache(client redis.UniversalClient, ttl time.Duration) *RedisBalanceCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisBalanceCache{client: client, ttl: ttl}
}

func balanceKey(userID string) string {
	return fmt.Sprintf(keyBalance, userID)
}

// Get returns the cached balance of userID.
func (c *RedisBalanceCache) Get(ctx context.Context, userID string) (int64, bool) {
	v, err := c.client.Get(ctx, balanceKey(userID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("user_id", userID).Msg("Balance cache read failed")
		}
		return 0, false
	}
	coins, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return coins, true
}

// Set stores the balance of userID.
func (c *RedisBalanceCache) Set(ctx context.Context, userID string, coins int64) {
	if err := c.client.Set(ctx, balanceKey(userID), coins, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Balance cache write failed")
	}
}

// Invalidate drops the cached balance of userID.
func (c *RedisBalanceCache) Invalidate(ctx context.Context, userID string) {
	if err := c.client.Del(ctx, balanceKey(userID)).Err(); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Balance cache invalidation failed")
	}
}

// Nop is a cache that never holds anything.
type Nop struct{}

func (Nop) Get(context.Context, string) (int64, bool) { return 0, false }
func (Nop) Set(context.Context, string, int64)        {}
func (Nop) Invalidate(context.Context, string)        {}
