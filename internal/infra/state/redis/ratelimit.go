package redisstate

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimiter 是固定窗口计数的限流器，计数器保存在 Redis 中，多实例共享。
type RateLimiter struct {
	client *redis.Client
	keys   keys
	limit  int
	window time.Duration
}

// NewRateLimiter 创建限流器: 每个 key 在 window 内最多 limit 次。
func NewRateLimiter(client *redis.Client, keyPrefix string, limit int, window time.Duration) *RateLimiter {
	if client == nil {
		panic("redis client cannot be nil for RateLimiter")
	}
	return &RateLimiter{client: client, keys: newKeys(keyPrefix), limit: limit, window: window}
}

// Allow 递增 key 的计数，超限时返回 false。
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := r.keys.rateLimit(key)
	// 使用 Pipeline 减少网络往返
	pipe := r.client.Pipeline()
	incrCmd := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: pipeline failed for rate limit check on key %s: %w", redisKey, err)
	}
	count, err := incrCmd.Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to get incr result for rate limit on key %s: %w", redisKey, err)
	}
	return count <= int64(r.limit), nil
}
