package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RateLimiter keeps carrier call budgets in Redis so several worker
// processes share them.
type RateLimiter struct {
	c *redis.Client
}

func NewRateLimiter(addr string) *RateLimiter {
	return &RateLimiter{
		c: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// Allow increments the counter for key and refreshes its window.
// Returns (allowed, currentCount).
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= limit, n, nil
}

// Reserve claims the slot for key for gap. It returns 0 when the slot was
// claimed, otherwise how long the current holder still keeps it.
func (rl *RateLimiter) Reserve(ctx context.Context, key string, gap time.Duration) (time.Duration, error) {
	if gap <= 0 {
		return 0, nil
	}
	ok, err := rl.c.SetNX(ctx, key, 1, gap).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redis reserve")
	}
	if ok {
		return 0, nil
	}
	ttl, err := rl.c.PTTL(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redis reserve ttl")
	}
	if ttl <= 0 {
		// Expired between the two calls, or a key without TTL: retry soon.
		return time.Millisecond, nil
	}
	return ttl, nil
}

func (rl *RateLimiter) Close() error {
	return rl.c.Close()
}
