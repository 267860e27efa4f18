// Package ratelimit protects the public API from bursts and scripted
// clients. Counts live behind Counter so several storefront instances can
// share one budget per client.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter increments the hit count for key in the current window and
// returns the new count.
type Counter interface {
	Increment(ctx context.Context, key string) (int64, error)
}

// RedisCounter keeps fixed-window counts in Redis. A key found without an
// expiry gets one, whichever hit of the window that is.
type RedisCounter struct {
	client *redis.Client
	prefix string
	window time.Duration
}

func NewRedisCounter(client *redis.Client, prefix string, window time.Duration) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix, window: window}
}

func (c *RedisCounter) Increment(ctx context.Context, key string) (int64, error) {
	redisKey := fmt.Sprintf("%s:%s", c.prefix, key)

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		ttl = pipe.TTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}

	count := incr.Val()
	// Negative TTL: the key exists with no expiry, either a fresh window or
	// one whose EXPIRE was lost.
	if ttl.Val() < 0 {
		if err := c.client.Expire(ctx, redisKey, c.window).Err(); err != nil {
			return count, fmt.Errorf("redis expire: %w", err)
		}
	}
	return count, nil
}

// sweepThreshold bounds how many idle keys MemoryCounter keeps before it
// drops expired windows.
const sweepThreshold = 10000

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryCounter is a process-local Counter for single-instance and test
// deployments. Counts are lost on restart.
type MemoryCounter struct {
	mutex   sync.Mutex
	windows map[string]*window
	window  time.Duration
	now     func() time.Time
}

func NewMemoryCounter(windowSize time.Duration) *MemoryCounter {
	return &MemoryCounter{
		windows: make(map[string]*window),
		window:  windowSize,
		now:     time.Now,
	}
}

func (c *MemoryCounter) Increment(_ context.Context, key string) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	if len(c.windows) >= sweepThreshold {
		for k, w := range c.windows {
			if !now.Before(w.resetAt) {
				delete(c.windows, k)
			}
		}
	}

	w, ok := c.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(c.window)}
		c.windows[key] = w
	}
	w.count++
	return w.count, nil
}
