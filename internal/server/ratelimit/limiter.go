// Package ratelimit counts failed login and refresh attempts per client in
// Redis, using fixed windows.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/stockauth/internal/common"
	"github.com/redis/go-redis/v9"
)

// Operations with separate budgets.
const (
	OpLogin   = "login"
	OpRefresh = "refresh"
)

// ErrRedisUnavailable wraps Redis failures. Callers usually fail open.
var ErrRedisUnavailable = errors.New("redis unavailable")

type Config struct {
	MaxAttempts int
	Window      time.Duration
	Prefix      string
}

// Limiter is safe for concurrent use. A nil *Limiter allows everything.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

func New(client redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "stockauth:rl"
	}
	return &Limiter{redis: client, config: cfg}
}

// Check returns common.ErrRateLimited once key has used up its budget for op
// in the current window. It does not count the attempt itself.
func (l *Limiter) Check(ctx context.Context, op, key string) error {
	if l == nil || l.config.MaxAttempts <= 0 {
		return nil
	}

	count, err := l.redis.Get(ctx, l.key(op, key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(l.config.MaxAttempts) {
		return common.ErrRateLimited
	}
	return nil
}

// Fail records a failed attempt.
func (l *Limiter) Fail(ctx context.Context, op, key string) error {
	if l == nil || l.config.MaxAttempts <= 0 {
		return nil
	}

	// INCR and EXPIRE NX share one MULTI/EXEC: a counter never exists without
	// a TTL, and NX keeps the window anchored at the first failure.
	k := l.key(op, key)
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, l.config.Window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Reset clears the counter after a success.
func (l *Limiter) Reset(ctx context.Context, op, key string) error {
	if l == nil || l.config.MaxAttempts <= 0 {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(op, key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) key(op, key string) string {
	return l.config.Prefix + ":" + op + ":" + key
}
