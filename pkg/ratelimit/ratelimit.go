// Package ratelimit 基于 Redis 的 GCRA 限流，多实例共享配额
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RateLimiter 限流接口
type RateLimiter interface {
	// Allow 判断 key 是否还有配额
	Allow(ctx context.Context, key string, limit Limit) (*Result, error)
}

// Limit 每个 Period 允许 Rate 次，Burst 为 0 时等于 Rate
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// Result 限流判断结果
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// RedisRateLimiter redis_rate 实现，键按 prefix 隔离
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	prefix  string
}

// NewRedisRateLimiter 创建 Redis 限流器
func NewRedisRateLimiter(rdb *redis.Client, prefix string) *RedisRateLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisRateLimiter{limiter: redis_rate.NewLimiter(rdb), prefix: prefix}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	if limit.Rate <= 0 || limit.Period <= 0 {
		return &Result{Allowed: true, Remaining: -1}, nil
	}
	burst := limit.Burst
	if burst <= 0 {
		burst = limit.Rate
	}

	res, err := r.limiter.Allow(ctx, r.prefix+":"+key, redis_rate.Limit{
		Rate:   limit.Rate,
		Period: limit.Period,
		Burst:  burst,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	out := &Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		ResetAfter: res.ResetAfter,
	}
	if !out.Allowed {
		out.RetryAfter = res.RetryAfter
	}
	return out, nil
}
