package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig defines a sliding window.
type RateLimitConfig struct {
	Limit  int           // requests allowed per window
	Window time.Duration // window length
}

// RateLimitResult is the outcome of one check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter is a sliding window limiter over Redis sorted sets. It is shared
// by every worker process so the ops API limit holds across replicas.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// Allow checks one request against the limit for key.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	now := r.now()
	windowStart := now.Add(-r.config.Window)
	redisKey := "ratelimit:" + key

	var countCmd *redis.IntCmd
	_, err := r.client.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
		countCmd = pipe.ZCard(ctx, redisKey)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	current := int(countCmd.Val())
	result := &RateLimitResult{
		Limit:   r.config.Limit,
		ResetAt: now.Add(r.config.Window),
	}

	if current >= r.config.Limit {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int("current", current),
			zap.Int("limit", r.config.Limit),
		)
		return result, nil
	}

	member := strconv.FormatInt(now.UnixNano(), 10)
	_, err = r.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
		pipe.Expire(ctx, redisKey, r.config.Window+time.Second)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis zadd failed: %w", err)
	}

	result.Allowed = true
	result.Remaining = r.config.Limit - current - 1
	return result, nil
}
