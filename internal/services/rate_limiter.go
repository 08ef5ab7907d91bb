package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RateLimiter enforces a per-client QPS ceiling with a Redis sliding window.
// Redis failures fail open: a broken limiter must not take queries down.
type RateLimiter struct {
	redisClient *redis.Client
	limit       int
	window      time.Duration
	logger      *logrus.Logger
}

func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration, logger *logrus.Logger) *RateLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		redisClient: redisClient,
		limit:       limit,
		window:      window,
		logger:      logger,
	}
}

// Allow reports whether the client may issue another request right now.
func (rl *RateLimiter) Allow(ctx context.Context, clientID string) bool {
	if rl.redisClient == nil {
		return true
	}

	key := fmt.Sprintf("rate_limit:%s", clientID)
	now := time.Now()
	windowStart := now.Add(-rl.window)

	pipe := rl.redisClient.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, rl.window)

	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.WithError(err).Warn("Rate limit check failed, allowing request")
		return true
	}

	return countCmd.Val() < int64(rl.limit)
}

// CurrentCount returns how many requests the client made inside the window.
func (rl *RateLimiter) CurrentCount(ctx context.Context, clientID string) int64 {
	if rl.redisClient == nil {
		return 0
	}

	key := fmt.Sprintf("rate_limit:%s", clientID)
	now := time.Now()
	windowStart := now.Add(-rl.window)

	count, err := rl.redisClient.ZCount(ctx, key,
		strconv.FormatInt(windowStart.UnixNano(), 10),
		strconv.FormatInt(now.UnixNano(), 10)).Result()
	if err != nil {
		return 0
	}
	return count
}

// Reset clears the client's window.
func (rl *RateLimiter) Reset(ctx context.Context, clientID string) error {
	if rl.redisClient == nil {
		return nil
	}
	return rl.redisClient.Del(ctx, fmt.Sprintf("rate_limit:%s", clientID)).Err()
}
