// Package ratelimit implements a sliding-window rate limiter backed by a
// Redis sorted set per key. Every decision prunes, counts, and records the
// attempt in one atomic pipeline, so concurrent callers against the same key
// cannot overshoot the limit.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dpetukhov/tokengate/internal/common"
	"github.com/dpetukhov/tokengate/internal/logging"
)

const keyPrefix = "rate_limit:"

// Config holds limiter settings. Zero values fall back to 10 requests per
// minute, failing open.
type Config struct {
	// Limit is the number of requests admitted per window.
	Limit int
	// Window is the sliding window length.
	Window time.Duration
	// FailClosed rejects requests when the backing store is unreachable.
	// The default is to admit them and flag the result as degraded.
	FailClosed bool
}

func (c *Config) applyDefaults() {
	if c.Limit <= 0 {
		c.Limit = 10
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
}

// Result reports the outcome of a single Allow decision.
type Result struct {
	Allowed bool
	// RetryAfter is how long the caller should wait before the next
	// attempt. Set only when the request was denied.
	RetryAfter time.Duration
	// Degraded is true when the store was unreachable and the request was
	// admitted without counting.
	Degraded bool
}

// store is the slice of Redis the limiter needs. Kept narrow so tests can
// substitute an in-memory implementation.
type store interface {
	// slide atomically drops entries at or before windowStart, returns the
	// count of the remaining entries, and records member at now.
	slide(ctx context.Context, key string, windowStart, now time.Time, member string, ttl time.Duration) (int64, error)
	// earliest returns the timestamp of the oldest entry under key.
	earliest(ctx context.Context, key string) (time.Time, bool, error)
}

// Limiter makes allow/deny decisions for caller-supplied keys. Keys are
// chosen by the caller (an IP, a user id, an endpoint tag); the limiter only
// namespaces them.
type Limiter struct {
	store  store
	cfg    Config
	logger logging.Logger
}

// NewLimiter builds a Limiter on top of a Redis client.
func NewLimiter(client *redis.Client, cfg Config, logger logging.Logger) *Limiter {
	cfg.applyDefaults()
	return &Limiter{store: &redisStore{client: client}, cfg: cfg, logger: logger}
}

// Allow records an attempt under key and decides whether it is within the
// limit. A denied attempt returns common.ErrRateLimited together with a
// Result carrying RetryAfter. Store failures follow the configured policy:
// fail-open admits the request with Degraded set, fail-closed returns
// common.ErrStoreUnavailable.
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	now := time.Now().UTC()
	fullKey := keyPrefix + key

	count, err := l.store.slide(ctx, fullKey, now.Add(-l.cfg.Window), now, uuid.NewString(), l.cfg.Window)
	if err != nil {
		l.logger.Error(ctx, "rate limit store unavailable", "key", key, "error", err)
		if l.cfg.FailClosed {
			return nil, common.ErrStoreUnavailable
		}
		return &Result{Allowed: true, Degraded: true}, nil
	}

	if count < int64(l.cfg.Limit) {
		return &Result{Allowed: true}, nil
	}

	retryAfter := l.cfg.Window
	if earliest, ok, err := l.store.earliest(ctx, fullKey); err == nil && ok {
		if d := earliest.Add(l.cfg.Window).Sub(now); d > 0 {
			retryAfter = d
		} else {
			retryAfter = 0
		}
	}

	l.logger.Debug(ctx, "rate limit exceeded", "key", key, "retry_after", retryAfter)
	return &Result{Allowed: false, RetryAfter: retryAfter}, common.ErrRateLimited
}

// redisStore implements store over a single sorted set per key. Scores are
// unix milliseconds.
type redisStore struct {
	client *redis.Client
}

func (s *redisStore) slide(ctx context.Context, key string, windowStart, now time.Time, member string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart.UnixMilli(), 10))
	card := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("error executing rate limit pipeline: %w", err)
	}
	return card.Val(), nil
}

func (s *redisStore) earliest(ctx context.Context, key string) (time.Time, bool, error) {
	entries, err := s.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("error reading rate limit window: %w", err)
	}
	if len(entries) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(entries[0].Score)).UTC(), true, nil
}
