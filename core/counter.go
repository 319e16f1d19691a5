package core

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"argus/metrics"
)

// CounterStore provides atomic time-windowed counters for frequency rules and
// anomaly rate checks. Implementations must be increment-atomic under
// concurrent callers; application code never does read-then-write on a
// shared counter.
type CounterStore interface {
	// Increment atomically bumps the counter for the key's current window
	// and returns the new count within the window.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	// Count returns the current count within the key's window without
	// incrementing.
	Count(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounterStore implements CounterStore on Redis. Each key maps to a
// monotonically-bucketed window: the bucket index is unix-seconds divided by
// the window length, so all writers in the same window hit the same Redis key
// and INCR provides the atomicity.
type RedisCounterStore struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisCounterStore creates a counter store on an existing Redis client.
func NewRedisCounterStore(client *redis.Client, logger *zap.SugaredLogger) *RedisCounterStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisCounterStore{client: client, logger: logger}
}

// bucketKey derives the Redis key for the key's current window bucket.
func bucketKey(key string, window time.Duration, now time.Time) string {
	seconds := int64(window.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	bucket := now.Unix() / seconds
	return fmt.Sprintf("counter:%s:%d:%d", key, seconds, bucket)
}

// Increment atomically bumps the current window bucket. The bucket expires
// two window lengths after first write so stale buckets clean themselves up.
func (rc *RedisCounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	redisKey := bucketKey(key, window, time.Now())

	pipe := rc.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, 2*window)
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.CounterStoreErrors.WithLabelValues("increment").Inc()
		return 0, fmt.Errorf("failed to increment counter %s: %w", key, err)
	}

	return incr.Val(), nil
}

// Count reads the current window bucket. A missing bucket counts as zero.
func (rc *RedisCounterStore) Count(ctx context.Context, key string, window time.Duration) (int64, error) {
	redisKey := bucketKey(key, window, time.Now())

	count, err := rc.client.Get(ctx, redisKey).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		metrics.CounterStoreErrors.WithLabelValues("count").Inc()
		return 0, fmt.Errorf("failed to read counter %s: %w", key, err)
	}
	return count, nil
}

// FrequencyKey builds the counter key scoping a frequency rule to one
// (actor, resource, action) tuple.
func FrequencyKey(ruleID, actorID, resource, action string) string {
	return fmt.Sprintf("freq:%s:%s:%s:%s", ruleID, actorID, resource, action)
}
