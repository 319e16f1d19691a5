package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"argus/metrics"
)

// RedisCache provides the Redis-backed state shared between instances. The
// counter store rides on its connection pool, SharedProfileStore keeps actor
// baselines in it, and sweep leases elect which instance runs a pass.
type RedisCache struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisCache creates a new Redis cache instance.
func NewRedisCache(addr, password string, db, poolSize int, logger *zap.SugaredLogger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	return &RedisCache{
		client: client,
		logger: logger,
	}
}

// Client exposes the underlying client so the counter store can share the
// connection pool.
func (rc *RedisCache) Client() *redis.Client {
	return rc.client
}

// Ping tests the Redis connection.
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// Set stores a value in the cache with expiration.
func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		rc.logger.Errorf("Failed to marshal cache value for key %s: %v", key, err)
		metrics.CacheErrors.WithLabelValues("marshal").Inc()
		return err
	}

	// Size limit to keep a single entry from monopolizing memory.
	const maxSize = 10 * 1024 * 1024
	if len(data) > maxSize {
		metrics.CacheErrors.WithLabelValues("size_limit").Inc()
		return fmt.Errorf("cache value size %d bytes exceeds maximum allowed size %d bytes", len(data), maxSize)
	}

	err = rc.client.Set(ctx, key, data, expiration).Err()
	if err != nil {
		metrics.CacheErrors.WithLabelValues("set").Inc()
	}
	return err
}

// Get retrieves a value from the cache. The bool reports whether the key was
// present.
func (rc *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := rc.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			metrics.CacheMisses.Inc()
			return false, nil
		}
		metrics.CacheErrors.WithLabelValues("get").Inc()
		return false, err
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		rc.logger.Errorf("Failed to unmarshal cache value for key %s: %v", key, err)
		metrics.CacheErrors.WithLabelValues("unmarshal").Inc()
		return false, err
	}

	metrics.CacheHits.Inc()
	return true, nil
}

// Delete removes a key from the cache.
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	return rc.client.Del(ctx, key).Err()
}

// SetNX sets a value only if the key does not exist (atomic).
func (rc *RedisCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	return rc.client.SetNX(ctx, key, data, expiration).Result()
}

// Cache key prefixes.
const (
	CacheKeyProfilePrefix = "profile:"
	CacheKeyLeasePrefix   = "lease:"
)

// AcquireLease claims the named lease for the holder until it expires, and
// reports whether this holder won it. Leases gate cluster-wide sweeps so one
// instance runs each pass; they are never released early, the TTL is the
// schedule.
func (rc *RedisCache) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	return rc.SetNX(ctx, CacheKeyLeasePrefix+name, holder, ttl)
}
