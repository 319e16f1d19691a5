package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCounterStore(t *testing.T) (*RedisCounterStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCounterStore(client, zap.NewNop().Sugar()), mr
}

func TestRedisCounterStore_IncrementAndCount(t *testing.T) {
	store, _ := newTestCounterStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		count, err := store.Increment(ctx, "login:alice", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, i, count, "Increment should return the running window count")
	}

	count, err := store.Count(ctx, "login:alice", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestRedisCounterStore_MissingKeyCountsZero(t *testing.T) {
	store, _ := newTestCounterStore(t)

	count, err := store.Count(context.Background(), "never-written", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestRedisCounterStore_KeysAreIndependent(t *testing.T) {
	store, _ := newTestCounterStore(t)
	ctx := context.Background()

	_, err := store.Increment(ctx, FrequencyKey("r1", "alice", "account:1", "withdraw"), time.Minute)
	require.NoError(t, err)

	count, err := store.Count(ctx, FrequencyKey("r1", "bob", "account:1", "withdraw"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "Different actors must not share a counter")
}

func TestRedisCounterStore_BucketExpiry(t *testing.T) {
	store, mr := newTestCounterStore(t)
	ctx := context.Background()

	_, err := store.Increment(ctx, "burst", 10*time.Second)
	require.NoError(t, err)

	// Two window lengths later the bucket has expired.
	mr.FastForward(21 * time.Second)

	count, err := store.Count(ctx, "burst", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestLocalCounterStore_ConcurrentIncrements(t *testing.T) {
	store := NewLocalCounterStore()
	ctx := context.Background()

	const goroutines = 20
	const perGoroutine = 10

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				_, err := store.Increment(ctx, "shared", time.Minute)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	count, err := store.Count(ctx, "shared", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(goroutines*perGoroutine), count, "No increments may be lost under concurrency")
}

func TestLocalCounterStore_MissingKeyCountsZero(t *testing.T) {
	store := NewLocalCounterStore()

	count, err := store.Count(context.Background(), "absent", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
