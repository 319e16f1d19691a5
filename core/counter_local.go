package core

import (
	"context"
	"sync"
	"time"
)

// LocalCounterStore implements CounterStore in process memory for
// single-instance deployments running without Redis. The same bucketing
// scheme as the Redis store applies; atomicity comes from the mutex.
// Counters do not survive a restart and are not shared across instances.
type LocalCounterStore struct {
	mu      sync.Mutex
	buckets map[string]localBucket
}

type localBucket struct {
	count     int64
	expiresAt time.Time
}

// NewLocalCounterStore creates an in-process counter store.
func NewLocalCounterStore() *LocalCounterStore {
	return &LocalCounterStore{buckets: make(map[string]localBucket)}
}

// Increment bumps the current window bucket and returns the new count.
func (ls *LocalCounterStore) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	k := bucketKey(key, window, now)

	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.prune(now)

	bucket := ls.buckets[k]
	bucket.count++
	if bucket.expiresAt.IsZero() {
		bucket.expiresAt = now.Add(2 * window)
	}
	ls.buckets[k] = bucket
	return bucket.count, nil
}

// Count reads the current window bucket. A missing bucket counts as zero.
func (ls *LocalCounterStore) Count(_ context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	k := bucketKey(key, window, now)

	ls.mu.Lock()
	defer ls.mu.Unlock()

	bucket, ok := ls.buckets[k]
	if !ok || now.After(bucket.expiresAt) {
		return 0, nil
	}
	return bucket.count, nil
}

// prune drops expired buckets. Called with the mutex held.
func (ls *LocalCounterStore) prune(now time.Time) {
	for k, bucket := range ls.buckets {
		if now.After(bucket.expiresAt) {
			delete(ls.buckets, k)
		}
	}
}
