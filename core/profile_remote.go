package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SharedProfileStore layers the shared Redis cache in front of a ProfileStore
// so every instance reads the same refreshed baselines without each hitting
// the backing store. Cache failures fall through to the store, they never
// fail a read.
type SharedProfileStore struct {
	store  ProfileStore
	cache  *RedisCache
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewSharedProfileStore creates a Redis-backed profile read-through.
func NewSharedProfileStore(store ProfileStore, cache *RedisCache, ttl time.Duration, logger *zap.SugaredLogger) (*SharedProfileStore, error) {
	if store == nil {
		return nil, fmt.Errorf("profile store cannot be nil")
	}
	if cache == nil {
		return nil, fmt.Errorf("redis cache cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SharedProfileStore{store: store, cache: cache, ttl: ttl, logger: logger}, nil
}

// GetProfile returns the shared cached baseline for the actor, fetching
// through to the store on miss. Only present baselines are cached; an actor
// without one stays a store lookup until a baseline appears.
func (sp *SharedProfileStore) GetProfile(ctx context.Context, actorID string) (*BehavioralProfile, error) {
	key := CacheKeyProfilePrefix + actorID

	var cached BehavioralProfile
	found, err := sp.cache.Get(ctx, key, &cached)
	if err != nil {
		sp.logger.Warnw("Profile cache read failed, falling through to store",
			"actor_id", actorID, "error", err)
	} else if found {
		return &cached, nil
	}

	profile, err := sp.store.GetProfile(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		if err := sp.cache.Set(ctx, key, profile, sp.ttl); err != nil {
			sp.logger.Warnw("Profile cache write failed",
				"actor_id", actorID, "error", err)
		}
	}
	return profile, nil
}

// Invalidate drops the shared cached baseline so the next read on any
// instance refetches from the store.
func (sp *SharedProfileStore) Invalidate(ctx context.Context, actorID string) error {
	return sp.cache.Delete(ctx, CacheKeyProfilePrefix+actorID)
}
