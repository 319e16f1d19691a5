package core

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// BehavioralProfile is a per-actor historical baseline, refreshed out-of-band
// and read-only to the evaluators.
type BehavioralProfile struct {
	ActorID             string    `json:"actor_id"`
	AvgLoginHour        float64   `json:"avg_login_hour"`
	UniqueIPCount       float64   `json:"unique_ip_count"`
	UniqueResourceCount float64   `json:"unique_resource_count"`
	SampleCount         int       `json:"sample_count"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ProfileStore supplies actor baselines. Implementations are external
// collaborators; a nil profile with nil error means the actor has no baseline
// yet.
type ProfileStore interface {
	GetProfile(ctx context.Context, actorID string) (*BehavioralProfile, error)
}

// ProfileCache is a read-through LRU in front of a ProfileStore, keeping hot
// actors out of the backing store during sweeps. Entries expire by age so a
// refreshed baseline is picked up without invalidation plumbing.
type ProfileCache struct {
	store  ProfileStore
	cache  *lru.Cache[string, cachedProfile]
	ttl    time.Duration
	logger *zap.SugaredLogger
}

type cachedProfile struct {
	profile   *BehavioralProfile
	fetchedAt time.Time
}

// NewProfileCache creates a read-through profile cache. Size must be positive;
// ttl zero disables expiry.
func NewProfileCache(store ProfileStore, size int, ttl time.Duration, logger *zap.SugaredLogger) (*ProfileCache, error) {
	if store == nil {
		return nil, fmt.Errorf("profile store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	cache, err := lru.New[string, cachedProfile](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile cache: %w", err)
	}
	return &ProfileCache{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// GetProfile returns the cached baseline for the actor, fetching through to
// the store on miss or expiry. Store errors are returned, never cached.
func (pc *ProfileCache) GetProfile(ctx context.Context, actorID string) (*BehavioralProfile, error) {
	if entry, ok := pc.cache.Get(actorID); ok {
		if pc.ttl == 0 || time.Since(entry.fetchedAt) < pc.ttl {
			return entry.profile, nil
		}
		pc.cache.Remove(actorID)
	}

	profile, err := pc.store.GetProfile(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile for actor %s: %w", actorID, err)
	}

	pc.cache.Add(actorID, cachedProfile{profile: profile, fetchedAt: time.Now()})
	return profile, nil
}

// Purge drops all cached profiles.
func (pc *ProfileCache) Purge() {
	pc.cache.Purge()
}
