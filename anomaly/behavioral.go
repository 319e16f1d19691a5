package anomaly

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"argus/core"
)

// BehavioralDetector applies the per-actor baseline deviation scoring used by
// behavioral policy rules, but proactively across every actor seen in the
// window rather than reactively to one event.
type BehavioralDetector struct {
	events   core.EventSource
	profiles core.ProfileStore
	clock    core.Clock
	logger   *zap.SugaredLogger
}

// NewBehavioralDetector creates a baseline-deviation detector.
func NewBehavioralDetector(events core.EventSource, profiles core.ProfileStore, clock core.Clock, logger *zap.SugaredLogger) *BehavioralDetector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &BehavioralDetector{events: events, profiles: profiles, clock: clock, logger: logger}
}

// Kind returns the detector kind.
func (d *BehavioralDetector) Kind() core.DetectorKind {
	return core.DetectorBehavioral
}

// Detect scores every actor active in the window against its baseline.
// Actors without a baseline are skipped. Each dimension is checked
// independently against its own threshold, so one actor can raise several
// threats in one pass.
func (d *BehavioralDetector) Detect(ctx context.Context, cfg DetectorConfig) ([]*core.Threat, error) {
	now := d.clock.Now()
	events, err := d.events.RecentEvents(core.EventFilter{
		EventType: cfg.EventType,
		Since:     now.Add(-cfg.window()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	byActor := make(map[string][]core.Event)
	for _, e := range events {
		if e.ActorID == "" {
			continue
		}
		byActor[e.ActorID] = append(byActor[e.ActorID], e)
	}

	actors := make([]string, 0, len(byActor))
	for actor := range byActor {
		actors = append(actors, actor)
	}
	sort.Strings(actors)

	var threats []*core.Threat
	for _, actor := range actors {
		if ctx.Err() != nil {
			return threats, ctx.Err()
		}

		profile, err := d.profiles.GetProfile(ctx, actor)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch profile for %s: %w", actor, err)
		}
		if profile == nil {
			continue
		}

		observed := core.ObserveActivity(byActor[actor])
		threats = append(threats, d.scoreActor(cfg, actor, profile, observed, now)...)
	}
	return threats, nil
}

func (d *BehavioralDetector) scoreActor(cfg DetectorConfig, actor string, profile *core.BehavioralProfile, observed core.ObservedActivity, now time.Time) []*core.Threat {
	var threats []*core.Threat

	newThreat := func(dimension string, deviation, threshold, observedVal, baseline float64) *core.Threat {
		return core.NewThreat(
			core.DetectorBehavioral,
			core.BucketSeverity(deviation, threshold),
			fmt.Sprintf("%s: actor %s %s deviation %.3f exceeds %.3f", cfg.label(), actor, dimension, deviation, threshold),
			map[string]interface{}{
				"detector":  cfg.ID,
				"actor_id":  actor,
				"dimension": dimension,
				"deviation": deviation,
				"threshold": threshold,
				"observed":  observedVal,
				"baseline":  baseline,
			},
			now,
		)
	}

	if cfg.LoginHourThreshold > 0 && observed.LoginCount > 0 {
		deviation := core.LoginHourDeviation(observed.AvgLoginHour, profile.AvgLoginHour)
		if deviation > cfg.LoginHourThreshold {
			threats = append(threats, newThreat("login_hour", deviation, cfg.LoginHourThreshold, observed.AvgLoginHour, profile.AvgLoginHour))
		}
	}
	if cfg.IPCountThreshold > 0 {
		deviation := core.CountDeviation(observed.UniqueIPCount, profile.UniqueIPCount)
		if deviation > cfg.IPCountThreshold {
			threats = append(threats, newThreat("unique_ips", deviation, cfg.IPCountThreshold, observed.UniqueIPCount, profile.UniqueIPCount))
		}
	}
	if cfg.ResourceThreshold > 0 {
		deviation := core.CountDeviation(observed.UniqueResourceCount, profile.UniqueResourceCount)
		if deviation > cfg.ResourceThreshold {
			threats = append(threats, newThreat("unique_resources", deviation, cfg.ResourceThreshold, observed.UniqueResourceCount, profile.UniqueResourceCount))
		}
	}
	return threats
}
