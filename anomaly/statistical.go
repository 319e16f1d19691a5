package anomaly

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"argus/core"
)

// statisticalMinSamples is the floor below which the detector stays silent
// regardless of variance; mean/stddev over fewer points is noise.
const statisticalMinSamples = 10

// StatisticalDetector flags individual data points whose z-score against the
// window's mean/stddev exceeds the configured threshold.
type StatisticalDetector struct {
	events core.EventSource
	clock  core.Clock
	logger *zap.SugaredLogger
}

// NewStatisticalDetector creates a z-score detector over the event source.
func NewStatisticalDetector(events core.EventSource, clock core.Clock, logger *zap.SugaredLogger) *StatisticalDetector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &StatisticalDetector{events: events, clock: clock, logger: logger}
}

// Kind returns the detector kind.
func (d *StatisticalDetector) Kind() core.DetectorKind {
	return core.DetectorStatistical
}

// Detect computes mean and stddev of the configured numeric field over the
// window and flags every point whose z-score exceeds the threshold.
func (d *StatisticalDetector) Detect(ctx context.Context, cfg DetectorConfig) ([]*core.Threat, error) {
	if cfg.Field == "" {
		return nil, fmt.Errorf("statistical detector %s: field is required", cfg.ID)
	}
	threshold := cfg.ZScoreThreshold
	if threshold <= 0 {
		return nil, nil
	}

	now := d.clock.Now()
	events, err := d.events.RecentEvents(core.EventFilter{
		EventType: cfg.EventType,
		Since:     now.Add(-cfg.window()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	type sample struct {
		eventID string
		value   float64
	}
	samples := make([]sample, 0, len(events))
	for _, e := range events {
		raw := core.ResolveField(e.Context(), cfg.Field)
		if raw == nil {
			continue
		}
		if v, ok := core.ToFloat(raw); ok {
			samples = append(samples, sample{eventID: e.EventID, value: v})
		}
	}
	if len(samples) < statisticalMinSamples {
		return nil, nil
	}

	var sum float64
	for _, s := range samples {
		sum += s.value
	}
	mean := sum / float64(len(samples))

	var sumSq float64
	for _, s := range samples {
		diff := s.value - mean
		sumSq += diff * diff
	}
	stddev := math.Sqrt(sumSq / float64(len(samples)-1))
	if stddev == 0 {
		return nil, nil
	}

	var threats []*core.Threat
	for _, s := range samples {
		z := math.Abs(s.value-mean) / stddev
		if z <= threshold {
			continue
		}
		threats = append(threats, core.NewThreat(
			core.DetectorStatistical,
			core.BucketSeverity(z, threshold),
			fmt.Sprintf("%s: %s=%.2f deviates from mean %.2f (z=%.2f)", cfg.label(), cfg.Field, s.value, mean, z),
			map[string]interface{}{
				"detector": cfg.ID,
				"event_id": s.eventID,
				"field":    cfg.Field,
				"value":    s.value,
				"mean":     mean,
				"stddev":   stddev,
				"zscore":   z,
			},
			now,
		))
	}
	return threats, nil
}
