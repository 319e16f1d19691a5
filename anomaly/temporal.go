package anomaly

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"argus/core"
)

// TemporalDetector watches the shape of activity over time: overall event
// frequency and how unevenly events spread across the hours of the day.
type TemporalDetector struct {
	events core.EventSource
	clock  core.Clock
	logger *zap.SugaredLogger
}

// NewTemporalDetector creates a time-distribution detector.
func NewTemporalDetector(events core.EventSource, clock core.Clock, logger *zap.SugaredLogger) *TemporalDetector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &TemporalDetector{events: events, clock: clock, logger: logger}
}

// Kind returns the detector kind.
func (d *TemporalDetector) Kind() core.DetectorKind {
	return core.DetectorTemporal
}

// Detect computes events-per-hour over the window and an hourly histogram
// deviation: the sum of |observed-expected| across the 24 buckets with
// expected = total/24. Each measure is checked against its own threshold.
func (d *TemporalDetector) Detect(ctx context.Context, cfg DetectorConfig) ([]*core.Threat, error) {
	now := d.clock.Now()
	window := cfg.window()
	events, err := d.events.RecentEvents(core.EventFilter{
		EventType: cfg.EventType,
		Since:     now.Add(-window),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	var threats []*core.Threat

	frequency := float64(len(events)) / window.Hours()
	if cfg.FrequencyThreshold > 0 && frequency > cfg.FrequencyThreshold {
		threats = append(threats, core.NewThreat(
			core.DetectorTemporal,
			core.BucketSeverity(frequency, cfg.FrequencyThreshold),
			fmt.Sprintf("%s: event frequency %.2f/h exceeds %.2f/h", cfg.label(), frequency, cfg.FrequencyThreshold),
			map[string]interface{}{
				"detector":  cfg.ID,
				"metric":    "frequency",
				"value":     frequency,
				"threshold": cfg.FrequencyThreshold,
				"events":    len(events),
			},
			now,
		))
	}

	if cfg.HistogramThreshold > 0 {
		var histogram [24]int
		for _, e := range events {
			histogram[e.Timestamp.Hour()]++
		}
		expected := float64(len(events)) / 24.0
		var deviation float64
		for _, observed := range histogram {
			deviation += math.Abs(float64(observed) - expected)
		}
		if deviation > cfg.HistogramThreshold {
			threats = append(threats, core.NewThreat(
				core.DetectorTemporal,
				core.BucketSeverity(deviation, cfg.HistogramThreshold),
				fmt.Sprintf("%s: hourly distribution deviation %.2f exceeds %.2f", cfg.label(), deviation, cfg.HistogramThreshold),
				map[string]interface{}{
					"detector":  cfg.ID,
					"metric":    "hourly_histogram",
					"value":     deviation,
					"threshold": cfg.HistogramThreshold,
					"events":    len(events),
				},
				now,
			))
		}
	}
	return threats, nil
}
