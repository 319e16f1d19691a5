package anomaly

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"argus/core"
)

// NetworkDetector aggregates connection count, average bandwidth and average
// latency over the window and flags each metric that exceeds its threshold.
// The metrics are independent, so one pass can raise up to three threats.
type NetworkDetector struct {
	events core.EventSource
	clock  core.Clock
	logger *zap.SugaredLogger
}

// NewNetworkDetector creates a network-aggregate detector.
func NewNetworkDetector(events core.EventSource, clock core.Clock, logger *zap.SugaredLogger) *NetworkDetector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &NetworkDetector{events: events, clock: clock, logger: logger}
}

// Kind returns the detector kind.
func (d *NetworkDetector) Kind() core.DetectorKind {
	return core.DetectorNetwork
}

// Detect aggregates the window's network telemetry. Bandwidth comes from the
// bandwidth field, latency from the latency field; events missing a field do
// not count toward that average.
func (d *NetworkDetector) Detect(ctx context.Context, cfg DetectorConfig) ([]*core.Threat, error) {
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

	connCount := float64(len(events))
	var bandwidthSum, latencySum float64
	var bandwidthN, latencyN int
	for _, e := range events {
		if v, ok := core.ToFloat(e.Fields["bandwidth"]); ok {
			bandwidthSum += v
			bandwidthN++
		}
		if v, ok := core.ToFloat(e.Fields["latency"]); ok {
			latencySum += v
			latencyN++
		}
	}

	var threats []*core.Threat
	flag := func(metric string, value, threshold float64) {
		if threshold <= 0 || value <= threshold {
			return
		}
		threats = append(threats, core.NewThreat(
			core.DetectorNetwork,
			core.BucketSeverity(value, threshold),
			fmt.Sprintf("%s: %s %.2f exceeds %.2f", cfg.label(), metric, value, threshold),
			map[string]interface{}{
				"detector":  cfg.ID,
				"metric":    metric,
				"value":     value,
				"threshold": threshold,
				"events":    len(events),
			},
			now,
		))
	}

	flag("connection_count", connCount, cfg.ConnCountThreshold)
	if bandwidthN > 0 {
		flag("avg_bandwidth", bandwidthSum/float64(bandwidthN), cfg.BandwidthThreshold)
	}
	if latencyN > 0 {
		flag("avg_latency", latencySum/float64(latencyN), cfg.LatencyThreshold)
	}
	return threats, nil
}
