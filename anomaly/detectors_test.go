package anomaly

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/core"
	"argus/storage"
)

var detectorNow = time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC)

func metricEvents(n int, value float64) []core.Event {
	events := make([]core.Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, core.Event{
			EventID:   fmt.Sprintf("e%d", i),
			EventType: "metric",
			ActorID:   "system",
			Timestamp: detectorNow.Add(-time.Duration(i) * time.Minute),
			Fields:    map[string]interface{}{"value": value},
		})
	}
	return events
}

func TestStatisticalDetector(t *testing.T) {
	events := storage.NewMemoryEventSource()
	detector := NewStatisticalDetector(events, core.FixedClock{T: detectorNow}, zap.NewNop().Sugar())
	cfg := DetectorConfig{ID: "stat", Kind: core.DetectorStatistical, Field: "value", ZScoreThreshold: 2}

	// 19 baseline points and one extreme outlier.
	events.Add(metricEvents(19, 100)...)
	events.Add(core.Event{
		EventID:   "outlier",
		EventType: "metric",
		Timestamp: detectorNow.Add(-time.Minute),
		Fields:    map[string]interface{}{"value": 500.0},
	})

	threats, err := detector.Detect(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, threats, 1, "Only the outlier exceeds the z-score threshold")
	assert.Equal(t, core.DetectorStatistical, threats[0].Kind)
	assert.Equal(t, core.SeverityHigh, threats[0].Severity)
	assert.Equal(t, "outlier", threats[0].Evidence["event_id"])
}

func TestStatisticalDetector_MinimumSampleSize(t *testing.T) {
	events := storage.NewMemoryEventSource()
	detector := NewStatisticalDetector(events, core.FixedClock{T: detectorNow}, zap.NewNop().Sugar())
	cfg := DetectorConfig{ID: "stat", Kind: core.DetectorStatistical, Field: "value", ZScoreThreshold: 2}

	// Nine wildly varying points stay under the sample floor.
	for i := 0; i < 9; i++ {
		events.Add(core.Event{
			EventID:   fmt.Sprintf("e%d", i),
			EventType: "metric",
			Timestamp: detectorNow.Add(-time.Minute),
			Fields:    map[string]interface{}{"value": float64(i * i * 1000)},
		})
	}

	threats, err := detector.Detect(context.Background(), cfg)
	require.NoError(t, err)
	assert.Empty(t, threats, "Fewer than ten samples must never flag")
}

func TestStatisticalDetector_ZeroVariance(t *testing.T) {
	events := storage.NewMemoryEventSource()
	detector := NewStatisticalDetector(events, core.FixedClock{T: detectorNow}, zap.NewNop().Sugar())
	cfg := DetectorConfig{ID: "stat", Kind: core.DetectorStatistical, Field: "value", ZScoreThreshold: 2}

	events.Add(metricEvents(15, 42)...)

	threats, err := detector.Detect(context.Background(), cfg)
	require.NoError(t, err)
	assert.Empty(t, threats)
}

func TestBehavioralDetector(t *testing.T) {
	events := storage.NewMemoryEventSource()
	profiles := storage.NewMemoryProfileStore()
	detector := NewBehavioralDetector(events, profiles, core.FixedClock{T: detectorNow}, zap.NewNop().Sugar())
	cfg := DetectorConfig{ID: "beh", Kind: core.DetectorBehavioral, LoginHourThreshold: 0.3}

	// alice normally logs in mid-afternoon but is active at 02:00.
	profiles.SetProfile(core.BehavioralProfile{ActorID: "alice", AvgLoginHour: 14})
	for i := 0; i < 3; i++ {
		events.Add(core.Event{
			EventID:   fmt.Sprintf("login%d", i),
			EventType: "login",
			ActorID:   "alice",
			Timestamp: detectorNow.Add(-time.Hour),
		})
	}
	// bob has no baseline yet and must be skipped, not flagged.
	events.Add(core.Event{
		EventID:   "new-actor",
		EventType: "login",
		ActorID:   "bob",
		Timestamp: detectorNow.Add(-time.Hour),
	})

	threats, err := detector.Detect(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, threats, 1)
	assert.Equal(t, core.DetectorBehavioral, threats[0].Kind)
	assert.Equal(t, "alice", threats[0].Evidence["actor_id"])
	assert.Equal(t, "login_hour", threats[0].Evidence["dimension"])
}

func TestBehavioralDetector_IPCountDeviation(t *testing.T) {
	events := storage.NewMemoryEventSource()
	profiles := storage.NewMemoryProfileStore()
	detector := NewBehavioralDetector(events, profiles, core.FixedClock{T: detectorNow}, zap.NewNop().Sugar())
	cfg := DetectorConfig{ID: "beh", Kind: core.DetectorBehavioral, IPCountThreshold: 0.5}

	profiles.SetProfile(core.BehavioralProfile{ActorID: "alice", UniqueIPCount: 1})
	for i := 0; i < 4; i++ {
		events.Add(core.Event{
			EventID:   fmt.Sprintf("e%d", i),
			EventType: "access",
			ActorID:   "alice",
			Timestamp: detectorNow.Add(-time.Hour),
			Fields:    map[string]interface{}{"source_ip": fmt.Sprintf("10.0.0.%d", i)},
		})
	}

	threats, err := detector.Detect(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, threats, 1)
	assert.Equal(t, "unique_ips", threats[0].Evidence["dimension"])
}

func TestNetworkDetector(t *testing.T) {
	events := storage.NewMemoryEventSource()
	detector := NewNetworkDetector(events, core.FixedClock{T: detectorNow}, zap.NewNop().Sugar())
	cfg := DetectorConfig{
		ID:                 "net",
		Kind:               core.DetectorNetwork,
		ConnCountThreshold: 3,
		BandwidthThreshold: 200,
	}

	for i := 0; i < 5; i++ {
		events.Add(core.Event{
			EventID:   fmt.Sprintf("conn%d", i),
			EventType: "connection",
			Timestamp: detectorNow.Add(-time.Minute),
			Fields:    map[string]interface{}{"bandwidth": 100.0},
		})
	}

	threats, err := detector.Detect(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, threats, 1, "Bandwidth average stays under its threshold; only the connection count fires")
	assert.Equal(t, core.DetectorNetwork, threats[0].Kind)
	assert.Equal(t, "connection_count", threats[0].Evidence["metric"])
}

func TestNetworkDetector_IndependentMetrics(t *testing.T) {
	events := storage.NewMemoryEventSource()
	detector := NewNetworkDetector(events, core.FixedClock{T: detectorNow}, zap.NewNop().Sugar())
	cfg := DetectorConfig{
		ID:                 "net",
		Kind:               core.DetectorNetwork,
		ConnCountThreshold: 3,
		BandwidthThreshold: 50,
		LatencyThreshold:   10,
	}

	for i := 0; i < 5; i++ {
		events.Add(core.Event{
			EventID:   fmt.Sprintf("conn%d", i),
			EventType: "connection",
			Timestamp: detectorNow.Add(-time.Minute),
			Fields:    map[string]interface{}{"bandwidth": 100.0, "latency": 40.0},
		})
	}

	threats, err := detector.Detect(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, threats, 3, "Each metric over its threshold raises its own threat")
}

func TestTemporalDetector_Frequency(t *testing.T) {
	events := storage.NewMemoryEventSource()
	detector := NewTemporalDetector(events, core.FixedClock{T: detectorNow}, zap.NewNop().Sugar())
	cfg := DetectorConfig{
		ID:                 "tmp",
		Kind:               core.DetectorTemporal,
		Window:             time.Hour,
		FrequencyThreshold: 5,
	}

	for i := 0; i < 10; i++ {
		events.Add(core.Event{
			EventID:   fmt.Sprintf("e%d", i),
			EventType: "request",
			Timestamp: detectorNow.Add(-time.Minute),
		})
	}

	threats, err := detector.Detect(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, threats, 1)
	assert.Equal(t, "frequency", threats[0].Evidence["metric"])
	assert.InDelta(t, 10.0, threats[0].Evidence["value"], 1e-9)
}

func TestTemporalDetector_HistogramSkew(t *testing.T) {
	events := storage.NewMemoryEventSource()
	detector := NewTemporalDetector(events, core.FixedClock{T: detectorNow}, zap.NewNop().Sugar())
	cfg := DetectorConfig{
		ID:                 "tmp",
		Kind:               core.DetectorTemporal,
		Window:             24 * time.Hour,
		HistogramThreshold: 10,
	}

	// All 24 events land in the same hour bucket; a flat spread would put
	// one in each.
	for i := 0; i < 24; i++ {
		events.Add(core.Event{
			EventID:   fmt.Sprintf("e%d", i),
			EventType: "request",
			Timestamp: time.Date(2026, 8, 28, 23, i, 0, 0, time.UTC),
		})
	}

	threats, err := detector.Detect(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, threats, 1)
	assert.Equal(t, "hourly_histogram", threats[0].Evidence["metric"])
	assert.InDelta(t, 46.0, threats[0].Evidence["value"], 1e-9)
}

func TestTemporalDetector_EmptyWindow(t *testing.T) {
	events := storage.NewMemoryEventSource()
	detector := NewTemporalDetector(events, core.FixedClock{T: detectorNow}, zap.NewNop().Sugar())

	threats, err := detector.Detect(context.Background(), DetectorConfig{
		ID:                 "tmp",
		Kind:               core.DetectorTemporal,
		FrequencyThreshold: 1,
	})
	require.NoError(t, err)
	assert.Empty(t, threats)
}
