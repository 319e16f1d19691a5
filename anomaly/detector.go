package anomaly

import (
	"context"
	"time"

	"argus/core"
)

// Detector is one anomaly detection algorithm. Detect scans a window of
// telemetry described by the config and returns zero or more threats; an
// empty result is a definite "nothing anomalous", not an error. Collaborator
// failures (event source, profile store) are returned to the caller.
type Detector interface {
	Kind() core.DetectorKind
	Detect(ctx context.Context, cfg DetectorConfig) ([]*core.Threat, error)
}

// DetectorConfig describes one configured detection unit: which algorithm to
// run, over what telemetry window, with what thresholds, and which actions
// fire when a threat is created. Threshold fields only apply to their own
// kind; a threshold of zero disables that check.
type DetectorConfig struct {
	ID        string            `json:"id" yaml:"id" mapstructure:"id" validate:"required"`
	Name      string            `json:"name" yaml:"name" mapstructure:"name"`
	Kind      core.DetectorKind `json:"kind" yaml:"kind" mapstructure:"kind" validate:"required"`
	Window    time.Duration     `json:"window" yaml:"window" mapstructure:"window"`
	EventType string            `json:"event_type,omitempty" yaml:"event_type,omitempty" mapstructure:"event_type"`

	// statistical
	Field           string  `json:"field,omitempty" yaml:"field,omitempty" mapstructure:"field"`
	ZScoreThreshold float64 `json:"zscore_threshold,omitempty" yaml:"zscore_threshold,omitempty" mapstructure:"zscore_threshold"`

	// behavioral
	LoginHourThreshold float64 `json:"login_hour_threshold,omitempty" yaml:"login_hour_threshold,omitempty" mapstructure:"login_hour_threshold"`
	IPCountThreshold   float64 `json:"ip_count_threshold,omitempty" yaml:"ip_count_threshold,omitempty" mapstructure:"ip_count_threshold"`
	ResourceThreshold  float64 `json:"resource_threshold,omitempty" yaml:"resource_threshold,omitempty" mapstructure:"resource_threshold"`

	// network
	ConnCountThreshold float64 `json:"conn_count_threshold,omitempty" yaml:"conn_count_threshold,omitempty" mapstructure:"conn_count_threshold"`
	BandwidthThreshold float64 `json:"bandwidth_threshold,omitempty" yaml:"bandwidth_threshold,omitempty" mapstructure:"bandwidth_threshold"`
	LatencyThreshold   float64 `json:"latency_threshold,omitempty" yaml:"latency_threshold,omitempty" mapstructure:"latency_threshold"`

	// temporal
	FrequencyThreshold float64 `json:"frequency_threshold,omitempty" yaml:"frequency_threshold,omitempty" mapstructure:"frequency_threshold"`
	HistogramThreshold float64 `json:"histogram_threshold,omitempty" yaml:"histogram_threshold,omitempty" mapstructure:"histogram_threshold"`

	Actions []core.ActionSpec `json:"actions,omitempty" yaml:"actions,omitempty" mapstructure:"actions"`
}

// defaultWindow is used when a config omits its telemetry window.
const defaultWindow = time.Hour

func (c DetectorConfig) window() time.Duration {
	if c.Window <= 0 {
		return defaultWindow
	}
	return c.Window
}

func (c DetectorConfig) label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}
