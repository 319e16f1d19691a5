package core

import (
	"time"

	"github.com/google/uuid"
)

// Severity levels shared by violations, threats and incidents.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// DetectorKind enumerates the anomaly detector families.
type DetectorKind string

const (
	DetectorStatistical DetectorKind = "statistical"
	DetectorBehavioral  DetectorKind = "behavioral"
	DetectorNetwork     DetectorKind = "network"
	DetectorTemporal    DetectorKind = "temporal"
)

// ThreatStatus is the one-way lifecycle of a threat.
type ThreatStatus string

const (
	ThreatStatusActive   ThreatStatus = "active"
	ThreatStatusResolved ThreatStatus = "resolved"
)

// Threat records an anomaly detector firing during a proactive scan. Threats
// are immutable once created except for the active→resolved transition;
// re-opening is disallowed.
type Threat struct {
	ID          string                 `json:"id"`
	Kind        DetectorKind           `json:"kind"`
	Severity    string                 `json:"severity"`
	Description string                 `json:"description"`
	Evidence    map[string]interface{} `json:"evidence,omitempty"`
	Status      ThreatStatus           `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty"`
}

// NewThreat creates an active threat with a generated ID.
func NewThreat(kind DetectorKind, severity, description string, evidence map[string]interface{}, now time.Time) *Threat {
	return &Threat{
		ID:          uuid.NewString(),
		Kind:        kind,
		Severity:    severity,
		Description: description,
		Evidence:    evidence,
		Status:      ThreatStatusActive,
		Timestamp:   now,
	}
}

// Resolve marks the threat resolved. Resolving an already-resolved threat is
// a no-op; there is no transition back to active.
func (t *Threat) Resolve(now time.Time) {
	if t.Status == ThreatStatusResolved {
		return
	}
	t.Status = ThreatStatusResolved
	t.ResolvedAt = &now
}

// BucketSeverity maps how far a measured value sits past its threshold onto
// a severity level. Used by every detector kind so severities are comparable
// across them.
func BucketSeverity(value, threshold float64) string {
	if threshold <= 0 {
		return SeverityInfo
	}
	ratio := value / threshold
	switch {
	case ratio >= 3:
		return SeverityCritical
	case ratio >= 2:
		return SeverityHigh
	case ratio >= 1.5:
		return SeverityMedium
	case ratio >= 1:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// SeverityWeight returns the numeric weight used in incident priority math.
// Unknown severities weigh zero.
func SeverityWeight(severity string) int {
	switch severity {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}
