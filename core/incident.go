package core

import (
	"time"
)

// IncidentStatus is the incident lifecycle state. Transitions only advance:
// open → assigned (optional) → escalated (repeatable, level climbs) →
// resolved, and nothing leaves resolved.
type IncidentStatus string

const (
	IncidentStatusOpen      IncidentStatus = "open"
	IncidentStatusAssigned  IncidentStatus = "assigned"
	IncidentStatusEscalated IncidentStatus = "escalated"
	IncidentStatusResolved  IncidentStatus = "resolved"
)

// Incident categories, weighted for priority derivation.
const (
	CategorySecurity    = "security"
	CategorySystem      = "system"
	CategoryNetwork     = "network"
	CategoryApplication = "application"
)

// CategoryWeight returns the numeric weight used in incident priority math.
// Unknown categories weigh zero.
func CategoryWeight(category string) int {
	switch category {
	case CategorySecurity:
		return 4
	case CategorySystem:
		return 3
	case CategoryNetwork:
		return 2
	case CategoryApplication:
		return 1
	default:
		return 0
	}
}

// MaxIncidentPriority caps derived priority.
const MaxIncidentPriority = 5

// CalculatePriority derives incident priority from severity and category:
// min(severityWeight + categoryWeight, 5). Deterministic by construction so
// the same inputs always produce the same priority.
func CalculatePriority(severity, category string) int {
	priority := SeverityWeight(severity) + CategoryWeight(category)
	if priority > MaxIncidentPriority {
		priority = MaxIncidentPriority
	}
	return priority
}

// Incident is a tracked remediation workflow created from violations and
// threats. It is the only entity with lifecycle mutation, and mutation is
// append-style: status and fields advance, history is never rewritten.
type Incident struct {
	ID              string                 `json:"id"`
	Title           string                 `json:"title"`
	Description     string                 `json:"description,omitempty"`
	Severity        string                 `json:"severity"`
	Category        string                 `json:"category"`
	AffectedSystems []string               `json:"affected_systems,omitempty"`
	Status          IncidentStatus         `json:"status"`
	Priority        int                    `json:"priority"`
	AssignedTo      string                 `json:"assigned_to,omitempty"`
	EscalationLevel int                    `json:"escalation_level"`
	ResponsePlanID  string                 `json:"response_plan_id,omitempty"`
	Resolution      string                 `json:"resolution,omitempty"`
	ResolvedBy      string                 `json:"resolved_by,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Timeline        []TimelineEntry        `json:"timeline,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	ResolvedAt      *time.Time             `json:"resolved_at,omitempty"`
}

// TimelineEntry is one append-only history record on an incident.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor,omitempty"`
	Message   string    `json:"message"`
}

// AppendTimeline records a history entry without touching earlier ones.
func (i *Incident) AppendTimeline(now time.Time, actor, message string) {
	i.Timeline = append(i.Timeline, TimelineEntry{
		Timestamp: now,
		Actor:     actor,
		Message:   message,
	})
}

// Context exposes the incident to the condition evaluator, for response-plan
// applicability, step gates and escalation rules.
func (i *Incident) Context() map[string]interface{} {
	ctx := map[string]interface{}{
		"id":               i.ID,
		"title":            i.Title,
		"severity":         i.Severity,
		"category":         i.Category,
		"status":           string(i.Status),
		"priority":         i.Priority,
		"escalation_level": i.EscalationLevel,
		"affected_systems": i.AffectedSystems,
	}
	if i.Metadata != nil {
		ctx["metadata"] = i.Metadata
	}
	return ctx
}

// ResponseStep is one condition-gated step of a response plan. A failing
// condition skips the step; it does not abort the plan.
type ResponseStep struct {
	ID         string                 `json:"id" yaml:"id"`
	Name       string                 `json:"name" yaml:"name"`
	Type       string                 `json:"type" yaml:"type" validate:"required"`
	Params     map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
	Conditions []Condition            `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// ResponsePlan is the ordered steps and actions selected to handle a new
// incident. The highest-priority plan whose conditions hold wins; a built-in
// default runs when none match.
type ResponsePlan struct {
	ID         string         `json:"id" yaml:"id" validate:"required"`
	Name       string         `json:"name" yaml:"name" validate:"required"`
	Priority   int            `json:"priority" yaml:"priority"`
	Active     bool           `json:"active" yaml:"active"`
	Conditions []Condition    `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Steps      []ResponseStep `json:"steps" yaml:"steps"`
	Actions    []ActionSpec   `json:"actions,omitempty" yaml:"actions,omitempty"`
	CreatedAt  time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time      `json:"updated_at" yaml:"-"`
}

// EscalationRule is a condition-gated action set evaluated after the initial
// response. Independent of response plans; every matching rule fires.
type EscalationRule struct {
	ID         string       `json:"id" yaml:"id" validate:"required"`
	Name       string       `json:"name" yaml:"name"`
	Active     bool         `json:"active" yaml:"active"`
	Conditions []Condition  `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Actions    []ActionSpec `json:"actions" yaml:"actions" validate:"min=1"`
}
