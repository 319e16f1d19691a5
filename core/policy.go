package core

import (
	"time"
)

// RuleKind enumerates the rule types the evaluator implements. Dispatch over
// RuleKind is exhaustive; an unknown kind is a configuration error, not a
// silent no-op.
type RuleKind string

const (
	RuleKindFrequency     RuleKind = "frequency"
	RuleKindThreshold     RuleKind = "threshold"
	RuleKindPattern       RuleKind = "pattern"
	RuleKindTimeBased     RuleKind = "time_based"
	RuleKindLocationBased RuleKind = "location_based"
	RuleKindDeviceBased   RuleKind = "device_based"
	RuleKindBehavioral    RuleKind = "behavioral"
)

// Valid reports whether the kind is one the evaluator implements.
func (k RuleKind) Valid() bool {
	switch k {
	case RuleKindFrequency, RuleKindThreshold, RuleKindPattern, RuleKindTimeBased,
		RuleKindLocationBased, RuleKindDeviceBased, RuleKindBehavioral:
		return true
	}
	return false
}

// Rule is a single checkable condition type belonging to a policy (or, in the
// detection path, standing alone). Conditions gate whether the kind-specific
// check runs at all; the check then independently decides pass/fail.
type Rule struct {
	ID         string      `json:"id" yaml:"id" validate:"required"`
	Name       string      `json:"name" yaml:"name"`
	Kind       RuleKind    `json:"kind" yaml:"kind" validate:"required"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Params     RuleParams  `json:"params" yaml:"params"`
}

// RuleParams carries the kind-specific parameters. Only the fields relevant
// to the rule's kind are consulted.
type RuleParams struct {
	// frequency
	Threshold  float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	TimeWindow int     `json:"time_window,omitempty" yaml:"time_window,omitempty"` // seconds

	// threshold
	Field    string `json:"field,omitempty" yaml:"field,omitempty"`
	Operator string `json:"operator,omitempty" yaml:"operator,omitempty"` // gt, gte, lt, lte, eq, ne

	// pattern
	Patterns []PatternSpec `json:"patterns,omitempty" yaml:"patterns,omitempty"`

	// time_based; empty allow-lists mean no restriction
	AllowedHours []int    `json:"allowed_hours,omitempty" yaml:"allowed_hours,omitempty"` // 0-23
	AllowedDays  []string `json:"allowed_days,omitempty" yaml:"allowed_days,omitempty"`   // monday..sunday

	// location_based / device_based
	Allowed []string `json:"allowed,omitempty" yaml:"allowed,omitempty"`
	Blocked []string `json:"blocked,omitempty" yaml:"blocked,omitempty"`

	// behavioral; per-dimension deviation thresholds in [0,1]
	LoginHourThreshold float64 `json:"login_hour_threshold,omitempty" yaml:"login_hour_threshold,omitempty"`
	IPCountThreshold   float64 `json:"ip_count_threshold,omitempty" yaml:"ip_count_threshold,omitempty"`
	ResourceThreshold  float64 `json:"resource_threshold,omitempty" yaml:"resource_threshold,omitempty"`
}

// PatternSpec is one pattern the pattern rule kind tests. Match is one of
// equals, contains, regex, starts_with, ends_with.
type PatternSpec struct {
	Field   string `json:"field" yaml:"field"`
	Match   string `json:"match" yaml:"match"`
	Pattern string `json:"pattern" yaml:"pattern"`
}

// TargetFilter scopes a policy to actors, resources and actions. Empty lists
// are wildcards.
type TargetFilter struct {
	Users     []string `json:"users,omitempty" yaml:"users,omitempty"`
	Resources []string `json:"resources,omitempty" yaml:"resources,omitempty"`
	Actions   []string `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// Policy is a named, prioritized bundle of rules and actions governing one or
// more resources/actions. Policies are soft-deleted (Active=false), never
// purged, and a snapshot is immutable during one evaluation pass.
type Policy struct {
	ID         string         `json:"id" yaml:"id" validate:"required"`
	Name       string         `json:"name" yaml:"name" validate:"required"`
	Priority   int            `json:"priority" yaml:"priority"`
	Active     bool           `json:"active" yaml:"active"`
	Targets    TargetFilter   `json:"targets" yaml:"targets"`
	Conditions []Condition    `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Rules      []Rule         `json:"rules" yaml:"rules" validate:"min=1,dive"`
	Actions    []ActionSpec   `json:"actions,omitempty" yaml:"actions,omitempty"`
	CreatedAt  time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time      `json:"updated_at" yaml:"-"`
}

// AppliesTo reports whether the policy's target filters match the tuple.
// Empty filter lists are wildcards; condition applicability is checked
// separately by the engine so failures there can be logged with context.
func (p *Policy) AppliesTo(actorID, resource, action string) bool {
	return matchesFilter(p.Targets.Users, actorID) &&
		matchesFilter(p.Targets.Resources, resource) &&
		matchesFilter(p.Targets.Actions, action)
}

func matchesFilter(filter []string, value string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == value || f == "*" {
			return true
		}
	}
	return false
}

// Violation records a rule firing during enforcement. Violations are
// append-only and never mutated after creation.
type Violation struct {
	ID        string                 `json:"id"`
	PolicyID  string                 `json:"policy_id"`
	RuleID    string                 `json:"rule_id"`
	RuleKind  RuleKind               `json:"rule_kind"`
	ActorID   string                 `json:"actor_id"`
	Resource  string                 `json:"resource"`
	Action    string                 `json:"action"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ActionSpec names an action the executor dispatches when a rule fires, a
// threat is created, or an incident escalates.
type ActionSpec struct {
	Type   string                 `json:"type" yaml:"type" validate:"required"`
	Config map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
}
