package storage

import (
	"argus/core"
)

// PolicyStorage persists policies. Policies are soft-deleted by deactivation;
// updates are whole-entity replacements.
type PolicyStorage interface {
	GetPolicies() ([]core.Policy, error)
	GetActivePolicies() ([]core.Policy, error)
	GetPolicy(id string) (*core.Policy, error)
	CreatePolicy(policy *core.Policy) error
	UpdatePolicy(id string, policy *core.Policy) error
	DeactivatePolicy(id string) error
}

// ViolationStorage persists violations. Append-only: there is deliberately no
// update method.
type ViolationStorage interface {
	CreateViolation(violation *core.Violation) error
	GetViolations(limit, offset int) ([]core.Violation, error)
	GetViolationsByActor(actorID string, limit int) ([]core.Violation, error)
}

// ThreatStorage persists threats. The only mutation is the one-way
// active→resolved transition, written as a whole-entity replacement.
type ThreatStorage interface {
	CreateThreat(threat *core.Threat) error
	GetThreat(id string) (*core.Threat, error)
	GetActiveThreats() ([]core.Threat, error)
	UpdateThreat(id string, threat *core.Threat) error
}

// IncidentStorage persists incidents, the one entity with lifecycle mutation.
type IncidentStorage interface {
	CreateIncident(incident *core.Incident) error
	GetIncident(id string) (*core.Incident, error)
	GetOpenIncidents() ([]core.Incident, error)
	UpdateIncident(id string, incident *core.Incident) error
}

// ResponsePlanStorage persists response plans.
type ResponsePlanStorage interface {
	GetActivePlans() ([]core.ResponsePlan, error)
	GetPlan(id string) (*core.ResponsePlan, error)
	CreatePlan(plan *core.ResponsePlan) error
	UpdatePlan(id string, plan *core.ResponsePlan) error
}

// EscalationRuleStorage persists escalation rules.
type EscalationRuleStorage interface {
	GetActiveEscalationRules() ([]core.EscalationRule, error)
	CreateEscalationRule(rule *core.EscalationRule) error
}

// Storage bundles every entity store. The SQLite implementation satisfies the
// whole set; tests mix and match the in-memory fakes.
type Storage interface {
	PolicyStorage
	ViolationStorage
	ThreatStorage
	IncidentStorage
	ResponsePlanStorage
	EscalationRuleStorage
	Close() error
}
