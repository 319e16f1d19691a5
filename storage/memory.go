package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"argus/core"
)

// Memory is an in-memory Storage used by tests and by sweeps in ephemeral
// deployments. Safe for concurrent use.
type Memory struct {
	mu              sync.RWMutex
	policies        map[string]core.Policy
	violations      []core.Violation
	threats         map[string]core.Threat
	incidents       map[string]core.Incident
	plans           map[string]core.ResponsePlan
	escalationRules map[string]core.EscalationRule
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		policies:        make(map[string]core.Policy),
		threats:         make(map[string]core.Threat),
		incidents:       make(map[string]core.Incident),
		plans:           make(map[string]core.ResponsePlan),
		escalationRules: make(map[string]core.EscalationRule),
	}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func (m *Memory) CreatePolicy(policy *core.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[policy.ID] = *policy
	return nil
}

func (m *Memory) UpdatePolicy(id string, policy *core.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[id]; !ok {
		return core.ErrPolicyNotFound
	}
	m.policies[id] = *policy
	return nil
}

func (m *Memory) DeactivatePolicy(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	policy, ok := m.policies[id]
	if !ok {
		return core.ErrPolicyNotFound
	}
	policy.Active = false
	policy.UpdatedAt = time.Now()
	m.policies[id] = policy
	return nil
}

func (m *Memory) GetPolicy(id string) (*core.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	policy, ok := m.policies[id]
	if !ok {
		return nil, core.ErrPolicyNotFound
	}
	return &policy, nil
}

func (m *Memory) GetPolicies() ([]core.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortPolicies(m.policies, false), nil
}

func (m *Memory) GetActivePolicies() ([]core.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortPolicies(m.policies, true), nil
}

func sortPolicies(policies map[string]core.Policy, activeOnly bool) []core.Policy {
	out := make([]core.Policy, 0, len(policies))
	for _, p := range policies {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) CreateViolation(violation *core.Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations = append(m.violations, *violation)
	return nil
}

func (m *Memory) GetViolations(limit, offset int) ([]core.Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if offset >= len(m.violations) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(m.violations) {
		end = len(m.violations)
	}
	out := make([]core.Violation, end-offset)
	copy(out, m.violations[offset:end])
	return out, nil
}

func (m *Memory) GetViolationsByActor(actorID string, limit int) ([]core.Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Violation
	for i := len(m.violations) - 1; i >= 0; i-- {
		if m.violations[i].ActorID == actorID {
			out = append(out, m.violations[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) CreateThreat(threat *core.Threat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threats[threat.ID] = *threat
	return nil
}

func (m *Memory) GetThreat(id string) (*core.Threat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	threat, ok := m.threats[id]
	if !ok {
		return nil, core.ErrThreatNotFound
	}
	return &threat, nil
}

func (m *Memory) GetActiveThreats() ([]core.Threat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Threat
	for _, t := range m.threats {
		if t.Status == core.ThreatStatusActive {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) UpdateThreat(id string, threat *core.Threat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threats[id]; !ok {
		return core.ErrThreatNotFound
	}
	m.threats[id] = *threat
	return nil
}

func (m *Memory) CreateIncident(incident *core.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents[incident.ID] = *incident
	return nil
}

func (m *Memory) GetIncident(id string) (*core.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	incident, ok := m.incidents[id]
	if !ok {
		return nil, core.ErrIncidentNotFound
	}
	return &incident, nil
}

func (m *Memory) GetOpenIncidents() ([]core.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Incident
	for _, inc := range m.incidents {
		if inc.Status != core.IncidentStatusResolved {
			out = append(out, inc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) UpdateIncident(id string, incident *core.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.incidents[id]; !ok {
		return core.ErrIncidentNotFound
	}
	m.incidents[id] = *incident
	return nil
}

func (m *Memory) CreatePlan(plan *core.ResponsePlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.ID] = *plan
	return nil
}

func (m *Memory) UpdatePlan(id string, plan *core.ResponsePlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[id]; !ok {
		return core.ErrPlanNotFound
	}
	m.plans[id] = *plan
	return nil
}

func (m *Memory) GetPlan(id string) (*core.ResponsePlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	plan, ok := m.plans[id]
	if !ok {
		return nil, core.ErrPlanNotFound
	}
	return &plan, nil
}

func (m *Memory) GetActivePlans() ([]core.ResponsePlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.ResponsePlan
	for _, plan := range m.plans {
		if plan.Active {
			out = append(out, plan)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) CreateEscalationRule(rule *core.EscalationRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escalationRules[rule.ID] = *rule
	return nil
}

func (m *Memory) GetActiveEscalationRules() ([]core.EscalationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.EscalationRule
	for _, rule := range m.escalationRules {
		if rule.Active {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MemoryEventSource is an in-memory core.EventSource for tests and sweeps.
type MemoryEventSource struct {
	mu     sync.RWMutex
	events []core.Event
}

// NewMemoryEventSource creates an empty event source.
func NewMemoryEventSource() *MemoryEventSource {
	return &MemoryEventSource{}
}

// Add appends events.
func (m *MemoryEventSource) Add(events ...core.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
}

// RecentEvents returns events matching the filter, newest first.
func (m *MemoryEventSource) RecentEvents(filter core.EventFilter) ([]core.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []core.Event
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if filter.ActorID != "" && e.ActorID != filter.ActorID {
			continue
		}
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// MemoryProfileStore is an in-memory core.ProfileStore for tests.
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]core.BehavioralProfile
}

// NewMemoryProfileStore creates an empty profile store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]core.BehavioralProfile)}
}

// SetProfile stores a baseline.
func (m *MemoryProfileStore) SetProfile(profile core.BehavioralProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[profile.ActorID] = profile
}

// GetProfile returns the actor's baseline, or nil when none exists.
func (m *MemoryProfileStore) GetProfile(_ context.Context, actorID string) (*core.BehavioralProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	profile, ok := m.profiles[actorID]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}
