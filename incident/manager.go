package incident

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"argus/action"
	"argus/anomaly"
	"argus/core"
	"argus/metrics"
	"argus/policy"
	"argus/storage"
)

// Manager runs the incident lifecycle: open → assigned (optional) →
// escalated (repeatable) → resolved, with nothing leaving resolved. It sits
// downstream of the policy engine and anomaly manager through their handler
// hooks and implements the escalate action's collaborator interface.
type Manager struct {
	incidents   storage.IncidentStorage
	plans       storage.ResponsePlanStorage
	escalations storage.EscalationRuleStorage
	executor    *action.Executor
	conditions  *core.ConditionEvaluator
	clock       core.Clock
	logger      *zap.SugaredLogger
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Incidents   storage.IncidentStorage
	Plans       storage.ResponsePlanStorage
	Escalations storage.EscalationRuleStorage
	Executor    *action.Executor
	Conditions  *core.ConditionEvaluator
	Clock       core.Clock
	Logger      *zap.SugaredLogger
}

// NewManager creates an incident manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = core.SystemClock{}
	}
	conditions := cfg.Conditions
	if conditions == nil {
		conditions = core.NewConditionEvaluator(logger)
	}
	return &Manager{
		incidents:   cfg.Incidents,
		plans:       cfg.Plans,
		escalations: cfg.Escalations,
		executor:    cfg.Executor,
		conditions:  conditions,
		clock:       clock,
		logger:      logger,
	}
}

// CreateRequest describes a new incident. Priority is always derived from
// severity and category, never supplied.
type CreateRequest struct {
	Title           string                 `json:"title"`
	Description     string                 `json:"description,omitempty"`
	Severity        string                 `json:"severity"`
	Category        string                 `json:"category"`
	AffectedSystems []string               `json:"affected_systems,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedBy       string                 `json:"created_by,omitempty"`
}

// Create opens an incident, runs the selected response plan and fires every
// matching escalation rule. The response runs exactly once, here; later
// updates never re-run it.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*core.Incident, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("incident title is required")
	}

	now := m.clock.Now()
	inc := &core.Incident{
		ID:              uuid.NewString(),
		Title:           req.Title,
		Description:     req.Description,
		Severity:        req.Severity,
		Category:        req.Category,
		AffectedSystems: req.AffectedSystems,
		Status:          core.IncidentStatusOpen,
		Priority:        core.CalculatePriority(req.Severity, req.Category),
		Metadata:        req.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	inc.AppendTimeline(now, req.CreatedBy, "Incident created")

	if err := m.incidents.CreateIncident(inc); err != nil {
		return nil, fmt.Errorf("failed to create incident: %w", err)
	}
	metrics.IncidentsCreated.WithLabelValues(inc.Severity, inc.Category).Inc()
	m.logger.Infow("Incident created",
		"incident", inc.ID,
		"title", inc.Title,
		"severity", inc.Severity,
		"category", inc.Category,
		"priority", inc.Priority)

	m.runResponse(ctx, inc)

	// Persist response bookkeeping before escalation rules run: their
	// escalate actions read and rewrite the stored incident.
	if err := m.incidents.UpdateIncident(inc.ID, inc); err != nil {
		m.logger.Errorw("Failed to persist incident response state",
			"incident", inc.ID,
			"error", err)
	}

	m.runEscalationRules(ctx, inc)

	if updated, err := m.incidents.GetIncident(inc.ID); err == nil {
		inc = updated
	}
	return inc, nil
}

// UpdateRequest carries the fields an update may merge. Zero values leave the
// current value alone.
type UpdateRequest struct {
	Title           string                 `json:"title,omitempty"`
	Description     string                 `json:"description,omitempty"`
	Severity        string                 `json:"severity,omitempty"`
	Category        string                 `json:"category,omitempty"`
	AssignedTo      string                 `json:"assigned_to,omitempty"`
	AffectedSystems []string               `json:"affected_systems,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Update merges fields into an open incident. It never re-runs response
// selection and never recomputes priority; a resolved incident rejects the
// update. Assigning moves an open incident to assigned.
func (m *Manager) Update(ctx context.Context, id string, req UpdateRequest, by string) (*core.Incident, error) {
	inc, err := m.incidents.GetIncident(id)
	if err != nil {
		return nil, err
	}
	if inc.Status == core.IncidentStatusResolved {
		return nil, fmt.Errorf("incident %s: %w", id, core.ErrIncidentResolved)
	}

	if req.Title != "" {
		inc.Title = req.Title
	}
	if req.Description != "" {
		inc.Description = req.Description
	}
	if req.Severity != "" {
		inc.Severity = req.Severity
	}
	if req.Category != "" {
		inc.Category = req.Category
	}
	if req.AffectedSystems != nil {
		inc.AffectedSystems = req.AffectedSystems
	}
	if req.Metadata != nil {
		if inc.Metadata == nil {
			inc.Metadata = make(map[string]interface{})
		}
		for k, v := range req.Metadata {
			inc.Metadata[k] = v
		}
	}
	if req.AssignedTo != "" {
		inc.AssignedTo = req.AssignedTo
		if inc.Status == core.IncidentStatusOpen {
			inc.Status = core.IncidentStatusAssigned
		}
		inc.AppendTimeline(m.clock.Now(), by, "Assigned to "+req.AssignedTo)
	}

	now := m.clock.Now()
	inc.UpdatedAt = now
	inc.AppendTimeline(now, by, "Incident updated")

	if err := m.incidents.UpdateIncident(id, inc); err != nil {
		return nil, fmt.Errorf("failed to update incident %s: %w", id, err)
	}
	return inc, nil
}

// Escalate raises the incident's escalation level. Levels climb without
// bound; the status moves to escalated and stays there until resolution.
// Implements the escalate action's collaborator interface.
func (m *Manager) Escalate(ctx context.Context, incidentID, reason string) error {
	inc, err := m.incidents.GetIncident(incidentID)
	if err != nil {
		return err
	}
	if inc.Status == core.IncidentStatusResolved {
		return fmt.Errorf("incident %s: %w", incidentID, core.ErrIncidentResolved)
	}

	now := m.clock.Now()
	inc.Status = core.IncidentStatusEscalated
	inc.EscalationLevel++
	inc.UpdatedAt = now
	inc.AppendTimeline(now, "", fmt.Sprintf("Escalated to level %d: %s", inc.EscalationLevel, reason))

	if err := m.incidents.UpdateIncident(incidentID, inc); err != nil {
		return fmt.Errorf("failed to escalate incident %s: %w", incidentID, err)
	}
	metrics.IncidentEscalations.Inc()
	m.logger.Warnw("Incident escalated",
		"incident", incidentID,
		"level", inc.EscalationLevel,
		"reason", reason)
	return nil
}

// Resolve terminally closes the incident. Resolving an already-resolved
// incident is a no-op success and leaves the original resolution untouched.
func (m *Manager) Resolve(ctx context.Context, id, resolution, by string) error {
	inc, err := m.incidents.GetIncident(id)
	if err != nil {
		return err
	}
	if inc.Status == core.IncidentStatusResolved {
		return nil
	}

	now := m.clock.Now()
	inc.Status = core.IncidentStatusResolved
	inc.Resolution = resolution
	inc.ResolvedBy = by
	inc.ResolvedAt = &now
	inc.UpdatedAt = now
	inc.AppendTimeline(now, by, "Incident resolved: "+resolution)

	if err := m.incidents.UpdateIncident(id, inc); err != nil {
		return fmt.Errorf("failed to resolve incident %s: %w", id, err)
	}
	m.logger.Infow("Incident resolved", "incident", id, "by", by)
	return nil
}

// Get returns one incident.
func (m *Manager) Get(id string) (*core.Incident, error) {
	return m.incidents.GetIncident(id)
}

// HandleViolation opens an incident for a policy violation. Wired as the
// policy engine's violation hook; failures are logged because the decision
// path upstream has already completed.
func (m *Manager) HandleViolation(ctx context.Context, pol core.Policy, v core.Violation) {
	_, err := m.Create(ctx, CreateRequest{
		Title:       fmt.Sprintf("Policy violation: %s", pol.Name),
		Description: v.Message,
		Severity:    core.SeverityHigh,
		Category:    core.CategorySecurity,
		Metadata: map[string]interface{}{
			"violation_id": v.ID,
			"policy_id":    pol.ID,
			"rule_id":      v.RuleID,
			"rule_kind":    string(v.RuleKind),
			"actor_id":     v.ActorID,
			"resource":     v.Resource,
			"action":       v.Action,
		},
	})
	if err != nil {
		m.logger.Errorw("Failed to open incident for violation",
			"violation", v.ID,
			"policy", pol.ID,
			"error", err)
	}
}

// HandleThreat opens an incident for a detected threat. Wired as the anomaly
// manager's threat hook.
func (m *Manager) HandleThreat(ctx context.Context, cfg anomaly.DetectorConfig, t core.Threat) {
	category := core.CategorySecurity
	if t.Kind == core.DetectorNetwork {
		category = core.CategoryNetwork
	}
	_, err := m.Create(ctx, CreateRequest{
		Title:       fmt.Sprintf("Threat detected: %s", cfg.Name),
		Description: t.Description,
		Severity:    t.Severity,
		Category:    category,
		Metadata: map[string]interface{}{
			"threat_id": t.ID,
			"detector":  cfg.ID,
			"kind":      string(t.Kind),
			"evidence":  t.Evidence,
		},
	})
	if err != nil {
		m.logger.Errorw("Failed to open incident for threat",
			"threat", t.ID,
			"detector", cfg.ID,
			"error", err)
	}
}

var (
	_ action.Escalator        = (*Manager)(nil)
	_ policy.ViolationHandler = (*Manager)(nil)
	_ anomaly.ThreatHandler   = (*Manager)(nil)
)

func incidentSubject(inc *core.Incident) action.Subject {
	target := ""
	if len(inc.AffectedSystems) > 0 {
		target = inc.AffectedSystems[0]
	}
	if actor, ok := inc.Metadata["actor_id"].(string); ok {
		target = actor
	}
	return action.Subject{
		Kind:        action.SubjectIncident,
		ID:          inc.ID,
		Severity:    inc.Severity,
		Category:    inc.Category,
		Description: inc.Title,
		Target:      target,
		Context:     inc.Context(),
	}
}
