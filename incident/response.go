package incident

import (
	"context"
	"fmt"
	"sort"

	"argus/core"
)

// Built-in step types handled by the manager itself. Anything else is
// dispatched through the action executor like a plan action.
const (
	StepSetPriority = "set_priority"
	StepAssign      = "assign"
	StepAddNote     = "add_note"
)

// defaultPlan runs when no configured plan matches a new incident.
var defaultPlan = core.ResponsePlan{
	ID:   "default",
	Name: "Default response",
	Actions: []core.ActionSpec{
		{Type: "log"},
		{Type: "notify"},
	},
}

// runResponse selects and executes a response plan for a new incident: the
// highest-priority active plan whose conditions hold, else the built-in
// default. Steps run in order, each gated by its own conditions; a failing
// condition or step skips, never aborts.
func (m *Manager) runResponse(ctx context.Context, inc *core.Incident) {
	plan := m.selectPlan(inc)
	inc.ResponsePlanID = plan.ID
	inc.AppendTimeline(m.clock.Now(), "", "Response plan selected: "+plan.Name)
	m.logger.Infow("Response plan selected",
		"incident", inc.ID,
		"plan", plan.ID,
		"steps", len(plan.Steps))

	for _, step := range plan.Steps {
		if !m.conditions.EvaluateAll(step.Conditions, inc.Context()) {
			m.logger.Debugw("Response step skipped",
				"incident", inc.ID,
				"step", step.ID,
				"reason", "conditions not met")
			continue
		}
		m.runStep(ctx, inc, step)
	}

	if len(plan.Actions) > 0 {
		m.executor.Execute(ctx, plan.Actions, incidentSubject(inc))
	}
}

// selectPlan picks the highest-priority active plan whose applicability
// conditions hold. A plan listing failure falls back to the default rather
// than leaving the incident without a response.
func (m *Manager) selectPlan(inc *core.Incident) core.ResponsePlan {
	plans, err := m.plans.GetActivePlans()
	if err != nil {
		m.logger.Errorw("Failed to list response plans, using default",
			"incident", inc.ID,
			"error", err)
		return defaultPlan
	}

	sort.SliceStable(plans, func(i, j int) bool {
		return plans[i].Priority > plans[j].Priority
	})
	for _, plan := range plans {
		if m.conditions.EvaluateAll(plan.Conditions, inc.Context()) {
			return plan
		}
	}
	return defaultPlan
}

// runStep executes one response step. The priority, assignment and note
// steps mutate the incident directly; every other type goes through the
// action executor's dispatch table.
func (m *Manager) runStep(ctx context.Context, inc *core.Incident, step core.ResponseStep) {
	now := m.clock.Now()
	switch step.Type {
	case StepSetPriority:
		priority, ok := core.ToFloat(step.Params["priority"])
		if !ok {
			m.logger.Warnw("Response step has no numeric priority, skipping",
				"incident", inc.ID,
				"step", step.ID)
			return
		}
		inc.Priority = int(priority)
		if inc.Priority > core.MaxIncidentPriority {
			inc.Priority = core.MaxIncidentPriority
		}
		inc.AppendTimeline(now, "", fmt.Sprintf("Priority set to %d by step %s", inc.Priority, step.Name))

	case StepAssign:
		assignee, _ := step.Params["assignee"].(string)
		if assignee == "" {
			m.logger.Warnw("Response step has no assignee, skipping",
				"incident", inc.ID,
				"step", step.ID)
			return
		}
		inc.AssignedTo = assignee
		if inc.Status == core.IncidentStatusOpen {
			inc.Status = core.IncidentStatusAssigned
		}
		inc.AppendTimeline(now, "", "Assigned to "+assignee+" by step "+step.Name)

	case StepAddNote:
		note, _ := step.Params["message"].(string)
		inc.AppendTimeline(now, "", note)

	default:
		spec := core.ActionSpec{Type: step.Type, Config: step.Params}
		m.executor.Execute(ctx, []core.ActionSpec{spec}, incidentSubject(inc))
	}
}

// runEscalationRules evaluates every active escalation rule against the
// incident after the initial response. Every rule whose conditions hold
// fires; one incident can trigger several.
func (m *Manager) runEscalationRules(ctx context.Context, inc *core.Incident) {
	rules, err := m.escalations.GetActiveEscalationRules()
	if err != nil {
		m.logger.Errorw("Failed to list escalation rules",
			"incident", inc.ID,
			"error", err)
		return
	}

	for _, rule := range rules {
		if !m.conditions.EvaluateAll(rule.Conditions, inc.Context()) {
			continue
		}
		m.logger.Infow("Escalation rule fired",
			"incident", inc.ID,
			"rule", rule.ID,
			"name", rule.Name)
		m.executor.Execute(ctx, rule.Actions, incidentSubject(inc))
	}
}
