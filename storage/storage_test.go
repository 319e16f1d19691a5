package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/core"
)

// Both implementations run the same suite; behavior must not depend on the
// backend.
func forEachStorage(t *testing.T, run func(t *testing.T, store Storage)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		run(t, NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		store, err := NewSQLite(filepath.Join(t.TempDir(), "argus.db"), zap.NewNop().Sugar())
		require.NoError(t, err)
		defer store.Close()
		run(t, store)
	})
}

var storageNow = time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

func testPolicy(id string, priority int, active bool) *core.Policy {
	return &core.Policy{
		ID:       id,
		Name:     "policy " + id,
		Priority: priority,
		Active:   active,
		Rules: []core.Rule{
			{ID: "r1", Kind: core.RuleKindThreshold, Params: core.RuleParams{Field: "x", Operator: "gt", Threshold: 1}},
		},
		CreatedAt: storageNow,
		UpdatedAt: storageNow,
	}
}

func TestPolicyCRUD(t *testing.T) {
	forEachStorage(t, func(t *testing.T, store Storage) {
		require.NoError(t, store.CreatePolicy(testPolicy("p1", 1, true)))

		got, err := store.GetPolicy("p1")
		require.NoError(t, err)
		assert.Equal(t, "policy p1", got.Name)
		require.Len(t, got.Rules, 1, "Nested rules survive the round trip")
		assert.Equal(t, core.RuleKindThreshold, got.Rules[0].Kind)

		got.Name = "renamed"
		require.NoError(t, store.UpdatePolicy("p1", got))
		got, err = store.GetPolicy("p1")
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)

		_, err = store.GetPolicy("absent")
		assert.ErrorIs(t, err, core.ErrPolicyNotFound)
		assert.ErrorIs(t, store.UpdatePolicy("absent", testPolicy("absent", 1, true)), core.ErrPolicyNotFound)
	})
}

func TestActivePoliciesOrderedByPriority(t *testing.T) {
	forEachStorage(t, func(t *testing.T, store Storage) {
		require.NoError(t, store.CreatePolicy(testPolicy("low", 1, true)))
		require.NoError(t, store.CreatePolicy(testPolicy("high", 10, true)))
		require.NoError(t, store.CreatePolicy(testPolicy("off", 99, false)))

		active, err := store.GetActivePolicies()
		require.NoError(t, err)
		require.Len(t, active, 2, "Inactive policies are filtered out")
		assert.Equal(t, "high", active[0].ID)
		assert.Equal(t, "low", active[1].ID)
	})
}

func TestDeactivatePolicy(t *testing.T) {
	forEachStorage(t, func(t *testing.T, store Storage) {
		require.NoError(t, store.CreatePolicy(testPolicy("p1", 1, true)))
		require.NoError(t, store.DeactivatePolicy("p1"))

		got, err := store.GetPolicy("p1")
		require.NoError(t, err)
		assert.False(t, got.Active)

		active, err := store.GetActivePolicies()
		require.NoError(t, err)
		assert.Empty(t, active)

		assert.ErrorIs(t, store.DeactivatePolicy("absent"), core.ErrPolicyNotFound)
	})
}

func TestViolationQueries(t *testing.T) {
	forEachStorage(t, func(t *testing.T, store Storage) {
		actors := []string{"alice", "bob", "alice"}
		for i, actor := range actors {
			require.NoError(t, store.CreateViolation(&core.Violation{
				ID:        fmt.Sprintf("v%d", i+1),
				PolicyID:  "p1",
				RuleID:    "r1",
				RuleKind:  core.RuleKindThreshold,
				ActorID:   actor,
				Resource:  "res",
				Action:    "login",
				Timestamp: storageNow.Add(time.Duration(i) * time.Minute),
			}))
		}

		all, err := store.GetViolations(10, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		page, err := store.GetViolations(2, 0)
		require.NoError(t, err)
		assert.Len(t, page, 2)

		byActor, err := store.GetViolationsByActor("alice", 10)
		require.NoError(t, err)
		assert.Len(t, byActor, 2)
		for _, v := range byActor {
			assert.Equal(t, "alice", v.ActorID)
		}
	})
}

func TestThreatLifecycle(t *testing.T) {
	forEachStorage(t, func(t *testing.T, store Storage) {
		threat := core.NewThreat(core.DetectorStatistical, core.SeverityHigh, "outlier",
			map[string]interface{}{"zscore": 4.2}, storageNow)
		require.NoError(t, store.CreateThreat(threat))

		got, err := store.GetThreat(threat.ID)
		require.NoError(t, err)
		assert.Equal(t, core.ThreatStatusActive, got.Status)
		assert.InDelta(t, 4.2, got.Evidence["zscore"], 1e-9)

		active, err := store.GetActiveThreats()
		require.NoError(t, err)
		assert.Len(t, active, 1)

		got.Resolve(storageNow.Add(time.Hour))
		require.NoError(t, store.UpdateThreat(threat.ID, got))

		active, err = store.GetActiveThreats()
		require.NoError(t, err)
		assert.Empty(t, active, "Resolved threats leave the active set")

		_, err = store.GetThreat("absent")
		assert.ErrorIs(t, err, core.ErrThreatNotFound)
	})
}

func TestIncidentQueries(t *testing.T) {
	forEachStorage(t, func(t *testing.T, store Storage) {
		open := &core.Incident{
			ID: "i1", Title: "open", Severity: core.SeverityHigh, Category: core.CategorySecurity,
			Status: core.IncidentStatusOpen, Priority: 5, CreatedAt: storageNow, UpdatedAt: storageNow,
		}
		lower := &core.Incident{
			ID: "i2", Title: "lower", Severity: core.SeverityLow, Category: core.CategoryApplication,
			Status: core.IncidentStatusAssigned, Priority: 2, CreatedAt: storageNow, UpdatedAt: storageNow,
		}
		closed := &core.Incident{
			ID: "i3", Title: "closed", Severity: core.SeverityLow, Category: core.CategoryApplication,
			Status: core.IncidentStatusResolved, Priority: 1, CreatedAt: storageNow, UpdatedAt: storageNow,
		}
		require.NoError(t, store.CreateIncident(open))
		require.NoError(t, store.CreateIncident(lower))
		require.NoError(t, store.CreateIncident(closed))

		got, err := store.GetOpenIncidents()
		require.NoError(t, err)
		require.Len(t, got, 2, "Resolved incidents are excluded")
		assert.Equal(t, "i1", got[0].ID, "Highest priority first")

		open.Status = core.IncidentStatusEscalated
		open.EscalationLevel = 1
		require.NoError(t, store.UpdateIncident("i1", open))
		stored, err := store.GetIncident("i1")
		require.NoError(t, err)
		assert.Equal(t, core.IncidentStatusEscalated, stored.Status)
		assert.Equal(t, 1, stored.EscalationLevel)

		_, err = store.GetIncident("absent")
		assert.ErrorIs(t, err, core.ErrIncidentNotFound)
		assert.ErrorIs(t, store.UpdateIncident("absent", open), core.ErrIncidentNotFound)
	})
}

func TestResponsePlanQueries(t *testing.T) {
	forEachStorage(t, func(t *testing.T, store Storage) {
		plans := []*core.ResponsePlan{
			{ID: "a", Name: "A", Priority: 1, Active: true, CreatedAt: storageNow, UpdatedAt: storageNow},
			{ID: "b", Name: "B", Priority: 10, Active: true, CreatedAt: storageNow, UpdatedAt: storageNow},
			{ID: "c", Name: "C", Priority: 99, Active: false, CreatedAt: storageNow, UpdatedAt: storageNow},
		}
		for _, plan := range plans {
			require.NoError(t, store.CreatePlan(plan))
		}

		active, err := store.GetActivePlans()
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, "b", active[0].ID)

		_, err = store.GetPlan("absent")
		assert.ErrorIs(t, err, core.ErrPlanNotFound)
		assert.ErrorIs(t, store.UpdatePlan("absent", plans[0]), core.ErrPlanNotFound)
	})
}

func TestEscalationRuleQueries(t *testing.T) {
	forEachStorage(t, func(t *testing.T, store Storage) {
		require.NoError(t, store.CreateEscalationRule(&core.EscalationRule{
			ID: "on", Name: "On", Active: true,
			Actions: []core.ActionSpec{{Type: "notify"}},
		}))
		require.NoError(t, store.CreateEscalationRule(&core.EscalationRule{
			ID: "off", Name: "Off", Active: false,
			Actions: []core.ActionSpec{{Type: "notify"}},
		}))

		rules, err := store.GetActiveEscalationRules()
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.Equal(t, "on", rules[0].ID)
	})
}

func TestMemoryEventSourceFiltering(t *testing.T) {
	source := NewMemoryEventSource()
	source.Add(
		core.Event{EventID: "e1", EventType: "login", ActorID: "alice", Timestamp: storageNow.Add(-2 * time.Hour)},
		core.Event{EventID: "e2", EventType: "login", ActorID: "bob", Timestamp: storageNow.Add(-time.Minute)},
		core.Event{EventID: "e3", EventType: "access", ActorID: "alice", Timestamp: storageNow},
	)

	recent, err := source.RecentEvents(core.EventFilter{Since: storageNow.Add(-time.Hour)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
	assert.Equal(t, "e3", recent[0].EventID, "Newest first")

	logins, err := source.RecentEvents(core.EventFilter{EventType: "login"})
	require.NoError(t, err)
	assert.Len(t, logins, 2)

	alice, err := source.RecentEvents(core.EventFilter{ActorID: "alice", Limit: 1})
	require.NoError(t, err)
	require.Len(t, alice, 1)
	assert.Equal(t, "e3", alice[0].EventID)
}
