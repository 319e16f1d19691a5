package policy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/action"
	"argus/core"
	"argus/storage"
)

// recordingHandler is an action.Handler that records every execution.
type recordingHandler struct {
	actionType string

	mu       sync.Mutex
	subjects []action.Subject
}

func (h *recordingHandler) Type() string { return h.actionType }

func (h *recordingHandler) Execute(_ context.Context, _ core.ActionSpec, subject action.Subject) (*action.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subjects = append(h.subjects, subject)
	return &action.Result{Type: h.actionType, Status: action.StatusCompleted}, nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subjects)
}

type engineFixture struct {
	engine   *Engine
	store    *storage.Memory
	events   *storage.MemoryEventSource
	profiles *storage.MemoryProfileStore
	handler  *recordingHandler
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	logger := zap.NewNop().Sugar()
	store := storage.NewMemory()
	events := storage.NewMemoryEventSource()
	profiles := storage.NewMemoryProfileStore()

	handler := &recordingHandler{actionType: "log"}
	executor := action.NewExecutor(time.Second, logger)
	executor.Register(handler)

	evaluator := NewEvaluator(
		core.NewConditionEvaluator(logger),
		core.NewLocalCounterStore(),
		profiles,
		events,
		nil,
		logger,
	)

	engine := NewEngine(EngineConfig{
		Store:      store,
		Violations: store,
		Evaluator:  evaluator,
		Executor:   executor,
		Events:     events,
		Logger:     logger,
	})
	return &engineFixture{engine: engine, store: store, events: events, profiles: profiles, handler: handler}
}

func (fx *engineFixture) addPolicy(t *testing.T, policy core.Policy) {
	t.Helper()
	require.NoError(t, fx.store.CreatePolicy(&policy))
	require.NoError(t, fx.engine.Load())
}

func TestEnforce_FirstViolationPerPolicy(t *testing.T) {
	fx := newEngineFixture(t)

	// Both rules would fire; only the first may produce a violation and
	// the second rule's evaluation must not add another.
	fx.addPolicy(t, core.Policy{
		ID:     "p1",
		Name:   "ordered",
		Active: true,
		Rules: []core.Rule{
			{ID: "rule-a", Kind: core.RuleKindThreshold, Params: core.RuleParams{Field: "attempts", Operator: "gt", Threshold: 1}},
			{ID: "rule-b", Kind: core.RuleKindThreshold, Params: core.RuleParams{Field: "attempts", Operator: "gt", Threshold: 0}},
		},
		Actions: []core.ActionSpec{{Type: "log"}},
	})

	result, err := fx.engine.Enforce(context.Background(), "alice", "res", "login",
		map[string]interface{}{"attempts": 5})
	require.NoError(t, err)

	require.Len(t, result.Violations, 1, "Exactly one violation per policy per call")
	assert.Equal(t, "rule-a", result.Violations[0].RuleID)
	assert.Equal(t, "p1", result.Violations[0].PolicyID)
	assert.Equal(t, 1, fx.handler.count(), "Actions dispatch once, for the first violation only")
}

func TestEnforce_ContextIsSnapshotted(t *testing.T) {
	fx := newEngineFixture(t)

	fx.addPolicy(t, core.Policy{
		ID:     "p1",
		Name:   "snapshot",
		Active: true,
		Rules: []core.Rule{
			{ID: "rule-a", Kind: core.RuleKindThreshold, Params: core.RuleParams{Field: "attempts", Operator: "gt", Threshold: 1}},
		},
		Actions: []core.ActionSpec{{Type: "log"}},
	})

	callerCtx := map[string]interface{}{"attempts": 5}
	result, err := fx.engine.Enforce(context.Background(), "alice", "res", "login", callerCtx)
	require.NoError(t, err)
	require.Len(t, result.Violations, 1)

	// The caller's map is read, never written to.
	assert.NotContains(t, callerCtx, "actor_id", "Caller map must not be mutated")

	// Mutating the caller's map after the call must not reach the stored
	// violation.
	callerCtx["attempts"] = 0
	assert.Equal(t, 5, result.Violations[0].Context["attempts"])
	assert.Equal(t, "alice", result.Violations[0].Context["actor_id"])

	stored, err := fx.store.GetViolations(10, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 5, stored[0].Context["attempts"])
}

func TestEnforce_TargetFilters(t *testing.T) {
	fx := newEngineFixture(t)

	fx.addPolicy(t, core.Policy{
		ID:      "p1",
		Name:    "admins only",
		Active:  true,
		Targets: core.TargetFilter{Users: []string{"admin"}},
		Rules: []core.Rule{
			{ID: "r1", Kind: core.RuleKindThreshold, Params: core.RuleParams{Field: "x", Operator: "gt", Threshold: 0}},
		},
	})

	ctx := map[string]interface{}{"x": 1}

	result, err := fx.engine.Enforce(context.Background(), "alice", "res", "login", ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Violations, "Policy must not apply to an actor outside its target filter")

	result, err = fx.engine.Enforce(context.Background(), "admin", "res", "login", ctx)
	require.NoError(t, err)
	assert.Len(t, result.Violations, 1)
}

func TestEnforce_PolicyConditionsGate(t *testing.T) {
	fx := newEngineFixture(t)

	fx.addPolicy(t, core.Policy{
		ID:     "p1",
		Name:   "prod only",
		Active: true,
		Conditions: []core.Condition{
			{Field: "environment", Operator: core.OpEquals, Value: "production"},
		},
		Rules: []core.Rule{
			{ID: "r1", Kind: core.RuleKindThreshold, Params: core.RuleParams{Field: "x", Operator: "gt", Threshold: 0}},
		},
	})

	result, err := fx.engine.Enforce(context.Background(), "alice", "res", "login",
		map[string]interface{}{"x": 1, "environment": "staging"})
	require.NoError(t, err)
	assert.Empty(t, result.Violations)
}

func TestEnforce_MultiplePoliciesEachContribute(t *testing.T) {
	fx := newEngineFixture(t)

	policies := []core.Policy{
		{
			ID: "p1", Name: "first", Active: true, Priority: 10,
			Rules: []core.Rule{{ID: "r1", Kind: core.RuleKindThreshold, Params: core.RuleParams{Field: "x", Operator: "gt", Threshold: 0}}},
		},
		{
			ID: "p2", Name: "second", Active: true, Priority: 5,
			Rules: []core.Rule{{ID: "r2", Kind: core.RuleKindThreshold, Params: core.RuleParams{Field: "x", Operator: "gt", Threshold: 0}}},
		},
	}
	for _, p := range policies {
		require.NoError(t, fx.store.CreatePolicy(&p))
	}
	require.NoError(t, fx.engine.Load())

	result, err := fx.engine.Enforce(context.Background(), "alice", "res", "login",
		map[string]interface{}{"x": 1})
	require.NoError(t, err)
	assert.Len(t, result.Violations, 2, "One violation per applicable policy")
}

// End-to-end frequency scenario: six withdrawals inside the window against a
// threshold of five.
func TestEnforce_FrequencyEndToEnd(t *testing.T) {
	fx := newEngineFixture(t)

	fx.addPolicy(t, core.Policy{
		ID:     "rate-limit",
		Name:   "withdrawal rate limit",
		Active: true,
		Rules: []core.Rule{
			{ID: "freq", Kind: core.RuleKindFrequency, Params: core.RuleParams{Threshold: 5, TimeWindow: 60}},
		},
	})

	var last *EnforcementResult
	for i := 0; i < 6; i++ {
		result, err := fx.engine.Enforce(context.Background(), "actor-x", "account:1", "withdraw", nil)
		require.NoError(t, err)
		if i < 4 {
			assert.Empty(t, result.Violations, "Attempt %d stays under the threshold", i+1)
		}
		last = result
	}

	require.Len(t, last.Violations, 1)
	assert.Equal(t, core.RuleKindFrequency, last.Violations[0].RuleKind)
	assert.Equal(t, "actor-x", last.Violations[0].ActorID)
}

func TestEnforce_PersistsViolations(t *testing.T) {
	fx := newEngineFixture(t)

	fx.addPolicy(t, core.Policy{
		ID:     "p1",
		Name:   "persist",
		Active: true,
		Rules: []core.Rule{
			{ID: "r1", Kind: core.RuleKindThreshold, Params: core.RuleParams{Field: "x", Operator: "gt", Threshold: 0}},
		},
	})

	_, err := fx.engine.Enforce(context.Background(), "alice", "res", "login",
		map[string]interface{}{"x": 1})
	require.NoError(t, err)

	stored, err := fx.store.GetViolations(10, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "p1", stored[0].PolicyID)
}

type violationRecorder struct {
	mu         sync.Mutex
	violations []core.Violation
}

func (r *violationRecorder) HandleViolation(_ context.Context, _ core.Policy, v core.Violation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations = append(r.violations, v)
}

func TestEnforce_ViolationHandlerHook(t *testing.T) {
	fx := newEngineFixture(t)
	recorder := &violationRecorder{}
	fx.engine.SetViolationHandler(recorder)

	fx.addPolicy(t, core.Policy{
		ID:     "p1",
		Name:   "hooked",
		Active: true,
		Rules: []core.Rule{
			{ID: "r1", Kind: core.RuleKindThreshold, Params: core.RuleParams{Field: "x", Operator: "gt", Threshold: 0}},
		},
	})

	_, err := fx.engine.Enforce(context.Background(), "alice", "res", "login",
		map[string]interface{}{"x": 1})
	require.NoError(t, err)

	require.Len(t, recorder.violations, 1)
	assert.Equal(t, "r1", recorder.violations[0].RuleID)
}

func TestEnforceAll_SweepIsIsolated(t *testing.T) {
	fx := newEngineFixture(t)

	// One healthy policy and one with an unknown rule kind; the sweep must
	// process the healthy one and skip the broken one.
	goodPolicy := core.Policy{
		ID: "good", Name: "good", Active: true,
		Rules: []core.Rule{{ID: "r1", Kind: core.RuleKindThreshold, Params: core.RuleParams{Field: "x", Operator: "gt", Threshold: 0}}},
	}
	badPolicy := core.Policy{
		ID: "bad", Name: "bad", Active: true,
		Rules: []core.Rule{{ID: "r2", Kind: core.RuleKind("bogus")}},
	}
	require.NoError(t, fx.store.CreatePolicy(&goodPolicy))
	require.NoError(t, fx.store.CreatePolicy(&badPolicy))
	require.NoError(t, fx.engine.Load())

	fx.events.Add(core.Event{
		EventID:   "e1",
		EventType: "login",
		ActorID:   "alice",
		Resource:  "res",
		Action:    "login",
		Timestamp: time.Now(),
		Fields:    map[string]interface{}{"x": 1},
	})

	ctx := context.Background()
	pool := core.NewWorkerPool(ctx, 2, 8, "test", zap.NewNop().Sugar())
	require.NoError(t, pool.Start())
	defer pool.Stop()
	fx.engine.pool = pool

	err := fx.engine.EnforceAll(ctx, time.Hour)
	require.NoError(t, err, "A single policy's failure must not abort the sweep")

	stored, err := fx.store.GetViolations(10, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 1, "The healthy policy still produced its violation")
}
