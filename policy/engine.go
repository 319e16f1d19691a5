package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"argus/action"
	"argus/core"
	"argus/metrics"
	"argus/storage"
)

// ViolationHandler receives every violation after it is persisted and its
// actions dispatched. The incident manager hangs off this hook so the
// decision path stays synchronous while incident fan-out happens downstream.
type ViolationHandler interface {
	HandleViolation(ctx context.Context, policy core.Policy, violation core.Violation)
}

// EnforcementResult is the structured outcome of one Enforce call. No
// violations is a definite allow-relevant result, not an error.
type EnforcementResult struct {
	Violations []core.Violation `json:"violations"`
}

// Engine owns the policy snapshot and runs enforcement. Policies are loaded
// from storage into an immutable snapshot; Reload swaps it atomically, so a
// single evaluation pass never sees a half-updated policy.
type Engine struct {
	store      storage.PolicyStorage
	violations storage.ViolationStorage
	evaluator  *Evaluator
	executor   *action.Executor
	conditions *core.ConditionEvaluator
	events     core.EventSource
	pool       *core.WorkerPool
	handler    ViolationHandler
	clock      core.Clock
	logger     *zap.SugaredLogger

	unitTimeout time.Duration

	mu       sync.RWMutex
	snapshot []core.Policy
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	Store       storage.PolicyStorage
	Violations  storage.ViolationStorage
	Evaluator   *Evaluator
	Executor    *action.Executor
	Conditions  *core.ConditionEvaluator
	Events      core.EventSource
	Pool        *core.WorkerPool
	Clock       core.Clock
	Logger      *zap.SugaredLogger
	UnitTimeout time.Duration // per-policy budget inside sweeps
}

// NewEngine creates a policy engine. Call Load before the first Enforce.
func NewEngine(cfg EngineConfig) *Engine {
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
	unitTimeout := cfg.UnitTimeout
	if unitTimeout <= 0 {
		unitTimeout = 10 * time.Second
	}
	return &Engine{
		store:       cfg.Store,
		violations:  cfg.Violations,
		evaluator:   cfg.Evaluator,
		executor:    cfg.Executor,
		conditions:  conditions,
		events:      cfg.Events,
		pool:        cfg.Pool,
		clock:       clock,
		logger:      logger,
		unitTimeout: unitTimeout,
	}
}

// SetViolationHandler installs the downstream violation hook. Must be called
// before Enforce; typically done once at bootstrap.
func (e *Engine) SetViolationHandler(h ViolationHandler) {
	e.handler = h
}

// Load reads active policies from storage into the evaluation snapshot.
func (e *Engine) Load() error {
	policies, err := e.store.GetActivePolicies()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	e.snapshot = policies
	e.mu.Unlock()

	e.logger.Infof("Loaded %d active policies", len(policies))
	return nil
}

// Reload is Load under a name that reads well at call sites doing hot
// reload after policy mutations.
func (e *Engine) Reload() error { return e.Load() }

// Policies returns the current snapshot.
func (e *Engine) Policies() []core.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}

// Enforce evaluates every applicable policy for the tuple, in snapshot
// (priority) order. Within a policy, rules run in declared order and the
// first violation wins: it is persisted, its policy's actions dispatch
// immediately, later rules in that policy never run. Evaluation then
// continues with the next applicable policy, so one call can return one
// violation per policy. Collaborator errors abort the call so the transport
// layer can deny by default.
func (e *Engine) Enforce(ctx context.Context, actorID, resource, actionName string, evalCtx map[string]interface{}) (*EnforcementResult, error) {
	start := time.Now()
	defer func() {
		metrics.EnforcementDuration.Observe(time.Since(start).Seconds())
	}()

	// Evaluate against a private copy: the caller's map is never written
	// to, and later caller mutations cannot leak into violations.
	enriched := make(map[string]interface{}, len(evalCtx)+3)
	for k, v := range evalCtx {
		enriched[k] = v
	}
	enriched["actor_id"] = actorID
	enriched["resource"] = resource
	enriched["action"] = actionName

	result := &EnforcementResult{}
	for _, policy := range e.Policies() {
		violation, err := e.enforcePolicy(ctx, policy, actorID, resource, actionName, enriched)
		if err != nil {
			metrics.PolicyEvaluations.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("policy %s: %w", policy.ID, err)
		}
		if violation != nil {
			result.Violations = append(result.Violations, *violation)
		}
	}

	if len(result.Violations) > 0 {
		metrics.PolicyEvaluations.WithLabelValues("violation").Inc()
	} else {
		metrics.PolicyEvaluations.WithLabelValues("pass").Inc()
	}
	return result, nil
}

// enforcePolicy evaluates one policy against the tuple and returns its first
// violation, if any.
func (e *Engine) enforcePolicy(ctx context.Context, policy core.Policy, actorID, resource, actionName string, evalCtx map[string]interface{}) (*core.Violation, error) {
	if !policy.AppliesTo(actorID, resource, actionName) {
		return nil, nil
	}
	if !e.conditions.EvaluateAll(policy.Conditions, evalCtx) {
		return nil, nil
	}

	for _, rule := range policy.Rules {
		violation, err := e.evaluator.EvaluateRule(ctx, rule, actorID, resource, actionName, evalCtx)
		if err != nil {
			return nil, err
		}
		if violation == nil {
			continue
		}

		violation.PolicyID = policy.ID
		metrics.ViolationsDetected.WithLabelValues(string(violation.RuleKind)).Inc()
		e.logger.Infow("Policy violation",
			"policy", policy.ID,
			"rule", rule.ID,
			"kind", rule.Kind,
			"actor", actorID,
			"resource", resource,
			"action", actionName)

		if err := e.violations.CreateViolation(violation); err != nil {
			// The decision stands even if the record write fails.
			e.logger.Errorw("Failed to persist violation",
				"violation", violation.ID,
				"error", err)
		}

		e.executor.Execute(ctx, policy.Actions, violationSubject(policy, *violation))

		if e.handler != nil {
			e.handler.HandleViolation(ctx, policy, *violation)
		}

		// First violation per policy per enforcement call.
		return violation, nil
	}
	return nil, nil
}

// EnforceAll sweeps all active policies against recent telemetry with
// bounded concurrency. One policy is one unit of work: its failure is
// logged and counted, never propagated, and shutdown cancels between units.
func (e *Engine) EnforceAll(ctx context.Context, lookback time.Duration) error {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("enforce_all").Observe(time.Since(start).Seconds())
	}()

	events, err := e.events.RecentEvents(core.EventFilter{Since: e.clock.Now().Add(-lookback)})
	if err != nil {
		return fmt.Errorf("failed to fetch recent events: %w", err)
	}
	policies := e.Policies()
	if len(policies) == 0 || len(events) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, policy := range policies {
		if ctx.Err() != nil {
			break
		}

		p := policy
		wg.Add(1)
		task := func() {
			defer wg.Done()
			e.sweepPolicy(ctx, p, events)
		}
		if err := e.pool.SubmitWait(ctx, task); err != nil {
			wg.Done()
			e.logger.Warnw("Sweep unit not scheduled", "policy", p.ID, "error", err)
			metrics.SweepUnitFailures.WithLabelValues("enforce_all").Inc()
		}
	}
	wg.Wait()

	e.logger.Infow("Enforcement sweep complete",
		"policies", len(policies),
		"events", len(events),
		"duration", time.Since(start))
	return ctx.Err()
}

func (e *Engine) sweepPolicy(ctx context.Context, policy core.Policy, events []core.Event) {
	unitCtx, cancel := context.WithTimeout(ctx, e.unitTimeout)
	defer cancel()

	for i := range events {
		event := events[i]
		_, err := e.enforcePolicy(unitCtx, policy, event.ActorID, event.Resource, event.Action, event.Context())
		if err != nil {
			e.logger.Warnw("Policy evaluation failed during sweep, skipping",
				"policy", policy.ID,
				"event", event.EventID,
				"error", err)
			metrics.SweepUnitFailures.WithLabelValues("enforce_all").Inc()
			return
		}
	}
}

func violationSubject(policy core.Policy, v core.Violation) action.Subject {
	return action.Subject{
		Kind:        action.SubjectViolation,
		ID:          v.ID,
		Severity:    core.SeverityHigh,
		Category:    core.CategorySecurity,
		Description: fmt.Sprintf("policy %s rule %s: %s", policy.Name, v.RuleID, v.Message),
		Target:      v.ActorID,
		Context:     v.Context,
	}
}
