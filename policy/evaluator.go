package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"argus/core"
)

// behavioralLookback is the telemetry window behind behavioral deviation
// checks.
const behavioralLookback = 24 * time.Hour

// Evaluator evaluates a single rule against an enforcement tuple. It is the
// one place rule-kind semantics live; the policy engine, sweeps and tests all
// go through it.
type Evaluator struct {
	conditions *core.ConditionEvaluator
	counters   core.CounterStore
	profiles   core.ProfileStore
	events     core.EventSource
	clock      core.Clock
	logger     *zap.SugaredLogger
}

// NewEvaluator creates a rule evaluator. counters, profiles and events are
// the external collaborators the rule kinds draw on; a nil clock defaults to
// the system clock.
func NewEvaluator(conditions *core.ConditionEvaluator, counters core.CounterStore, profiles core.ProfileStore, events core.EventSource, clock core.Clock, logger *zap.SugaredLogger) *Evaluator {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if conditions == nil {
		conditions = core.NewConditionEvaluator(logger)
	}
	return &Evaluator{
		conditions: conditions,
		counters:   counters,
		profiles:   profiles,
		events:     events,
		clock:      clock,
		logger:     logger,
	}
}

// EvaluateRule runs one rule. A nil violation with nil error means the rule
// passed. Conditions gate whether the kind-specific check runs at all; a rule
// never partially applies. Collaborator errors (counter store, profile store)
// are returned so a single enforcement call can surface them; evaluation
// errors inside conditions are already absorbed as non-matches.
func (ev *Evaluator) EvaluateRule(ctx context.Context, rule core.Rule, actorID, resource, action string, evalCtx map[string]interface{}) (*core.Violation, error) {
	if !ev.conditions.EvaluateAll(rule.Conditions, evalCtx) {
		return nil, nil
	}

	switch rule.Kind {
	case core.RuleKindFrequency:
		return ev.evaluateFrequency(ctx, rule, actorID, resource, action, evalCtx)
	case core.RuleKindThreshold:
		return ev.evaluateThreshold(rule, actorID, resource, action, evalCtx)
	case core.RuleKindPattern:
		return ev.evaluatePattern(rule, actorID, resource, action, evalCtx)
	case core.RuleKindTimeBased:
		return ev.evaluateTimeBased(rule, actorID, resource, action, evalCtx)
	case core.RuleKindLocationBased:
		return ev.evaluateListMembership(rule, actorID, resource, action, evalCtx, "location")
	case core.RuleKindDeviceBased:
		return ev.evaluateListMembership(rule, actorID, resource, action, evalCtx, "device")
	case core.RuleKindBehavioral:
		return ev.evaluateBehavioral(ctx, rule, actorID, resource, action, evalCtx)
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownRuleKind, rule.Kind)
	}
}

// evaluateFrequency increments the (actor, resource, action) counter and
// fires when the in-window count reaches the threshold. The increment is
// atomic in the counter store; no read-modify-write happens here.
func (ev *Evaluator) evaluateFrequency(ctx context.Context, rule core.Rule, actorID, resource, action string, evalCtx map[string]interface{}) (*core.Violation, error) {
	window := time.Duration(rule.Params.TimeWindow) * time.Second
	if window <= 0 {
		window = time.Minute
	}

	key := core.FrequencyKey(rule.ID, actorID, resource, action)
	count, err := ev.counters.Increment(ctx, key, window)
	if err != nil {
		return nil, fmt.Errorf("frequency rule %s: %w", rule.ID, err)
	}

	if float64(count) >= rule.Params.Threshold {
		return ev.newViolation(rule, actorID, resource, action, evalCtx,
			fmt.Sprintf("%d occurrences within %s (threshold %g)", count, window, rule.Params.Threshold)), nil
	}
	return nil, nil
}

// evaluateThreshold compares a context field against the configured
// threshold. A missing field is not an error and never fires.
func (ev *Evaluator) evaluateThreshold(rule core.Rule, actorID, resource, action string, evalCtx map[string]interface{}) (*core.Violation, error) {
	raw := core.ResolveField(evalCtx, rule.Params.Field)
	if raw == nil {
		return nil, nil
	}
	value, ok := core.ToFloat(raw)
	if !ok {
		return nil, nil
	}

	threshold := rule.Params.Threshold
	var fired bool
	switch rule.Params.Operator {
	case "gt", "":
		fired = value > threshold
	case "gte":
		fired = value >= threshold
	case "lt":
		fired = value < threshold
	case "lte":
		fired = value <= threshold
	case "eq":
		fired = value == threshold
	case "ne":
		fired = value != threshold
	default:
		ev.logger.Warnw("Threshold rule with unknown operator, skipping",
			"rule", rule.ID, "operator", rule.Params.Operator)
		return nil, nil
	}

	if fired {
		return ev.newViolation(rule, actorID, resource, action, evalCtx,
			fmt.Sprintf("%s=%g %s %g", rule.Params.Field, value, rule.Params.Operator, threshold)), nil
	}
	return nil, nil
}

// evaluatePattern fires when any configured pattern matches the context.
func (ev *Evaluator) evaluatePattern(rule core.Rule, actorID, resource, action string, evalCtx map[string]interface{}) (*core.Violation, error) {
	for _, spec := range rule.Params.Patterns {
		op, ok := patternOperator(spec.Match)
		if !ok {
			ev.logger.Warnw("Pattern rule with unknown match type, skipping pattern",
				"rule", rule.ID, "match", spec.Match)
			continue
		}
		cond := core.Condition{Field: spec.Field, Operator: op, Value: spec.Pattern}
		if ev.conditions.Evaluate(cond, evalCtx) {
			return ev.newViolation(rule, actorID, resource, action, evalCtx,
				fmt.Sprintf("field %s matched pattern %q (%s)", spec.Field, spec.Pattern, spec.Match)), nil
		}
	}
	return nil, nil
}

func patternOperator(match string) (string, bool) {
	switch match {
	case "equals":
		return core.OpEquals, true
	case "contains":
		return core.OpContains, true
	case "regex":
		return core.OpRegex, true
	case "starts_with":
		return core.OpStartsWith, true
	case "ends_with":
		return core.OpEndsWith, true
	default:
		return "", false
	}
}

// evaluateTimeBased fires when the current hour or weekday falls outside the
// allow-lists. Empty allow-lists mean no restriction.
func (ev *Evaluator) evaluateTimeBased(rule core.Rule, actorID, resource, action string, evalCtx map[string]interface{}) (*core.Violation, error) {
	now := ev.clock.Now()

	if len(rule.Params.AllowedHours) > 0 {
		hour := now.Hour()
		if !containsInt(rule.Params.AllowedHours, hour) {
			return ev.newViolation(rule, actorID, resource, action, evalCtx,
				fmt.Sprintf("hour %d outside allowed hours", hour)), nil
		}
	}

	if len(rule.Params.AllowedDays) > 0 {
		day := strings.ToLower(now.Weekday().String())
		if !containsFold(rule.Params.AllowedDays, day) {
			return ev.newViolation(rule, actorID, resource, action, evalCtx,
				fmt.Sprintf("%s outside allowed days", day)), nil
		}
	}

	return nil, nil
}

// evaluateListMembership implements location_based and device_based rules:
// a block-list hit fires regardless of the allow-list; otherwise a configured
// allow-list fires on absence. A missing context value fires only when an
// allow-list is configured.
func (ev *Evaluator) evaluateListMembership(rule core.Rule, actorID, resource, action string, evalCtx map[string]interface{}, defaultField string) (*core.Violation, error) {
	field := rule.Params.Field
	if field == "" {
		field = defaultField
	}
	value, _ := core.ResolveField(evalCtx, field).(string)

	if value != "" && containsFold(rule.Params.Blocked, value) {
		return ev.newViolation(rule, actorID, resource, action, evalCtx,
			fmt.Sprintf("%s %q is blocked", defaultField, value)), nil
	}

	if len(rule.Params.Allowed) > 0 && !containsFold(rule.Params.Allowed, value) {
		return ev.newViolation(rule, actorID, resource, action, evalCtx,
			fmt.Sprintf("%s %q not in allow list", defaultField, value)), nil
	}

	return nil, nil
}

// evaluateBehavioral compares the actor's recent activity against their
// stored baseline. Dimensions are scored independently; any dimension past
// its threshold fires. Actors without a baseline never fire.
func (ev *Evaluator) evaluateBehavioral(ctx context.Context, rule core.Rule, actorID, resource, action string, evalCtx map[string]interface{}) (*core.Violation, error) {
	profile, err := ev.profiles.GetProfile(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("behavioral rule %s: %w", rule.ID, err)
	}
	if profile == nil {
		return nil, nil
	}

	events, err := ev.events.RecentEvents(core.EventFilter{
		ActorID: actorID,
		Since:   ev.clock.Now().Add(-behavioralLookback),
	})
	if err != nil {
		return nil, fmt.Errorf("behavioral rule %s: %w", rule.ID, err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	observed := core.ObserveActivity(events)

	if rule.Params.LoginHourThreshold > 0 && observed.LoginCount > 0 {
		deviation := core.LoginHourDeviation(observed.AvgLoginHour, profile.AvgLoginHour)
		if deviation > rule.Params.LoginHourThreshold {
			return ev.newViolation(rule, actorID, resource, action, evalCtx,
				fmt.Sprintf("login hour deviation %.3f exceeds %.3f", deviation, rule.Params.LoginHourThreshold)), nil
		}
	}

	if rule.Params.IPCountThreshold > 0 {
		deviation := core.CountDeviation(observed.UniqueIPCount, profile.UniqueIPCount)
		if deviation > rule.Params.IPCountThreshold {
			return ev.newViolation(rule, actorID, resource, action, evalCtx,
				fmt.Sprintf("unique IP deviation %.3f exceeds %.3f", deviation, rule.Params.IPCountThreshold)), nil
		}
	}

	if rule.Params.ResourceThreshold > 0 {
		deviation := core.CountDeviation(observed.UniqueResourceCount, profile.UniqueResourceCount)
		if deviation > rule.Params.ResourceThreshold {
			return ev.newViolation(rule, actorID, resource, action, evalCtx,
				fmt.Sprintf("unique resource deviation %.3f exceeds %.3f", deviation, rule.Params.ResourceThreshold)), nil
		}
	}

	return nil, nil
}

func (ev *Evaluator) newViolation(rule core.Rule, actorID, resource, action string, evalCtx map[string]interface{}, message string) *core.Violation {
	// Each violation owns a snapshot of the evaluation context.
	snapshot := make(map[string]interface{}, len(evalCtx))
	for k, v := range evalCtx {
		snapshot[k] = v
	}
	return &core.Violation{
		ID:        uuid.NewString(),
		RuleID:    rule.ID,
		RuleKind:  rule.Kind,
		ActorID:   actorID,
		Resource:  resource,
		Action:    action,
		Message:   message,
		Context:   snapshot,
		Timestamp: ev.clock.Now(),
	}
}

func containsInt(list []int, value int) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}
