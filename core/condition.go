package core

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
	"go.uber.org/zap"
)

// Condition operators understood by the evaluator.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpIn          = "in"
	OpNotIn       = "not_in"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpExists      = "exists"
	OpNotExists   = "not_exists"
	OpRegex       = "regex"
	OpStartsWith  = "starts_with"
	OpEndsWith    = "ends_with"
)

// Condition is a single stateless predicate over a context map. Field is a
// dot-path into the map; Value is the operand the resolved value is tested
// against.
type Condition struct {
	Type     string      `json:"type,omitempty" yaml:"type,omitempty"`
	Field    string      `json:"field" yaml:"field"`
	Operator string      `json:"operator" yaml:"operator"`
	Value    interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}

// regexTimeout bounds a single regex match to keep hostile patterns from
// stalling an evaluation. regexp2 enforces it inside the match loop.
const regexTimeout = 500 * time.Millisecond

// ConditionEvaluator evaluates conditions against context maps. It is
// stateless apart from a compiled-pattern cache and safe for concurrent use.
type ConditionEvaluator struct {
	logger *zap.SugaredLogger

	regexMu    sync.RWMutex
	regexCache map[string]*regexp2.Regexp
}

// NewConditionEvaluator creates a condition evaluator.
func NewConditionEvaluator(logger *zap.SugaredLogger) *ConditionEvaluator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ConditionEvaluator{
		logger:     logger,
		regexCache: make(map[string]*regexp2.Regexp),
	}
}

// Evaluate returns whether the condition holds against the context map.
// A missing field never errors: it fails every operator except not_exists.
// An evaluation error (malformed regex, unusable operand) is logged and
// treated as false.
func (ce *ConditionEvaluator) Evaluate(cond Condition, context map[string]interface{}) bool {
	result, err := ce.evaluate(cond, context)
	if err != nil {
		ce.logger.Warnw("Condition evaluation failed, treating as not met",
			"field", cond.Field,
			"operator", cond.Operator,
			"error", err)
		return false
	}
	return result
}

// EvaluateAll AND-combines a condition list: every condition must hold.
// An empty list always holds.
func (ce *ConditionEvaluator) EvaluateAll(conds []Condition, context map[string]interface{}) bool {
	for _, cond := range conds {
		if !ce.Evaluate(cond, context) {
			return false
		}
	}
	return true
}

func (ce *ConditionEvaluator) evaluate(cond Condition, context map[string]interface{}) (bool, error) {
	value := ResolveField(context, cond.Field)

	switch cond.Operator {
	case OpExists:
		return value != nil, nil
	case OpNotExists:
		return value == nil, nil
	}

	// Every remaining operator needs a resolved value to test.
	if value == nil {
		return false, nil
	}

	switch cond.Operator {
	case OpEquals:
		return looseEquals(value, cond.Value), nil
	case OpNotEquals:
		return !looseEquals(value, cond.Value), nil
	case OpContains:
		return containsValue(value, cond.Value), nil
	case OpNotContains:
		return !containsValue(value, cond.Value), nil
	case OpIn:
		return inSet(value, cond.Value), nil
	case OpNotIn:
		return !inSet(value, cond.Value), nil
	case OpGreaterThan:
		a, b, ok := numericPair(value, cond.Value)
		return ok && a > b, nil
	case OpLessThan:
		a, b, ok := numericPair(value, cond.Value)
		return ok && a < b, nil
	case OpRegex:
		return ce.matchRegex(stringify(cond.Value), stringify(value))
	case OpStartsWith:
		return strings.HasPrefix(stringify(value), stringify(cond.Value)), nil
	case OpEndsWith:
		return strings.HasSuffix(stringify(value), stringify(cond.Value)), nil
	default:
		return false, fmt.Errorf("unsupported operator: %s", cond.Operator)
	}
}

// matchRegex matches with a cached regexp2 pattern. regexp2 is used instead
// of the stdlib so MatchTimeout bounds backtracking on hostile patterns.
func (ce *ConditionEvaluator) matchRegex(pattern, input string) (bool, error) {
	if pattern == "" {
		return false, fmt.Errorf("regex pattern cannot be empty")
	}

	ce.regexMu.RLock()
	re, exists := ce.regexCache[pattern]
	ce.regexMu.RUnlock()

	if !exists {
		ce.regexMu.Lock()
		// Another goroutine may have compiled it while we waited.
		re, exists = ce.regexCache[pattern]
		if !exists {
			var err error
			re, err = regexp2.Compile(pattern, 0)
			if err != nil {
				ce.regexMu.Unlock()
				return false, fmt.Errorf("failed to compile regex pattern: %w", err)
			}
			re.MatchTimeout = regexTimeout
			ce.regexCache[pattern] = re
		}
		ce.regexMu.Unlock()
	}

	matched, err := re.MatchString(input)
	if err != nil {
		return false, fmt.Errorf("regex match failed: %w", err)
	}
	return matched, nil
}

// looseEquals compares via string form when the dynamic types differ, so a
// YAML-sourced "5" still matches a numeric 5 in the context.
func looseEquals(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == b
	}
	if fa, fb, ok := numericPair(a, b); ok {
		return fa == fb
	}
	return stringify(a) == stringify(b)
}

// containsValue implements substring match for strings and membership for
// slices.
func containsValue(value, operand interface{}) bool {
	switch v := value.(type) {
	case []interface{}:
		for _, item := range v {
			if looseEquals(item, operand) {
				return true
			}
		}
		return false
	case []string:
		needle := stringify(operand)
		for _, item := range v {
			if item == needle {
				return true
			}
		}
		return false
	default:
		return strings.Contains(stringify(value), stringify(operand))
	}
}

// inSet tests the context value for membership in the operand set. A scalar
// operand is treated as a one-element set.
func inSet(value, operand interface{}) bool {
	switch set := operand.(type) {
	case []interface{}:
		for _, item := range set {
			if looseEquals(value, item) {
				return true
			}
		}
		return false
	case []string:
		needle := stringify(value)
		for _, item := range set {
			if item == needle {
				return true
			}
		}
		return false
	default:
		return looseEquals(value, operand)
	}
}

// numericPair converts both operands to float64, reporting whether both are
// numeric. Non-numeric operands make ordered comparisons false upstream.
func numericPair(a, b interface{}) (float64, float64, bool) {
	fa, okA := ToFloat(a)
	fb, okB := ToFloat(b)
	return fa, fb, okA && okB
}

// ToFloat coerces a context value to float64. Strings parse, everything else
// non-numeric reports false.
func ToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
