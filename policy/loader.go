package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"argus/core"
	"argus/storage"
)

// Bundle is one YAML file of declarative configuration: policies, response
// plans and escalation rules. Files are loaded independently so a broken
// file costs only its own contents.
type Bundle struct {
	Policies        []core.Policy         `yaml:"policies"`
	ResponsePlans   []core.ResponsePlan   `yaml:"response_plans"`
	EscalationRules []core.EscalationRule `yaml:"escalation_rules"`
}

// Loader reads policy bundles from a directory into storage.
type Loader struct {
	policies   storage.PolicyStorage
	plans      storage.ResponsePlanStorage
	escalation storage.EscalationRuleStorage
	validate   *validator.Validate
	clock      core.Clock
	logger     *zap.SugaredLogger
}

// NewLoader creates a bundle loader.
func NewLoader(policies storage.PolicyStorage, plans storage.ResponsePlanStorage, escalation storage.EscalationRuleStorage, clock core.Clock, logger *zap.SugaredLogger) *Loader {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Loader{
		policies:   policies,
		plans:      plans,
		escalation: escalation,
		validate:   validator.New(),
		clock:      clock,
		logger:     logger,
	}
}

// LoadDir loads every .yml/.yaml bundle in dir. A file that fails to parse
// or validate is logged and skipped; the rest of the directory still loads.
// Returns the number of policies loaded.
func (l *Loader) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read bundle directory %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		n, err := l.LoadFile(path)
		if err != nil {
			l.logger.Errorw("Skipping policy bundle", "file", path, "error", err)
			continue
		}
		loaded += n
	}
	return loaded, nil
}

// LoadFile loads one bundle file into storage.
func (l *Loader) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var bundle Bundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	now := l.clock.Now()
	loaded := 0

	for i := range bundle.Policies {
		policy := bundle.Policies[i]
		if err := l.validate.Struct(policy); err != nil {
			l.logger.Errorw("Invalid policy in bundle, skipping",
				"file", path, "policy", policy.ID, "error", err)
			continue
		}
		if err := l.validateRules(policy); err != nil {
			l.logger.Errorw("Policy with invalid rules, skipping",
				"file", path, "policy", policy.ID, "error", err)
			continue
		}
		policy.CreatedAt = now
		policy.UpdatedAt = now
		if err := l.upsertPolicy(&policy); err != nil {
			l.logger.Errorw("Failed to store policy", "policy", policy.ID, "error", err)
			continue
		}
		loaded++
	}

	for i := range bundle.ResponsePlans {
		plan := bundle.ResponsePlans[i]
		if err := l.validate.Struct(plan); err != nil {
			l.logger.Errorw("Invalid response plan in bundle, skipping",
				"file", path, "plan", plan.ID, "error", err)
			continue
		}
		plan.CreatedAt = now
		plan.UpdatedAt = now
		if err := l.upsertPlan(&plan); err != nil {
			l.logger.Errorw("Failed to store response plan", "plan", plan.ID, "error", err)
		}
	}

	for i := range bundle.EscalationRules {
		rule := bundle.EscalationRules[i]
		if err := l.validate.Struct(rule); err != nil {
			l.logger.Errorw("Invalid escalation rule in bundle, skipping",
				"file", path, "rule", rule.ID, "error", err)
			continue
		}
		if err := l.escalation.CreateEscalationRule(&rule); err != nil {
			l.logger.Errorw("Failed to store escalation rule", "rule", rule.ID, "error", err)
		}
	}

	return loaded, nil
}

func (l *Loader) validateRules(policy core.Policy) error {
	for _, rule := range policy.Rules {
		if !rule.Kind.Valid() {
			return fmt.Errorf("rule %s: %w: %s", rule.ID, core.ErrUnknownRuleKind, rule.Kind)
		}
	}
	return nil
}

func (l *Loader) upsertPolicy(policy *core.Policy) error {
	err := l.policies.UpdatePolicy(policy.ID, policy)
	if errors.Is(err, core.ErrPolicyNotFound) {
		return l.policies.CreatePolicy(policy)
	}
	return err
}

func (l *Loader) upsertPlan(plan *core.ResponsePlan) error {
	err := l.plans.UpdatePlan(plan.ID, plan)
	if errors.Is(err, core.ErrPlanNotFound) {
		return l.plans.CreatePlan(plan)
	}
	return err
}
