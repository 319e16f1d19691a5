package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"argus/core"
)

// SQLite persists every engine entity in one database file. WAL mode gives
// concurrent readers alongside the single writer, matching the sweep pattern
// (many reads, occasional appends).
type SQLite struct {
	db     *sql.DB
	path   string
	logger *zap.SugaredLogger
}

// NewSQLite opens (creating if needed) the database at dbPath and runs
// migrations.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	if dir := filepath.Dir(dbPath); dir != "." && dir != "" && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite allows one writer; serialize writes at the pool level instead of
	// surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &SQLite{db: db, path: dbPath, logger: logger}
	if err := s.configure(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Infof("SQLite storage ready at %s", dbPath)
	return s, nil
}

func (s *SQLite) configure() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := s.db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return s.db.Ping()
}

// migrate creates the schema. Each entity keeps its queryable columns plus a
// full JSON document, so schema churn in nested structures (conditions,
// steps) never needs a migration.
func (s *SQLite) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS policies (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_policies_active ON policies(active, priority)`,
		`CREATE TABLE IF NOT EXISTS violations (
			id TEXT PRIMARY KEY,
			policy_id TEXT NOT NULL,
			rule_id TEXT NOT NULL,
			rule_kind TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			resource TEXT NOT NULL,
			action TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_violations_actor ON violations(actor_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS threats (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_threats_status ON threats(status)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			severity TEXT NOT NULL,
			category TEXT NOT NULL,
			status TEXT NOT NULL,
			priority INTEGER NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status)`,
		`CREATE TABLE IF NOT EXISTS response_plans (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS escalation_rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			data TEXT NOT NULL
		)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// --- policies ---

func (s *SQLite) CreatePolicy(policy *core.Policy) error {
	data, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO policies (id, name, priority, active, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		policy.ID, policy.Name, policy.Priority, boolToInt(policy.Active), string(data), policy.CreatedAt, policy.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert policy %s: %w", policy.ID, err)
	}
	return nil
}

func (s *SQLite) UpdatePolicy(id string, policy *core.Policy) error {
	data, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}
	res, err := s.db.Exec(
		`UPDATE policies SET name = ?, priority = ?, active = ?, data = ?, updated_at = ? WHERE id = ?`,
		policy.Name, policy.Priority, boolToInt(policy.Active), string(data), policy.UpdatedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update policy %s: %w", id, err)
	}
	return requireRow(res, core.ErrPolicyNotFound)
}

func (s *SQLite) DeactivatePolicy(id string) error {
	res, err := s.db.Exec(
		`UPDATE policies SET active = 0, data = json_set(data, '$.active', json('false')), updated_at = ? WHERE id = ?`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate policy %s: %w", id, err)
	}
	return requireRow(res, core.ErrPolicyNotFound)
}

func (s *SQLite) GetPolicy(id string) (*core.Policy, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM policies WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, core.ErrPolicyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query policy %s: %w", id, err)
	}
	var policy core.Policy
	if err := json.Unmarshal([]byte(data), &policy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy %s: %w", id, err)
	}
	return &policy, nil
}

func (s *SQLite) GetPolicies() ([]core.Policy, error) {
	return s.queryPolicies(`SELECT data FROM policies ORDER BY priority DESC, id`)
}

func (s *SQLite) GetActivePolicies() ([]core.Policy, error) {
	return s.queryPolicies(`SELECT data FROM policies WHERE active = 1 ORDER BY priority DESC, id`)
}

func (s *SQLite) queryPolicies(query string, args ...interface{}) ([]core.Policy, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var policies []core.Policy
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan policy row: %w", err)
		}
		var policy core.Policy
		if err := json.Unmarshal([]byte(data), &policy); err != nil {
			return nil, fmt.Errorf("failed to unmarshal policy row: %w", err)
		}
		policies = append(policies, policy)
	}
	return policies, rows.Err()
}

// --- violations ---

func (s *SQLite) CreateViolation(violation *core.Violation) error {
	data, err := json.Marshal(violation)
	if err != nil {
		return fmt.Errorf("failed to marshal violation: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO violations (id, policy_id, rule_id, rule_kind, actor_id, resource, action, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		violation.ID, violation.PolicyID, violation.RuleID, string(violation.RuleKind),
		violation.ActorID, violation.Resource, violation.Action, string(data), violation.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert violation %s: %w", violation.ID, err)
	}
	return nil
}

func (s *SQLite) GetViolations(limit, offset int) ([]core.Violation, error) {
	return s.queryViolations(
		`SELECT data FROM violations ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
}

func (s *SQLite) GetViolationsByActor(actorID string, limit int) ([]core.Violation, error) {
	return s.queryViolations(
		`SELECT data FROM violations WHERE actor_id = ? ORDER BY created_at DESC LIMIT ?`, actorID, limit)
}

func (s *SQLite) queryViolations(query string, args ...interface{}) ([]core.Violation, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	var violations []core.Violation
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan violation row: %w", err)
		}
		var v core.Violation
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal violation row: %w", err)
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// --- threats ---

func (s *SQLite) CreateThreat(threat *core.Threat) error {
	data, err := json.Marshal(threat)
	if err != nil {
		return fmt.Errorf("failed to marshal threat: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO threats (id, kind, severity, status, data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		threat.ID, string(threat.Kind), threat.Severity, string(threat.Status), string(data), threat.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert threat %s: %w", threat.ID, err)
	}
	return nil
}

func (s *SQLite) GetThreat(id string) (*core.Threat, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM threats WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, core.ErrThreatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query threat %s: %w", id, err)
	}
	var threat core.Threat
	if err := json.Unmarshal([]byte(data), &threat); err != nil {
		return nil, fmt.Errorf("failed to unmarshal threat %s: %w", id, err)
	}
	return &threat, nil
}

func (s *SQLite) GetActiveThreats() ([]core.Threat, error) {
	rows, err := s.db.Query(`SELECT data FROM threats WHERE status = ? ORDER BY created_at DESC`, string(core.ThreatStatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query threats: %w", err)
	}
	defer rows.Close()

	var threats []core.Threat
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan threat row: %w", err)
		}
		var t core.Threat
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal threat row: %w", err)
		}
		threats = append(threats, t)
	}
	return threats, rows.Err()
}

func (s *SQLite) UpdateThreat(id string, threat *core.Threat) error {
	data, err := json.Marshal(threat)
	if err != nil {
		return fmt.Errorf("failed to marshal threat: %w", err)
	}
	res, err := s.db.Exec(
		`UPDATE threats SET severity = ?, status = ?, data = ? WHERE id = ?`,
		threat.Severity, string(threat.Status), string(data), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update threat %s: %w", id, err)
	}
	return requireRow(res, core.ErrThreatNotFound)
}

// --- incidents ---

func (s *SQLite) CreateIncident(incident *core.Incident) error {
	data, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("failed to marshal incident: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO incidents (id, severity, category, status, priority, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		incident.ID, incident.Severity, incident.Category, string(incident.Status),
		incident.Priority, string(data), incident.CreatedAt, incident.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert incident %s: %w", incident.ID, err)
	}
	return nil
}

func (s *SQLite) GetIncident(id string) (*core.Incident, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM incidents WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, core.ErrIncidentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query incident %s: %w", id, err)
	}
	var incident core.Incident
	if err := json.Unmarshal([]byte(data), &incident); err != nil {
		return nil, fmt.Errorf("failed to unmarshal incident %s: %w", id, err)
	}
	return &incident, nil
}

func (s *SQLite) GetOpenIncidents() ([]core.Incident, error) {
	rows, err := s.db.Query(
		`SELECT data FROM incidents WHERE status != ? ORDER BY priority DESC, created_at`,
		string(core.IncidentStatusResolved),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []core.Incident
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan incident row: %w", err)
		}
		var inc core.Incident
		if err := json.Unmarshal([]byte(data), &inc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal incident row: %w", err)
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

func (s *SQLite) UpdateIncident(id string, incident *core.Incident) error {
	data, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("failed to marshal incident: %w", err)
	}
	res, err := s.db.Exec(
		`UPDATE incidents SET severity = ?, category = ?, status = ?, priority = ?, data = ?, updated_at = ? WHERE id = ?`,
		incident.Severity, incident.Category, string(incident.Status),
		incident.Priority, string(data), incident.UpdatedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update incident %s: %w", id, err)
	}
	return requireRow(res, core.ErrIncidentNotFound)
}

// --- response plans ---

func (s *SQLite) CreatePlan(plan *core.ResponsePlan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal response plan: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO response_plans (id, name, priority, active, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		plan.ID, plan.Name, plan.Priority, boolToInt(plan.Active), string(data), plan.CreatedAt, plan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert response plan %s: %w", plan.ID, err)
	}
	return nil
}

func (s *SQLite) UpdatePlan(id string, plan *core.ResponsePlan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal response plan: %w", err)
	}
	res, err := s.db.Exec(
		`UPDATE response_plans SET name = ?, priority = ?, active = ?, data = ?, updated_at = ? WHERE id = ?`,
		plan.Name, plan.Priority, boolToInt(plan.Active), string(data), plan.UpdatedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update response plan %s: %w", id, err)
	}
	return requireRow(res, core.ErrPlanNotFound)
}

func (s *SQLite) GetPlan(id string) (*core.ResponsePlan, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM response_plans WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, core.ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query response plan %s: %w", id, err)
	}
	var plan core.ResponsePlan
	if err := json.Unmarshal([]byte(data), &plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response plan %s: %w", id, err)
	}
	return &plan, nil
}

func (s *SQLite) GetActivePlans() ([]core.ResponsePlan, error) {
	rows, err := s.db.Query(`SELECT data FROM response_plans WHERE active = 1 ORDER BY priority DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query response plans: %w", err)
	}
	defer rows.Close()

	var plans []core.ResponsePlan
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan response plan row: %w", err)
		}
		var plan core.ResponsePlan
		if err := json.Unmarshal([]byte(data), &plan); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response plan row: %w", err)
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// --- escalation rules ---

func (s *SQLite) CreateEscalationRule(rule *core.EscalationRule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation rule: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO escalation_rules (id, name, active, data) VALUES (?, ?, ?, ?)`,
		rule.ID, rule.Name, boolToInt(rule.Active), string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to insert escalation rule %s: %w", rule.ID, err)
	}
	return nil
}

func (s *SQLite) GetActiveEscalationRules() ([]core.EscalationRule, error) {
	rows, err := s.db.Query(`SELECT data FROM escalation_rules WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalation rules: %w", err)
	}
	defer rows.Close()

	var rules []core.EscalationRule
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan escalation rule row: %w", err)
		}
		var rule core.EscalationRule
		if err := json.Unmarshal([]byte(data), &rule); err != nil {
			return nil, fmt.Errorf("failed to unmarshal escalation rule row: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
