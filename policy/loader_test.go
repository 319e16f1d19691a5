package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/core"
	"argus/storage"
)

func writeBundle(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestLoader(t *testing.T) (*Loader, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	loader := NewLoader(store, store, store, core.FixedClock{}, zap.NewNop().Sugar())
	return loader, store
}

const validBundle = `
policies:
  - id: brute-force
    name: Brute force detection
    priority: 10
    active: true
    rules:
      - id: freq
        kind: frequency
        params:
          threshold: 5
          time_window: 60
    actions:
      - type: alert
response_plans:
  - id: lockdown
    name: Lockdown
    priority: 5
    active: true
    steps:
      - type: set_priority
        params:
          priority: 5
escalation_rules:
  - id: critical-page
    actions:
      - type: notify
`

func TestLoadDir(t *testing.T) {
	loader, store := newTestLoader(t)
	dir := t.TempDir()
	writeBundle(t, dir, "bundle.yaml", validBundle)

	n, err := loader.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	policy, err := store.GetPolicy("brute-force")
	require.NoError(t, err)
	assert.Equal(t, core.RuleKindFrequency, policy.Rules[0].Kind)
	assert.EqualValues(t, 5, policy.Rules[0].Params.Threshold)

	plan, err := store.GetPlan("lockdown")
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 1)

	rules, err := store.GetActiveEscalationRules()
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestLoadDir_SkipsBrokenFiles(t *testing.T) {
	loader, store := newTestLoader(t)
	dir := t.TempDir()
	writeBundle(t, dir, "good.yaml", validBundle)
	writeBundle(t, dir, "broken.yaml", "policies: [not a mapping")
	writeBundle(t, dir, "notes.txt", "ignored")

	n, err := loader.LoadDir(dir)
	require.NoError(t, err, "A broken bundle must not abort the directory load")
	assert.Equal(t, 1, n)

	_, err = store.GetPolicy("brute-force")
	assert.NoError(t, err)
}

func TestLoadFile_SkipsInvalidPolicies(t *testing.T) {
	loader, store := newTestLoader(t)
	dir := t.TempDir()

	// First policy has no rules, second carries an unknown rule kind, third
	// is valid. Only the valid one loads.
	writeBundle(t, dir, "mixed.yaml", `
policies:
  - id: empty
    name: No rules
  - id: bogus
    name: Unknown kind
    rules:
      - id: r1
        kind: telepathy
  - id: ok
    name: Valid
    active: true
    rules:
      - id: r1
        kind: threshold
        params:
          field: amount
          operator: gt
          threshold: 100
`)

	n, err := loader.LoadFile(filepath.Join(dir, "mixed.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetPolicy("empty")
	assert.ErrorIs(t, err, core.ErrPolicyNotFound)
	_, err = store.GetPolicy("bogus")
	assert.ErrorIs(t, err, core.ErrPolicyNotFound)
	_, err = store.GetPolicy("ok")
	assert.NoError(t, err)
}

func TestLoadFile_UpsertsExistingPolicy(t *testing.T) {
	loader, store := newTestLoader(t)
	dir := t.TempDir()
	writeBundle(t, dir, "bundle.yaml", validBundle)

	_, err := loader.LoadFile(filepath.Join(dir, "bundle.yaml"))
	require.NoError(t, err)

	writeBundle(t, dir, "bundle.yaml", `
policies:
  - id: brute-force
    name: Brute force detection v2
    active: true
    rules:
      - id: freq
        kind: frequency
        params:
          threshold: 10
          time_window: 60
`)
	n, err := loader.LoadFile(filepath.Join(dir, "bundle.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	policy, err := store.GetPolicy("brute-force")
	require.NoError(t, err)
	assert.Equal(t, "Brute force detection v2", policy.Name)
	assert.EqualValues(t, 10, policy.Rules[0].Params.Threshold)

	policies, err := store.GetPolicies()
	require.NoError(t, err)
	assert.Len(t, policies, 1, "Reloading a bundle must not duplicate policies")
}

func TestLoadDir_MissingDirectory(t *testing.T) {
	loader, _ := newTestLoader(t)
	_, err := loader.LoadDir(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}
