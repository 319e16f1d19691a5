package anomaly

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

// ThreatHandler receives every threat after it is persisted and its actions
// dispatched. The incident manager hangs off this hook, same shape as the
// policy engine's violation hook.
type ThreatHandler interface {
	HandleThreat(ctx context.Context, cfg DetectorConfig, threat core.Threat)
}

// Manager owns the detector registry and the configured detection units.
// Detector configs live in an immutable snapshot swapped by Reload, so one
// sweep never sees a half-updated set.
type Manager struct {
	threats  storage.ThreatStorage
	executor *action.Executor
	pool     *core.WorkerPool
	handler  ThreatHandler
	clock    core.Clock
	logger   *zap.SugaredLogger

	unitTimeout time.Duration

	detectors map[core.DetectorKind]Detector

	mu      sync.RWMutex
	configs []DetectorConfig
}

// ManagerConfig wires a Manager. The four built-in detectors are registered
// from Events/Profiles; RegisterDetector adds or replaces kinds after that.
type ManagerConfig struct {
	Threats     storage.ThreatStorage
	Executor    *action.Executor
	Events      core.EventSource
	Profiles    core.ProfileStore
	Pool        *core.WorkerPool
	Clock       core.Clock
	Logger      *zap.SugaredLogger
	UnitTimeout time.Duration // per-detector budget inside sweeps
}

// NewManager creates a detection manager with the built-in detector kinds
// registered. Call Reload before the first sweep.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = core.SystemClock{}
	}
	unitTimeout := cfg.UnitTimeout
	if unitTimeout <= 0 {
		unitTimeout = 30 * time.Second
	}

	m := &Manager{
		threats:     cfg.Threats,
		executor:    cfg.Executor,
		pool:        cfg.Pool,
		clock:       clock,
		logger:      logger,
		unitTimeout: unitTimeout,
		detectors:   make(map[core.DetectorKind]Detector),
	}
	m.RegisterDetector(NewStatisticalDetector(cfg.Events, clock, logger))
	m.RegisterDetector(NewBehavioralDetector(cfg.Events, cfg.Profiles, clock, logger))
	m.RegisterDetector(NewNetworkDetector(cfg.Events, clock, logger))
	m.RegisterDetector(NewTemporalDetector(cfg.Events, clock, logger))
	return m
}

// SetThreatHandler installs the downstream threat hook. Must be called before
// the first sweep; typically done once at bootstrap.
func (m *Manager) SetThreatHandler(h ThreatHandler) {
	m.handler = h
}

// RegisterDetector adds a detector, replacing any existing one of the same
// kind.
func (m *Manager) RegisterDetector(d Detector) {
	m.detectors[d.Kind()] = d
}

// Reload swaps the detector config snapshot. Configs naming an unregistered
// kind are rejected up front rather than discovered mid-sweep.
func (m *Manager) Reload(configs []DetectorConfig) error {
	for _, cfg := range configs {
		if _, ok := m.detectors[cfg.Kind]; !ok {
			return fmt.Errorf("detector %s: kind %q: %w", cfg.ID, cfg.Kind, core.ErrUnknownDetectorKind)
		}
	}

	m.mu.Lock()
	m.configs = configs
	m.mu.Unlock()

	m.logger.Infof("Loaded %d detector configs", len(configs))
	return nil
}

// Configs returns the current snapshot.
func (m *Manager) Configs() []DetectorConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configs
}

// Detect runs one configured detection unit: the detector scans its window,
// and every resulting threat is persisted, counted, dispatched to the
// config's actions exactly once, and handed to the threat hook. Collaborator
// errors propagate to the caller.
func (m *Manager) Detect(ctx context.Context, cfg DetectorConfig) ([]core.Threat, error) {
	detector, ok := m.detectors[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("detector %s: kind %q: %w", cfg.ID, cfg.Kind, core.ErrUnknownDetectorKind)
	}

	found, err := detector.Detect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("detector %s: %w", cfg.ID, err)
	}

	threats := make([]core.Threat, 0, len(found))
	for _, threat := range found {
		metrics.ThreatsDetected.WithLabelValues(string(threat.Kind), threat.Severity).Inc()
		m.logger.Infow("Threat detected",
			"threat", threat.ID,
			"detector", cfg.ID,
			"kind", threat.Kind,
			"severity", threat.Severity,
			"description", threat.Description)

		if err := m.threats.CreateThreat(threat); err != nil {
			// The detection stands even if the record write fails.
			m.logger.Errorw("Failed to persist threat",
				"threat", threat.ID,
				"error", err)
		}

		m.executor.Execute(ctx, cfg.Actions, threatSubject(cfg, *threat))

		if m.handler != nil {
			m.handler.HandleThreat(ctx, cfg, *threat)
		}
		threats = append(threats, *threat)
	}
	return threats, nil
}

// DetectAllThreats sweeps every configured detector with bounded concurrency.
// One config is one unit of work: its failure is logged and counted, never
// propagated, and shutdown cancels between units.
func (m *Manager) DetectAllThreats(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("detect_all").Observe(time.Since(start).Seconds())
	}()

	configs := m.Configs()
	if len(configs) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, cfg := range configs {
		if ctx.Err() != nil {
			break
		}

		c := cfg
		wg.Add(1)
		task := func() {
			defer wg.Done()
			m.sweepDetector(ctx, c)
		}
		if err := m.pool.SubmitWait(ctx, task); err != nil {
			wg.Done()
			m.logger.Warnw("Sweep unit not scheduled", "detector", c.ID, "error", err)
			metrics.SweepUnitFailures.WithLabelValues("detect_all").Inc()
		}
	}
	wg.Wait()

	m.logger.Infow("Detection sweep complete",
		"detectors", len(configs),
		"duration", time.Since(start))
	return ctx.Err()
}

func (m *Manager) sweepDetector(ctx context.Context, cfg DetectorConfig) {
	unitCtx, cancel := context.WithTimeout(ctx, m.unitTimeout)
	defer cancel()

	if _, err := m.Detect(unitCtx, cfg); err != nil {
		m.logger.Warnw("Detector failed during sweep, skipping",
			"detector", cfg.ID,
			"kind", cfg.Kind,
			"error", err)
		metrics.SweepUnitFailures.WithLabelValues("detect_all").Inc()
	}
}

// ResolveThreat marks a threat resolved. Resolving twice is a no-op success;
// there is no way back to active.
func (m *Manager) ResolveThreat(id string) error {
	threat, err := m.threats.GetThreat(id)
	if err != nil {
		return err
	}
	if threat.Status == core.ThreatStatusResolved {
		return nil
	}

	threat.Resolve(m.clock.Now())
	if err := m.threats.UpdateThreat(id, threat); err != nil {
		return fmt.Errorf("failed to resolve threat %s: %w", id, err)
	}
	m.logger.Infow("Threat resolved", "threat", id)
	return nil
}

func threatSubject(cfg DetectorConfig, t core.Threat) action.Subject {
	target, _ := t.Evidence["actor_id"].(string)
	return action.Subject{
		Kind:        action.SubjectThreat,
		ID:          t.ID,
		Severity:    t.Severity,
		Category:    core.CategorySecurity,
		Description: t.Description,
		Target:      target,
		Context:     t.Evidence,
	}
}
