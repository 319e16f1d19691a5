package action

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"argus/core"
	"argus/metrics"
)

// Action types dispatched by the executor.
const (
	TypeLog        = "log"
	TypeAlert      = "alert"
	TypeBlock      = "block"
	TypeQuarantine = "quarantine"
	TypeNotify     = "notify"
	TypeEscalate   = "escalate"
)

// SubjectKind identifies what an action is being taken about.
type SubjectKind string

const (
	SubjectViolation SubjectKind = "violation"
	SubjectThreat    SubjectKind = "threat"
	SubjectIncident  SubjectKind = "incident"
)

// Subject is the entity an action set is dispatched for: a violation fired by
// the policy engine, a threat from the anomaly detector, or an incident under
// response. Context is what the action's config conditions and templates see.
type Subject struct {
	Kind        SubjectKind
	ID          string
	Severity    string
	Category    string
	Description string
	Target      string // actor, host or resource the action applies to
	Context     map[string]interface{}
}

// Result records one action execution.
type Result struct {
	Type        string        `json:"type"`
	Status      string        `json:"status"` // completed, failed, skipped
	Message     string        `json:"message,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// Result statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Handler executes one action type. Handlers must be safe for concurrent use;
// side effects go through injected collaborators, never direct transport.
type Handler interface {
	Type() string
	Execute(ctx context.Context, spec core.ActionSpec, subject Subject) (*Result, error)
}

// Executor is the dispatch table shared by the policy engine, the anomaly
// detector and the incident manager. An unknown action type is a configuration
// error and gets logged and skipped rather than failing the caller.
type Executor struct {
	handlers map[string]Handler
	mu       sync.RWMutex
	timeout  time.Duration
	logger   *zap.SugaredLogger
}

// NewExecutor creates an executor with the given per-action timeout.
func NewExecutor(timeout time.Duration, logger *zap.SugaredLogger) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Executor{
		handlers: make(map[string]Handler),
		timeout:  timeout,
		logger:   logger,
	}
}

// Register adds a handler for its action type, replacing any previous one.
func (e *Executor) Register(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[h.Type()] = h
	e.logger.Infof("Registered action handler: %s", h.Type())
}

// Handler returns the registered handler for a type.
func (e *Executor) Handler(actionType string) (Handler, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownActionType, actionType)
	}
	return h, nil
}

// Execute dispatches every action in order. Each action runs under its own
// timeout; one action failing does not stop the rest. Results are returned
// in declared order.
func (e *Executor) Execute(ctx context.Context, specs []core.ActionSpec, subject Subject) []Result {
	results := make([]Result, 0, len(specs))
	for _, spec := range specs {
		results = append(results, e.executeOne(ctx, spec, subject))
	}
	return results
}

func (e *Executor) executeOne(ctx context.Context, spec core.ActionSpec, subject Subject) Result {
	start := time.Now()

	handler, err := e.Handler(spec.Type)
	if err != nil {
		e.logger.Warnw("Skipping action with unknown type",
			"type", spec.Type,
			"subject", subject.ID,
			"error", err)
		metrics.ActionExecutions.WithLabelValues(spec.Type, StatusSkipped).Inc()
		return Result{
			Type:        spec.Type,
			Status:      StatusSkipped,
			Error:       err.Error(),
			StartedAt:   start,
			CompletedAt: time.Now(),
		}
	}

	actionCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := handler.Execute(actionCtx, spec, subject)
	completed := time.Now()
	if result == nil {
		result = &Result{Type: spec.Type}
	}
	result.StartedAt = start
	result.CompletedAt = completed
	result.Duration = completed.Sub(start)

	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		e.logger.Errorw("Action execution failed",
			"type", spec.Type,
			"subject_kind", subject.Kind,
			"subject", subject.ID,
			"error", err)
	} else if result.Status == "" {
		result.Status = StatusCompleted
	}

	metrics.ActionExecutions.WithLabelValues(spec.Type, result.Status).Inc()
	return *result
}
