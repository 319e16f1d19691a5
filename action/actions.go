package action

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"argus/core"
	"argus/notify"
)

// Enforcer applies containment side effects (blocking an actor or address,
// quarantining a host). Implementations belong to the surrounding platform;
// the engine only decides that containment should happen.
type Enforcer interface {
	Block(ctx context.Context, target string) error
	Quarantine(ctx context.Context, target string) error
}

// AlertSink receives alert records raised by the alert action.
type AlertSink interface {
	Raise(ctx context.Context, subject Subject, config map[string]interface{}) error
}

// Escalator bumps an incident's escalation level. Wired to the incident
// manager at bootstrap; injected as an interface to keep this package free of
// an incident dependency.
type Escalator interface {
	Escalate(ctx context.Context, incidentID, reason string) error
}

// LogAction records the subject through the structured logger.
type LogAction struct {
	logger *zap.SugaredLogger
}

// NewLogAction creates the log action handler.
func NewLogAction(logger *zap.SugaredLogger) *LogAction {
	return &LogAction{logger: logger}
}

func (a *LogAction) Type() string { return TypeLog }

func (a *LogAction) Execute(_ context.Context, spec core.ActionSpec, subject Subject) (*Result, error) {
	a.logger.Infow("Security action: log",
		"subject_kind", subject.Kind,
		"subject", subject.ID,
		"severity", subject.Severity,
		"description", subject.Description,
		"config", spec.Config)
	return &Result{Type: TypeLog, Status: StatusCompleted}, nil
}

// AlertAction raises an alert record through the sink.
type AlertAction struct {
	sink   AlertSink
	logger *zap.SugaredLogger
}

// NewAlertAction creates the alert action handler.
func NewAlertAction(sink AlertSink, logger *zap.SugaredLogger) *AlertAction {
	return &AlertAction{sink: sink, logger: logger}
}

func (a *AlertAction) Type() string { return TypeAlert }

func (a *AlertAction) Execute(ctx context.Context, spec core.ActionSpec, subject Subject) (*Result, error) {
	if a.sink == nil {
		return nil, fmt.Errorf("no alert sink configured")
	}
	if err := a.sink.Raise(ctx, subject, spec.Config); err != nil {
		return nil, fmt.Errorf("failed to raise alert: %w", err)
	}
	return &Result{Type: TypeAlert, Status: StatusCompleted, Message: "alert raised"}, nil
}

// BlockAction blocks the subject's target through the enforcer.
type BlockAction struct {
	enforcer Enforcer
	logger   *zap.SugaredLogger
}

// NewBlockAction creates the block action handler.
func NewBlockAction(enforcer Enforcer, logger *zap.SugaredLogger) *BlockAction {
	return &BlockAction{enforcer: enforcer, logger: logger}
}

func (a *BlockAction) Type() string { return TypeBlock }

func (a *BlockAction) Execute(ctx context.Context, spec core.ActionSpec, subject Subject) (*Result, error) {
	target := configString(spec.Config, "target")
	if target == "" {
		target = subject.Target
	}
	if target == "" {
		return nil, fmt.Errorf("block action has no target")
	}
	if a.enforcer == nil {
		return nil, fmt.Errorf("no enforcer configured")
	}
	if err := a.enforcer.Block(ctx, target); err != nil {
		return nil, fmt.Errorf("failed to block %s: %w", target, err)
	}
	a.logger.Infow("Security action: block", "target", target, "subject", subject.ID)
	return &Result{Type: TypeBlock, Status: StatusCompleted, Message: "blocked " + target}, nil
}

// QuarantineAction quarantines the subject's target through the enforcer.
type QuarantineAction struct {
	enforcer Enforcer
	logger   *zap.SugaredLogger
}

// NewQuarantineAction creates the quarantine action handler.
func NewQuarantineAction(enforcer Enforcer, logger *zap.SugaredLogger) *QuarantineAction {
	return &QuarantineAction{enforcer: enforcer, logger: logger}
}

func (a *QuarantineAction) Type() string { return TypeQuarantine }

func (a *QuarantineAction) Execute(ctx context.Context, spec core.ActionSpec, subject Subject) (*Result, error) {
	target := configString(spec.Config, "target")
	if target == "" {
		target = subject.Target
	}
	if target == "" {
		return nil, fmt.Errorf("quarantine action has no target")
	}
	if a.enforcer == nil {
		return nil, fmt.Errorf("no enforcer configured")
	}
	if err := a.enforcer.Quarantine(ctx, target); err != nil {
		return nil, fmt.Errorf("failed to quarantine %s: %w", target, err)
	}
	a.logger.Infow("Security action: quarantine", "target", target, "subject", subject.ID)
	return &Result{Type: TypeQuarantine, Status: StatusCompleted, Message: "quarantined " + target}, nil
}

// NotifyAction dispatches through the notifier, rate-limited per subject kind
// so a violation storm cannot flood the delivery collaborators.
type NotifyAction struct {
	notifier *notify.Notifier
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	limiters map[SubjectKind]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewNotifyAction creates the notify action handler. limitPerMinute <= 0
// disables rate limiting.
func NewNotifyAction(notifier *notify.Notifier, limitPerMinute int, logger *zap.SugaredLogger) *NotifyAction {
	limit := rate.Inf
	burst := 1
	if limitPerMinute > 0 {
		limit = rate.Limit(float64(limitPerMinute) / 60.0)
		burst = limitPerMinute
	}
	return &NotifyAction{
		notifier: notifier,
		logger:   logger,
		limiters: make(map[SubjectKind]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (a *NotifyAction) Type() string { return TypeNotify }

func (a *NotifyAction) limiter(kind SubjectKind) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[kind]
	if !ok {
		l = rate.NewLimiter(a.limit, a.burst)
		a.limiters[kind] = l
	}
	return l
}

func (a *NotifyAction) Execute(ctx context.Context, spec core.ActionSpec, subject Subject) (*Result, error) {
	if a.notifier == nil {
		return nil, fmt.Errorf("no notifier configured")
	}

	if !a.limiter(subject.Kind).Allow() {
		a.logger.Warnw("Notification rate limit exceeded, dropping",
			"subject_kind", subject.Kind,
			"subject", subject.ID)
		return &Result{Type: TypeNotify, Status: StatusSkipped, Message: "rate limited"}, nil
	}

	msg := notify.Message{
		Subject:  configString(spec.Config, "subject"),
		Body:     configString(spec.Config, "message"),
		Severity: subject.Severity,
		Category: subject.Category,
		Context:  subject.Context,
	}
	if msg.Subject == "" {
		msg.Subject = fmt.Sprintf("[%s] %s", subject.Severity, subject.Kind)
	}
	if msg.Body == "" {
		msg.Body = subject.Description
	}

	sent := a.notifier.Dispatch(ctx, msg)
	return &Result{
		Type:    TypeNotify,
		Status:  StatusCompleted,
		Message: fmt.Sprintf("notified %d channels", sent),
	}, nil
}

// EscalateAction bumps the incident through the escalator. Only meaningful
// for incident subjects; anything else is skipped with a warning.
type EscalateAction struct {
	escalator Escalator
	logger    *zap.SugaredLogger
}

// NewEscalateAction creates the escalate action handler.
func NewEscalateAction(escalator Escalator, logger *zap.SugaredLogger) *EscalateAction {
	return &EscalateAction{escalator: escalator, logger: logger}
}

func (a *EscalateAction) Type() string { return TypeEscalate }

func (a *EscalateAction) Execute(ctx context.Context, spec core.ActionSpec, subject Subject) (*Result, error) {
	if subject.Kind != SubjectIncident {
		a.logger.Warnw("Escalate action on non-incident subject, skipping",
			"subject_kind", subject.Kind,
			"subject", subject.ID)
		return &Result{Type: TypeEscalate, Status: StatusSkipped, Message: "not an incident"}, nil
	}
	if a.escalator == nil {
		return nil, fmt.Errorf("no escalator configured")
	}

	reason := configString(spec.Config, "reason")
	if err := a.escalator.Escalate(ctx, subject.ID, reason); err != nil {
		return nil, fmt.Errorf("failed to escalate incident %s: %w", subject.ID, err)
	}
	return &Result{Type: TypeEscalate, Status: StatusCompleted, Message: "incident escalated"}, nil
}

func configString(config map[string]interface{}, key string) string {
	if config == nil {
		return ""
	}
	if s, ok := config[key].(string); ok {
		return s
	}
	return ""
}
