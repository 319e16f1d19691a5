package action

import (
	"context"

	"go.uber.org/zap"
)

// LogEnforcer is the default containment collaborator: it records block and
// quarantine decisions in the service log. Real enforcement (firewall, EDR,
// identity provider) plugs in behind the same interface.
type LogEnforcer struct {
	logger *zap.SugaredLogger
}

// NewLogEnforcer creates a log-backed enforcer.
func NewLogEnforcer(logger *zap.SugaredLogger) *LogEnforcer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LogEnforcer{logger: logger}
}

// Block logs the block decision.
func (e *LogEnforcer) Block(_ context.Context, target string) error {
	e.logger.Warnw("BLOCK", "target", target)
	return nil
}

// Quarantine logs the quarantine decision.
func (e *LogEnforcer) Quarantine(_ context.Context, target string) error {
	e.logger.Warnw("QUARANTINE", "target", target)
	return nil
}

// LogAlertSink is the default alert collaborator, logging raised alerts.
type LogAlertSink struct {
	logger *zap.SugaredLogger
}

// NewLogAlertSink creates a log-backed alert sink.
func NewLogAlertSink(logger *zap.SugaredLogger) *LogAlertSink {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LogAlertSink{logger: logger}
}

// Raise logs the alert.
func (s *LogAlertSink) Raise(_ context.Context, subject Subject, config map[string]interface{}) error {
	s.logger.Warnw("ALERT",
		"subject_kind", subject.Kind,
		"subject", subject.ID,
		"severity", subject.Severity,
		"description", subject.Description,
		"config", config)
	return nil
}
