package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes deliveries to the service log. It is the default sender
// when no transport integration is configured, and keeps the notification
// path observable without external dependencies.
type LogSender struct {
	logger *zap.SugaredLogger
}

// NewLogSender creates a log-backed sender.
func NewLogSender(logger *zap.SugaredLogger) *LogSender {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LogSender{logger: logger}
}

// Send logs the notification instead of delivering it.
func (s *LogSender) Send(ctx context.Context, channel Channel, msg Message, recipients []string) error {
	s.logger.Infow("NOTIFICATION",
		"channel", channel.Name,
		"type", channel.Type,
		"severity", msg.Severity,
		"subject", msg.Subject,
		"body", msg.Body,
		"recipients", recipients)
	return nil
}
