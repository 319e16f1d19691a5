package notify

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"argus/core"
	"argus/metrics"
)

// ChannelType represents the delivery mechanism of a notification channel.
// Delivery itself lives behind the Sender collaborator; the type only routes.
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelSlack   ChannelType = "slack"
	ChannelWebhook ChannelType = "webhook"
)

// Channel is a notification channel: a filter over severity levels,
// categories and free-form conditions, plus a delivery type and recipient
// list. Selection is filter-only from this core's point of view.
type Channel struct {
	ID         string           `json:"id" yaml:"id"`
	Name       string           `json:"name" yaml:"name"`
	Type       ChannelType      `json:"type" yaml:"type"`
	Enabled    bool             `json:"enabled" yaml:"enabled"`
	Severities []string         `json:"severities,omitempty" yaml:"severities,omitempty"`
	Categories []string         `json:"categories,omitempty" yaml:"categories,omitempty"`
	Conditions []core.Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Recipients []string         `json:"recipients,omitempty" yaml:"recipients,omitempty"`
}

// Message is the payload handed to matching channels.
type Message struct {
	Subject  string                 `json:"subject"`
	Body     string                 `json:"body"`
	Severity string                 `json:"severity"`
	Category string                 `json:"category,omitempty"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// Sender delivers a message on a channel. Implementations are external
// collaborators (SMTP, Slack, webhook transports); delivery failures are
// logged by the collaborator and not retried here.
type Sender interface {
	Send(ctx context.Context, channel Channel, msg Message, recipients []string) error
}

// Notifier selects matching channels for a message and hands delivery to the
// sender. Fire-and-forget from the decision path's point of view: a send
// failure is logged, never propagated.
type Notifier struct {
	channels  []Channel
	sender    Sender
	evaluator *core.ConditionEvaluator
	logger    *zap.SugaredLogger
}

// NewNotifier creates a notifier over a fixed channel set.
func NewNotifier(channels []Channel, sender Sender, evaluator *core.ConditionEvaluator, logger *zap.SugaredLogger) *Notifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if evaluator == nil {
		evaluator = core.NewConditionEvaluator(logger)
	}
	return &Notifier{
		channels:  channels,
		sender:    sender,
		evaluator: evaluator,
		logger:    logger,
	}
}

// Dispatch sends the message on every matching enabled channel. Returns the
// number of channels notified.
func (n *Notifier) Dispatch(ctx context.Context, msg Message) int {
	sent := 0
	for _, channel := range n.channels {
		if !n.Matches(channel, msg) {
			continue
		}

		if err := n.sender.Send(ctx, channel, msg, channel.Recipients); err != nil {
			n.logger.Warnw("Notification delivery failed",
				"channel", channel.Name,
				"type", channel.Type,
				"error", err)
			continue
		}

		metrics.NotificationsSent.WithLabelValues(string(channel.Type)).Inc()
		sent++
	}
	return sent
}

// Matches reports whether the channel's filters accept the message. Empty
// severity/category lists are wildcards; conditions are AND-combined over the
// message context.
func (n *Notifier) Matches(channel Channel, msg Message) bool {
	if !channel.Enabled {
		return false
	}
	if !matchesList(channel.Severities, msg.Severity) {
		return false
	}
	if !matchesList(channel.Categories, msg.Category) {
		return false
	}
	if len(channel.Conditions) > 0 {
		return n.evaluator.EvaluateAll(channel.Conditions, msg.Context)
	}
	return true
}

func matchesList(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}
