// Package opsnotify posts one-directional operational alerts to Slack:
// deployments that exhaust their retries and nodes that go offline. There
// is no inbound half — dispatch never reads Slack, only writes to it.
package opsnotify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// Notifier posts ops alerts to a single configured Slack channel.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// New creates a Notifier. If botToken is empty the notifier is a no-op.
func New(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether the notifier has a usable Slack client.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// RetryBudgetExhausted alerts that an execution has failed permanently
// after exhausting its retry budget.
func (n *Notifier) RetryBudgetExhausted(ctx context.Context, executionID, stepID, reason string) {
	text := fmt.Sprintf(":x: Execution `%s` (step `%s`) exhausted its retry budget: %s", executionID, stepID, reason)
	n.post(ctx, text, "execution_id", executionID, "step_id", stepID)
}

// RestartRequested alerts that the health monitor asked the runtime agent
// to restart an unhealthy container.
func (n *Notifier) RestartRequested(ctx context.Context, resourceID, name, reason string) {
	text := fmt.Sprintf(":warning: Restarting container `%s` (resource `%s`): %s", name, resourceID, reason)
	n.post(ctx, text, "resource_id", resourceID, "name", name)
}

func (n *Notifier) post(ctx context.Context, text string, logArgs ...any) {
	if !n.IsEnabled() {
		n.logger.Debug("ops notifier disabled, skipping alert", append([]any{"text", text}, logArgs...)...)
		return
	}
	_, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false))
	if err != nil {
		n.logger.Error("posting ops alert to slack", append([]any{"error", err}, logArgs...)...)
		return
	}
	n.logger.Info("posted ops alert to slack", logArgs...)
}
