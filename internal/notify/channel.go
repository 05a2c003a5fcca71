// Package notify defines external notification channels for fired alerts.
package notify

import (
	"context"

	"github.com/ismaiel54/trading-alert-engine/internal/dispatch"
	"go.uber.org/zap"
)

// Each implementation here satisfies dispatch.Channel and is wrapped by
// its own circuit breaker at the dispatcher.

// LogChannel writes alerts to the log. Default sink when no external
// channel is configured; also useful in demos.
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel creates a log-backed notification channel.
func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(ctx context.Context, event dispatch.AlertEvent) error {
	c.logger.Info("alert notification",
		zap.String("alert_id", event.ID),
		zap.String("rule_id", event.RuleID),
		zap.String("instrument", event.Instrument),
		zap.Float64("triggered_value", event.TriggeredValue),
	)
	return nil
}
