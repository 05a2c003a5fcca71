package notify

import (
	"context"

	"github.com/ismaiel54/trading-alert-engine/internal/dispatch"
	"github.com/ismaiel54/trading-alert-engine/internal/market"
)

// alertMsg is the wire form of an alert on the alerts topic.
type alertMsg struct {
	AlertID        string  `json:"alert_id"`
	RuleID         string  `json:"rule_id"`
	Instrument     string  `json:"instrument"`
	TriggeredValue float64 `json:"triggered_value"`
	TickTsMillis   int64   `json:"tick_ts_unix_millis"`
	CreatedMillis  int64   `json:"created_unix_millis"`
}

// KafkaChannel publishes alerts to a Kafka topic for downstream
// consumers (mobile push fan-out, audit).
type KafkaChannel struct {
	producer *market.Producer
	topic    string
}

// NewKafkaChannel creates a Kafka-backed notification channel.
func NewKafkaChannel(producer *market.Producer, topic string) *KafkaChannel {
	return &KafkaChannel{producer: producer, topic: topic}
}

func (c *KafkaChannel) Name() string { return "kafka" }

// Send publishes one alert keyed by instrument.
func (c *KafkaChannel) Send(ctx context.Context, event dispatch.AlertEvent) error {
	return c.producer.ProduceJSON(ctx, c.topic, event.Instrument, alertMsg{
		AlertID:        event.ID,
		RuleID:         event.RuleID,
		Instrument:     event.Instrument,
		TriggeredValue: event.TriggeredValue,
		TickTsMillis:   event.TickTsMillis,
		CreatedMillis:  event.CreatedMillis,
	})
}
