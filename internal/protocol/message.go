// Package protocol defines the typed, versioned client message protocol.
package protocol

import (
	"encoding/json"
	"time"
)

// Version is the protocol version this codec understands. Messages with
// any other version are rejected rather than guessed at.
const Version = "1"

// Kind discriminates the message union.
type Kind string

// Inbound kinds.
const (
	KindSubscribe   Kind = "subscribe"
	KindUnsubscribe Kind = "unsubscribe"
	KindPing        Kind = "ping"
)

// Outbound kinds.
const (
	KindTickUpdate       Kind = "tick_update"
	KindAlert            Kind = "alert"
	KindAnalyticsUpdate  Kind = "analytics_update"
	KindConnectionStatus Kind = "connection_status"
	KindSubscriptionAck  Kind = "subscription_ack"
	KindPong             Kind = "pong"
	KindError            Kind = "error"
)

// Envelope is the wire form of every message in both directions.
type Envelope struct {
	Kind      Kind            `json:"kind"`
	Version   string          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Channel names clients can subscribe to.
const (
	ChannelAlerts    = "alerts"
	ChannelTicks     = "ticks"
	ChannelAnalytics = "analytics"
)

// SubscribePayload is the data of subscribe and unsubscribe messages.
// An empty InstrumentID subscribes to the channel for all instruments.
type SubscribePayload struct {
	Channel      string `json:"channel"`
	InstrumentID string `json:"instrument_id,omitempty"`
}

// Inbound is a decoded client message.
type Inbound struct {
	Kind      Kind
	Timestamp time.Time
	Subscribe *SubscribePayload // set for subscribe/unsubscribe
}

// TickUpdatePayload is broadcast on the ticks channel.
type TickUpdatePayload struct {
	InstrumentID string  `json:"instrument_id"`
	Price        float64 `json:"price"`
	Volume       float64 `json:"volume,omitempty"`
	TsUnixMillis int64   `json:"ts_unix_millis"`
}

// AlertPayload is broadcast on the alerts channel when a rule fires.
type AlertPayload struct {
	AlertID        string  `json:"alert_id"`
	RuleID         string  `json:"rule_id"`
	InstrumentID   string  `json:"instrument_id"`
	TriggeredValue float64 `json:"triggered_value"`
	TickTsMillis   int64   `json:"tick_ts_unix_millis"`
}

// AnalyticsUpdatePayload carries indicator snapshots on the analytics
// channel.
type AnalyticsUpdatePayload struct {
	InstrumentID string             `json:"instrument_id"`
	Indicators   map[string]float64 `json:"indicators"`
	TsUnixMillis int64              `json:"ts_unix_millis"`
}

// ConnectionStatusPayload is sent once on connect and on state changes.
type ConnectionStatusPayload struct {
	ClientID string `json:"client_id"`
	Status   string `json:"status"`
}

// SubscriptionAckPayload acknowledges subscribe/unsubscribe requests.
type SubscriptionAckPayload struct {
	Action       string `json:"action"`
	Channel      string `json:"channel"`
	InstrumentID string `json:"instrument_id,omitempty"`
}

// ErrorPayload reports a protocol violation back to the offending client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
