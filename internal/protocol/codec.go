package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Error codes carried in outbound error messages.
const (
	ErrCodeMalformed      = "malformed_message"
	ErrCodeUnknownKind    = "unknown_kind"
	ErrCodeBadVersion     = "unsupported_version"
	ErrCodeMissingField   = "missing_field"
	ErrCodeUnknownChannel = "unknown_channel"
	ErrCodeRateLimited    = "rate_limited"
)

// ValidationError describes a rejected inbound message. The connection
// layer turns it into an outbound error message; it never drops the
// connection by itself.
type ValidationError struct {
	Code   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Decode validates a raw inbound frame and returns its typed form.
func Decode(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Inbound{}, &ValidationError{Code: ErrCodeMalformed, Detail: "message is not valid JSON"}
	}

	if env.Kind == "" {
		return Inbound{}, &ValidationError{Code: ErrCodeMissingField, Detail: "kind is required"}
	}
	if env.Version == "" {
		return Inbound{}, &ValidationError{Code: ErrCodeMissingField, Detail: "version is required"}
	}
	if env.Version != Version {
		return Inbound{}, &ValidationError{
			Code:   ErrCodeBadVersion,
			Detail: fmt.Sprintf("version %q not supported, expected %q", env.Version, Version),
		}
	}
	if env.Timestamp.IsZero() {
		return Inbound{}, &ValidationError{Code: ErrCodeMissingField, Detail: "timestamp is required"}
	}

	in := Inbound{Kind: env.Kind, Timestamp: env.Timestamp}

	switch env.Kind {
	case KindPing:
		return in, nil
	case KindSubscribe, KindUnsubscribe:
		var p SubscribePayload
		if len(env.Data) == 0 {
			return Inbound{}, &ValidationError{Code: ErrCodeMissingField, Detail: "data is required"}
		}
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return Inbound{}, &ValidationError{Code: ErrCodeMalformed, Detail: "data payload is not valid JSON"}
		}
		if p.Channel == "" {
			return Inbound{}, &ValidationError{Code: ErrCodeMissingField, Detail: "channel is required"}
		}
		switch p.Channel {
		case ChannelAlerts, ChannelTicks, ChannelAnalytics:
		default:
			return Inbound{}, &ValidationError{
				Code:   ErrCodeUnknownChannel,
				Detail: fmt.Sprintf("unknown channel %q", p.Channel),
			}
		}
		in.Subscribe = &p
		return in, nil
	default:
		return Inbound{}, &ValidationError{
			Code:   ErrCodeUnknownKind,
			Detail: fmt.Sprintf("unknown kind %q", env.Kind),
		}
	}
}

// Encode wraps an outbound payload in the protocol envelope.
func Encode(kind Kind, payload any, ts time.Time) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
		}
		data = b
	}

	out, err := json.Marshal(Envelope{
		Kind:      kind,
		Version:   Version,
		Timestamp: ts.UTC(),
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", kind, err)
	}
	return out, nil
}
