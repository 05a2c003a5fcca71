package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Subscribe(t *testing.T) {
	raw := []byte(`{"kind":"subscribe","version":"1","timestamp":"2026-01-02T15:04:05Z","data":{"channel":"alerts","instrument_id":"AAPL"}}`)

	in, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, KindSubscribe, in.Kind)
	require.NotNil(t, in.Subscribe)
	assert.Equal(t, "alerts", in.Subscribe.Channel)
	assert.Equal(t, "AAPL", in.Subscribe.InstrumentID)
}

func TestDecode_PingNeedsNoPayload(t *testing.T) {
	in, err := Decode([]byte(`{"kind":"ping","version":"1","timestamp":"2026-01-02T15:04:05Z"}`))
	require.NoError(t, err)
	assert.Equal(t, KindPing, in.Kind)
}

func TestDecode_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantCode string
	}{
		{"not json", `{nope`, ErrCodeMalformed},
		{"unknown kind", `{"kind":"dance","version":"1","timestamp":"2026-01-02T15:04:05Z"}`, ErrCodeUnknownKind},
		{"missing kind", `{"version":"1","timestamp":"2026-01-02T15:04:05Z"}`, ErrCodeMissingField},
		{"missing version", `{"kind":"ping","timestamp":"2026-01-02T15:04:05Z"}`, ErrCodeMissingField},
		{"missing timestamp", `{"kind":"ping","version":"1"}`, ErrCodeMissingField},
		{"future version", `{"kind":"ping","version":"2","timestamp":"2026-01-02T15:04:05Z"}`, ErrCodeBadVersion},
		{"subscribe without data", `{"kind":"subscribe","version":"1","timestamp":"2026-01-02T15:04:05Z"}`, ErrCodeMissingField},
		{"subscribe without channel", `{"kind":"subscribe","version":"1","timestamp":"2026-01-02T15:04:05Z","data":{"instrument_id":"AAPL"}}`, ErrCodeMissingField},
		{"unknown channel", `{"kind":"subscribe","version":"1","timestamp":"2026-01-02T15:04:05Z","data":{"channel":"weather"}}`, ErrCodeUnknownChannel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantCode, verr.Code)
		})
	}
}

func TestEncode_Envelope(t *testing.T) {
	ts := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	raw, err := Encode(KindAlert, AlertPayload{
		AlertID:        "a-1",
		RuleID:         "r-1",
		InstrumentID:   "AAPL",
		TriggeredValue: 152.0,
		TickTsMillis:   1000,
	}, ts)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, KindAlert, env.Kind)
	assert.Equal(t, Version, env.Version)
	assert.Equal(t, ts, env.Timestamp)

	var p AlertPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "AAPL", p.InstrumentID)
	assert.Equal(t, 152.0, p.TriggeredValue)
}

func TestEncode_NilPayloadOmitsData(t *testing.T) {
	raw, err := Encode(KindPong, nil, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"data"`)
}
