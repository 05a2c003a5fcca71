package market

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickMsg_DecodesAndConverts(t *testing.T) {
	raw := []byte(`{"event_id":"e-1","instrument":"AAPL","price":152.5,"volume":300,"ts_unix_millis":1700000000000,"indicators":{"rsi_14":71.2}}`)

	var msg TickMsg
	require.NoError(t, json.Unmarshal(raw, &msg))

	tick := msg.Tick()
	assert.Equal(t, "AAPL", tick.Instrument)
	assert.Equal(t, 152.5, tick.Price)
	assert.Equal(t, 300.0, tick.Volume)
	assert.Equal(t, int64(1700000000000), tick.TsUnixMillis)
	assert.Equal(t, 71.2, tick.Indicators["rsi_14"])
}

func TestTickMsg_PlainPriceTickHasNilIndicators(t *testing.T) {
	var msg TickMsg
	require.NoError(t, json.Unmarshal([]byte(`{"event_id":"e-2","instrument":"MSFT","price":410.0,"ts_unix_millis":1}`), &msg))
	assert.Nil(t, msg.Tick().Indicators)
}
