package market

// Tick is one normalized market-data observation for one instrument.
// Ticks are immutable once ingested; ownership passes from the consumer
// to the evaluation queue.
type Tick struct {
	Instrument   string
	Price        float64
	Volume       float64
	TsUnixMillis int64

	// Indicators holds precomputed indicator values attached upstream
	// (e.g. rsi_14, sma_50). May be nil for plain price ticks.
	Indicators map[string]float64
}

// TickMsg is the wire form of a tick on the market data topic.
type TickMsg struct {
	EventID      string             `json:"event_id"`
	Instrument   string             `json:"instrument"`
	Price        float64            `json:"price"`
	Volume       float64            `json:"volume"`
	TsUnixMillis int64              `json:"ts_unix_millis"`
	Indicators   map[string]float64 `json:"indicators,omitempty"`
}

// Tick converts the wire message into the immutable domain form.
func (m TickMsg) Tick() Tick {
	return Tick{
		Instrument:   m.Instrument,
		Price:        m.Price,
		Volume:       m.Volume,
		TsUnixMillis: m.TsUnixMillis,
		Indicators:   m.Indicators,
	}
}

// Record represents a consumed Kafka record.
type Record struct {
	Topic     string
	Key       string
	Value     []byte
	Partition int32
	Offset    int64
	Timestamp int64
}
