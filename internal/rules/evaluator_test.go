package rules

import (
	"testing"

	"github.com/ismaiel54/trading-alert-engine/internal/market"
	"github.com/stretchr/testify/assert"
)

func thresholdRule(cmp Comparator, value float64) Rule {
	return Rule{
		ID:         "r-1",
		Instrument: "AAPL",
		Kind:       KindThreshold,
		Condition:  Condition{Comparator: cmp, Value: value},
		Active:     true,
	}
}

func TestEvaluate_ThresholdComparators(t *testing.T) {
	tick := market.Tick{Instrument: "AAPL", Price: 152.0, TsUnixMillis: 1000}

	tests := []struct {
		name string
		cmp  Comparator
		val  float64
		want Result
	}{
		{"gt match", CmpGT, 150.0, Matched},
		{"gt no match", CmpGT, 152.0, NotMatched},
		{"lt match", CmpLT, 153.0, Matched},
		{"lt no match", CmpLT, 152.0, NotMatched},
		{"ge boundary", CmpGE, 152.0, Matched},
		{"le boundary", CmpLE, 152.0, Matched},
		{"eq match", CmpEQ, 152.0, Matched},
		{"eq no match", CmpEQ, 152.5, NotMatched},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Evaluate(thresholdRule(tt.cmp, tt.val), tick)
			assert.Equal(t, tt.want, out.Result)
			if tt.want != EvalError {
				assert.Equal(t, 152.0, out.Value, "observed value should be the tick price")
			}
		})
	}
}

func TestEvaluate_IndicatorRule(t *testing.T) {
	rule := Rule{
		ID:         "r-rsi",
		Instrument: "AAPL",
		Kind:       KindIndicator,
		Condition:  Condition{Comparator: CmpGT, Value: 70.0, Indicator: "rsi_14"},
		Active:     true,
	}

	tick := market.Tick{
		Instrument:   "AAPL",
		Price:        152.0,
		TsUnixMillis: 1000,
		Indicators:   map[string]float64{"rsi_14": 73.5},
	}

	out := Evaluate(rule, tick)
	assert.Equal(t, Matched, out.Result)
	assert.Equal(t, 73.5, out.Value, "observed value should be the indicator")
}

func TestEvaluate_MissingIndicatorIsEvalError(t *testing.T) {
	rule := Rule{
		ID:         "r-rsi",
		Instrument: "AAPL",
		Kind:       KindIndicator,
		Condition:  Condition{Comparator: CmpGT, Value: 70.0, Indicator: "rsi_14"},
	}

	// Tick without indicators must not match and must carry an error.
	out := Evaluate(rule, market.Tick{Instrument: "AAPL", Price: 152.0})
	assert.Equal(t, EvalError, out.Result)
	assert.Error(t, out.Err)
}

func TestEvaluate_UnknownKindAndComparator(t *testing.T) {
	out := Evaluate(Rule{ID: "r-x", Kind: "gibberish"}, market.Tick{Price: 1})
	assert.Equal(t, EvalError, out.Result)

	out = Evaluate(Rule{ID: "r-y", Kind: KindThreshold, Condition: Condition{Comparator: "!="}}, market.Tick{Price: 1})
	assert.Equal(t, EvalError, out.Result)
}
