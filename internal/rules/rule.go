package rules

import "time"

// Kind discriminates how a rule sources the value it compares.
type Kind string

const (
	// KindThreshold compares the tick price against the condition value.
	KindThreshold Kind = "threshold"
	// KindIndicator compares a precomputed indicator attached to the tick.
	KindIndicator Kind = "indicator"
)

// Comparator is the comparison operator of a rule condition.
type Comparator string

const (
	CmpGT Comparator = ">"
	CmpLT Comparator = "<"
	CmpGE Comparator = ">="
	CmpLE Comparator = "<="
	CmpEQ Comparator = "=="
)

// Condition is the comparison a rule applies to a tick.
type Condition struct {
	Comparator Comparator `json:"comparator"`
	Value      float64    `json:"value"`

	// Indicator names the tick indicator to compare for KindIndicator rules.
	Indicator string `json:"indicator,omitempty"`
}

// Rule is a stored condition that should produce an alert when a tick
// satisfies it. The rule store owns rules; the cache holds a read-only,
// time-bounded copy.
type Rule struct {
	ID         string    `json:"id"`
	Instrument string    `json:"instrument"`
	Kind       Kind      `json:"kind"`
	Condition  Condition `json:"condition"`
	Active     bool      `json:"active"`
	Version    int64     `json:"version"`
	UpdatedAt  time.Time `json:"updated_at"`
}
