package rules

import (
	"fmt"

	"github.com/ismaiel54/trading-alert-engine/internal/market"
)

// Result is the outcome class of evaluating one rule against one tick.
type Result int

const (
	NotMatched Result = iota
	Matched
	EvalError
)

func (r Result) String() string {
	switch r {
	case NotMatched:
		return "not_matched"
	case Matched:
		return "matched"
	case EvalError:
		return "eval_error"
	default:
		return "unknown"
	}
}

// Outcome carries the evaluation result. Value holds the observed value
// that was compared (tick price or indicator) when Result != EvalError.
// Err is set only for EvalError; callers log it and treat the pair as
// NotMatched so a single bad rule never aborts a batch.
type Outcome struct {
	Result Result
	Value  float64
	Err    error
}

// Evaluate applies one rule to one tick. Pure: no shared mutable state,
// safe to run across a batch in parallel.
func Evaluate(rule Rule, tick market.Tick) Outcome {
	var observed float64

	switch rule.Kind {
	case KindThreshold:
		observed = tick.Price
	case KindIndicator:
		name := rule.Condition.Indicator
		if name == "" {
			return Outcome{Result: EvalError, Err: fmt.Errorf("rule %s: indicator rule without indicator name", rule.ID)}
		}
		v, ok := tick.Indicators[name]
		if !ok {
			return Outcome{Result: EvalError, Err: fmt.Errorf("rule %s: tick has no indicator %q", rule.ID, name)}
		}
		observed = v
	default:
		return Outcome{Result: EvalError, Err: fmt.Errorf("rule %s: unknown rule kind %q", rule.ID, rule.Kind)}
	}

	matched, err := compare(rule.Condition.Comparator, observed, rule.Condition.Value)
	if err != nil {
		return Outcome{Result: EvalError, Err: fmt.Errorf("rule %s: %w", rule.ID, err)}
	}
	if matched {
		return Outcome{Result: Matched, Value: observed}
	}
	return Outcome{Result: NotMatched, Value: observed}
}

func compare(cmp Comparator, observed, target float64) (bool, error) {
	switch cmp {
	case CmpGT:
		return observed > target, nil
	case CmpLT:
		return observed < target, nil
	case CmpGE:
		return observed >= target, nil
	case CmpLE:
		return observed <= target, nil
	case CmpEQ:
		return observed == target, nil
	default:
		return false, fmt.Errorf("unknown comparator %q", cmp)
	}
}
