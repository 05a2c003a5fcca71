// Package engine drives ticks from the evaluation queue through rule
// evaluation into alert dispatch and client broadcast.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ismaiel54/trading-alert-engine/internal/dispatch"
	"github.com/ismaiel54/trading-alert-engine/internal/market"
	"github.com/ismaiel54/trading-alert-engine/internal/protocol"
	"github.com/ismaiel54/trading-alert-engine/internal/queue"
	"github.com/ismaiel54/trading-alert-engine/internal/rules"
	"go.uber.org/zap"
)

// latencyBudget is the end-to-end batch target; slower batches are
// logged for operators.
const latencyBudget = 500 * time.Millisecond

// evalWorkers bounds parallel rule evaluation within one batch.
const evalWorkers = 8

// RuleSource provides immutable rule-set snapshots. The engine takes
// one snapshot per batch so deactivations land between batches, never
// inside one.
type RuleSource interface {
	Snapshot() rules.View
}

// Engine wires the queue, rule cache, evaluator, dispatcher, and
// broadcast path together.
type Engine struct {
	queue       *queue.EvaluationQueue
	rules       RuleSource
	dispatcher  *dispatch.Dispatcher
	broadcaster dispatch.Broadcaster
	logger      *zap.Logger

	evaluated  int64
	matched    int64
	evalErrors int64
}

// New creates the engine.
func New(q *queue.EvaluationQueue, src RuleSource, d *dispatch.Dispatcher, b dispatch.Broadcaster, logger *zap.Logger) *Engine {
	return &Engine{
		queue:       q,
		rules:       src,
		dispatcher:  d,
		broadcaster: b,
		logger:      logger,
	}
}

// Enqueue offers a tick for evaluation. Returns false when it was
// dropped under backpressure.
func (e *Engine) Enqueue(tick market.Tick) bool {
	return e.queue.Enqueue(tick)
}

// Run drains the queue until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.queue.Run(ctx, func(batch []market.Tick) {
		e.processBatch(ctx, batch)
	})
}

// match is one (rule, tick) pair that crossed its condition.
type match struct {
	rule  rules.Rule
	tick  market.Tick
	value float64
}

// processBatch broadcasts market data, evaluates every (rule, tick)
// pair, and dispatches the matches. Evaluation runs across a worker
// pool; the evaluator is pure so order within the batch does not matter.
func (e *Engine) processBatch(ctx context.Context, batch []market.Tick) {
	start := time.Now()

	for _, tick := range batch {
		e.broadcaster.Broadcast(protocol.KindTickUpdate, tick.Instrument, protocol.TickUpdatePayload{
			InstrumentID: tick.Instrument,
			Price:        tick.Price,
			Volume:       tick.Volume,
			TsUnixMillis: tick.TsUnixMillis,
		})
		if len(tick.Indicators) > 0 {
			e.broadcaster.Broadcast(protocol.KindAnalyticsUpdate, tick.Instrument, protocol.AnalyticsUpdatePayload{
				InstrumentID: tick.Instrument,
				Indicators:   tick.Indicators,
				TsUnixMillis: tick.TsUnixMillis,
			})
		}
	}

	matches := e.evaluateBatch(batch)

	for _, m := range matches {
		if _, err := e.dispatcher.Dispatch(ctx, m.rule, m.tick, m.value); err != nil {
			// Contained per alert; the loop never aborts.
			e.logger.Error("dispatch failed",
				zap.String("rule_id", m.rule.ID),
				zap.String("instrument", m.rule.Instrument),
				zap.Error(err),
			)
		}
	}

	elapsed := time.Since(start)
	if elapsed > latencyBudget {
		e.logger.Warn("batch exceeded latency budget",
			zap.Int("ticks", len(batch)),
			zap.Int("matches", len(matches)),
			zap.Duration("elapsed", elapsed),
		)
	} else {
		e.logger.Debug("batch processed",
			zap.Int("ticks", len(batch)),
			zap.Int("matches", len(matches)),
			zap.Duration("elapsed", elapsed),
		)
	}
}

// evaluateBatch fans (rule, tick) pairs across the worker pool.
func (e *Engine) evaluateBatch(batch []market.Tick) []match {
	type pair struct {
		rule rules.Rule
		tick market.Tick
	}

	// One snapshot for the whole batch: every tick sees the same rules.
	view := e.rules.Snapshot()

	var pairs []pair
	for _, tick := range batch {
		for _, rule := range view.ActiveRules(tick.Instrument) {
			pairs = append(pairs, pair{rule: rule, tick: tick})
		}
	}
	if len(pairs) == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		matches []match
		wg      sync.WaitGroup
	)
	work := make(chan pair)

	workers := evalWorkers
	if len(pairs) < workers {
		workers = len(pairs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range work {
				atomic.AddInt64(&e.evaluated, 1)
				out := rules.Evaluate(p.rule, p.tick)
				switch out.Result {
				case rules.Matched:
					atomic.AddInt64(&e.matched, 1)
					mu.Lock()
					matches = append(matches, match{rule: p.rule, tick: p.tick, value: out.Value})
					mu.Unlock()
				case rules.EvalError:
					// Logged and treated as not matched.
					atomic.AddInt64(&e.evalErrors, 1)
					e.logger.Warn("rule evaluation error",
						zap.String("rule_id", p.rule.ID),
						zap.String("instrument", p.tick.Instrument),
						zap.Error(out.Err),
					)
				}
			}
		}()
	}

	for _, p := range pairs {
		work <- p
	}
	close(work)
	wg.Wait()

	return matches
}
