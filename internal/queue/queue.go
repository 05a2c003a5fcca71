// Package queue provides the bounded tick queue and batcher between
// ingestion and evaluation.
package queue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ismaiel54/trading-alert-engine/internal/market"
	"go.uber.org/zap"
)

// Policy selects the backpressure behavior when the queue is full.
type Policy string

const (
	// DropOldest evicts the oldest queued tick to make room. Default;
	// protects latency over completeness.
	DropOldest Policy = "drop_oldest"
	// Block waits up to the enqueue timeout for space, then drops the
	// incoming tick.
	Block Policy = "block"
)

// Config holds queue and batcher settings.
type Config struct {
	Capacity       int
	Policy         Policy
	EnqueueTimeout time.Duration
	BatchSize      int
	FlushInterval  time.Duration
}

// EvaluationQueue accepts normalized ticks and drains them in batches.
// The queue is the sole synchronization point between ingestion and
// evaluation.
type EvaluationQueue struct {
	cfg    Config
	items  chan market.Tick
	logger *zap.Logger

	enqueued int64
	dropped  int64
	flushed  int64
}

// New creates an evaluation queue.
func New(cfg Config, logger *zap.Logger) *EvaluationQueue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 50 * time.Millisecond
	}
	if cfg.Policy == "" {
		cfg.Policy = DropOldest
	}
	return &EvaluationQueue{
		cfg:    cfg,
		items:  make(chan market.Tick, cfg.Capacity),
		logger: logger,
	}
}

// Enqueue offers a tick to the queue. Returns false when the tick was
// dropped under the configured backpressure policy.
func (q *EvaluationQueue) Enqueue(tick market.Tick) bool {
	select {
	case q.items <- tick:
		atomic.AddInt64(&q.enqueued, 1)
		return true
	default:
	}

	switch q.cfg.Policy {
	case Block:
		timer := time.NewTimer(q.cfg.EnqueueTimeout)
		defer timer.Stop()
		select {
		case q.items <- tick:
			atomic.AddInt64(&q.enqueued, 1)
			return true
		case <-timer.C:
			q.countDrop(tick)
			return false
		}
	default: // DropOldest
		// Evict one queued tick, then retry once. A racing consumer can
		// still win the slot; the incoming tick is dropped in that case.
		select {
		case old := <-q.items:
			q.countDrop(old)
		default:
		}
		select {
		case q.items <- tick:
			atomic.AddInt64(&q.enqueued, 1)
			return true
		default:
			q.countDrop(tick)
			return false
		}
	}
}

func (q *EvaluationQueue) countDrop(tick market.Tick) {
	n := atomic.AddInt64(&q.dropped, 1)
	q.logger.Warn("tick dropped",
		zap.String("instrument", tick.Instrument),
		zap.Int64("total_dropped", n),
		zap.String("policy", string(q.cfg.Policy)),
	)
}

// Dropped returns the number of dropped ticks.
func (q *EvaluationQueue) Dropped() int64 {
	return atomic.LoadInt64(&q.dropped)
}

// Len returns the current queue depth.
func (q *EvaluationQueue) Len() int {
	return len(q.items)
}

// Run drains the queue into flush until ctx is cancelled. A batch is
// flushed when it reaches BatchSize or when FlushInterval elapses,
// whichever comes first.
func (q *EvaluationQueue) Run(ctx context.Context, flush func([]market.Tick)) error {
	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	go q.logStats(ctx)

	batch := make([]market.Tick, 0, q.cfg.BatchSize)
	emit := func() {
		if len(batch) == 0 {
			return
		}
		out := make([]market.Tick, len(batch))
		copy(out, batch)
		batch = batch[:0]
		atomic.AddInt64(&q.flushed, 1)
		flush(out)
	}

	for {
		select {
		case <-ctx.Done():
			emit()
			return ctx.Err()
		case tick := <-q.items:
			batch = append(batch, tick)
			if len(batch) >= q.cfg.BatchSize {
				emit()
			}
		case <-ticker.C:
			emit()
		}
	}
}

// logStats logs queue statistics periodically.
func (q *EvaluationQueue) logStats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.logger.Info("queue stats",
				zap.Int64("enqueued", atomic.LoadInt64(&q.enqueued)),
				zap.Int64("dropped", atomic.LoadInt64(&q.dropped)),
				zap.Int64("batches", atomic.LoadInt64(&q.flushed)),
				zap.Int("depth", len(q.items)),
			)
		}
	}
}
