package rules

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// snapshot is an immutable view of the active rule set keyed by instrument.
// Readers hold it without locking; Refresh swaps the whole snapshot.
type snapshot struct {
	byInstrument map[string][]Rule
	count        int
	takenAt      time.Time
}

// Cache holds the active-rule working set with periodic refresh from the
// rule store. Refresh failures keep serving the last good snapshot.
type Cache struct {
	store    Store
	logger   *zap.Logger
	interval time.Duration

	snap    atomic.Pointer[snapshot]
	trigger chan struct{}

	mu           sync.Mutex // serializes Refresh/Invalidate writers
	refreshCount int64
	failCount    int64
}

// NewCache creates the cache and loads an initial snapshot. A failed
// initial load is not fatal; the cache starts empty and retries on the
// refresh interval.
func NewCache(ctx context.Context, store Store, interval time.Duration, logger *zap.Logger) *Cache {
	c := &Cache{
		store:    store,
		logger:   logger,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
	c.snap.Store(&snapshot{byInstrument: map[string][]Rule{}, takenAt: time.Now()})

	if err := c.Refresh(ctx); err != nil {
		logger.Warn("initial rule load failed, starting with empty rule set", zap.Error(err))
	}
	return c
}

// View is one immutable snapshot of the active rule set. Holders keep
// seeing the same rules regardless of concurrent refreshes, so a batch
// evaluated against one View is internally consistent.
type View struct {
	byInstrument map[string][]Rule
}

// NewView builds a view directly from a rule set. Used by callers that
// source rules without a cache.
func NewView(byInstrument map[string][]Rule) View {
	return View{byInstrument: byInstrument}
}

// ActiveRules returns the view's rules for one instrument. The returned
// slice is shared snapshot data and must not be mutated.
func (v View) ActiveRules(instrument string) []Rule {
	return v.byInstrument[instrument]
}

// Snapshot returns the current rule set as an immutable view. A refresh
// or invalidation landing afterwards does not affect it.
func (c *Cache) Snapshot() View {
	return View{byInstrument: c.snap.Load().byInstrument}
}

// ActiveRules returns the cached active rules for one instrument. The
// returned slice is shared snapshot data and must not be mutated.
func (c *Cache) ActiveRules(instrument string) []Rule {
	return c.snap.Load().byInstrument[instrument]
}

// Size returns the number of rules in the current snapshot.
func (c *Cache) Size() int {
	return c.snap.Load().count
}

// Age returns how old the current snapshot is.
func (c *Cache) Age() time.Duration {
	return time.Since(c.snap.Load().takenAt)
}

// Refresh pulls the full active set from the store and atomically swaps
// the snapshot. Concurrent readers observe either the old or the new set,
// never a partial update.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	active, err := c.store.ActiveRules(ctx)
	if err != nil {
		atomic.AddInt64(&c.failCount, 1)
		c.logger.Warn("rule refresh failed, serving stale snapshot",
			zap.Duration("snapshot_age", c.Age()),
			zap.Int("cached_rules", c.Size()),
			zap.Error(err),
		)
		return err
	}

	byInstrument := make(map[string][]Rule, len(active))
	for _, r := range active {
		if !r.Active {
			continue
		}
		byInstrument[r.Instrument] = append(byInstrument[r.Instrument], r)
	}

	c.snap.Store(&snapshot{
		byInstrument: byInstrument,
		count:        len(active),
		takenAt:      time.Now(),
	})
	atomic.AddInt64(&c.refreshCount, 1)

	c.logger.Debug("rule cache refreshed",
		zap.Int("rules", len(active)),
		zap.Int("instruments", len(byInstrument)),
	)
	return nil
}

// Invalidate removes one rule from the current snapshot immediately, ahead
// of the next full refresh. Used when the store signals a deactivation.
func (c *Cache) Invalidate(ruleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.snap.Load()
	byInstrument := make(map[string][]Rule, len(old.byInstrument))
	count := 0
	for instrument, list := range old.byInstrument {
		kept := make([]Rule, 0, len(list))
		for _, r := range list {
			if r.ID == ruleID {
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) > 0 {
			byInstrument[instrument] = kept
			count += len(kept)
		}
	}

	c.snap.Store(&snapshot{
		byInstrument: byInstrument,
		count:        count,
		takenAt:      old.takenAt,
	})
	c.logger.Info("rule invalidated", zap.String("rule_id", ruleID))
}

// RequestRefresh asks the run loop for an out-of-band refresh, e.g. on a
// rule-store change notification. Non-blocking; coalesces with a pending
// request.
func (c *Cache) RequestRefresh() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run drives periodic refresh until ctx is cancelled. If the store
// implements Notifier, change notifications also trigger refreshes.
func (c *Cache) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var changes <-chan struct{}
	if n, ok := c.store.(Notifier); ok {
		changes = n.Changes()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// Refresh failure is logged inside Refresh and never fatal.
			_ = c.Refresh(ctx)
		case <-c.trigger:
			_ = c.Refresh(ctx)
		case <-changes:
			_ = c.Refresh(ctx)
		}
	}
}
