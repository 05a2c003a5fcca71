package rules

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyStore serves a fixed rule set and can be switched to failing.
type flakyStore struct {
	mu    sync.Mutex
	rules []Rule
	fail  bool
}

func (s *flakyStore) ActiveRules(ctx context.Context) ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("store unavailable")
	}
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

func (s *flakyStore) set(rules []Rule, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
	s.fail = fail
}

func someRules(n int, instrument string) []Rule {
	out := make([]Rule, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Rule{
			ID:         instrument + "-r" + string(rune('a'+i)),
			Instrument: instrument,
			Kind:       KindThreshold,
			Condition:  Condition{Comparator: CmpGT, Value: float64(100 + i)},
			Active:     true,
		})
	}
	return out
}

func TestCache_RefreshSwapsSnapshot(t *testing.T) {
	store := &flakyStore{}
	store.set(someRules(3, "AAPL"), false)

	cache := NewCache(context.Background(), store, time.Minute, zap.NewNop())
	assert.Len(t, cache.ActiveRules("AAPL"), 3)
	assert.Empty(t, cache.ActiveRules("MSFT"))

	store.set(someRules(1, "MSFT"), false)
	require.NoError(t, cache.Refresh(context.Background()))
	assert.Empty(t, cache.ActiveRules("AAPL"), "old instrument should be gone after swap")
	assert.Len(t, cache.ActiveRules("MSFT"), 1)
}

func TestCache_RefreshFailureKeepsLastGoodSnapshot(t *testing.T) {
	store := &flakyStore{}
	store.set(someRules(2, "AAPL"), false)

	cache := NewCache(context.Background(), store, time.Minute, zap.NewNop())
	require.Len(t, cache.ActiveRules("AAPL"), 2)

	store.set(nil, true)
	err := cache.Refresh(context.Background())
	assert.Error(t, err)
	assert.Len(t, cache.ActiveRules("AAPL"), 2, "stale snapshot should keep serving")
}

func TestCache_ConcurrentReadersNeverSeePartialUpdate(t *testing.T) {
	store := &flakyStore{}
	store.set(someRules(4, "AAPL"), false)

	cache := NewCache(context.Background(), store, time.Minute, zap.NewNop())

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					// A snapshot is either the 4-rule set or the 2-rule set.
					n := len(cache.ActiveRules("AAPL"))
					assert.Contains(t, []int{2, 4}, n)
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			store.set(someRules(2, "AAPL"), false)
		} else {
			store.set(someRules(4, "AAPL"), false)
		}
		require.NoError(t, cache.Refresh(context.Background()))
	}
	close(done)
	wg.Wait()
}

func TestCache_Invalidate(t *testing.T) {
	store := &flakyStore{}
	store.set(someRules(3, "AAPL"), false)

	cache := NewCache(context.Background(), store, time.Minute, zap.NewNop())
	victim := cache.ActiveRules("AAPL")[1].ID

	cache.Invalidate(victim)

	remaining := cache.ActiveRules("AAPL")
	assert.Len(t, remaining, 2)
	for _, r := range remaining {
		assert.NotEqual(t, victim, r.ID)
	}
}

func TestCache_SnapshotViewUnaffectedByInvalidate(t *testing.T) {
	store := &flakyStore{}
	store.set(someRules(2, "AAPL"), false)

	cache := NewCache(context.Background(), store, time.Minute, zap.NewNop())
	view := cache.Snapshot()
	victim := view.ActiveRules("AAPL")[0].ID

	cache.Invalidate(victim)

	assert.Len(t, view.ActiveRules("AAPL"), 2, "a held view keeps the rule set it was taken with")
	assert.Len(t, cache.ActiveRules("AAPL"), 1, "the cache itself drops the rule immediately")
}

func TestSQLiteStore_ActiveRulesFiltersInactive(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "rules.db")
	store, err := OpenSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.UpsertRule(ctx, Rule{
		ID: "r-1", Instrument: "AAPL", Kind: KindThreshold,
		Condition: Condition{Comparator: CmpGT, Value: 150},
		Active:    true, Version: 1, UpdatedAt: now,
	}))
	require.NoError(t, store.UpsertRule(ctx, Rule{
		ID: "r-2", Instrument: "AAPL", Kind: KindThreshold,
		Condition: Condition{Comparator: CmpLT, Value: 120},
		Active:    false, Version: 1, UpdatedAt: now,
	}))

	active, err := store.ActiveRules(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1, "inactive rules must not be served")
	assert.Equal(t, "r-1", active[0].ID)
	assert.Equal(t, CmpGT, active[0].Condition.Comparator)
	assert.True(t, active[0].Active)
}
