package dispatch

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleEvent(id, key string) AlertEvent {
	return AlertEvent{
		ID:             id,
		RuleID:         "r-1",
		Instrument:     "AAPL",
		TriggeredValue: 152.0,
		TickTsMillis:   1000,
		DedupKey:       key,
		DeliveryStatus: StatusPending,
		CreatedMillis:  time.Now().UnixMilli(),
	}
}

func TestStore_InsertIfAbsent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, created, err := store.InsertIfAbsent(ctx, sampleEvent("a-1", "r-1:200"))
	require.NoError(t, err)
	assert.True(t, created, "first insert should create the row")
	assert.Equal(t, "a-1", first.ID)

	// Same dedup key with a different event id converges to the stored row.
	second, created, err := store.InsertIfAbsent(ctx, sampleEvent("a-2", "r-1:200"))
	require.NoError(t, err)
	assert.False(t, created, "duplicate key must be a no-op")
	assert.Equal(t, "a-1", second.ID, "the originally stored event is returned")

	events, err := store.RecentEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1, "exactly one record per dedup key")
}

func TestStore_ConcurrentInsertsConverge(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	createdCount := make([]bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, created, err := store.InsertIfAbsent(ctx, sampleEvent("a-"+string(rune('a'+i)), "r-1:bucket"))
			if assert.NoError(t, err) {
				createdCount[i] = created
			}
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, c := range createdCount {
		if c {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent insert wins")

	events, err := store.RecentEvents(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStore_UpdateDeliveryStatus(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, _, err := store.InsertIfAbsent(ctx, sampleEvent("a-1", "r-1:1"))
	require.NoError(t, err)

	require.NoError(t, store.UpdateDeliveryStatus(ctx, "r-1:1", StatusDelivered))

	events, err := store.RecentEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, StatusDelivered, events[0].DeliveryStatus)
}
