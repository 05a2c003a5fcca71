package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ismaiel54/trading-alert-engine/internal/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func tick(instrument string, price float64) market.Tick {
	return market.Tick{Instrument: instrument, Price: price, TsUnixMillis: time.Now().UnixMilli()}
}

// collector gathers flushed batches for assertions.
type collector struct {
	mu      sync.Mutex
	batches [][]market.Tick
}

func (c *collector) flush(batch []market.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, batch)
}

func (c *collector) snapshot() [][]market.Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]market.Tick, len(c.batches))
	copy(out, c.batches)
	return out
}

func TestQueue_FlushOnBatchSize(t *testing.T) {
	q := New(Config{Capacity: 100, BatchSize: 5, FlushInterval: time.Hour}, zap.NewNop())
	col := &collector{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx, col.flush)
	}()

	for i := 0; i < 5; i++ {
		require.True(t, q.Enqueue(tick("AAPL", 150.0+float64(i))))
	}

	require.Eventually(t, func() bool {
		return len(col.snapshot()) == 1
	}, time.Second, 5*time.Millisecond, "full batch should flush without waiting for the interval")
	assert.Len(t, col.snapshot()[0], 5)

	cancel()
	<-done
}

func TestQueue_FlushOnInterval(t *testing.T) {
	q := New(Config{Capacity: 100, BatchSize: 50, FlushInterval: 20 * time.Millisecond}, zap.NewNop())
	col := &collector{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Run(ctx, col.flush) }()

	require.True(t, q.Enqueue(tick("AAPL", 151.0)))
	require.True(t, q.Enqueue(tick("AAPL", 152.0)))

	require.Eventually(t, func() bool {
		batches := col.snapshot()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 5*time.Millisecond, "partial batch should flush on the interval")
}

func TestQueue_DropOldestOnOverflow(t *testing.T) {
	q := New(Config{Capacity: 3, BatchSize: 50, FlushInterval: time.Hour, Policy: DropOldest}, zap.NewNop())

	require.True(t, q.Enqueue(tick("A", 1)))
	require.True(t, q.Enqueue(tick("B", 2)))
	require.True(t, q.Enqueue(tick("C", 3)))

	// Queue full: the oldest tick is evicted and the new one accepted.
	assert.True(t, q.Enqueue(tick("D", 4)))
	assert.Equal(t, int64(1), q.Dropped())
	assert.Equal(t, 3, q.Len())

	// The survivor set is B, C, D.
	col := &collector{}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go func() { _ = q.Run(ctx, col.flush) }()

	require.Eventually(t, func() bool { return len(col.snapshot()) > 0 }, time.Second, 5*time.Millisecond)
	got := col.snapshot()[0]
	instruments := make([]string, 0, len(got))
	for _, tk := range got {
		instruments = append(instruments, tk.Instrument)
	}
	assert.Equal(t, []string{"B", "C", "D"}, instruments)
}

func TestQueue_BlockPolicyTimesOutAndDrops(t *testing.T) {
	q := New(Config{
		Capacity:       1,
		BatchSize:      50,
		FlushInterval:  time.Hour,
		Policy:         Block,
		EnqueueTimeout: 10 * time.Millisecond,
	}, zap.NewNop())

	require.True(t, q.Enqueue(tick("A", 1)))

	start := time.Now()
	ok := q.Enqueue(tick("B", 2))
	assert.False(t, ok, "blocked enqueue should drop after the timeout")
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, int64(1), q.Dropped())
}
