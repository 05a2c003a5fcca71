package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errBoom = errors.New("boom")

func newTestBreaker(threshold int, recovery time.Duration) (*CircuitBreaker, *time.Time) {
	cb := New("test", Config{FailureThreshold: threshold, RecoveryTimeout: recovery}, zap.NewNop())
	now := time.Unix(1000, 0)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func fail(ctx context.Context) error    { return errBoom }
func succeed(ctx context.Context) error { return nil }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(5, 30*time.Second)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.ErrorIs(t, cb.Do(ctx, fail), errBoom)
	}
	assert.Equal(t, Open, cb.State())

	// 6th call short-circuits: wrapped fn is never invoked.
	invoked := false
	err := cb.Do(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, invoked, "open breaker must not call the dependency")
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second)
	ctx := context.Background()

	require.Error(t, cb.Do(ctx, fail))
	require.Error(t, cb.Do(ctx, fail))
	require.NoError(t, cb.Do(ctx, succeed))
	require.Error(t, cb.Do(ctx, fail))
	require.Error(t, cb.Do(ctx, fail))

	assert.Equal(t, Closed, cb.State(), "counter reset on success should keep breaker closed")

	require.Error(t, cb.Do(ctx, fail))
	assert.Equal(t, Open, cb.State())
}

func TestBreaker_TrialCallAfterRecoveryTimeout(t *testing.T) {
	cb, now := newTestBreaker(5, 30*time.Second)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.Error(t, cb.Do(ctx, fail))
	}
	require.Equal(t, Open, cb.State())

	// Before the timeout, still short-circuiting.
	*now = now.Add(29 * time.Second)
	assert.ErrorIs(t, cb.Do(ctx, succeed), ErrOpen)

	// After the timeout one trial call goes through; success closes.
	*now = now.Add(2 * time.Second)
	assert.Equal(t, HalfOpen, cb.State())
	require.NoError(t, cb.Do(ctx, succeed))
	assert.Equal(t, Closed, cb.State())
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	cb, now := newTestBreaker(2, 10*time.Second)
	ctx := context.Background()

	require.Error(t, cb.Do(ctx, fail))
	require.Error(t, cb.Do(ctx, fail))
	require.Equal(t, Open, cb.State())

	*now = now.Add(11 * time.Second)
	require.ErrorIs(t, cb.Do(ctx, fail), errBoom, "trial call passes the real error through")
	assert.Equal(t, Open, cb.State())

	// Timer restarted: still open 9s later, half-open after 11s.
	*now = now.Add(9 * time.Second)
	assert.Equal(t, Open, cb.State())
	*now = now.Add(2 * time.Second)
	assert.Equal(t, HalfOpen, cb.State())
}

func TestBreaker_HalfOpenAdmitsSingleTrial(t *testing.T) {
	cb, now := newTestBreaker(1, time.Second)
	ctx := context.Background()

	require.Error(t, cb.Do(ctx, fail))
	*now = now.Add(2 * time.Second)
	require.Equal(t, HalfOpen, cb.State())

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = cb.Do(ctx, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// While the trial is in flight, other callers are rejected.
	assert.ErrorIs(t, cb.Do(ctx, succeed), ErrOpen)
	close(release)
}

func TestBreaker_StaleClosedCallDoesNotReleaseTrialSlot(t *testing.T) {
	cb, now := newTestBreaker(1, time.Second)
	ctx := context.Background()

	// A slow call admitted while the breaker is still closed.
	staleStarted := make(chan struct{})
	staleRelease := make(chan struct{})
	staleDone := make(chan error, 1)
	go func() {
		staleDone <- cb.Do(ctx, func(ctx context.Context) error {
			close(staleStarted)
			<-staleRelease
			return nil
		})
	}()
	<-staleStarted

	// Breaker trips and recovers into half-open while the slow call runs.
	require.Error(t, cb.Do(ctx, fail))
	*now = now.Add(2 * time.Second)
	require.Equal(t, HalfOpen, cb.State())

	trialStarted := make(chan struct{})
	trialRelease := make(chan struct{})
	trialDone := make(chan error, 1)
	go func() {
		trialDone <- cb.Do(ctx, func(ctx context.Context) error {
			close(trialStarted)
			<-trialRelease
			return nil
		})
	}()
	<-trialStarted

	// The stale call completing must not free the trial slot or close
	// the breaker while the trial is still in flight.
	close(staleRelease)
	require.NoError(t, <-staleDone)
	require.Equal(t, HalfOpen, cb.State())

	invoked := false
	err := cb.Do(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, invoked, "only one trial may run at a time")

	close(trialRelease)
	require.NoError(t, <-trialDone)
	assert.Equal(t, Closed, cb.State(), "the trial's own success closes the breaker")
}
