// Package breaker guards calls to unreliable external collaborators.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the state of a circuit breaker.
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when the breaker short-circuits a call. No
// downstream call is attempted and the caller is not suspended.
var ErrOpen = errors.New("circuit breaker open")

// Config contains circuit breaker configuration.
type Config struct {
	// FailureThreshold is the number of consecutive failures before the
	// breaker opens.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before allowing
	// a single trial call.
	RecoveryTimeout time.Duration
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// CircuitBreaker wraps one external dependency with failure accounting
// and Closed -> Open -> HalfOpen -> Closed transitions. Create one
// instance per dependency.
type CircuitBreaker struct {
	name   string
	cfg    Config
	logger *zap.Logger

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	trialPending bool

	// transition counters for stats
	totalFailures  int64
	totalSuccesses int64
	shortCircuits  int64

	now func() time.Time // test hook
}

// New creates a circuit breaker for one named dependency.
func New(name string, cfg Config, logger *zap.Logger) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		state:  Closed,
		logger: logger,
		now:    time.Now,
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

// stateLocked resolves Open -> HalfOpen when the recovery timeout elapsed.
func (cb *CircuitBreaker) stateLocked() State {
	if cb.state == Open && cb.now().Sub(cb.openedAt) >= cb.cfg.RecoveryTimeout {
		cb.transitionLocked(HalfOpen)
	}
	return cb.state
}

// Do runs fn through the breaker. In Open state it returns ErrOpen
// immediately. In HalfOpen exactly one trial call is admitted; a
// concurrent second caller gets ErrOpen. Only the trial's own outcome
// moves the breaker out of HalfOpen: a call admitted earlier, while
// Closed, that completes during a trial neither releases the trial slot
// nor transitions the state.
func (cb *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	isTrial := false
	cb.mu.Lock()
	switch cb.stateLocked() {
	case Open:
		cb.shortCircuits++
		cb.mu.Unlock()
		return ErrOpen
	case HalfOpen:
		if cb.trialPending {
			cb.shortCircuits++
			cb.mu.Unlock()
			return ErrOpen
		}
		cb.trialPending = true
		isTrial = true
	}
	cb.mu.Unlock()

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if isTrial {
		cb.trialPending = false
	}

	if err != nil {
		cb.totalFailures++
		if isTrial {
			// Failed trial: back to Open, timer restarts.
			cb.openedAt = cb.now()
			cb.transitionLocked(Open)
			return err
		}
		cb.failures++
		if cb.state == Closed && cb.failures >= cb.cfg.FailureThreshold {
			cb.openedAt = cb.now()
			cb.transitionLocked(Open)
		}
		return err
	}

	cb.totalSuccesses++
	cb.failures = 0
	if isTrial {
		cb.transitionLocked(Closed)
	}
	return nil
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.logger.Info("circuit breaker state change",
		zap.String("breaker", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("consecutive_failures", cb.failures),
	)
}
