package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ismaiel54/trading-alert-engine/internal/breaker"
	"github.com/ismaiel54/trading-alert-engine/internal/market"
	"github.com/ismaiel54/trading-alert-engine/internal/protocol"
	"github.com/ismaiel54/trading-alert-engine/internal/rules"
	"go.uber.org/zap"
)

// Channel delivers one alert to an external provider.
type Channel interface {
	Name() string
	Send(ctx context.Context, event AlertEvent) error
}

// Broadcaster fans a typed message out to subscribed clients.
type Broadcaster interface {
	Broadcast(kind protocol.Kind, instrument string, payload any)
}

// guardedChannel pairs a notification channel with its own breaker.
type guardedChannel struct {
	ch Channel
	cb *breaker.CircuitBreaker
}

// Dispatcher turns rule matches into persisted alert events and fans
// them out: broadcast to live connections plus circuit-broken external
// notification channels.
type Dispatcher struct {
	store       *Store
	broadcaster Broadcaster
	channels    []guardedChannel
	window      time.Duration
	breakerCfg  breaker.Config
	logger      *zap.Logger

	dispatched int64
	deduped    int64
	failures   int64
}

// NewDispatcher creates a dispatcher. window is the debounce window;
// zero disables deduplication entirely.
func NewDispatcher(store *Store, broadcaster Broadcaster, window time.Duration, breakerCfg breaker.Config, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:       store,
		broadcaster: broadcaster,
		window:      window,
		logger:      logger,
		breakerCfg:  breakerCfg,
	}
}

// AddChannel registers a notification channel behind its own breaker.
func (d *Dispatcher) AddChannel(ch Channel) {
	d.channels = append(d.channels, guardedChannel{
		ch: ch,
		cb: breaker.New(ch.Name(), d.breakerCfg, d.logger),
	})
}

// DedupKey computes the debounce bucket key for a rule and tick
// timestamp. With a zero window every tick gets its own bucket.
func (d *Dispatcher) DedupKey(ruleID string, tickTsMillis int64) string {
	if d.window <= 0 {
		return fmt.Sprintf("%s:%d", ruleID, tickTsMillis)
	}
	return fmt.Sprintf("%s:%d", ruleID, tickTsMillis/d.window.Milliseconds())
}

// Dispatch persists and delivers one match. A match whose dedup key is
// already stored is a no-op returning the existing event. Delivery
// failures never block other channels or the broadcast path.
func (d *Dispatcher) Dispatch(ctx context.Context, rule rules.Rule, tick market.Tick, triggered float64) (AlertEvent, error) {
	event := AlertEvent{
		ID:             uuid.New().String(),
		RuleID:         rule.ID,
		Instrument:     rule.Instrument,
		TriggeredValue: triggered,
		TickTsMillis:   tick.TsUnixMillis,
		DedupKey:       d.DedupKey(rule.ID, tick.TsUnixMillis),
		DeliveryStatus: StatusPending,
		CreatedMillis:  time.Now().UnixMilli(),
	}

	stored, created, err := d.store.InsertIfAbsent(ctx, event)
	if err != nil {
		atomic.AddInt64(&d.failures, 1)
		return AlertEvent{}, fmt.Errorf("failed to persist alert: %w", err)
	}
	if !created {
		atomic.AddInt64(&d.deduped, 1)
		d.logger.Debug("alert deduped",
			zap.String("rule_id", rule.ID),
			zap.String("dedup_key", stored.DedupKey),
		)
		return stored, nil
	}

	atomic.AddInt64(&d.dispatched, 1)
	d.logger.Info("alert dispatched",
		zap.String("alert_id", stored.ID),
		zap.String("rule_id", rule.ID),
		zap.String("instrument", rule.Instrument),
		zap.Float64("triggered_value", triggered),
	)

	d.broadcaster.Broadcast(protocol.KindAlert, stored.Instrument, protocol.AlertPayload{
		AlertID:        stored.ID,
		RuleID:         stored.RuleID,
		InstrumentID:   stored.Instrument,
		TriggeredValue: stored.TriggeredValue,
		TickTsMillis:   stored.TickTsMillis,
	})

	status := d.notifyAll(ctx, stored)
	stored.DeliveryStatus = status
	if err := d.store.UpdateDeliveryStatus(ctx, stored.DedupKey, status); err != nil {
		d.logger.Error("failed to record delivery status",
			zap.String("alert_id", stored.ID),
			zap.Error(err),
		)
	}

	return stored, nil
}

// notifyAll sends to every external channel concurrently through its
// breaker and returns the resulting delivery status. An open breaker
// counts as a failure without touching the provider.
func (d *Dispatcher) notifyAll(ctx context.Context, event AlertEvent) string {
	if len(d.channels) == 0 {
		return StatusDelivered
	}

	var wg sync.WaitGroup
	results := make([]error, len(d.channels))
	for i, gc := range d.channels {
		wg.Add(1)
		go func(i int, gc guardedChannel) {
			defer wg.Done()
			results[i] = gc.cb.Do(ctx, func(ctx context.Context) error {
				return gc.ch.Send(ctx, event)
			})
		}(i, gc)
	}
	wg.Wait()

	delivered := 0
	for i, err := range results {
		if err == nil {
			delivered++
			continue
		}
		atomic.AddInt64(&d.failures, 1)
		if errors.Is(err, breaker.ErrOpen) {
			d.logger.Warn("notification skipped, breaker open",
				zap.String("channel", d.channels[i].ch.Name()),
				zap.String("alert_id", event.ID),
			)
		} else {
			d.logger.Error("notification delivery failed",
				zap.String("channel", d.channels[i].ch.Name()),
				zap.String("alert_id", event.ID),
				zap.Error(err),
			)
		}
	}

	switch delivered {
	case 0:
		return StatusFailed
	case len(d.channels):
		return StatusDelivered
	default:
		return StatusPartial
	}
}
