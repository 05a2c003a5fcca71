package chaos

import (
	"context"

	"github.com/ismaiel54/trading-alert-engine/internal/dispatch"
)

// Channel wraps a notification channel and applies fault injection to
// every delivery. Injected drops surface as ordinary send errors, so
// the dispatcher's circuit breakers trip exactly as they would for a
// real outage.
type Channel struct {
	inner dispatch.Channel
	chaos *Chaos
}

// Wrap decorates ch with fault injection. If chaos is disabled the
// wrapper passes deliveries through untouched.
func Wrap(ch dispatch.Channel, c *Chaos) *Channel {
	return &Channel{inner: ch, chaos: c}
}

func (c *Channel) Name() string { return c.inner.Name() }

func (c *Channel) Send(ctx context.Context, event dispatch.AlertEvent) error {
	if err := c.chaos.MaybeDelay(ctx, c.inner.Name(), "send"); err != nil {
		return err
	}
	if c.chaos.MaybeDrop(c.inner.Name(), "send") {
		return ErrInjected
	}
	return c.inner.Send(ctx, event)
}
