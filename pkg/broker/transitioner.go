package broker

import (
	"context"

	"github.com/fedbroker/fedbroker/pkg/telemetry"
)

// Transitioner performs order state transitions through the registry and
// records them. It is shared by the controller and every processor so all
// moves funnel through one place.
type Transitioner struct {
	registry *Registry
	log      *telemetry.Logger
	metrics  *telemetry.Metrics
}

// NewTransitioner creates a transitioner over the given registry.
func NewTransitioner(registry *Registry, log *telemetry.Logger, metrics *telemetry.Metrics) *Transitioner {
	return &Transitioner{
		registry: registry,
		log:      log.NewComponentLogger("transitioner"),
		metrics:  metrics,
	}
}

// Transition moves the order to a new state. The caller holds the order's
// lock.
func (t *Transitioner) Transition(ctx context.Context, order *Order, to OrderState) error {
	from := order.State
	if err := t.registry.MoveTo(ctx, order, to); err != nil {
		return err
	}
	t.log.WithOrderID(order.ID).Debugf("order moved %s -> %s", from, to)
	t.metrics.ObserveTransition(string(from), string(to))
	return nil
}

// Fail moves the order to failed, recording the triggering error for
// user-visible diagnostics. The caller holds the order's lock.
func (t *Transitioner) Fail(ctx context.Context, order *Order, cause error) error {
	order.SetOnceFault(cause.Error())
	t.metrics.ObserveOrderFault(string(KindOf(cause)))
	t.log.WithOrderID(order.ID).WithError(cause).Warn("order failed")
	return t.Transition(ctx, order, StateFailed)
}
