package broker

import (
	"context"
	"time"

	"github.com/fedbroker/fedbroker/pkg/telemetry"
)

// DeactivationProcessor performs best-effort cloud-side cleanup for orders
// the user deleted. Whatever the plugin outcome, including "already gone",
// the order ends closed: deletion is terminal and a persistent cleanup
// failure is surfaced through the recorded fault, not by pinning the order
// in the active registry forever.
type DeactivationProcessor struct {
	registry     *Registry
	factory      *ConnectorFactory
	transitioner *Transitioner
	interval     time.Duration
	log          *telemetry.Logger
}

// NewDeactivationProcessor creates the deactivation processor.
func NewDeactivationProcessor(registry *Registry, factory *ConnectorFactory,
	transitioner *Transitioner, interval time.Duration, log *telemetry.Logger) *DeactivationProcessor {
	return &DeactivationProcessor{
		registry:     registry,
		factory:      factory,
		transitioner: transitioner,
		interval:     interval,
		log:          log.NewComponentLogger("deactivation-processor"),
	}
}

// Name implements orderProcessor.
func (p *DeactivationProcessor) Name() string { return "deactivation" }

// Interval implements orderProcessor.
func (p *DeactivationProcessor) Interval() time.Duration { return p.interval }

// Scan implements orderProcessor.
func (p *DeactivationProcessor) Scan(ctx context.Context) {
	scanPartition(ctx, p.registry, StateDeactivated, p.ProcessOrder)
}

// ProcessOrder cleans up one deactivated order. The caller holds the
// order's lock.
func (p *DeactivationProcessor) ProcessOrder(ctx context.Context, order *Order) {
	if order.State != StateDeactivated {
		return
	}
	log := p.log.WithOrderID(order.ID)

	if err := p.factory.ForOrder(order).DeleteInstance(ctx, order); err != nil {
		order.SetOnceFault(err.Error())
		log.WithError(err).Error("cloud-side cleanup failed, closing order anyway")
	}
	if err := p.transitioner.Transition(ctx, order, StateClosed); err != nil {
		log.WithError(err).Error("closing deactivated order")
	}
}
