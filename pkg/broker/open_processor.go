package broker

import (
	"context"
	"time"

	"github.com/fedbroker/fedbroker/pkg/telemetry"
)

// OpenProcessor dispatches freshly activated orders: it asks the right
// connector to request an instance and moves the order to pending. An
// unreachable remote provider defers the order to the next scan; any other
// failure fails the order with the fault recorded.
type OpenProcessor struct {
	registry     *Registry
	factory      *ConnectorFactory
	transitioner *Transitioner
	interval     time.Duration
	log          *telemetry.Logger
}

// NewOpenProcessor creates the open processor.
func NewOpenProcessor(registry *Registry, factory *ConnectorFactory,
	transitioner *Transitioner, interval time.Duration, log *telemetry.Logger) *OpenProcessor {
	return &OpenProcessor{
		registry:     registry,
		factory:      factory,
		transitioner: transitioner,
		interval:     interval,
		log:          log.NewComponentLogger("open-processor"),
	}
}

// Name implements orderProcessor.
func (p *OpenProcessor) Name() string { return "open" }

// Interval implements orderProcessor.
func (p *OpenProcessor) Interval() time.Duration { return p.interval }

// Scan implements orderProcessor.
func (p *OpenProcessor) Scan(ctx context.Context) {
	scanPartition(ctx, p.registry, StateOpen, p.ProcessOrder)
}

// ProcessOrder advances one open order. The caller holds the order's lock.
func (p *OpenProcessor) ProcessOrder(ctx context.Context, order *Order) {
	// The order may have been deleted between the snapshot and the lock.
	if order.State != StateOpen {
		return
	}
	log := p.log.WithOrderID(order.ID)

	instanceID, err := p.factory.ForOrder(order).RequestInstance(ctx, order)
	if err != nil {
		if IsRetryable(err) {
			log.WithError(err).Debug("provider unreachable, deferring to next scan")
			return
		}
		if ferr := p.transitioner.Fail(ctx, order, err); ferr != nil {
			log.WithError(ferr).Error("failing open order")
		}
		return
	}

	// Remote requests return no id: the instance materializes on the
	// providing side and is observed later through GetInstance.
	if instanceID != "" {
		order.InstanceID = instanceID
	}
	if err := p.transitioner.Transition(ctx, order, StatePending); err != nil {
		log.WithError(err).Error("moving dispatched order to pending")
	}
}
