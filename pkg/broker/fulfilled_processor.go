package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/fedbroker/fedbroker/pkg/telemetry"
)

// FulfilledProcessor re-polls fulfilled orders to keep the cached instance
// state fresh and to detect resources disappearing out-of-band (console
// deletion, provider-side reclaim). A single unreachable poll never fails
// the order; a vanished or failed instance does.
type FulfilledProcessor struct {
	registry     *Registry
	factory      *ConnectorFactory
	transitioner *Transitioner
	interval     time.Duration
	log          *telemetry.Logger
}

// NewFulfilledProcessor creates the fulfilled processor.
func NewFulfilledProcessor(registry *Registry, factory *ConnectorFactory,
	transitioner *Transitioner, interval time.Duration, log *telemetry.Logger) *FulfilledProcessor {
	return &FulfilledProcessor{
		registry:     registry,
		factory:      factory,
		transitioner: transitioner,
		interval:     interval,
		log:          log.NewComponentLogger("fulfilled-processor"),
	}
}

// Name implements orderProcessor.
func (p *FulfilledProcessor) Name() string { return "fulfilled" }

// Interval implements orderProcessor.
func (p *FulfilledProcessor) Interval() time.Duration { return p.interval }

// Scan implements orderProcessor.
func (p *FulfilledProcessor) Scan(ctx context.Context) {
	scanPartition(ctx, p.registry, StateFulfilled, p.ProcessOrder)
}

// ProcessOrder refreshes one fulfilled order. The caller holds the order's
// lock.
func (p *FulfilledProcessor) ProcessOrder(ctx context.Context, order *Order) {
	if order.State != StateFulfilled {
		return
	}
	log := p.log.WithOrderID(order.ID)

	instance, err := p.factory.ForOrder(order).GetInstance(ctx, order)
	if err != nil {
		switch {
		case IsRetryable(err):
			log.WithError(err).Debug("provider unreachable, keeping order fulfilled")
		case IsInstanceNotFound(err):
			p.fail(ctx, order, NewInstanceNotFoundError("instance disappeared out-of-band", err))
		default:
			p.fail(ctx, order, err)
		}
		return
	}

	order.CachedState = instance.CloudState
	if instance.State == InstanceStateFailed {
		p.fail(ctx, order, NewUnexpectedInternalError(
			fmt.Sprintf("running instance entered failed cloud state %q", instance.CloudState), nil))
	}
}

func (p *FulfilledProcessor) fail(ctx context.Context, order *Order, cause error) {
	if err := p.transitioner.Fail(ctx, order, cause); err != nil {
		p.log.WithOrderID(order.ID).WithError(err).Error("failing fulfilled order")
	}
}
