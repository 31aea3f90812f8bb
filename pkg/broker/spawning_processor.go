package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/fedbroker/fedbroker/pkg/telemetry"
)

// SpawningProcessor owns the pending and spawning partitions. A pending
// order advances to spawning once its instance becomes visible on the
// providing side; a spawning order settles to fulfilled or failed according
// to the normalized instance state.
type SpawningProcessor struct {
	registry     *Registry
	factory      *ConnectorFactory
	transitioner *Transitioner
	interval     time.Duration
	log          *telemetry.Logger
}

// NewSpawningProcessor creates the spawning processor.
func NewSpawningProcessor(registry *Registry, factory *ConnectorFactory,
	transitioner *Transitioner, interval time.Duration, log *telemetry.Logger) *SpawningProcessor {
	return &SpawningProcessor{
		registry:     registry,
		factory:      factory,
		transitioner: transitioner,
		interval:     interval,
		log:          log.NewComponentLogger("spawning-processor"),
	}
}

// Name implements orderProcessor.
func (p *SpawningProcessor) Name() string { return "spawning" }

// Interval implements orderProcessor.
func (p *SpawningProcessor) Interval() time.Duration { return p.interval }

// Scan implements orderProcessor.
func (p *SpawningProcessor) Scan(ctx context.Context) {
	scanPartition(ctx, p.registry, StatePending, p.ProcessOrder)
	scanPartition(ctx, p.registry, StateSpawning, p.ProcessOrder)
}

// ProcessOrder advances one pending or spawning order. The caller holds the
// order's lock.
func (p *SpawningProcessor) ProcessOrder(ctx context.Context, order *Order) {
	if order.State != StatePending && order.State != StateSpawning {
		return
	}
	log := p.log.WithOrderID(order.ID)

	instance, err := p.factory.ForOrder(order).GetInstance(ctx, order)
	if err != nil {
		switch {
		case IsRetryable(err):
			log.WithError(err).Debug("provider unreachable, deferring to next scan")
		case IsInstanceNotFound(err):
			p.fail(ctx, order, NewInstanceNotFoundError("instance vanished while provisioning", err))
		default:
			p.fail(ctx, order, err)
		}
		return
	}

	order.CachedState = instance.CloudState

	if order.State == StatePending {
		if instance.State == InstanceStateDispatched {
			// The providing side has not materialized the instance
			// yet; check again next scan.
			return
		}
		if err := p.transitioner.Transition(ctx, order, StateSpawning); err != nil {
			log.WithError(err).Error("acknowledging pending order")
			return
		}
	}

	switch instance.State {
	case InstanceStateReady:
		if err := p.transitioner.Transition(ctx, order, StateFulfilled); err != nil {
			log.WithError(err).Error("fulfilling spawning order")
		}
	case InstanceStateFailed:
		p.fail(ctx, order, NewUnexpectedInternalError(
			fmt.Sprintf("instance entered failed cloud state %q", instance.CloudState), nil))
	default:
		// Still provisioning; re-check next scan.
	}
}

func (p *SpawningProcessor) fail(ctx context.Context, order *Order, cause error) {
	if err := p.transitioner.Fail(ctx, order, cause); err != nil {
		p.log.WithOrderID(order.ID).WithError(err).Error("failing spawning order")
	}
}
