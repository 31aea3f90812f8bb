package broker

import (
	"context"
	"sync"
	"time"

	"github.com/fedbroker/fedbroker/pkg/telemetry"
)

// orderProcessor is an independent background loop that owns one slice of
// the order lifecycle. Each processor scans its partition, takes one order
// at a time under that order's lock, and either advances it or defers it to
// the next scan.
type orderProcessor interface {
	// Name identifies the processor in logs and metrics.
	Name() string

	// Scan runs one sweep over the processor's partition(s).
	Scan(ctx context.Context)

	// Interval is the sleep between sweeps.
	Interval() time.Duration
}

// runProcessor drives a processor's scan-sleep loop until the context is
// cancelled. Blocking cloud calls inside a sweep are expected and only delay
// this processor, never its siblings.
func runProcessor(ctx context.Context, p orderProcessor, log *telemetry.Logger, metrics *telemetry.Metrics) {
	log.Infof("%s processor started", p.Name())
	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()
	for {
		p.Scan(ctx)
		metrics.ObserveProcessorCycle(p.Name())
		select {
		case <-ctx.Done():
			log.Infof("%s processor stopped", p.Name())
			return
		case <-ticker.C:
		}
	}
}

// scanPartition applies process to every order currently in one partition.
// Orders whose lock cannot be acquired this cycle are deferred, not waited
// on, so one busy order never stalls the sweep.
func scanPartition(ctx context.Context, registry *Registry, state OrderState,
	process func(ctx context.Context, order *Order)) {
	for _, order := range registry.Snapshot(state) {
		if ctx.Err() != nil {
			return
		}
		if !order.TryLock() {
			continue
		}
		process(ctx, order)
		order.Unlock()
	}
}

// ProcessorIntervals configures the sleep between sweeps, per processor.
type ProcessorIntervals struct {
	// Open is the open processor's scan interval.
	Open time.Duration

	// Spawning is the spawning processor's scan interval.
	Spawning time.Duration

	// Fulfilled is the fulfilled processor's scan interval.
	Fulfilled time.Duration

	// Deactivation is the deactivation processor's scan interval.
	Deactivation time.Duration
}

// DefaultProcessorIntervals returns the default scan intervals.
func DefaultProcessorIntervals() ProcessorIntervals {
	return ProcessorIntervals{
		Open:         2 * time.Second,
		Spawning:     5 * time.Second,
		Fulfilled:    30 * time.Second,
		Deactivation: 5 * time.Second,
	}
}

// ProcessorController owns the processor goroutines: one per lifecycle
// stage, started together, stopped by context cancellation.
type ProcessorController struct {
	processors []orderProcessor
	log        *telemetry.Logger
	metrics    *telemetry.Metrics
	wg         sync.WaitGroup
}

// NewProcessorController wires the four processors over the shared registry
// and connector factory.
func NewProcessorController(registry *Registry, factory *ConnectorFactory,
	transitioner *Transitioner, intervals ProcessorIntervals,
	log *telemetry.Logger, metrics *telemetry.Metrics) *ProcessorController {
	return &ProcessorController{
		processors: []orderProcessor{
			NewOpenProcessor(registry, factory, transitioner, intervals.Open, log),
			NewSpawningProcessor(registry, factory, transitioner, intervals.Spawning, log),
			NewFulfilledProcessor(registry, factory, transitioner, intervals.Fulfilled, log),
			NewDeactivationProcessor(registry, factory, transitioner, intervals.Deactivation, log),
		},
		log:     log.NewComponentLogger("processor-controller"),
		metrics: metrics,
	}
}

// Start launches one goroutine per processor.
func (c *ProcessorController) Start(ctx context.Context) {
	for _, p := range c.processors {
		c.wg.Add(1)
		go func(p orderProcessor) {
			defer c.wg.Done()
			runProcessor(ctx, p, c.log, c.metrics)
		}(p)
	}
}

// Wait blocks until every processor goroutine has returned.
func (c *ProcessorController) Wait() {
	c.wg.Wait()
}
