package broker

import (
	"context"
	"testing"
	"time"

	"github.com/fedbroker/fedbroker/pkg/telemetry"
)

func newOpenProcessor(rig *testRig) *OpenProcessor {
	return NewOpenProcessor(rig.registry, rig.factory, rig.transitioner, time.Second, telemetry.Nop())
}

func newSpawningProcessor(rig *testRig) *SpawningProcessor {
	return NewSpawningProcessor(rig.registry, rig.factory, rig.transitioner, time.Second, telemetry.Nop())
}

func newFulfilledProcessor(rig *testRig) *FulfilledProcessor {
	return NewFulfilledProcessor(rig.registry, rig.factory, rig.transitioner, time.Second, telemetry.Nop())
}

func newDeactivationProcessor(rig *testRig) *DeactivationProcessor {
	return NewDeactivationProcessor(rig.registry, rig.factory, rig.transitioner, time.Second, telemetry.Nop())
}

func TestOpenProcessorDispatchesLocalOrder(t *testing.T) {
	rig := newTestRig()
	rig.local.requestInstance = func(_ context.Context, order *Order) (string, error) {
		return "cloud-vm-1", nil
	}
	order := newComputeOrder()
	rig.addOrder(t, order, StateOpen)

	order.Lock()
	newOpenProcessor(rig).ProcessOrder(context.Background(), order)
	order.Unlock()

	if order.State != StatePending {
		t.Errorf("state = %s, want %s", order.State, StatePending)
	}
	if order.InstanceID != "cloud-vm-1" {
		t.Errorf("instance id = %q, want the plugin id stored", order.InstanceID)
	}
}

func TestOpenProcessorRemoteOrderKeepsEmptyInstanceID(t *testing.T) {
	rig := newTestRig()
	rig.remote.requestInstance = func(context.Context, *Order) (string, error) {
		return "", nil
	}
	order := newRemoteComputeOrder()
	rig.addOrder(t, order, StateOpen)

	order.Lock()
	newOpenProcessor(rig).ProcessOrder(context.Background(), order)
	order.Unlock()

	if order.State != StatePending {
		t.Errorf("state = %s, want %s", order.State, StatePending)
	}
	if order.InstanceID != "" {
		t.Errorf("instance id = %q, want empty for a remote order", order.InstanceID)
	}
}

func TestOpenProcessorDefersOnUnreachableProvider(t *testing.T) {
	rig := newTestRig()
	rig.remote.requestInstance = func(context.Context, *Order) (string, error) {
		return "", unavailableErr
	}
	order := newRemoteComputeOrder()
	rig.addOrder(t, order, StateOpen)

	order.Lock()
	newOpenProcessor(rig).ProcessOrder(context.Background(), order)
	order.Unlock()

	if order.State != StateOpen {
		t.Errorf("state = %s, want still %s after a retryable failure", order.State, StateOpen)
	}
	if order.FaultMessage != "" {
		t.Error("a retryable failure must not record a fault")
	}
}

func TestOpenProcessorFailsOrderOnHardError(t *testing.T) {
	rig := newTestRig()
	rig.local.requestInstance = func(context.Context, *Order) (string, error) {
		return "", NewUnauthorizedRequestError("token rejected", nil)
	}
	order := newComputeOrder()
	rig.addOrder(t, order, StateOpen)

	order.Lock()
	newOpenProcessor(rig).ProcessOrder(context.Background(), order)
	order.Unlock()

	if order.State != StateFailed {
		t.Errorf("state = %s, want %s", order.State, StateFailed)
	}
	if order.FaultMessage == "" {
		t.Error("failing must record the triggering fault")
	}
}

func TestOpenProcessorSkipsOrderDeletedMeanwhile(t *testing.T) {
	rig := newTestRig()
	called := false
	rig.local.requestInstance = func(context.Context, *Order) (string, error) {
		called = true
		return "x", nil
	}
	order := newComputeOrder()
	rig.addOrder(t, order, StateDeactivated)

	order.Lock()
	newOpenProcessor(rig).ProcessOrder(context.Background(), order)
	order.Unlock()

	if called {
		t.Error("a deleted order must not be dispatched")
	}
}

// A pending order whose instance is already serving reaches fulfilled within
// one processor pass: the acknowledgment to spawning and the settlement are
// one sweep, not two.
func TestSpawningProcessorPendingToFulfilledInOnePass(t *testing.T) {
	rig := newTestRig()
	rig.local.getInstance = func(_ context.Context, order *Order) (*Instance, error) {
		return &Instance{ID: order.ID, Type: order.Type, State: InstanceStateReady, CloudState: "ACTIVE"}, nil
	}
	order := newComputeOrder()
	rig.addOrder(t, order, StatePending)

	order.Lock()
	newSpawningProcessor(rig).ProcessOrder(context.Background(), order)
	order.Unlock()

	if order.State != StateFulfilled {
		t.Errorf("state = %s, want %s", order.State, StateFulfilled)
	}
	if order.CachedState != "ACTIVE" {
		t.Errorf("cached state = %q, want stamped", order.CachedState)
	}
}

func TestSpawningProcessorPendingStaysOnDispatched(t *testing.T) {
	rig := newTestRig()
	rig.remote.getInstance = func(_ context.Context, order *Order) (*Instance, error) {
		return &Instance{ID: order.ID, Type: order.Type, State: InstanceStateDispatched}, nil
	}
	order := newRemoteComputeOrder()
	rig.addOrder(t, order, StatePending)

	order.Lock()
	newSpawningProcessor(rig).ProcessOrder(context.Background(), order)
	order.Unlock()

	if order.State != StatePending {
		t.Errorf("state = %s, want still %s while the instance is unmaterialized", order.State, StatePending)
	}
}

func TestSpawningProcessorAcknowledgesCreating(t *testing.T) {
	rig := newTestRig()
	rig.local.getInstance = func(_ context.Context, order *Order) (*Instance, error) {
		return &Instance{ID: order.ID, Type: order.Type, State: InstanceStateCreating, CloudState: "BUILD"}, nil
	}
	order := newComputeOrder()
	rig.addOrder(t, order, StatePending)

	order.Lock()
	newSpawningProcessor(rig).ProcessOrder(context.Background(), order)
	order.Unlock()

	if order.State != StateSpawning {
		t.Errorf("state = %s, want %s", order.State, StateSpawning)
	}
}

func TestSpawningProcessorFailsOnCloudFailure(t *testing.T) {
	rig := newTestRig()
	rig.local.getInstance = func(_ context.Context, order *Order) (*Instance, error) {
		return &Instance{ID: order.ID, Type: order.Type, State: InstanceStateFailed, CloudState: "ERROR"}, nil
	}
	order := newComputeOrder()
	rig.addOrder(t, order, StateSpawning)

	order.Lock()
	newSpawningProcessor(rig).ProcessOrder(context.Background(), order)
	order.Unlock()

	if order.State != StateFailed {
		t.Errorf("state = %s, want %s", order.State, StateFailed)
	}
	if order.FaultMessage == "" {
		t.Error("cloud failure must record a fault")
	}
}

func TestSpawningProcessorDefersOnUnreachableProvider(t *testing.T) {
	rig := newTestRig()
	rig.remote.getInstance = func(context.Context, *Order) (*Instance, error) {
		return nil, unavailableErr
	}
	order := newRemoteComputeOrder()
	rig.addOrder(t, order, StateSpawning)

	order.Lock()
	newSpawningProcessor(rig).ProcessOrder(context.Background(), order)
	order.Unlock()

	if order.State != StateSpawning {
		t.Errorf("state = %s, want unchanged on a retryable failure", order.State)
	}
}

func TestSpawningProcessorFailsOnVanishedInstance(t *testing.T) {
	rig := newTestRig()
	rig.local.getInstance = func(context.Context, *Order) (*Instance, error) {
		return nil, NewInstanceNotFoundError("gone", nil)
	}
	order := newComputeOrder()
	rig.addOrder(t, order, StateSpawning)

	order.Lock()
	newSpawningProcessor(rig).ProcessOrder(context.Background(), order)
	order.Unlock()

	if order.State != StateFailed {
		t.Errorf("state = %s, want %s for a vanished instance", order.State, StateFailed)
	}
}

// A single unreachable poll leaves a running order fulfilled; unavailability
// of the provider is not a failure of the user's resource.
func TestFulfilledProcessorKeepsOrderOnUnreachableProvider(t *testing.T) {
	rig := newTestRig()
	rig.remote.getInstance = func(context.Context, *Order) (*Instance, error) {
		return nil, unavailableErr
	}
	order := newRemoteComputeOrder()
	rig.addOrder(t, order, StateFulfilled)

	order.Lock()
	newFulfilledProcessor(rig).ProcessOrder(context.Background(), order)
	order.Unlock()

	if order.State != StateFulfilled {
		t.Errorf("state = %s, want still %s", order.State, StateFulfilled)
	}
	if order.FaultMessage != "" {
		t.Error("an unreachable poll must not record a fault")
	}
}

func TestFulfilledProcessorFailsOnVanishedInstance(t *testing.T) {
	rig := newTestRig()
	rig.local.getInstance = func(context.Context, *Order) (*Instance, error) {
		return nil, NewInstanceNotFoundError("deleted out-of-band", nil)
	}
	order := newComputeOrder()
	rig.addOrder(t, order, StateFulfilled)

	order.Lock()
	newFulfilledProcessor(rig).ProcessOrder(context.Background(), order)
	order.Unlock()

	if order.State != StateFailed {
		t.Errorf("state = %s, want %s", order.State, StateFailed)
	}
}

func TestFulfilledProcessorRefreshesCachedState(t *testing.T) {
	rig := newTestRig()
	rig.local.getInstance = func(_ context.Context, order *Order) (*Instance, error) {
		return &Instance{ID: order.ID, Type: order.Type, State: InstanceStateReady, CloudState: "ACTIVE-RESIZING"}, nil
	}
	order := newComputeOrder()
	rig.addOrder(t, order, StateFulfilled)

	order.Lock()
	newFulfilledProcessor(rig).ProcessOrder(context.Background(), order)
	order.Unlock()

	if order.State != StateFulfilled {
		t.Errorf("state = %s, want unchanged", order.State)
	}
	if order.CachedState != "ACTIVE-RESIZING" {
		t.Errorf("cached state = %q, want refreshed", order.CachedState)
	}
}

func TestDeactivationProcessorClosesAfterCleanup(t *testing.T) {
	rig := newTestRig()
	deleted := false
	rig.local.deleteInstance = func(context.Context, *Order) error {
		deleted = true
		return nil
	}
	order := newComputeOrder()
	rig.addOrder(t, order, StateDeactivated)

	order.Lock()
	newDeactivationProcessor(rig).ProcessOrder(context.Background(), order)
	order.Unlock()

	if !deleted {
		t.Error("cleanup must call the connector")
	}
	if order.State != StateClosed {
		t.Errorf("state = %s, want %s", order.State, StateClosed)
	}
}

// Cleanup is best-effort: a failing delete is recorded but never pins the
// order open.
func TestDeactivationProcessorClosesDespiteCleanupFailure(t *testing.T) {
	rig := newTestRig()
	rig.local.deleteInstance = func(context.Context, *Order) error {
		return NewUnexpectedInternalError("cloud refused", nil)
	}
	order := newComputeOrder()
	rig.addOrder(t, order, StateDeactivated)

	order.Lock()
	newDeactivationProcessor(rig).ProcessOrder(context.Background(), order)
	order.Unlock()

	if order.State != StateClosed {
		t.Errorf("state = %s, want %s even when cleanup fails", order.State, StateClosed)
	}
	if order.FaultMessage == "" {
		t.Error("a failed cleanup must record the fault")
	}
}

func TestScanPartitionSkipsLockedOrders(t *testing.T) {
	rig := newTestRig()
	busy := newComputeOrder()
	free := newComputeOrder()
	rig.addOrder(t, busy, StateOpen)
	rig.addOrder(t, free, StateOpen)

	busy.Lock()
	defer busy.Unlock()

	var processed []string
	scanPartition(context.Background(), rig.registry, StateOpen, func(_ context.Context, order *Order) {
		processed = append(processed, order.ID)
	})

	if len(processed) != 1 || processed[0] != free.ID {
		t.Errorf("processed %v, want only the unlocked order", processed)
	}
}

func TestScanPartitionStopsOnCancelledContext(t *testing.T) {
	rig := newTestRig()
	rig.addOrder(t, newComputeOrder(), StateOpen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	scanPartition(ctx, rig.registry, StateOpen, func(context.Context, *Order) {
		called = true
	})
	if called {
		t.Error("a cancelled context must stop the sweep")
	}
}

func TestProcessorControllerStartStop(t *testing.T) {
	rig := newTestRig()
	intervals := ProcessorIntervals{
		Open:         10 * time.Millisecond,
		Spawning:     10 * time.Millisecond,
		Fulfilled:    10 * time.Millisecond,
		Deactivation: 10 * time.Millisecond,
	}
	controller := NewProcessorController(rig.registry, rig.factory, rig.transitioner,
		intervals, telemetry.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	controller.Start(ctx)

	order := newComputeOrder()
	rig.addOrder(t, order, StateOpen)

	deadline := time.After(2 * time.Second)
	for {
		order.Lock()
		state := order.State
		order.Unlock()
		if state == StateFulfilled {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("order stuck in %s, want %s", state, StateFulfilled)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	controller.Wait()
}
