package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/fedbroker/fedbroker/pkg/telemetry"
)

// Shared test fixtures: hand-rolled mocks for the connector, store and
// plugin boundaries, plus rig constructors the individual test files use.

const (
	testLocalProvider  = "provider-local"
	testRemoteProvider = "provider-remote"
	testToken          = "token-alice"
)

// mockConnector is a CloudConnector with injectable behavior per operation.
type mockConnector struct {
	requestInstance func(ctx context.Context, order *Order) (string, error)
	deleteInstance  func(ctx context.Context, order *Order) error
	getInstance     func(ctx context.Context, order *Order) (*Instance, error)
	getUserQuota    func(ctx context.Context, token string, rt ResourceType) (*Quota, error)
	getAllImages    func(ctx context.Context, token string) (map[string]string, error)
	getImage        func(ctx context.Context, imageID, token string) (*Image, error)
}

func (m *mockConnector) RequestInstance(ctx context.Context, order *Order) (string, error) {
	if m.requestInstance == nil {
		return "instance-1", nil
	}
	return m.requestInstance(ctx, order)
}

func (m *mockConnector) DeleteInstance(ctx context.Context, order *Order) error {
	if m.deleteInstance == nil {
		return nil
	}
	return m.deleteInstance(ctx, order)
}

func (m *mockConnector) GetInstance(ctx context.Context, order *Order) (*Instance, error) {
	if m.getInstance == nil {
		return &Instance{ID: order.ID, Type: order.Type, State: InstanceStateReady}, nil
	}
	return m.getInstance(ctx, order)
}

func (m *mockConnector) GetUserQuota(ctx context.Context, token string, rt ResourceType) (*Quota, error) {
	if m.getUserQuota == nil {
		return &Quota{Type: rt}, nil
	}
	return m.getUserQuota(ctx, token, rt)
}

func (m *mockConnector) GetAllImages(ctx context.Context, token string) (map[string]string, error) {
	if m.getAllImages == nil {
		return map[string]string{}, nil
	}
	return m.getAllImages(ctx, token)
}

func (m *mockConnector) GetImage(ctx context.Context, imageID, token string) (*Image, error) {
	if m.getImage == nil {
		return &Image{ID: imageID}, nil
	}
	return m.getImage(ctx, imageID, token)
}

// mockStore is an OrderStore that records saves and can fail on demand.
type mockStore struct {
	saved   []string
	saveErr error
	orders  []*Order
}

func (s *mockStore) SaveOrder(_ context.Context, order *Order) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, order.ID)
	return nil
}

func (s *mockStore) ListActiveOrders(context.Context) ([]*Order, error) {
	return s.orders, nil
}

// mockTokenMapper maps any token unless told to fail.
type mockTokenMapper struct {
	err error
}

func (m *mockTokenMapper) MapToken(_ context.Context, federationToken string) (CloudToken, error) {
	if m.err != nil {
		return CloudToken{}, m.err
	}
	return CloudToken{UserID: "user-1", Value: federationToken}, nil
}

// mockResourcePlugin is a ResourcePlugin with injectable behavior.
type mockResourcePlugin struct {
	requestInstance func(ctx context.Context, order *Order, token CloudToken) (string, error)
	deleteInstance  func(ctx context.Context, instanceID string, token CloudToken) error
	getInstance     func(ctx context.Context, instanceID string, token CloudToken) (*Instance, error)
	readyStates     map[string]bool
	failedStates    map[string]bool
}

func (p *mockResourcePlugin) RequestInstance(ctx context.Context, order *Order, token CloudToken) (string, error) {
	if p.requestInstance == nil {
		return "cloud-native-1", nil
	}
	return p.requestInstance(ctx, order, token)
}

func (p *mockResourcePlugin) DeleteInstance(ctx context.Context, instanceID string, token CloudToken) error {
	if p.deleteInstance == nil {
		return nil
	}
	return p.deleteInstance(ctx, instanceID, token)
}

func (p *mockResourcePlugin) GetInstance(ctx context.Context, instanceID string, token CloudToken) (*Instance, error) {
	if p.getInstance == nil {
		return &Instance{ID: instanceID, CloudState: "ACTIVE"}, nil
	}
	return p.getInstance(ctx, instanceID, token)
}

func (p *mockResourcePlugin) IsReady(cloudState string) bool { return p.readyStates[cloudState] }
func (p *mockResourcePlugin) HasFailed(cloudState string) bool { return p.failedStates[cloudState] }

// testRig bundles the pieces most broker tests need.
type testRig struct {
	registry     *Registry
	transitioner *Transitioner
	factory      *ConnectorFactory
	local        *mockConnector
	remote       *mockConnector
}

// newTestRig creates a registry-backed rig whose factory serves the given
// mock connectors.
func newTestRig() *testRig {
	local := &mockConnector{}
	remote := &mockConnector{}
	registry := NewRegistry(nil)
	factory := NewConnectorFactory(testLocalProvider, local,
		func(string) CloudConnector { return remote })
	return &testRig{
		registry:     registry,
		transitioner: NewTransitioner(registry, telemetry.Nop(), nil),
		factory:      factory,
		local:        local,
		remote:       remote,
	}
}

// addOrder activates an order in the rig's registry and walks it to the
// wanted state along legal edges.
func (r *testRig) addOrder(t *testing.T, order *Order, state OrderState) {
	t.Helper()
	ctx := context.Background()
	if err := r.registry.Add(ctx, order); err != nil {
		t.Fatalf("adding order: %v", err)
	}
	for order.State != state {
		next := nextEdgeToward(order.State, state)
		if err := r.registry.MoveTo(ctx, order, next); err != nil {
			t.Fatalf("moving order %s -> %s: %v", order.State, next, err)
		}
	}
}

// nextEdgeToward returns the next hop on the natural path to the target
// state.
func nextEdgeToward(from, target OrderState) OrderState {
	switch target {
	case StateDeactivated, StateClosed:
		if from == StateDeactivated {
			return StateClosed
		}
		return StateDeactivated
	case StateFailed:
		return StateFailed
	default:
		switch from {
		case StateOpen:
			return StatePending
		case StatePending:
			return StateSpawning
		case StateSpawning:
			return StateFulfilled
		}
	}
	return target
}

func newComputeOrder() *Order {
	return NewOrder(testLocalProvider, testLocalProvider, testToken, &ComputeSpec{
		Name:     "vm-1",
		VCPU:     2,
		MemoryMB: 2048,
		DiskGB:   20,
		ImageID:  "img-1",
	})
}

func newRemoteComputeOrder() *Order {
	order := newComputeOrder()
	order.Provider = testRemoteProvider
	return order
}

// unavailableErr is the retryable error used across processor tests.
var unavailableErr = NewProviderUnavailableError("remote member down", errors.New("no responders"))
