package federation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fedbroker/fedbroker/pkg/broker"
	"github.com/fedbroker/fedbroker/pkg/providers/devcloud"
	"github.com/fedbroker/fedbroker/pkg/telemetry"
)

// facadeRig is a full providing side: dev cloud, registry, controller and
// facade, serving as federation member "provider-b".
type facadeRig struct {
	facade   *Facade
	registry *broker.Registry
}

func newFacadeRig() *facadeRig {
	const providerID = "provider-b"
	cloud := devcloud.New()
	registry := broker.NewRegistry(nil)
	local := broker.NewLocalConnector(providerID, cloud.PluginSet(), cloud, registry, telemetry.Nop(), nil)

	unreachable := &mockTransport{reply: func(*Envelope) ([]byte, error) {
		return nil, ErrProviderUnreachable
	}}
	client := NewClient(unreachable, providerID, time.Second, telemetry.Nop(), nil)
	factory := broker.NewConnectorFactory(providerID, local, ConnectorBuilder(client))

	transitioner := broker.NewTransitioner(registry, telemetry.Nop(), nil)
	controller := broker.NewOrderController(providerID, registry, factory, transitioner,
		telemetry.Nop(), telemetry.NopTracer())

	return &facadeRig{
		facade:   NewFacade(providerID, controller, telemetry.Nop(), nil),
		registry: registry,
	}
}

// roundTrip serves one request and decodes the response.
func (r *facadeRig) roundTrip(t *testing.T, kind RequestKind, requester, provider string, payload any) Response {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(Envelope{
		Kind:      kind,
		RequestID: uuid.NewString(),
		Requester: requester,
		Provider:  provider,
		SentAt:    time.Now().UTC(),
		Payload:   raw,
	})
	if err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(r.facade.HandleRequest(context.Background(), data), &resp); err != nil {
		t.Fatalf("facade reply is not a response: %v", err)
	}
	return resp
}

func remoteOrder() *broker.Order {
	return broker.NewOrder("provider-a", "provider-b", "tok", &broker.ComputeSpec{
		Name: "vm", VCPU: 1, MemoryMB: 1024, ImageID: "img-1",
	})
}

func createPayload(t *testing.T, order *broker.Order) CreateOrderRequest {
	t.Helper()
	raw, err := broker.MarshalOrder(order)
	if err != nil {
		t.Fatal(err)
	}
	return CreateOrderRequest{Order: raw}
}

func TestFacadeCreateOrderActivates(t *testing.T) {
	rig := newFacadeRig()
	order := remoteOrder()

	resp := rig.roundTrip(t, KindCreateOrder, "provider-a", "provider-b", createPayload(t, order))
	if resp.Error != nil {
		t.Fatalf("create_order failed: %+v", resp.Error)
	}

	activated, ok := rig.registry.Get(order.ID)
	if !ok {
		t.Fatal("order not activated on the providing side")
	}
	if activated.State != broker.StateOpen {
		t.Errorf("activated order state = %s, want %s", activated.State, broker.StateOpen)
	}
}

func TestFacadeCreateOrderDuplicate(t *testing.T) {
	rig := newFacadeRig()
	order := remoteOrder()
	payload := createPayload(t, order)

	if resp := rig.roundTrip(t, KindCreateOrder, "provider-a", "provider-b", payload); resp.Error != nil {
		t.Fatal(resp.Error)
	}
	resp := rig.roundTrip(t, KindCreateOrder, "provider-a", "provider-b", payload)
	if resp.Error == nil || resp.Error.Condition != ConditionConflict {
		t.Errorf("duplicate create response = %+v, want conflict", resp.Error)
	}
}

func TestFacadeRejectsMisaddressedRequest(t *testing.T) {
	rig := newFacadeRig()
	resp := rig.roundTrip(t, KindCreateOrder, "provider-a", "provider-elsewhere",
		createPayload(t, remoteOrder()))
	if resp.Error == nil || resp.Error.Condition != ConditionBadRequest {
		t.Errorf("misaddressed request response = %+v, want bad_request", resp.Error)
	}
}

func TestFacadeRejectsSpoofedRequester(t *testing.T) {
	rig := newFacadeRig()
	resp := rig.roundTrip(t, KindCreateOrder, "provider-mallory", "provider-b",
		createPayload(t, remoteOrder()))
	if resp.Error == nil || resp.Error.Condition != ConditionForbidden {
		t.Errorf("spoofed requester response = %+v, want forbidden", resp.Error)
	}
}

func TestFacadeGetInstancePlaceholder(t *testing.T) {
	rig := newFacadeRig()
	order := remoteOrder()
	if resp := rig.roundTrip(t, KindCreateOrder, "provider-a", "provider-b", createPayload(t, order)); resp.Error != nil {
		t.Fatal(resp.Error)
	}

	resp := rig.roundTrip(t, KindGetInstance, "provider-a", "provider-b", GetInstanceRequest{
		OrderID:         order.ID,
		FederationToken: "tok",
	})
	if resp.Error != nil {
		t.Fatalf("get_instance failed: %+v", resp.Error)
	}
	var instance broker.Instance
	if err := json.Unmarshal(resp.Payload, &instance); err != nil {
		t.Fatal(err)
	}
	if instance.State != broker.InstanceStateDispatched {
		t.Errorf("fresh order instance state = %s, want %s", instance.State, broker.InstanceStateDispatched)
	}
	if instance.ID != order.ID {
		t.Errorf("instance id = %s, want the order id", instance.ID)
	}
}

func TestFacadeDeniesForeignOrderAccess(t *testing.T) {
	rig := newFacadeRig()
	order := remoteOrder()
	if resp := rig.roundTrip(t, KindCreateOrder, "provider-a", "provider-b", createPayload(t, order)); resp.Error != nil {
		t.Fatal(resp.Error)
	}

	resp := rig.roundTrip(t, KindDeleteOrder, "provider-c", "provider-b", DeleteOrderRequest{
		OrderID:         order.ID,
		FederationToken: "tok",
	})
	if resp.Error == nil || resp.Error.Condition != ConditionForbidden {
		t.Errorf("foreign delete response = %+v, want forbidden", resp.Error)
	}
}

func TestFacadeDeleteOrder(t *testing.T) {
	rig := newFacadeRig()
	order := remoteOrder()
	if resp := rig.roundTrip(t, KindCreateOrder, "provider-a", "provider-b", createPayload(t, order)); resp.Error != nil {
		t.Fatal(resp.Error)
	}

	resp := rig.roundTrip(t, KindDeleteOrder, "provider-a", "provider-b", DeleteOrderRequest{
		OrderID:         order.ID,
		FederationToken: "tok",
	})
	if resp.Error != nil {
		t.Fatalf("delete_order failed: %+v", resp.Error)
	}
	deleted, _ := rig.registry.Get(order.ID)
	if deleted.State != broker.StateDeactivated {
		t.Errorf("deleted order state = %s, want %s", deleted.State, broker.StateDeactivated)
	}
}

func TestFacadeGetUserQuota(t *testing.T) {
	rig := newFacadeRig()
	resp := rig.roundTrip(t, KindGetUserQuota, "provider-a", "provider-b", GetUserQuotaRequest{
		ResourceType:    broker.ResourceTypeCompute,
		FederationToken: "tok",
	})
	if resp.Error != nil {
		t.Fatalf("get_user_quota failed: %+v", resp.Error)
	}
	var quota broker.Quota
	if err := json.Unmarshal(resp.Payload, &quota); err != nil {
		t.Fatal(err)
	}
	if quota.Total.Instances == 0 {
		t.Error("quota payload carries no total allocation")
	}
}

func TestFacadeGetAllImages(t *testing.T) {
	rig := newFacadeRig()
	resp := rig.roundTrip(t, KindGetAllImages, "provider-a", "provider-b", GetAllImagesRequest{
		FederationToken: "tok",
	})
	if resp.Error != nil {
		t.Fatalf("get_all_images failed: %+v", resp.Error)
	}
	images := map[string]string{}
	if err := json.Unmarshal(resp.Payload, &images); err != nil {
		t.Fatal(err)
	}
	if len(images) == 0 {
		t.Error("image catalogue is empty")
	}
}

func TestFacadeUnknownKind(t *testing.T) {
	rig := newFacadeRig()
	resp := rig.roundTrip(t, RequestKind("reboot_universe"), "provider-a", "provider-b", nil)
	if resp.Error == nil || resp.Error.Condition != ConditionBadRequest {
		t.Errorf("unknown kind response = %+v, want bad_request", resp.Error)
	}
}

func TestFacadeMalformedEnvelope(t *testing.T) {
	rig := newFacadeRig()
	var resp Response
	if err := json.Unmarshal(rig.facade.HandleRequest(context.Background(), []byte("junk")), &resp); err != nil {
		t.Fatalf("facade must reply even to junk: %v", err)
	}
	if resp.Error == nil || resp.Error.Condition != ConditionBadRequest {
		t.Errorf("junk response = %+v, want bad_request", resp.Error)
	}
}

func TestFacadeEchoesCorrelationID(t *testing.T) {
	rig := newFacadeRig()
	requestID := uuid.NewString()
	data, err := json.Marshal(Envelope{
		Kind:      KindGetAllImages,
		RequestID: requestID,
		Requester: "provider-a",
		Provider:  "provider-b",
		SentAt:    time.Now().UTC(),
		Payload:   json.RawMessage(`{"federation_token":"tok"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(rig.facade.HandleRequest(context.Background(), data), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.RequestID != requestID {
		t.Errorf("response correlation id = %q, want %q", resp.RequestID, requestID)
	}
}
