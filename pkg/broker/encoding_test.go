package broker

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestSpecRoundTrip(t *testing.T) {
	specs := []OrderSpec{
		&ComputeSpec{Name: "vm", VCPU: 4, MemoryMB: 8192, DiskGB: 40, ImageID: "img-1",
			NetworkOrderIDs: []string{"3b3d75b3-67a4-4baf-a388-66ac0f62e0a3"}},
		&NetworkSpec{Name: "net", CIDR: "10.0.0.0/24", Gateway: "10.0.0.1", AllocationMode: "dynamic"},
		&VolumeSpec{Name: "data", SizeGB: 50},
		&AttachmentSpec{ComputeOrderID: "0b2a9f9c-6f5e-4a7a-8f52-0a8f1a2a7e11",
			VolumeOrderID: "9d1f55de-2a3a-41a8-9c55-0d4f7dd55c02", Device: "/dev/sdb"},
		&PublicIPSpec{ComputeOrderID: "0b2a9f9c-6f5e-4a7a-8f52-0a8f1a2a7e11"},
	}
	for _, spec := range specs {
		data, err := MarshalSpec(spec)
		if err != nil {
			t.Fatalf("marshal %T: %v", spec, err)
		}
		got, err := UnmarshalSpec(data)
		if err != nil {
			t.Fatalf("unmarshal %T: %v", spec, err)
		}
		if !reflect.DeepEqual(got, spec) {
			t.Errorf("round trip changed %T: got %+v, want %+v", spec, got, spec)
		}
	}
}

func TestSpecEnvelopeShape(t *testing.T) {
	data, err := MarshalSpec(&VolumeSpec{Name: "data", SizeGB: 10})
	if err != nil {
		t.Fatal(err)
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if _, ok := env["type"]; !ok {
		t.Error("envelope missing type discriminant")
	}
	if _, ok := env["spec"]; !ok {
		t.Error("envelope missing spec body")
	}
	// Go type names never travel on the wire.
	if strings.Contains(string(data), "VolumeSpec") {
		t.Errorf("encoding leaks a Go type name: %s", data)
	}
}

func TestUnmarshalSpecUnknownType(t *testing.T) {
	_, err := UnmarshalSpec([]byte(`{"type":"mainframe","spec":{}}`))
	if err == nil {
		t.Fatal("expected an error for an unknown discriminant")
	}
	if KindOf(err) != ErrorKindUnexpectedRemote {
		t.Errorf("error kind = %s, want %s", KindOf(err), ErrorKindUnexpectedRemote)
	}
}

func TestInstanceRoundTrip(t *testing.T) {
	instances := []Instance{
		{ID: "o1", Type: ResourceTypeCompute, State: InstanceStateReady, CloudState: "ACTIVE",
			Attributes: &ComputeAttributes{Name: "vm", VCPU: 2, MemoryMB: 2048, IPAddresses: []string{"10.0.0.5"}}},
		{ID: "o2", Type: ResourceTypePublicIP, State: InstanceStateCreating, CloudState: "ALLOCATING",
			Attributes: &PublicIPAttributes{IP: "203.0.113.9", ComputeID: "cloud-7"}},
		{ID: "o3", Type: ResourceTypeVolume, State: InstanceStateDispatched},
	}
	for _, instance := range instances {
		data, err := json.Marshal(instance)
		if err != nil {
			t.Fatalf("marshal instance %s: %v", instance.ID, err)
		}
		var got Instance
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal instance %s: %v", instance.ID, err)
		}
		if !reflect.DeepEqual(got, instance) {
			t.Errorf("round trip changed instance: got %+v, want %+v", got, instance)
		}
	}
}

func TestInstanceUnknownAttributesType(t *testing.T) {
	var got Instance
	err := json.Unmarshal([]byte(`{"id":"o1","type":"compute","state":"ready","attributes":{"type":"gpu","attributes":{}}}`), &got)
	if err == nil {
		t.Fatal("expected an error for unknown attributes discriminant")
	}
	if KindOf(err) != ErrorKindUnexpectedRemote {
		t.Errorf("error kind = %s, want %s", KindOf(err), ErrorKindUnexpectedRemote)
	}
}

func TestOrderRoundTrip(t *testing.T) {
	order := newRemoteComputeOrder()
	order.State = StateSpawning
	order.InstanceID = "cloud-9"
	order.CachedState = "BUILD"

	data, err := MarshalOrder(order)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalOrder(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != order.ID || got.State != order.State || got.Provider != order.Provider ||
		got.InstanceID != order.InstanceID || got.CachedState != order.CachedState {
		t.Errorf("round trip changed order: got %+v, want %+v", got, order)
	}
	if !reflect.DeepEqual(got.Spec, order.Spec) {
		t.Errorf("round trip changed spec: got %+v, want %+v", got.Spec, order.Spec)
	}
}

func TestUnmarshalOrderTypeSpecMismatch(t *testing.T) {
	order := newComputeOrder()
	data, err := MarshalOrder(order)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), `"type":"compute"`, `"type":"volume"`, 1)

	_, err = UnmarshalOrder([]byte(tampered))
	if err == nil {
		t.Fatal("expected an error when order type disagrees with spec type")
	}
	if KindOf(err) != ErrorKindUnexpectedRemote {
		t.Errorf("error kind = %s, want %s", KindOf(err), ErrorKindUnexpectedRemote)
	}
}
