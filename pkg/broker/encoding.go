package broker

import (
	"encoding/json"
	"fmt"
	"time"
)

// The wire and storage encodings of polymorphic payloads are tagged unions:
// a resource-type discriminant next to the serialized concrete value. The
// receiver selects the concrete Go type by the tag before decoding, so no
// type names ever travel on the wire.

// specEnvelope is the tagged-union encoding of an OrderSpec.
type specEnvelope struct {
	Type ResourceType    `json:"type"`
	Spec json.RawMessage `json:"spec"`
}

// MarshalSpec encodes an order spec as a tagged union.
func MarshalSpec(spec OrderSpec) ([]byte, error) {
	if spec == nil {
		return nil, NewUnexpectedInternalError("order has no spec", nil)
	}
	raw, err := json.Marshal(spec)
	if err != nil {
		return nil, NewUnexpectedInternalError("encoding order spec", err)
	}
	return json.Marshal(specEnvelope{Type: spec.ResourceType(), Spec: raw})
}

// UnmarshalSpec decodes a tagged-union order spec. An unknown or missing
// discriminant is a protocol violation, never silently ignored.
func UnmarshalSpec(data []byte) (OrderSpec, error) {
	var env specEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, NewUnexpectedRemoteError("decoding order spec envelope", err)
	}
	var spec OrderSpec
	switch env.Type {
	case ResourceTypeCompute:
		spec = &ComputeSpec{}
	case ResourceTypeNetwork:
		spec = &NetworkSpec{}
	case ResourceTypeVolume:
		spec = &VolumeSpec{}
	case ResourceTypeAttachment:
		spec = &AttachmentSpec{}
	case ResourceTypePublicIP:
		spec = &PublicIPSpec{}
	default:
		return nil, NewUnexpectedRemoteError(
			fmt.Sprintf("unknown order spec type %q", env.Type), nil)
	}
	if err := json.Unmarshal(env.Spec, spec); err != nil {
		return nil, NewUnexpectedRemoteError(
			fmt.Sprintf("decoding %s order spec", env.Type), err)
	}
	return spec, nil
}

// attributesEnvelope is the tagged-union encoding of InstanceAttributes.
type attributesEnvelope struct {
	Type       ResourceType    `json:"type"`
	Attributes json.RawMessage `json:"attributes"`
}

// instanceJSON is the wire form of an Instance.
type instanceJSON struct {
	ID         string              `json:"id"`
	Type       ResourceType        `json:"type"`
	State      InstanceState       `json:"state"`
	CloudState string              `json:"cloud_state,omitempty"`
	Attributes *attributesEnvelope `json:"attributes,omitempty"`
}

// MarshalJSON encodes the instance with tagged-union attributes.
func (i Instance) MarshalJSON() ([]byte, error) {
	out := instanceJSON{
		ID:         i.ID,
		Type:       i.Type,
		State:      i.State,
		CloudState: i.CloudState,
	}
	if i.Attributes != nil {
		raw, err := json.Marshal(i.Attributes)
		if err != nil {
			return nil, NewUnexpectedInternalError("encoding instance attributes", err)
		}
		out.Attributes = &attributesEnvelope{
			Type:       i.Attributes.ResourceType(),
			Attributes: raw,
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the instance, recovering the concrete attribute type
// from the discriminant.
func (i *Instance) UnmarshalJSON(data []byte) error {
	var in instanceJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return NewUnexpectedRemoteError("decoding instance", err)
	}
	i.ID = in.ID
	i.Type = in.Type
	i.State = in.State
	i.CloudState = in.CloudState
	i.Attributes = nil
	if in.Attributes == nil {
		return nil
	}
	var attrs InstanceAttributes
	switch in.Attributes.Type {
	case ResourceTypeCompute:
		attrs = &ComputeAttributes{}
	case ResourceTypeNetwork:
		attrs = &NetworkAttributes{}
	case ResourceTypeVolume:
		attrs = &VolumeAttributes{}
	case ResourceTypeAttachment:
		attrs = &AttachmentAttributes{}
	case ResourceTypePublicIP:
		attrs = &PublicIPAttributes{}
	default:
		return NewUnexpectedRemoteError(
			fmt.Sprintf("unknown instance attributes type %q", in.Attributes.Type), nil)
	}
	if err := json.Unmarshal(in.Attributes.Attributes, attrs); err != nil {
		return NewUnexpectedRemoteError(
			fmt.Sprintf("decoding %s instance attributes", in.Attributes.Type), err)
	}
	i.Attributes = attrs
	return nil
}

// orderJSON is the wire and storage form of an Order.
type orderJSON struct {
	ID              string          `json:"id"`
	Type            ResourceType    `json:"type"`
	State           OrderState      `json:"state,omitempty"`
	Requester       string          `json:"requester"`
	Provider        string          `json:"provider"`
	FederationToken string          `json:"federation_token"`
	InstanceID      string          `json:"instance_id,omitempty"`
	CachedState     string          `json:"cached_state,omitempty"`
	FaultMessage    string          `json:"fault_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Spec            json.RawMessage `json:"spec"`
}

// MarshalOrder encodes an order, spec included, as a tagged union. The caller
// is responsible for holding the order's lock if the order is shared.
func MarshalOrder(o *Order) ([]byte, error) {
	spec, err := MarshalSpec(o.Spec)
	if err != nil {
		return nil, err
	}
	return json.Marshal(orderJSON{
		ID:              o.ID,
		Type:            o.Type,
		State:           o.State,
		Requester:       o.Requester,
		Provider:        o.Provider,
		FederationToken: o.FederationToken,
		InstanceID:      o.InstanceID,
		CachedState:     o.CachedState,
		FaultMessage:    o.FaultMessage,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		Spec:            spec,
	})
}

// UnmarshalOrder decodes an order, recovering the concrete spec type. The
// returned order carries a fresh lock.
func UnmarshalOrder(data []byte) (*Order, error) {
	var in orderJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, NewUnexpectedRemoteError("decoding order", err)
	}
	spec, err := UnmarshalSpec(in.Spec)
	if err != nil {
		return nil, err
	}
	if in.Type != spec.ResourceType() {
		return nil, NewUnexpectedRemoteError(
			fmt.Sprintf("order type %q does not match spec type %q", in.Type, spec.ResourceType()), nil)
	}
	return &Order{
		ID:              in.ID,
		Type:            in.Type,
		State:           in.State,
		Requester:       in.Requester,
		Provider:        in.Provider,
		FederationToken: in.FederationToken,
		InstanceID:      in.InstanceID,
		CachedState:     in.CachedState,
		FaultMessage:    in.FaultMessage,
		CreatedAt:       in.CreatedAt,
		UpdatedAt:       in.UpdatedAt,
		Spec:            spec,
	}, nil
}
