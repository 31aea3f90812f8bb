package federation

import (
	"context"
	"encoding/json"

	"github.com/fedbroker/fedbroker/pkg/broker"
	"github.com/fedbroker/fedbroker/pkg/telemetry"
)

// Facade is the providing-side half of the federation protocol: it decodes
// inbound envelopes, dispatches them to the order controller, and encodes
// results or classified errors back onto the wire. Every request gets a
// reply, malformed ones included.
type Facade struct {
	localProviderID string
	controller      *broker.OrderController
	log             *telemetry.Logger
	metrics         *telemetry.Metrics
}

// NewFacade creates the inbound request facade.
func NewFacade(localProviderID string, controller *broker.OrderController,
	log *telemetry.Logger, metrics *telemetry.Metrics) *Facade {
	return &Facade{
		localProviderID: localProviderID,
		controller:      controller,
		log:             log.NewComponentLogger("federation-facade"),
		metrics:         metrics,
	}
}

// Handler returns the transport handler serving this facade.
func (f *Facade) Handler() Handler {
	return f.HandleRequest
}

// HandleRequest serves one inbound federation request end to end.
func (f *Facade) HandleRequest(ctx context.Context, data []byte) []byte {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.metrics.ObserveFederationInbound("malformed", string(ConditionBadRequest))
		return encodeResponse(Response{
			Error: &WireError{Condition: ConditionBadRequest, Message: "malformed request envelope"},
		})
	}

	log := f.log.WithProviderID(env.Requester).WithRequestID(env.RequestID)
	payload, err := f.dispatch(ctx, &env)

	resp := Response{RequestID: env.RequestID}
	outcome := "ok"
	if err != nil {
		condition := ConditionForError(err)
		outcome = string(condition)
		resp.Error = &WireError{Condition: condition, Message: err.Error()}
		log.WithError(err).Warnf("%s request failed", env.Kind)
	} else {
		resp.Payload = payload
		log.Debugf("%s request served", env.Kind)
	}
	f.metrics.ObserveFederationInbound(string(env.Kind), outcome)
	return encodeResponse(resp)
}

// dispatch routes one decoded envelope to the matching controller operation.
func (f *Facade) dispatch(ctx context.Context, env *Envelope) (json.RawMessage, error) {
	if env.Provider != f.localProviderID {
		return nil, broker.NewValidationError(
			"request addressed to provider "+env.Provider+", served by "+f.localProviderID, nil)
	}
	if env.Requester == "" {
		return nil, broker.NewValidationError("request carries no requester id", nil)
	}

	switch env.Kind {
	case KindCreateOrder:
		return f.createOrder(ctx, env)
	case KindDeleteOrder:
		return f.deleteOrder(ctx, env)
	case KindGetInstance:
		return f.getInstance(ctx, env)
	case KindGetUserQuota:
		return f.getUserQuota(ctx, env)
	case KindGetAllImages:
		return f.getAllImages(ctx, env)
	case KindGetImage:
		return f.getImage(ctx, env)
	default:
		return nil, broker.NewValidationError("unknown request kind "+string(env.Kind), nil)
	}
}

func (f *Facade) createOrder(ctx context.Context, env *Envelope) (json.RawMessage, error) {
	var req CreateOrderRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, broker.NewValidationError("malformed create_order payload", err)
	}
	order, err := broker.UnmarshalOrder(req.Order)
	if err != nil {
		return nil, err
	}
	if order.Provider != f.localProviderID {
		return nil, broker.NewValidationError(
			"order names provider "+order.Provider+", served by "+f.localProviderID, nil)
	}
	if order.Requester != env.Requester {
		return nil, broker.NewUnauthorizedRequestError(
			"order requester does not match the sending provider", nil)
	}
	// The requesting side tracks its own lifecycle; here the order starts
	// fresh and the local processors drive it from open.
	order.State = ""
	order.InstanceID = ""
	order.CachedState = ""
	order.FaultMessage = ""
	return nil, f.controller.Activate(ctx, order)
}

func (f *Facade) deleteOrder(ctx context.Context, env *Envelope) (json.RawMessage, error) {
	var req DeleteOrderRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, broker.NewValidationError("malformed delete_order payload", err)
	}
	if err := f.authorizeOrderAccess(req.OrderID, env.Requester); err != nil {
		return nil, err
	}
	return nil, f.controller.Delete(ctx, req.OrderID)
}

func (f *Facade) getInstance(ctx context.Context, env *Envelope) (json.RawMessage, error) {
	var req GetInstanceRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, broker.NewValidationError("malformed get_instance payload", err)
	}
	if err := f.authorizeOrderAccess(req.OrderID, env.Requester); err != nil {
		return nil, err
	}
	instance, err := f.controller.GetResourceInstance(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	return encodePayload(instance)
}

func (f *Facade) getUserQuota(ctx context.Context, env *Envelope) (json.RawMessage, error) {
	var req GetUserQuotaRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, broker.NewValidationError("malformed get_user_quota payload", err)
	}
	quota, err := f.controller.GetUserQuota(ctx, f.localProviderID, req.FederationToken, req.ResourceType)
	if err != nil {
		return nil, err
	}
	return encodePayload(quota)
}

func (f *Facade) getAllImages(ctx context.Context, env *Envelope) (json.RawMessage, error) {
	var req GetAllImagesRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, broker.NewValidationError("malformed get_all_images payload", err)
	}
	images, err := f.controller.GetAllImages(ctx, f.localProviderID, req.FederationToken)
	if err != nil {
		return nil, err
	}
	return encodePayload(images)
}

func (f *Facade) getImage(ctx context.Context, env *Envelope) (json.RawMessage, error) {
	var req GetImageRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, broker.NewValidationError("malformed get_image payload", err)
	}
	image, err := f.controller.GetImage(ctx, f.localProviderID, req.ImageID, req.FederationToken)
	if err != nil {
		return nil, err
	}
	return encodePayload(image)
}

// authorizeOrderAccess ensures the sending provider is the one that
// submitted the order. Another member probing foreign order ids gets a
// forbidden, not a not-found, leak-free either way since order ids are
// unguessable UUIDs.
func (f *Facade) authorizeOrderAccess(orderID, requester string) error {
	order, err := f.controller.Get(orderID)
	if err != nil {
		return err
	}
	if order.Requester != requester {
		return broker.NewUnauthorizedRequestError(
			"order belongs to another requesting provider", nil).WithOrder(orderID)
	}
	return nil
}

func encodePayload(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, broker.NewUnexpectedInternalError("encoding response payload", err)
	}
	return raw, nil
}

// encodeResponse never fails: a Response is marshalable by construction.
func encodeResponse(resp Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"error":{"condition":"internal_error","message":"encoding response"}}`)
	}
	return data
}
