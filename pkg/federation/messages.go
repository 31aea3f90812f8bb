package federation

import (
	"encoding/json"
	"time"

	"github.com/fedbroker/fedbroker/pkg/broker"
)

// RequestKind identifies a federation RPC operation. The kind is the wire
// discriminant: the receiver selects the payload type from it, never from
// any type name in the payload.
type RequestKind string

const (
	// KindCreateOrder activates an order on the providing side.
	KindCreateOrder RequestKind = "create_order"

	// KindDeleteOrder deletes a remotely hosted order's instance.
	KindDeleteOrder RequestKind = "delete_order"

	// KindGetInstance fetches the instance projection of a remote order.
	KindGetInstance RequestKind = "get_instance"

	// KindGetUserQuota fetches a user's quota at the providing side.
	KindGetUserQuota RequestKind = "get_user_quota"

	// KindGetAllImages fetches the providing side's image catalogue.
	KindGetAllImages RequestKind = "get_all_images"

	// KindGetImage fetches one image by id from the providing side.
	KindGetImage RequestKind = "get_image"
)

// Envelope frames every federation request: who is asking, who should
// answer, a correlation id, and the kind-specific payload.
type Envelope struct {
	// Kind selects the operation and the payload type.
	Kind RequestKind `json:"kind"`

	// RequestID correlates the reply with the request.
	RequestID string `json:"request_id"`

	// Requester is the provider id of the sending side.
	Requester string `json:"requester"`

	// Provider is the provider id the request is addressed to.
	Provider string `json:"provider"`

	// SentAt is when the request was sent, for diagnostics.
	SentAt time.Time `json:"sent_at"`

	// Payload is the kind-specific request body.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CreateOrderRequest carries a full order, spec included, to the providing
// side. The order travels in its tagged-union encoding.
type CreateOrderRequest struct {
	// Order is the order in wire encoding (see broker.MarshalOrder).
	Order json.RawMessage `json:"order"`
}

// DeleteOrderRequest asks the providing side to delete an order's instance.
type DeleteOrderRequest struct {
	// OrderID is the shared order id.
	OrderID string `json:"order_id"`

	// FederationToken authenticates the requesting user.
	FederationToken string `json:"federation_token"`
}

// GetInstanceRequest asks for the instance projection of an order.
type GetInstanceRequest struct {
	// OrderID is the shared order id.
	OrderID string `json:"order_id"`

	// FederationToken authenticates the requesting user.
	FederationToken string `json:"federation_token"`
}

// GetUserQuotaRequest asks for a user's quota for one resource type.
type GetUserQuotaRequest struct {
	// ResourceType is the resource type the quota applies to.
	ResourceType broker.ResourceType `json:"resource_type"`

	// FederationToken authenticates the requesting user.
	FederationToken string `json:"federation_token"`
}

// GetAllImagesRequest asks for the image catalogue.
type GetAllImagesRequest struct {
	// FederationToken authenticates the requesting user.
	FederationToken string `json:"federation_token"`
}

// GetImageRequest asks for one image by cloud-side id.
type GetImageRequest struct {
	// ImageID is the cloud-side image id.
	ImageID string `json:"image_id"`

	// FederationToken authenticates the requesting user.
	FederationToken string `json:"federation_token"`
}

// ErrorCondition is the transport-neutral failure category carried in a
// response. Conditions, not Go error types, cross the federation boundary;
// each side translates to and from its own error taxonomy.
type ErrorCondition string

const (
	// ConditionBadRequest reports a malformed or invalid request.
	ConditionBadRequest ErrorCondition = "bad_request"

	// ConditionForbidden reports an authentication or authorization denial.
	ConditionForbidden ErrorCondition = "forbidden"

	// ConditionNotFound reports a missing order or instance.
	ConditionNotFound ErrorCondition = "not_found"

	// ConditionConflict reports a duplicate order id.
	ConditionConflict ErrorCondition = "conflict"

	// ConditionUnavailable reports that the providing side could not reach
	// a dependency it needed (its own cloud or a further remote).
	ConditionUnavailable ErrorCondition = "unavailable"

	// ConditionInternalError reports any other providing-side failure.
	ConditionInternalError ErrorCondition = "internal_error"
)

// WireError is the failure half of a response.
type WireError struct {
	// Condition is the failure category.
	Condition ErrorCondition `json:"condition"`

	// Message is a human-readable description. Diagnostic only, never
	// parsed by the receiving side.
	Message string `json:"message,omitempty"`
}

// Response is the reply to one Envelope. Exactly one of Error and Payload
// is meaningful; a successful operation with no result carries neither.
type Response struct {
	// RequestID echoes the request's correlation id.
	RequestID string `json:"request_id"`

	// Error is set when the operation failed.
	Error *WireError `json:"error,omitempty"`

	// Payload is the kind-specific result body.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConditionForError maps a providing-side error to the wire condition the
// requesting side will see.
func ConditionForError(err error) ErrorCondition {
	switch broker.KindOf(err) {
	case broker.ErrorKindValidation:
		return ConditionBadRequest
	case broker.ErrorKindUnauthorized:
		return ConditionForbidden
	case broker.ErrorKindInstanceNotFound:
		return ConditionNotFound
	case broker.ErrorKindDuplicateOrder:
		return ConditionConflict
	case broker.ErrorKindProviderUnavailable:
		return ConditionUnavailable
	default:
		return ConditionInternalError
	}
}

// ErrorForCondition maps a received wire condition back to a requester-side
// error. Unknown conditions are a protocol violation and classify as
// unexpected-remote.
func ErrorForCondition(condition ErrorCondition, message string) error {
	switch condition {
	case ConditionBadRequest:
		return broker.NewValidationError(message, nil)
	case ConditionForbidden:
		return broker.NewUnauthorizedRequestError(message, nil)
	case ConditionNotFound:
		return broker.NewInstanceNotFoundError(message, nil)
	case ConditionConflict:
		err := broker.NewDuplicateOrderError("")
		if message != "" {
			err.Message = message
		}
		return err
	case ConditionUnavailable:
		return broker.NewProviderUnavailableError(message, nil)
	case ConditionInternalError:
		return broker.NewUnexpectedRemoteError(message, nil)
	default:
		return broker.NewUnexpectedRemoteError(
			"unknown error condition "+string(condition)+": "+message, nil)
	}
}
