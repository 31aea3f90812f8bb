package broker

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a broker error for retry and user-visibility decisions.
type ErrorKind string

const (
	// ErrorKindValidation indicates bad user input, rejected before the
	// order ever touches the registry.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindUnauthorized indicates that federation or cloud
	// authentication/authorization was denied.
	ErrorKindUnauthorized ErrorKind = "unauthorized"

	// ErrorKindInstanceNotFound indicates the cloud-side resource has
	// vanished. Delete treats it as success; Get treats it as a failure
	// transition trigger.
	ErrorKindInstanceNotFound ErrorKind = "instance_not_found"

	// ErrorKindDuplicateOrder indicates an order id that already exists
	// in the registry.
	ErrorKindDuplicateOrder ErrorKind = "duplicate_order"

	// ErrorKindProviderUnavailable indicates the remote provider is
	// unreachable or timed out. Retryable by re-scan, never surfaced by
	// failing the order on a single occurrence.
	ErrorKindProviderUnavailable ErrorKind = "provider_unavailable"

	// ErrorKindUnexpectedRemote indicates a malformed or otherwise
	// unexpected response from a remote provider.
	ErrorKindUnexpectedRemote ErrorKind = "unexpected_remote"

	// ErrorKindUnexpectedInternal indicates a plugin or protocol contract
	// violation on this side. Logged with full context, order failed.
	ErrorKindUnexpectedInternal ErrorKind = "unexpected_internal"
)

// Error is the classified error carried across the connector boundary.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind

	// Message is the human-readable error message.
	Message string

	// OrderID is the order that triggered the error, if applicable.
	OrderID string

	// Operation is the connector operation being performed.
	Operation string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.OrderID != "" {
		msg = fmt.Sprintf("%s (order=%s)", msg, e.OrderID)
	}
	if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is: two broker errors match when
// their kinds match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithOrder adds order context to an error.
func (e *Error) WithOrder(orderID string) *Error {
	e.OrderID = orderID
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *Error {
	return &Error{Kind: ErrorKindValidation, Message: message, Err: err}
}

// NewUnauthorizedRequestError creates a new unauthorized request error.
func NewUnauthorizedRequestError(message string, err error) *Error {
	return &Error{Kind: ErrorKindUnauthorized, Message: message, Err: err}
}

// NewInstanceNotFoundError creates a new instance-not-found error.
func NewInstanceNotFoundError(message string, err error) *Error {
	return &Error{Kind: ErrorKindInstanceNotFound, Message: message, Err: err}
}

// NewDuplicateOrderError creates a new duplicate order error.
func NewDuplicateOrderError(orderID string) *Error {
	return &Error{
		Kind:    ErrorKindDuplicateOrder,
		Message: "order id already present in registry",
		OrderID: orderID,
	}
}

// NewProviderUnavailableError creates a new provider-unavailable error.
func NewProviderUnavailableError(message string, err error) *Error {
	return &Error{Kind: ErrorKindProviderUnavailable, Message: message, Err: err}
}

// NewUnexpectedRemoteError creates a new unexpected-remote error.
func NewUnexpectedRemoteError(message string, err error) *Error {
	return &Error{Kind: ErrorKindUnexpectedRemote, Message: message, Err: err}
}

// NewUnexpectedInternalError creates a new unexpected-internal error.
func NewUnexpectedInternalError(message string, err error) *Error {
	return &Error{Kind: ErrorKindUnexpectedInternal, Message: message, Err: err}
}

// KindOf returns the classification of err, or ErrorKindUnexpectedInternal
// when err is not a broker error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrorKindUnexpectedInternal
}

// IsValidation returns true if the error is a validation error.
func IsValidation(err error) bool {
	return hasKind(err, ErrorKindValidation)
}

// IsUnauthorized returns true if the error is an authorization denial.
func IsUnauthorized(err error) bool {
	return hasKind(err, ErrorKindUnauthorized)
}

// IsInstanceNotFound returns true if the error reports a vanished instance.
func IsInstanceNotFound(err error) bool {
	return hasKind(err, ErrorKindInstanceNotFound)
}

// IsDuplicateOrder returns true if the error reports a duplicate order id.
func IsDuplicateOrder(err error) bool {
	return hasKind(err, ErrorKindDuplicateOrder)
}

// IsProviderUnavailable returns true if the error reports an unreachable
// remote provider.
func IsProviderUnavailable(err error) bool {
	return hasKind(err, ErrorKindProviderUnavailable)
}

// IsRetryable returns true if the triggering operation should be retried on
// the next processor scan instead of failing the order.
func IsRetryable(err error) bool {
	return IsProviderUnavailable(err)
}

func hasKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
