package federation

import (
	"context"
	"errors"
)

// ErrProviderUnreachable reports that no provider answered on the target
// address. Transport implementations wrap their native "nobody listening"
// failures in it.
var ErrProviderUnreachable = errors.New("federation: provider unreachable")

// ErrRequestTimeout reports that a request was delivered (or could not be
// proven undelivered) and no reply arrived in time.
var ErrRequestTimeout = errors.New("federation: request timed out")

// Handler serves one inbound request and returns the encoded response.
// Handlers never return an error: protocol failures are encoded into the
// response itself so the requesting side always gets a reply.
type Handler func(ctx context.Context, data []byte) []byte

// Transport moves opaque request/reply frames between federation members.
// Implementations own addressing, delivery and reply correlation; the
// protocol layer above owns encoding and error semantics.
type Transport interface {
	// Request sends data to the named provider and blocks for its reply,
	// honoring the context deadline. Unreachable providers surface as
	// ErrProviderUnreachable and elapsed deadlines as ErrRequestTimeout.
	Request(ctx context.Context, providerID string, data []byte) ([]byte, error)

	// Serve registers the handler answering requests addressed to this
	// provider. It returns once the subscription is live.
	Serve(handler Handler) error

	// Close tears the transport down, letting in-flight replies drain.
	Close() error
}
