// Package natsbus carries the federation protocol over NATS request/reply.
// Each provider listens on its own well-known subject; the NATS server does
// the addressing, correlation and reply routing.
package natsbus

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fedbroker/fedbroker/pkg/federation"
	"github.com/fedbroker/fedbroker/pkg/telemetry"
)

// subjectPrefix namespaces all federation traffic on the shared NATS
// deployment.
const subjectPrefix = "fedbroker.rpc."

// Subject returns the subject a provider answers federation requests on.
func Subject(providerID string) string {
	return subjectPrefix + providerID
}

// Bus is the NATS-backed federation.Transport.
type Bus struct {
	nc              *nats.Conn
	localProviderID string
	log             *telemetry.Logger
	sub             *nats.Subscription
}

// Connect dials the NATS server and returns a transport identifying itself
// as localProviderID. The connection reconnects indefinitely; requests
// issued while disconnected fail fast as unreachable and are retried by the
// processors' re-scan loops.
func Connect(url, localProviderID string, log *telemetry.Logger) (*Bus, error) {
	log = log.NewComponentLogger("natsbus")
	opts := []nats.Option{
		nats.Name("fedbroker-" + localProviderID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("nats reconnected to %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Bus{nc: nc, localProviderID: localProviderID, log: log}, nil
}

// Request implements federation.Transport.
func (b *Bus) Request(ctx context.Context, providerID string, data []byte) ([]byte, error) {
	msg, err := b.nc.RequestWithContext(ctx, Subject(providerID), data)
	if err != nil {
		switch {
		case errors.Is(err, nats.ErrNoResponders), errors.Is(err, nats.ErrConnectionClosed),
			errors.Is(err, nats.ErrDisconnected):
			return nil, errors.Join(federation.ErrProviderUnreachable, err)
		case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			return nil, errors.Join(federation.ErrRequestTimeout, err)
		default:
			return nil, err
		}
	}
	return msg.Data, nil
}

// Serve implements federation.Transport. Inbound requests are handled on
// NATS delivery goroutines; the handler is already safe for concurrent use.
func (b *Bus) Serve(handler federation.Handler) error {
	sub, err := b.nc.Subscribe(Subject(b.localProviderID), func(msg *nats.Msg) {
		reply := handler(context.Background(), msg.Data)
		if err := msg.Respond(reply); err != nil {
			b.log.WithError(err).Warn("replying to federation request")
		}
	})
	if err != nil {
		return err
	}
	b.sub = sub
	b.log.Infof("serving federation requests on %s", Subject(b.localProviderID))
	return nil
}

// Close drains the subscription so in-flight requests still get replies,
// then closes the connection.
func (b *Bus) Close() error {
	if b.sub != nil {
		if err := b.sub.Drain(); err != nil {
			b.log.WithError(err).Warn("draining federation subscription")
		}
	}
	if b.nc != nil {
		if err := b.nc.Drain(); err != nil {
			b.nc.Close()
			return err
		}
	}
	return nil
}
