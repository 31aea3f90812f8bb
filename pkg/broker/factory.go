package broker

import "sync"

// RemoteConnectorBuilder constructs a connector bound to one remote
// provider. The federation layer supplies the implementation; keeping it a
// function avoids the core depending on any transport.
type RemoteConnectorBuilder func(providerID string) CloudConnector

// ConnectorFactory decides, once and in one place, whether an operation runs
// against the local clouds or is forwarded to a remote provider. Every other
// component is oblivious to the distinction.
type ConnectorFactory struct {
	localProviderID string
	local           CloudConnector
	buildRemote     RemoteConnectorBuilder

	mu      sync.Mutex
	remotes map[string]CloudConnector
}

// NewConnectorFactory creates the factory for this provider.
func NewConnectorFactory(localProviderID string, local CloudConnector,
	buildRemote RemoteConnectorBuilder) *ConnectorFactory {
	return &ConnectorFactory{
		localProviderID: localProviderID,
		local:           local,
		buildRemote:     buildRemote,
		remotes:         make(map[string]CloudConnector),
	}
}

// Get returns the local connector iff providerID equals this provider's own
// id, otherwise a remote connector bound to that provider. Remote connectors
// are cached per provider id.
func (f *ConnectorFactory) Get(providerID string) CloudConnector {
	if providerID == f.localProviderID {
		return f.local
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if conn, ok := f.remotes[providerID]; ok {
		return conn
	}
	conn := f.buildRemote(providerID)
	f.remotes[providerID] = conn
	return conn
}

// ForOrder returns the connector serving the order's providing provider.
func (f *ConnectorFactory) ForOrder(order *Order) CloudConnector {
	return f.Get(order.Provider)
}
