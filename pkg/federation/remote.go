package federation

import (
	"context"

	"github.com/fedbroker/fedbroker/pkg/broker"
)

// RemoteConnector is the broker.CloudConnector for orders hosted by another
// federation member. It holds no cloud plugins; every operation becomes one
// federation RPC to the bound provider. The caller holds the order's lock
// for the order-scoped operations, same as with the local connector.
type RemoteConnector struct {
	providerID string
	client     *Client
}

// NewRemoteConnector binds a connector to one remote provider.
func NewRemoteConnector(providerID string, client *Client) *RemoteConnector {
	return &RemoteConnector{providerID: providerID, client: client}
}

// ConnectorBuilder adapts the client into the builder the connector factory
// injects into the broker core.
func ConnectorBuilder(client *Client) broker.RemoteConnectorBuilder {
	return func(providerID string) broker.CloudConnector {
		return NewRemoteConnector(providerID, client)
	}
}

// RequestInstance forwards the order to its providing side. It returns an
// empty instance id: the instance materializes remotely and is observed
// later through GetInstance. A duplicate report means an earlier create
// landed but its reply was lost; the providing side holds the order, so the
// retry counts as accepted.
func (r *RemoteConnector) RequestInstance(ctx context.Context, order *broker.Order) (string, error) {
	err := r.client.CreateOrder(ctx, order)
	if err != nil && !broker.IsDuplicateOrder(err) {
		return "", err
	}
	return "", nil
}

// DeleteInstance asks the providing side to delete the order's instance. A
// providing side that no longer knows the order reports not-found; the
// resource is gone either way, so that counts as success.
func (r *RemoteConnector) DeleteInstance(ctx context.Context, order *broker.Order) error {
	err := r.client.DeleteOrder(ctx, r.providerID, order.ID, order.FederationToken)
	if broker.IsInstanceNotFound(err) {
		return nil
	}
	return err
}

// GetInstance fetches the order's instance projection from the providing
// side.
func (r *RemoteConnector) GetInstance(ctx context.Context, order *broker.Order) (*broker.Instance, error) {
	return r.client.GetInstance(ctx, r.providerID, order.ID, order.FederationToken)
}

// GetUserQuota fetches the user's quota at the bound provider.
func (r *RemoteConnector) GetUserQuota(ctx context.Context, federationToken string,
	resourceType broker.ResourceType) (*broker.Quota, error) {
	return r.client.GetUserQuota(ctx, r.providerID, federationToken, resourceType)
}

// GetAllImages fetches the bound provider's image catalogue.
func (r *RemoteConnector) GetAllImages(ctx context.Context, federationToken string) (map[string]string, error) {
	return r.client.GetAllImages(ctx, r.providerID, federationToken)
}

// GetImage fetches one image by id from the bound provider.
func (r *RemoteConnector) GetImage(ctx context.Context, imageID, federationToken string) (*broker.Image, error) {
	return r.client.GetImage(ctx, r.providerID, imageID, federationToken)
}
