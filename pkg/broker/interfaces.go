package broker

import (
	"context"
)

// CloudConnector hides whether an order's resources live on this provider's
// clouds or on a remote federation member. Callers never know which
// implementation they hold; the factory makes the local/remote decision once.
type CloudConnector interface {
	// RequestInstance asks the providing side to allocate the resource the
	// order describes. For local orders it returns the cloud-native
	// instance id; for remote orders it returns an empty id because the
	// instance is materialized asynchronously on the remote side.
	RequestInstance(ctx context.Context, order *Order) (string, error)

	// DeleteInstance releases the order's resource. Deleting an order that
	// never got an instance, or whose instance is already gone, succeeds.
	DeleteInstance(ctx context.Context, order *Order) error

	// GetInstance returns the current projection of the order's resource.
	// The returned instance id is always the order id.
	GetInstance(ctx context.Context, order *Order) (*Instance, error)

	// GetUserQuota returns the user's quota for one resource type.
	GetUserQuota(ctx context.Context, federationToken string, resourceType ResourceType) (*Quota, error)

	// GetAllImages returns the image catalogue as id -> name.
	GetAllImages(ctx context.Context, federationToken string) (map[string]string, error)

	// GetImage returns one image by cloud-side id.
	GetImage(ctx context.Context, imageID, federationToken string) (*Image, error)
}

// CloudToken is a cloud-specific credential produced by the token mapper.
// The broker core never inspects it beyond passing it to plugins.
type CloudToken struct {
	// UserID identifies the cloud-side user.
	UserID string

	// Value is the opaque credential material.
	Value string
}

// TokenMapper resolves an opaque federation token to a cloud-specific token.
// Implementations live outside the core (credential mapping is a front-door
// concern); failures surface as unauthorized request errors.
type TokenMapper interface {
	MapToken(ctx context.Context, federationToken string) (CloudToken, error)
}

// ResourcePlugin is the per-resource-type operation set the local connector
// requires from a cloud adapter. Plugins are stateless per-call
// collaborators; any caching they do is their own concern.
type ResourcePlugin interface {
	// RequestInstance allocates a resource for the order and returns its
	// cloud-native id.
	RequestInstance(ctx context.Context, order *Order, token CloudToken) (string, error)

	// DeleteInstance releases a resource by cloud-native id. Reporting an
	// instance-not-found error for an already-gone resource is expected;
	// the connector treats it as success.
	DeleteInstance(ctx context.Context, instanceID string, token CloudToken) error

	// GetInstance fetches the resource's current status by cloud-native id.
	GetInstance(ctx context.Context, instanceID string, token CloudToken) (*Instance, error)

	// IsReady classifies a raw cloud status string as serving.
	IsReady(cloudState string) bool

	// HasFailed classifies a raw cloud status string as failed.
	HasFailed(cloudState string) bool
}

// QuotaPlugin reports per-user quota for one resource type on one cloud.
type QuotaPlugin interface {
	GetUserQuota(ctx context.Context, token CloudToken) (*Quota, error)
}

// ImagePlugin exposes the cloud's image catalogue.
type ImagePlugin interface {
	// GetAllImages returns the catalogue as id -> name.
	GetAllImages(ctx context.Context, token CloudToken) (map[string]string, error)

	// GetImage returns one image by id.
	GetImage(ctx context.Context, imageID string, token CloudToken) (*Image, error)
}

// PluginSet bundles the cloud plugins this provider is configured with, one
// resource plugin per resource type plus the quota and image plugins.
type PluginSet struct {
	resources map[ResourceType]ResourcePlugin
	quota     QuotaPlugin
	images    ImagePlugin
}

// NewPluginSet creates an empty plugin set.
func NewPluginSet() *PluginSet {
	return &PluginSet{resources: make(map[ResourceType]ResourcePlugin)}
}

// RegisterResource installs the plugin serving one resource type.
func (p *PluginSet) RegisterResource(t ResourceType, plugin ResourcePlugin) *PluginSet {
	p.resources[t] = plugin
	return p
}

// RegisterQuota installs the quota plugin.
func (p *PluginSet) RegisterQuota(plugin QuotaPlugin) *PluginSet {
	p.quota = plugin
	return p
}

// RegisterImages installs the image plugin.
func (p *PluginSet) RegisterImages(plugin ImagePlugin) *PluginSet {
	p.images = plugin
	return p
}

// Resource returns the plugin for a resource type, or an internal error when
// the provider is not configured for that type.
func (p *PluginSet) Resource(t ResourceType) (ResourcePlugin, error) {
	plugin, ok := p.resources[t]
	if !ok {
		return nil, NewUnexpectedInternalError(
			"no plugin registered for resource type "+string(t), nil)
	}
	return plugin, nil
}

// Quota returns the quota plugin.
func (p *PluginSet) Quota() (QuotaPlugin, error) {
	if p.quota == nil {
		return nil, NewUnexpectedInternalError("no quota plugin registered", nil)
	}
	return p.quota, nil
}

// Images returns the image plugin.
func (p *PluginSet) Images() (ImagePlugin, error) {
	if p.images == nil {
		return nil, NewUnexpectedInternalError("no image plugin registered", nil)
	}
	return p.images, nil
}

// OrderStore is the persistence hook behind the registry. Orders are written
// through on every add and state move so a restart can rebuild the
// partitions.
type OrderStore interface {
	// SaveOrder inserts or replaces the durable record of an order.
	SaveOrder(ctx context.Context, order *Order) error

	// ListActiveOrders returns every stored order that is not closed.
	ListActiveOrders(ctx context.Context) ([]*Order, error)
}
