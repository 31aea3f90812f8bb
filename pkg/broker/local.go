package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fedbroker/fedbroker/pkg/telemetry"
)

// LocalConnector executes connector operations against this provider's own
// cloud plugins. Operations that touch an order's mutable fields assume the
// caller holds that order's lock, which is how processors and the controller
// invoke them.
type LocalConnector struct {
	providerID string
	plugins    *PluginSet
	tokens     TokenMapper
	registry   *Registry
	log        *telemetry.Logger
	metrics    *telemetry.Metrics
}

// NewLocalConnector creates the connector for this provider's clouds.
func NewLocalConnector(providerID string, plugins *PluginSet, tokens TokenMapper,
	registry *Registry, log *telemetry.Logger, metrics *telemetry.Metrics) *LocalConnector {
	return &LocalConnector{
		providerID: providerID,
		plugins:    plugins,
		tokens:     tokens,
		registry:   registry,
		log:        log.NewComponentLogger("local-connector"),
		metrics:    metrics,
	}
}

// RequestInstance dispatches the order to the matching plugin. Cross-order
// references inside the spec (network order ids, attachment endpoints) are
// substituted with instance ids for the duration of the plugin call and
// restored afterwards, success or failure.
func (c *LocalConnector) RequestInstance(ctx context.Context, order *Order) (string, error) {
	start := time.Now()
	instanceID, err := c.requestInstance(ctx, order)
	c.observe("request_instance", start, err)
	return instanceID, err
}

func (c *LocalConnector) requestInstance(ctx context.Context, order *Order) (string, error) {
	token, err := c.mapToken(ctx, order.FederationToken)
	if err != nil {
		return "", err
	}
	plugin, err := c.plugins.Resource(order.Type)
	if err != nil {
		return "", err
	}

	restore, err := c.substituteOrderIDs(order)
	if err != nil {
		return "", err
	}
	defer restore()

	instanceID, err := plugin.RequestInstance(ctx, order, token)
	if err != nil {
		return "", c.classify(err, "request_instance", order.ID)
	}
	if instanceID == "" {
		// A plugin returning no id without an error is a contract
		// violation, not a user error.
		return "", NewUnexpectedInternalError("plugin returned empty instance id", nil).
			WithOperation("request_instance").WithOrder(order.ID)
	}
	c.log.WithOrderID(order.ID).Debugf("plugin allocated instance %s", instanceID)
	return instanceID, nil
}

// DeleteInstance releases the order's cloud resource. Orders that never got
// an instance, and instances already gone, both count as success: cloud-side
// deletion is not exactly-once.
func (c *LocalConnector) DeleteInstance(ctx context.Context, order *Order) error {
	start := time.Now()
	err := c.deleteInstance(ctx, order)
	c.observe("delete_instance", start, err)
	return err
}

func (c *LocalConnector) deleteInstance(ctx context.Context, order *Order) error {
	if order.InstanceID == "" {
		return nil
	}
	token, err := c.mapToken(ctx, order.FederationToken)
	if err != nil {
		return err
	}
	plugin, err := c.plugins.Resource(order.Type)
	if err != nil {
		return err
	}
	if err := plugin.DeleteInstance(ctx, order.InstanceID, token); err != nil {
		if IsInstanceNotFound(err) {
			c.log.WithOrderID(order.ID).Debug("instance already gone, treating delete as success")
		} else {
			return c.classify(err, "delete_instance", order.ID)
		}
	}
	order.InstanceID = ""
	return nil
}

// GetInstance returns the current projection of the order's resource. Orders
// without an instance id never hit the network: a placeholder instance is
// synthesized from the order's own state. For live instances, the raw cloud
// state is stamped on the order and the instance id is rewritten to the
// order id before returning.
func (c *LocalConnector) GetInstance(ctx context.Context, order *Order) (*Instance, error) {
	start := time.Now()
	instance, err := c.getInstance(ctx, order)
	c.observe("get_instance", start, err)
	return instance, err
}

func (c *LocalConnector) getInstance(ctx context.Context, order *Order) (*Instance, error) {
	if order.InstanceID == "" {
		return c.synthesizeInstance(order)
	}

	token, err := c.mapToken(ctx, order.FederationToken)
	if err != nil {
		return nil, err
	}
	plugin, err := c.plugins.Resource(order.Type)
	if err != nil {
		return nil, err
	}
	instance, err := plugin.GetInstance(ctx, order.InstanceID, token)
	if err != nil {
		return nil, c.classify(err, "get_instance", order.ID)
	}

	order.CachedState = instance.CloudState
	instance.State = classifyCloudState(plugin, instance.CloudState)
	// Users address resources by order id, never by cloud-native id.
	instance.ID = order.ID
	instance.Type = order.Type
	return instance, nil
}

// synthesizeInstance builds the placeholder returned for orders that never
// reached the provider.
func (c *LocalConnector) synthesizeInstance(order *Order) (*Instance, error) {
	instance := &Instance{ID: order.ID, Type: order.Type}
	switch order.State {
	case StateOpen, StatePending:
		instance.State = InstanceStateDispatched
	case StateFailed:
		instance.State = InstanceStateFailed
	case StateDeactivated, StateClosed:
		return nil, NewInstanceNotFoundError("order has been deleted", nil).WithOrder(order.ID)
	default:
		c.log.WithOrderID(order.ID).Warnf("no instance id in state %s", order.State)
		instance.State = InstanceStateUnknown
	}
	return instance, nil
}

// GetUserQuota computes the user's quota from the quota plugin; it is never
// cached.
func (c *LocalConnector) GetUserQuota(ctx context.Context, federationToken string, resourceType ResourceType) (*Quota, error) {
	start := time.Now()
	quota, err := c.getUserQuota(ctx, federationToken, resourceType)
	c.observe("get_user_quota", start, err)
	return quota, err
}

func (c *LocalConnector) getUserQuota(ctx context.Context, federationToken string, resourceType ResourceType) (*Quota, error) {
	if resourceType != ResourceTypeCompute {
		return nil, NewValidationError(
			fmt.Sprintf("quota is not supported for resource type %s", resourceType), nil)
	}
	token, err := c.mapToken(ctx, federationToken)
	if err != nil {
		return nil, err
	}
	plugin, err := c.plugins.Quota()
	if err != nil {
		return nil, err
	}
	quota, err := plugin.GetUserQuota(ctx, token)
	if err != nil {
		return nil, c.classify(err, "get_user_quota", "")
	}
	return quota, nil
}

// GetAllImages returns the image catalogue as id -> name.
func (c *LocalConnector) GetAllImages(ctx context.Context, federationToken string) (map[string]string, error) {
	start := time.Now()
	images, err := c.getAllImages(ctx, federationToken)
	c.observe("get_all_images", start, err)
	return images, err
}

func (c *LocalConnector) getAllImages(ctx context.Context, federationToken string) (map[string]string, error) {
	token, err := c.mapToken(ctx, federationToken)
	if err != nil {
		return nil, err
	}
	plugin, err := c.plugins.Images()
	if err != nil {
		return nil, err
	}
	images, err := plugin.GetAllImages(ctx, token)
	if err != nil {
		return nil, c.classify(err, "get_all_images", "")
	}
	return images, nil
}

// GetImage returns one image by cloud-side id.
func (c *LocalConnector) GetImage(ctx context.Context, imageID, federationToken string) (*Image, error) {
	start := time.Now()
	image, err := c.getImage(ctx, imageID, federationToken)
	c.observe("get_image", start, err)
	return image, err
}

func (c *LocalConnector) getImage(ctx context.Context, imageID, federationToken string) (*Image, error) {
	token, err := c.mapToken(ctx, federationToken)
	if err != nil {
		return nil, err
	}
	plugin, err := c.plugins.Images()
	if err != nil {
		return nil, err
	}
	image, err := plugin.GetImage(ctx, imageID, token)
	if err != nil {
		return nil, c.classify(err, "get_image", "")
	}
	return image, nil
}

// substituteOrderIDs swaps cross-order references in the spec for the
// referenced orders' instance ids and returns the restore function. The
// caller must invoke restore exactly once, normally via defer, so the
// user-visible order never mutates permanently.
func (c *LocalConnector) substituteOrderIDs(order *Order) (func(), error) {
	switch spec := order.Spec.(type) {
	case *ComputeSpec:
		saved := spec.NetworkOrderIDs
		resolved := make([]string, len(saved))
		for i, orderID := range saved {
			id, err := c.resolveInstanceID(orderID)
			if err != nil {
				return nil, err
			}
			resolved[i] = id
		}
		spec.NetworkOrderIDs = resolved
		return func() { spec.NetworkOrderIDs = saved }, nil

	case *AttachmentSpec:
		savedCompute, savedVolume := spec.ComputeOrderID, spec.VolumeOrderID
		computeID, err := c.resolveInstanceID(savedCompute)
		if err != nil {
			return nil, err
		}
		volumeID, err := c.resolveInstanceID(savedVolume)
		if err != nil {
			return nil, err
		}
		spec.ComputeOrderID, spec.VolumeOrderID = computeID, volumeID
		return func() { spec.ComputeOrderID, spec.VolumeOrderID = savedCompute, savedVolume }, nil

	case *PublicIPSpec:
		saved := spec.ComputeOrderID
		computeID, err := c.resolveInstanceID(saved)
		if err != nil {
			return nil, err
		}
		spec.ComputeOrderID = computeID
		return func() { spec.ComputeOrderID = saved }, nil

	default:
		return func() {}, nil
	}
}

// resolveInstanceID maps a referenced order id to its cloud-native instance
// id. An active order referencing an id purged from the registry is a
// consistency-fatal condition.
func (c *LocalConnector) resolveInstanceID(orderID string) (string, error) {
	ref, ok := c.registry.Get(orderID)
	if !ok {
		return "", NewUnexpectedInternalError(
			"referenced order is not in the registry", nil).WithOrder(orderID)
	}
	return ref.InstanceID, nil
}

// mapToken resolves the opaque federation token to a cloud token.
func (c *LocalConnector) mapToken(ctx context.Context, federationToken string) (CloudToken, error) {
	token, err := c.tokens.MapToken(ctx, federationToken)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return CloudToken{}, e
		}
		return CloudToken{}, NewUnauthorizedRequestError("mapping federation token", err)
	}
	return token, nil
}

// classify re-throws plugin errors as the broker taxonomy, preserving an
// already-classified error.
func (c *LocalConnector) classify(err error, operation, orderID string) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewUnexpectedInternalError("plugin call failed", err).
		WithOperation(operation).WithOrder(orderID)
}

func (c *LocalConnector) observe(operation string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
	}
	c.metrics.ObserveConnectorCall("local", operation, outcome, time.Since(start))
}

// classifyCloudState normalizes a raw provider status string through the
// plugin predicates.
func classifyCloudState(plugin ResourcePlugin, cloudState string) InstanceState {
	switch {
	case plugin.HasFailed(cloudState):
		return InstanceStateFailed
	case plugin.IsReady(cloudState):
		return InstanceStateReady
	default:
		return InstanceStateCreating
	}
}
