package broker

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/fedbroker/fedbroker/pkg/telemetry"
)

// OrderController is the operation surface both the front door and the
// federation facade call: activate, delete and inspect orders, and read
// quotas and images through whichever connector serves the target provider.
type OrderController struct {
	providerID   string
	registry     *Registry
	factory      *ConnectorFactory
	transitioner *Transitioner
	validate     *validator.Validate
	log          *telemetry.Logger
	tracer       *telemetry.Tracer
}

// NewOrderController creates the controller for this provider.
func NewOrderController(providerID string, registry *Registry, factory *ConnectorFactory,
	transitioner *Transitioner, log *telemetry.Logger, tracer *telemetry.Tracer) *OrderController {
	return &OrderController{
		providerID:   providerID,
		registry:     registry,
		factory:      factory,
		transitioner: transitioner,
		validate:     validator.New(),
		log:          log.NewComponentLogger("order-controller"),
		tracer:       tracer,
	}
}

// Activate validates a new order and inserts it into the registry as open.
// From here on the processors own its lifecycle.
func (c *OrderController) Activate(ctx context.Context, order *Order) error {
	ctx, span := c.tracer.StartOrderSpan(ctx, "order.activate", order.ID)
	defer span.End()

	if err := c.validateOrder(order); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if err := c.registry.Add(ctx, order); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	c.log.WithOrderID(order.ID).Infof("activated %s order for provider %s", order.Type, order.Provider)
	return nil
}

// Delete marks the order for deletion. The deactivation processor performs
// the cloud-side cleanup asynchronously. Deleting an order that is already
// deactivated or closed is a no-op, never an error.
func (c *OrderController) Delete(ctx context.Context, orderID string) error {
	ctx, span := c.tracer.StartOrderSpan(ctx, "order.delete", orderID)
	defer span.End()

	order, ok := c.registry.Get(orderID)
	if !ok {
		err := NewInstanceNotFoundError("order not found", nil).WithOrder(orderID)
		telemetry.RecordError(span, err)
		return err
	}

	order.Lock()
	defer order.Unlock()

	switch order.State {
	case StateDeactivated, StateClosed:
		c.log.WithOrderID(orderID).Debug("delete on already deleted order, ignoring")
		return nil
	}
	if err := c.transitioner.Transition(ctx, order, StateDeactivated); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}

// Get returns the order with the given id.
func (c *OrderController) Get(orderID string) (*Order, error) {
	order, ok := c.registry.Get(orderID)
	if !ok {
		return nil, NewInstanceNotFoundError("order not found", nil).WithOrder(orderID)
	}
	return order, nil
}

// GetResourceInstance returns the current instance projection for an order,
// local or remote.
func (c *OrderController) GetResourceInstance(ctx context.Context, orderID string) (*Instance, error) {
	ctx, span := c.tracer.StartOrderSpan(ctx, "order.get_instance", orderID)
	defer span.End()

	order, err := c.Get(orderID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	order.Lock()
	defer order.Unlock()

	instance, err := c.factory.ForOrder(order).GetInstance(ctx, order)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return instance, nil
}

// GetUserQuota returns the user's quota at the given provider.
func (c *OrderController) GetUserQuota(ctx context.Context, providerID, federationToken string,
	resourceType ResourceType) (*Quota, error) {
	return c.factory.Get(providerID).GetUserQuota(ctx, federationToken, resourceType)
}

// GetUserAllocation reports the compute resources the user currently holds
// at this provider, aggregated over their fulfilled compute orders.
func (c *OrderController) GetUserAllocation(federationToken string) Allocation {
	return c.registry.UserAllocation(c.providerID, federationToken)
}

// GetAllImages returns the image catalogue of the given provider.
func (c *OrderController) GetAllImages(ctx context.Context, providerID, federationToken string) (map[string]string, error) {
	return c.factory.Get(providerID).GetAllImages(ctx, federationToken)
}

// GetImage returns one image offered by the given provider.
func (c *OrderController) GetImage(ctx context.Context, providerID, imageID, federationToken string) (*Image, error) {
	return c.factory.Get(providerID).GetImage(ctx, imageID, federationToken)
}

// validateOrder rejects bad user input before it ever touches the registry.
func (c *OrderController) validateOrder(order *Order) error {
	if order.ID == "" {
		return NewValidationError("order id is required", nil)
	}
	if order.Requester == "" || order.Provider == "" {
		return NewValidationError("requesting and providing providers are required", nil)
	}
	if order.FederationToken == "" {
		return NewValidationError("federation user token is required", nil)
	}
	if order.Spec == nil {
		return NewValidationError("order spec is required", nil)
	}
	if order.Type != order.Spec.ResourceType() {
		return NewValidationError("order type does not match its spec", nil)
	}
	if err := c.validate.Struct(order.Spec); err != nil {
		return NewValidationError("invalid order spec", err).WithOrder(order.ID)
	}
	// Cross-order references must resolve locally when this provider hosts
	// the instance; remote references are checked by the providing side.
	if order.IsProviderLocal(c.providerID) {
		for _, refID := range referencedOrderIDs(order.Spec) {
			if _, ok := c.registry.Get(refID); !ok {
				return NewValidationError("referenced order does not exist", nil).WithOrder(refID)
			}
		}
	}
	return nil
}

// referencedOrderIDs lists the order ids a spec points at.
func referencedOrderIDs(spec OrderSpec) []string {
	switch s := spec.(type) {
	case *ComputeSpec:
		return s.NetworkOrderIDs
	case *AttachmentSpec:
		return []string{s.ComputeOrderID, s.VolumeOrderID}
	case *PublicIPSpec:
		return []string{s.ComputeOrderID}
	default:
		return nil
	}
}
