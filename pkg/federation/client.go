package federation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fedbroker/fedbroker/pkg/broker"
	"github.com/fedbroker/fedbroker/pkg/telemetry"
)

// Client issues synchronous federation RPCs to remote providers. Every call
// blocks for the reply or the timeout; there is no outbound queueing, the
// processors' re-scan loops provide the retries.
type Client struct {
	transport       Transport
	localProviderID string
	timeout         time.Duration
	log             *telemetry.Logger
	metrics         *telemetry.Metrics
}

// NewClient creates a federation client identifying itself as
// localProviderID on every request.
func NewClient(transport Transport, localProviderID string, timeout time.Duration,
	log *telemetry.Logger, metrics *telemetry.Metrics) *Client {
	return &Client{
		transport:       transport,
		localProviderID: localProviderID,
		timeout:         timeout,
		log:             log.NewComponentLogger("federation-client"),
		metrics:         metrics,
	}
}

// CreateOrder forwards a full order to its providing side for activation.
func (c *Client) CreateOrder(ctx context.Context, order *broker.Order) error {
	raw, err := broker.MarshalOrder(order)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, order.Provider, KindCreateOrder, CreateOrderRequest{Order: raw})
	return err
}

// DeleteOrder asks the providing side to delete an order's instance.
func (c *Client) DeleteOrder(ctx context.Context, providerID, orderID, federationToken string) error {
	_, err := c.call(ctx, providerID, KindDeleteOrder, DeleteOrderRequest{
		OrderID:         orderID,
		FederationToken: federationToken,
	})
	return err
}

// GetInstance fetches the instance projection of a remotely hosted order.
func (c *Client) GetInstance(ctx context.Context, providerID, orderID, federationToken string) (*broker.Instance, error) {
	payload, err := c.call(ctx, providerID, KindGetInstance, GetInstanceRequest{
		OrderID:         orderID,
		FederationToken: federationToken,
	})
	if err != nil {
		return nil, err
	}
	instance := &broker.Instance{}
	if err := json.Unmarshal(payload, instance); err != nil {
		return nil, broker.NewUnexpectedRemoteError("decoding instance payload", err)
	}
	return instance, nil
}

// GetUserQuota fetches the user's quota at a remote provider.
func (c *Client) GetUserQuota(ctx context.Context, providerID, federationToken string,
	resourceType broker.ResourceType) (*broker.Quota, error) {
	payload, err := c.call(ctx, providerID, KindGetUserQuota, GetUserQuotaRequest{
		ResourceType:    resourceType,
		FederationToken: federationToken,
	})
	if err != nil {
		return nil, err
	}
	quota := &broker.Quota{}
	if err := json.Unmarshal(payload, quota); err != nil {
		return nil, broker.NewUnexpectedRemoteError("decoding quota payload", err)
	}
	return quota, nil
}

// GetAllImages fetches a remote provider's image catalogue.
func (c *Client) GetAllImages(ctx context.Context, providerID, federationToken string) (map[string]string, error) {
	payload, err := c.call(ctx, providerID, KindGetAllImages, GetAllImagesRequest{
		FederationToken: federationToken,
	})
	if err != nil {
		return nil, err
	}
	images := map[string]string{}
	if err := json.Unmarshal(payload, &images); err != nil {
		return nil, broker.NewUnexpectedRemoteError("decoding image catalogue payload", err)
	}
	return images, nil
}

// GetImage fetches one image by id from a remote provider.
func (c *Client) GetImage(ctx context.Context, providerID, imageID, federationToken string) (*broker.Image, error) {
	payload, err := c.call(ctx, providerID, KindGetImage, GetImageRequest{
		ImageID:         imageID,
		FederationToken: federationToken,
	})
	if err != nil {
		return nil, err
	}
	image := &broker.Image{}
	if err := json.Unmarshal(payload, image); err != nil {
		return nil, broker.NewUnexpectedRemoteError("decoding image payload", err)
	}
	return image, nil
}

// call performs one request/reply round trip and translates every failure
// mode into the requester-side error taxonomy.
func (c *Client) call(ctx context.Context, providerID string, kind RequestKind, payload any) (json.RawMessage, error) {
	start := time.Now()
	result, err := c.doCall(ctx, providerID, kind, payload)
	outcome := "ok"
	if err != nil {
		outcome = string(broker.KindOf(err))
	}
	c.metrics.ObserveFederationRequest(string(kind), outcome, time.Since(start))
	return result, err
}

func (c *Client) doCall(ctx context.Context, providerID string, kind RequestKind, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, broker.NewUnexpectedInternalError("encoding request payload", err)
	}
	env := Envelope{
		Kind:      kind,
		RequestID: uuid.NewString(),
		Requester: c.localProviderID,
		Provider:  providerID,
		SentAt:    time.Now().UTC(),
		Payload:   body,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, broker.NewUnexpectedInternalError("encoding request envelope", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.log.WithProviderID(providerID).WithRequestID(env.RequestID).
		Debugf("sending %s request", kind)

	reply, err := c.transport.Request(ctx, providerID, data)
	if err != nil {
		switch {
		case errors.Is(err, ErrProviderUnreachable):
			return nil, broker.NewProviderUnavailableError(
				"provider "+providerID+" unreachable", err)
		case errors.Is(err, ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
			return nil, broker.NewProviderUnavailableError(
				"request to provider "+providerID+" timed out", err)
		default:
			return nil, broker.NewUnexpectedRemoteError(
				"transport failure talking to provider "+providerID, err)
		}
	}

	var resp Response
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, broker.NewUnexpectedRemoteError("decoding response envelope", err)
	}
	if resp.RequestID != env.RequestID {
		return nil, broker.NewUnexpectedRemoteError(
			"response correlation id does not match request", nil)
	}
	if resp.Error != nil {
		return nil, ErrorForCondition(resp.Error.Condition, resp.Error.Message)
	}
	return resp.Payload, nil
}
