// Package devcloud is an in-memory cloud for local development and tests.
// It provisions instantly-addressable fake resources that pass through a
// short "building" phase before becoming active, so the full order
// lifecycle, placeholder synthesis included, is observable without any real
// cloud behind the broker.
package devcloud

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/fedbroker/fedbroker/pkg/broker"
)

// Cloud state strings reported by the fake provider.
const (
	stateBuilding = "BUILD"
	stateActive   = "ACTIVE"
	stateError    = "ERROR"
)

// readyAfterPolls is how many status polls a resource spends building
// before it turns active.
const readyAfterPolls = 2

type resource struct {
	id    string
	typ   broker.ResourceType
	spec  broker.OrderSpec
	polls int
}

// Cloud is the in-memory provider. One Cloud instance backs every plugin
// interface the broker needs, token mapping included.
type Cloud struct {
	mu        sync.Mutex
	resources map[string]*resource
	images    map[string]broker.Image
	quota     broker.Allocation
}

// New creates a dev cloud with a small image catalogue and a fixed compute
// quota.
func New() *Cloud {
	return &Cloud{
		resources: make(map[string]*resource),
		images: map[string]broker.Image{
			"img-debian-13": {ID: "img-debian-13", Name: "debian-13", SizeBytes: 2 << 30, MinDiskGB: 5, Status: "active"},
			"img-ubuntu-24": {ID: "img-ubuntu-24", Name: "ubuntu-24.04", SizeBytes: 3 << 30, MinDiskGB: 8, Status: "active"},
		},
		quota: broker.Allocation{Instances: 20, VCPU: 40, MemoryMB: 65536},
	}
}

// MapToken implements broker.TokenMapper. Any non-empty token maps to a
// deterministic fake user.
func (c *Cloud) MapToken(_ context.Context, federationToken string) (broker.CloudToken, error) {
	if federationToken == "" {
		return broker.CloudToken{}, broker.NewUnauthorizedRequestError("empty federation token", nil)
	}
	return broker.CloudToken{UserID: "dev-" + federationToken, Value: federationToken}, nil
}

// RequestInstance implements broker.ResourcePlugin.
func (c *Cloud) RequestInstance(_ context.Context, order *broker.Order, _ broker.CloudToken) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := "dev-" + uuid.NewString()
	c.resources[id] = &resource{id: id, typ: order.Type, spec: order.Spec}
	return id, nil
}

// DeleteInstance implements broker.ResourcePlugin.
func (c *Cloud) DeleteInstance(_ context.Context, instanceID string, _ broker.CloudToken) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.resources[instanceID]; !ok {
		return broker.NewInstanceNotFoundError(
			fmt.Sprintf("no such resource %s", instanceID), nil)
	}
	delete(c.resources, instanceID)
	return nil
}

// GetInstance implements broker.ResourcePlugin. Each poll advances the
// resource toward active.
func (c *Cloud) GetInstance(_ context.Context, instanceID string, _ broker.CloudToken) (*broker.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.resources[instanceID]
	if !ok {
		return nil, broker.NewInstanceNotFoundError(
			fmt.Sprintf("no such resource %s", instanceID), nil)
	}
	res.polls++
	cloudState := stateBuilding
	if res.polls > readyAfterPolls {
		cloudState = stateActive
	}
	return &broker.Instance{
		ID:         res.id,
		Type:       res.typ,
		CloudState: cloudState,
		Attributes: attributesFor(res),
	}, nil
}

// IsReady implements broker.ResourcePlugin.
func (c *Cloud) IsReady(cloudState string) bool { return cloudState == stateActive }

// HasFailed implements broker.ResourcePlugin.
func (c *Cloud) HasFailed(cloudState string) bool { return cloudState == stateError }

// GetUserQuota implements broker.QuotaPlugin.
func (c *Cloud) GetUserQuota(_ context.Context, _ broker.CloudToken) (*broker.Quota, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	used := broker.Allocation{}
	for _, res := range c.resources {
		if spec, ok := res.spec.(*broker.ComputeSpec); ok {
			used.Instances++
			used.VCPU += spec.VCPU
			used.MemoryMB += spec.MemoryMB
		}
	}
	return &broker.Quota{Type: broker.ResourceTypeCompute, Total: c.quota, Used: used}, nil
}

// GetAllImages implements broker.ImagePlugin.
func (c *Cloud) GetAllImages(_ context.Context, _ broker.CloudToken) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.images))
	for id, img := range c.images {
		out[id] = img.Name
	}
	return out, nil
}

// GetImage implements broker.ImagePlugin.
func (c *Cloud) GetImage(_ context.Context, imageID string, _ broker.CloudToken) (*broker.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img, ok := c.images[imageID]
	if !ok {
		return nil, broker.NewInstanceNotFoundError(
			fmt.Sprintf("no such image %s", imageID), nil)
	}
	return &img, nil
}

// PluginSet bundles the dev cloud into a ready-to-use plugin set serving
// every resource type.
func (c *Cloud) PluginSet() *broker.PluginSet {
	set := broker.NewPluginSet().RegisterQuota(c).RegisterImages(c)
	for _, t := range broker.ResourceTypes() {
		set.RegisterResource(t, c)
	}
	return set
}

// attributesFor fabricates plausible attributes from the stored spec.
func attributesFor(res *resource) broker.InstanceAttributes {
	switch spec := res.spec.(type) {
	case *broker.ComputeSpec:
		return &broker.ComputeAttributes{
			Name:        spec.Name,
			VCPU:        spec.VCPU,
			MemoryMB:    spec.MemoryMB,
			DiskGB:      spec.DiskGB,
			IPAddresses: []string{"10.30.0.7"},
		}
	case *broker.NetworkSpec:
		return &broker.NetworkAttributes{Name: spec.Name, CIDR: spec.CIDR, AllocationMode: spec.AllocationMode}
	case *broker.VolumeSpec:
		return &broker.VolumeAttributes{Name: spec.Name, SizeGB: spec.SizeGB}
	case *broker.AttachmentSpec:
		return &broker.AttachmentAttributes{ComputeID: spec.ComputeOrderID, VolumeID: spec.VolumeOrderID, Device: spec.Device}
	case *broker.PublicIPSpec:
		return &broker.PublicIPAttributes{IP: "198.51.100.23", ComputeID: spec.ComputeOrderID}
	default:
		return nil
	}
}
