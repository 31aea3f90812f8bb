package broker

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

func nowUTC() time.Time { return time.Now().UTC() }

// ResourceType identifies the kind of cloud resource an order requests.
type ResourceType string

const (
	// ResourceTypeCompute is a virtual machine.
	ResourceTypeCompute ResourceType = "compute"

	// ResourceTypeNetwork is a private network.
	ResourceTypeNetwork ResourceType = "network"

	// ResourceTypeVolume is a block storage volume.
	ResourceTypeVolume ResourceType = "volume"

	// ResourceTypeAttachment is a volume-to-compute attachment.
	ResourceTypeAttachment ResourceType = "attachment"

	// ResourceTypePublicIP is a public IP bound to a compute instance.
	ResourceTypePublicIP ResourceType = "public_ip"
)

// ResourceTypes lists every resource type the broker handles.
func ResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceTypeCompute,
		ResourceTypeNetwork,
		ResourceTypeVolume,
		ResourceTypeAttachment,
		ResourceTypePublicIP,
	}
}

// OrderState is a stage in the order lifecycle.
type OrderState string

const (
	// StateOpen is the initial state: stored, not yet dispatched.
	StateOpen OrderState = "open"

	// StatePending means the instance request has been dispatched and the
	// broker is waiting for the providing side to acknowledge it.
	StatePending OrderState = "pending"

	// StateSpawning means the providing side is provisioning the instance.
	StateSpawning OrderState = "spawning"

	// StateFulfilled means the instance is up and serving.
	StateFulfilled OrderState = "fulfilled"

	// StateFailed means provisioning or the running instance failed; the
	// triggering fault is recorded on the order.
	StateFailed OrderState = "failed"

	// StateDeactivated means the user asked for deletion and cloud-side
	// cleanup is still pending.
	StateDeactivated OrderState = "deactivated"

	// StateClosed is terminal: the order is done and its instance, if any,
	// has been released (or cleanup was abandoned as best-effort).
	StateClosed OrderState = "closed"
)

// legalTransitions is the edge set of the order state machine. An order may
// only ever move along one of these edges.
var legalTransitions = map[OrderState][]OrderState{
	StateOpen:        {StatePending, StateFailed, StateDeactivated},
	StatePending:     {StateSpawning, StateFailed, StateDeactivated},
	StateSpawning:    {StateFulfilled, StateFailed, StateDeactivated},
	StateFulfilled:   {StateFailed, StateDeactivated},
	StateFailed:      {StateDeactivated},
	StateDeactivated: {StateClosed},
	StateClosed:      {},
}

// CanTransition reports whether moving from one state to another follows a
// legal lifecycle edge.
func CanTransition(from, to OrderState) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state has no outgoing edges.
func (s OrderState) IsTerminal() bool {
	return len(legalTransitions[s]) == 0
}

// OrderStates lists every lifecycle state.
func OrderStates() []OrderState {
	return []OrderState{
		StateOpen, StatePending, StateSpawning, StateFulfilled,
		StateFailed, StateDeactivated, StateClosed,
	}
}

// OrderSpec is the type-specific payload of an order. Concrete specs are
// ComputeSpec, NetworkSpec, VolumeSpec, AttachmentSpec and PublicIPSpec; the
// wire encoding is a tagged union keyed by the resource type.
type OrderSpec interface {
	// ResourceType returns the resource type this spec describes.
	ResourceType() ResourceType
}

// ComputeSpec describes a requested virtual machine.
type ComputeSpec struct {
	// Name is the user-visible instance name.
	Name string `json:"name" validate:"required,max=255"`

	// VCPU is the requested number of virtual CPUs.
	VCPU int `json:"vcpu" validate:"required,min=1"`

	// MemoryMB is the requested memory in megabytes.
	MemoryMB int `json:"memory_mb" validate:"required,min=1"`

	// DiskGB is the requested root disk size in gigabytes.
	DiskGB int `json:"disk_gb" validate:"min=0"`

	// ImageID is the image to boot from.
	ImageID string `json:"image_id" validate:"required"`

	// PublicKey is an optional SSH public key injected into the instance.
	PublicKey string `json:"public_key,omitempty"`

	// UserData is an optional cloud-init payload.
	UserData string `json:"user_data,omitempty"`

	// NetworkOrderIDs are order ids (not cloud network ids) of the private
	// networks to attach. They are resolved to instance ids only for the
	// duration of a plugin call and always restored afterwards.
	NetworkOrderIDs []string `json:"network_order_ids,omitempty" validate:"dive,uuid"`
}

// ResourceType implements OrderSpec.
func (ComputeSpec) ResourceType() ResourceType { return ResourceTypeCompute }

// NetworkSpec describes a requested private network.
type NetworkSpec struct {
	// Name is the user-visible network name.
	Name string `json:"name" validate:"required,max=255"`

	// CIDR is the network address range.
	CIDR string `json:"cidr" validate:"required,cidr"`

	// Gateway is the gateway address inside the CIDR.
	Gateway string `json:"gateway,omitempty" validate:"omitempty,ip"`

	// AllocationMode selects dynamic or static address allocation.
	AllocationMode string `json:"allocation_mode,omitempty" validate:"omitempty,oneof=dynamic static"`
}

// ResourceType implements OrderSpec.
func (NetworkSpec) ResourceType() ResourceType { return ResourceTypeNetwork }

// VolumeSpec describes a requested block storage volume.
type VolumeSpec struct {
	// Name is the user-visible volume name.
	Name string `json:"name" validate:"required,max=255"`

	// SizeGB is the volume size in gigabytes.
	SizeGB int `json:"size_gb" validate:"required,min=1"`
}

// ResourceType implements OrderSpec.
func (VolumeSpec) ResourceType() ResourceType { return ResourceTypeVolume }

// AttachmentSpec describes a requested volume attachment. Both endpoints are
// referenced by order id; resolution to instance ids happens only at plugin
// dispatch time.
type AttachmentSpec struct {
	// ComputeOrderID is the order id of the compute instance to attach to.
	ComputeOrderID string `json:"compute_order_id" validate:"required,uuid"`

	// VolumeOrderID is the order id of the volume being attached.
	VolumeOrderID string `json:"volume_order_id" validate:"required,uuid"`

	// Device is an optional device path hint (e.g. /dev/sdb).
	Device string `json:"device,omitempty"`
}

// ResourceType implements OrderSpec.
func (AttachmentSpec) ResourceType() ResourceType { return ResourceTypeAttachment }

// PublicIPSpec describes a requested public IP for a compute instance.
type PublicIPSpec struct {
	// ComputeOrderID is the order id of the compute instance the address
	// is assigned to.
	ComputeOrderID string `json:"compute_order_id" validate:"required,uuid"`
}

// ResourceType implements OrderSpec.
func (PublicIPSpec) ResourceType() ResourceType { return ResourceTypePublicIP }

// Order is the durable record of a user's resource request, tracked
// end-to-end by the broker. The canonical Order objects live in the registry;
// connectors and processors share references and take the order's own lock
// when touching fields that affect dispatch correctness.
type Order struct {
	mu sync.Mutex

	// ID is the globally unique order id, assigned at creation, immutable.
	ID string `json:"id"`

	// Type is the requested resource type. It never changes.
	Type ResourceType `json:"type"`

	// State is the current lifecycle state. Mutated only through the
	// registry so partition membership stays consistent.
	State OrderState `json:"state"`

	// Requester is the provider the order was submitted at.
	Requester string `json:"requester"`

	// Provider is the provider that hosts (or will host) the instance.
	// Equal to Requester for local orders.
	Provider string `json:"provider"`

	// FederationToken is an opaque credential reference. Never a raw
	// secret; resolved to a cloud token only inside the local connector.
	FederationToken string `json:"federation_token"`

	// InstanceID is the cloud-native id of the allocated resource. Set at
	// most once per successful request, cleared only on deletion.
	InstanceID string `json:"instance_id,omitempty"`

	// CachedState is the last observed provider-side status string,
	// refreshed by the fulfilled/spawning processors.
	CachedState string `json:"cached_state,omitempty"`

	// FaultMessage records the first error that moved the order to failed.
	FaultMessage string `json:"fault_message,omitempty"`

	// CreatedAt is when the order was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the order last changed state.
	UpdatedAt time.Time `json:"updated_at"`

	// Spec is the type-specific payload.
	Spec OrderSpec `json:"spec"`
}

// NewOrder creates an order in no state yet (the registry assigns StateOpen
// on Add) with a fresh UUID.
func NewOrder(requester, provider, federationToken string, spec OrderSpec) *Order {
	now := nowUTC()
	return &Order{
		ID:              uuid.NewString(),
		Type:            spec.ResourceType(),
		Requester:       requester,
		Provider:        provider,
		FederationToken: federationToken,
		CreatedAt:       now,
		UpdatedAt:       now,
		Spec:            spec,
	}
}

// Lock acquires the order's own lock.
func (o *Order) Lock() { o.mu.Lock() }

// Unlock releases the order's own lock.
func (o *Order) Unlock() { o.mu.Unlock() }

// TryLock attempts to acquire the order's lock without blocking. Processors
// use it so a busy order defers to the next scan instead of stalling the
// whole sweep.
func (o *Order) TryLock() bool { return o.mu.TryLock() }

// SetOnceFault records the first fault message; later faults keep the
// original for user-visible diagnostics.
func (o *Order) SetOnceFault(message string) {
	if o.FaultMessage == "" {
		o.FaultMessage = message
	}
}

// IsProviderLocal reports whether the order's instance is hosted by the
// given provider.
func (o *Order) IsProviderLocal(localProviderID string) bool {
	return o.Provider == localProviderID
}

// IsRequesterRemote reports whether the order was forwarded here by another
// provider.
func (o *Order) IsRequesterRemote(localProviderID string) bool {
	return o.Requester != localProviderID
}

// InstanceState is the broker's normalized view of a cloud-side resource
// status. Raw provider status strings are classified through the plugin
// IsReady/HasFailed predicates.
type InstanceState string

const (
	// InstanceStateDispatched means no cloud resource exists yet; the
	// order is still open or pending.
	InstanceStateDispatched InstanceState = "dispatched"

	// InstanceStateCreating means the provider is provisioning.
	InstanceStateCreating InstanceState = "creating"

	// InstanceStateReady means the resource is up.
	InstanceStateReady InstanceState = "ready"

	// InstanceStateFailed means the resource failed provider-side.
	InstanceStateFailed InstanceState = "failed"

	// InstanceStateUnknown means the provider status could not be
	// classified.
	InstanceStateUnknown InstanceState = "unknown"
)

// InstanceAttributes carries the resource-specific portion of an instance.
// Concrete types are ComputeAttributes, NetworkAttributes, VolumeAttributes,
// AttachmentAttributes and PublicIPAttributes.
type InstanceAttributes interface {
	// ResourceType returns the resource type these attributes belong to.
	ResourceType() ResourceType
}

// ComputeAttributes are the observable properties of a compute instance.
type ComputeAttributes struct {
	// Name is the cloud-side instance name.
	Name string `json:"name,omitempty"`

	// VCPU is the allocated number of virtual CPUs.
	VCPU int `json:"vcpu,omitempty"`

	// MemoryMB is the allocated memory in megabytes.
	MemoryMB int `json:"memory_mb,omitempty"`

	// DiskGB is the allocated disk in gigabytes.
	DiskGB int `json:"disk_gb,omitempty"`

	// IPAddresses are the instance's current addresses.
	IPAddresses []string `json:"ip_addresses,omitempty"`
}

// ResourceType implements InstanceAttributes.
func (ComputeAttributes) ResourceType() ResourceType { return ResourceTypeCompute }

// NetworkAttributes are the observable properties of a network.
type NetworkAttributes struct {
	// Name is the cloud-side network name.
	Name string `json:"name,omitempty"`

	// CIDR is the allocated address range.
	CIDR string `json:"cidr,omitempty"`

	// AllocationMode is the address allocation mode in effect.
	AllocationMode string `json:"allocation_mode,omitempty"`
}

// ResourceType implements InstanceAttributes.
func (NetworkAttributes) ResourceType() ResourceType { return ResourceTypeNetwork }

// VolumeAttributes are the observable properties of a volume.
type VolumeAttributes struct {
	// Name is the cloud-side volume name.
	Name string `json:"name,omitempty"`

	// SizeGB is the allocated size in gigabytes.
	SizeGB int `json:"size_gb,omitempty"`
}

// ResourceType implements InstanceAttributes.
func (VolumeAttributes) ResourceType() ResourceType { return ResourceTypeVolume }

// AttachmentAttributes are the observable properties of an attachment.
type AttachmentAttributes struct {
	// ComputeID is the cloud-native id of the attached compute instance.
	ComputeID string `json:"compute_id,omitempty"`

	// VolumeID is the cloud-native id of the attached volume.
	VolumeID string `json:"volume_id,omitempty"`

	// Device is the device path the volume is exposed at.
	Device string `json:"device,omitempty"`
}

// ResourceType implements InstanceAttributes.
func (AttachmentAttributes) ResourceType() ResourceType { return ResourceTypeAttachment }

// PublicIPAttributes are the observable properties of a public IP.
type PublicIPAttributes struct {
	// IP is the allocated public address.
	IP string `json:"ip,omitempty"`

	// ComputeID is the cloud-native id of the bound compute instance.
	ComputeID string `json:"compute_id,omitempty"`
}

// ResourceType implements InstanceAttributes.
func (PublicIPAttributes) ResourceType() ResourceType { return ResourceTypePublicIP }

// Instance is an ephemeral, read-mostly projection of a resource's current
// cloud-side status. It is rebuilt on every query and never persisted
// independently of the order that owns it. ID always carries the order id,
// not the cloud-native id, since users address resources by order id.
type Instance struct {
	// ID is the order id of the owning order.
	ID string `json:"id"`

	// Type is the resource type.
	Type ResourceType `json:"type"`

	// State is the normalized status.
	State InstanceState `json:"state"`

	// CloudState is the raw provider-side status string.
	CloudState string `json:"cloud_state,omitempty"`

	// Attributes is the resource-specific payload, if any.
	Attributes InstanceAttributes `json:"attributes,omitempty"`
}

// Allocation quantifies resource usage for quota accounting.
type Allocation struct {
	// Instances is the number of resource instances.
	Instances int `json:"instances"`

	// VCPU is the number of virtual CPUs.
	VCPU int `json:"vcpu"`

	// MemoryMB is the memory in megabytes.
	MemoryMB int `json:"memory_mb"`
}

// Subtract returns the element-wise difference of two allocations.
func (a Allocation) Subtract(b Allocation) Allocation {
	return Allocation{
		Instances: a.Instances - b.Instances,
		VCPU:      a.VCPU - b.VCPU,
		MemoryMB:  a.MemoryMB - b.MemoryMB,
	}
}

// Quota is the total versus used allocation for one resource type at one
// provider. Computed per call from the quota plugin, never cached.
type Quota struct {
	// Type is the resource type the quota applies to.
	Type ResourceType `json:"type"`

	// Total is the full allocation granted to the user.
	Total Allocation `json:"total"`

	// Used is the allocation currently consumed.
	Used Allocation `json:"used"`
}

// Available returns the remaining allocation.
func (q Quota) Available() Allocation {
	return q.Total.Subtract(q.Used)
}

// Image describes a bootable image offered by a provider.
type Image struct {
	// ID is the cloud-side image id.
	ID string `json:"id"`

	// Name is the human-readable image name.
	Name string `json:"name"`

	// SizeBytes is the image size, when the cloud reports it.
	SizeBytes int64 `json:"size_bytes,omitempty"`

	// MinDiskGB is the minimum disk required to boot the image.
	MinDiskGB int `json:"min_disk_gb,omitempty"`

	// Status is the raw cloud-side image status.
	Status string `json:"status,omitempty"`
}
