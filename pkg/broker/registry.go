package broker

import (
	"context"
	"fmt"
	"sync"
)

// Registry holds every order known to this provider, partitioned by
// lifecycle state, plus a global id index. It is the single source of truth
// processors and connectors operate on. Partition moves happen under one
// lock so an order is never briefly invisible to every processor, and never
// present in two partitions at once.
type Registry struct {
	mu         sync.Mutex
	partitions map[OrderState]map[string]*Order
	byID       map[string]*Order
	store      OrderStore
}

// NewRegistry creates an empty registry. The store may be nil, in which case
// orders are held in memory only (tests).
func NewRegistry(store OrderStore) *Registry {
	partitions := make(map[OrderState]map[string]*Order, len(OrderStates()))
	for _, s := range OrderStates() {
		partitions[s] = make(map[string]*Order)
	}
	return &Registry{
		partitions: partitions,
		byID:       make(map[string]*Order),
		store:      store,
	}
}

// Add inserts a new order into the open partition and the id index, and
// writes it through to the store. Fails with a duplicate-order error when
// the id is already known.
func (r *Registry) Add(ctx context.Context, order *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[order.ID]; exists {
		return NewDuplicateOrderError(order.ID)
	}
	order.State = StateOpen
	if err := r.persist(ctx, order); err != nil {
		return err
	}
	r.byID[order.ID] = order
	r.partitions[StateOpen][order.ID] = order
	return nil
}

// MoveTo moves an order between state partitions. The move is rejected with
// an internal error when the edge is not part of the lifecycle state
// machine. Both the removal from the old partition and the insertion into
// the new one happen under the registry lock.
func (r *Registry) MoveTo(ctx context.Context, order *Order, newState OrderState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := order.State
	if !CanTransition(current, newState) {
		return NewUnexpectedInternalError(
			fmt.Sprintf("illegal order state transition %s -> %s", current, newState),
			nil).WithOrder(order.ID)
	}
	prev := current
	order.State = newState
	order.UpdatedAt = nowUTC()
	if err := r.persist(ctx, order); err != nil {
		order.State = prev
		return err
	}
	delete(r.partitions[prev], order.ID)
	r.partitions[newState][order.ID] = order
	return nil
}

// Get returns the order with the given id. The second return value
// distinguishes "doesn't exist" from a transient failure, which callers
// must tell apart.
func (r *Registry) Get(id string) (*Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.byID[id]
	return order, ok
}

// Snapshot returns the orders currently in one partition. The slice is a
// stable copy: processors iterate it without holding the registry lock and
// take each order's own lock one at a time.
func (r *Registry) Snapshot(state OrderState) []*Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Order, 0, len(r.partitions[state]))
	for _, order := range r.partitions[state] {
		out = append(out, order)
	}
	return out
}

// Counts returns the number of orders per state, for gauges.
func (r *Registry) Counts() map[OrderState]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[OrderState]int, len(r.partitions))
	for state, part := range r.partitions {
		counts[state] = len(part)
	}
	return counts
}

// UserAllocation aggregates the compute resources a user currently holds at
// one provider, summed over their fulfilled compute orders. Used for
// allocation reporting next to the plugin-supplied quota.
func (r *Registry) UserAllocation(providerID, federationToken string) Allocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total Allocation
	for _, order := range r.partitions[StateFulfilled] {
		if order.Provider != providerID || order.FederationToken != federationToken {
			continue
		}
		spec, ok := order.Spec.(*ComputeSpec)
		if !ok {
			continue
		}
		total.Instances++
		total.VCPU += spec.VCPU
		total.MemoryMB += spec.MemoryMB
	}
	return total
}

// Recover rebuilds the partitions from stored orders at process start.
// Orders already in their stored (possibly non-open) state land directly in
// the matching partition.
func (r *Registry) Recover(orders []*Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range orders {
		if _, exists := r.byID[order.ID]; exists {
			return NewDuplicateOrderError(order.ID)
		}
		if _, known := r.partitions[order.State]; !known {
			return NewUnexpectedInternalError(
				fmt.Sprintf("stored order in unknown state %q", order.State),
				nil).WithOrder(order.ID)
		}
		r.byID[order.ID] = order
		r.partitions[order.State][order.ID] = order
	}
	return nil
}

func (r *Registry) persist(ctx context.Context, order *Order) error {
	if r.store == nil {
		return nil
	}
	return r.store.SaveOrder(ctx, order)
}
