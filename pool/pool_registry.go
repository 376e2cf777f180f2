package pool

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry owns the set of known ResourcePools, keyed by pool ID. It is the
// single point of truth for pool existence; ResourcePool itself has no
// notion of its siblings.
type Registry struct {
	mu     sync.RWMutex
	pools  map[string]*ResourcePool
	logger *slog.Logger
}

// NewRegistry creates an empty pool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		pools:  make(map[string]*ResourcePool),
		logger: logger.With(slog.String("component", "pool.registry")),
	}
}

// CreatePool adds a new pool to the registry.
func (r *Registry) CreatePool(poolID string, locked bool) (*ResourcePool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pools[poolID]; ok {
		return nil, fmt.Errorf("%w: %q", ErrPoolExists, poolID)
	}

	p := NewResourcePool(poolID, locked, r.logger)
	r.pools[poolID] = p
	r.logger.Debug("created new pool", slog.String("pool_id", poolID), slog.Bool("locked", locked))
	return p, nil
}

// RemovePool deletes a pool from the registry.
func (r *Registry) RemovePool(poolID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pools[poolID]; !ok {
		return fmt.Errorf("%w: %q", ErrPoolNotFound, poolID)
	}
	delete(r.pools, poolID)
	r.logger.Debug("removed pool", slog.String("pool_id", poolID))
	return nil
}

// FindPool looks up a pool by ID.
func (r *Registry) FindPool(poolID string) (*ResourcePool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pools[poolID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPoolNotFound, poolID)
	}
	return p, nil
}

// HasPool reports whether a pool with the given ID is registered.
func (r *Registry) HasPool(poolID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pools[poolID]
	return ok
}

// ListPools returns a snapshot of all registered pools.
func (r *Registry) ListPools() []*ResourcePool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ResourcePool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	return out
}

// LockPool marks a pool as unavailable for new allocations.
func (r *Registry) LockPool(poolID string) error {
	p, err := r.FindPool(poolID)
	if err != nil {
		return err
	}
	p.Lock()
	return nil
}

// UnlockPool marks a pool as available for new allocations.
func (r *Registry) UnlockPool(poolID string) error {
	p, err := r.FindPool(poolID)
	if err != nil {
		return err
	}
	p.Unlock()
	return nil
}

// AddPoolNode registers a node's capacity with the named pool.
func (r *Registry) AddPoolNode(poolID, nodeName string, cpu, ram int64) error {
	p, err := r.FindPool(poolID)
	if err != nil {
		return err
	}
	return p.AddNode(nodeName, cpu, ram)
}

// RemovePoolNode unregisters a node's capacity from the named pool.
func (r *Registry) RemovePoolNode(poolID, nodeName string) error {
	p, err := r.FindPool(poolID)
	if err != nil {
		return err
	}
	return p.RemoveNode(nodeName)
}

// AllocateResources reserves cpu/ram against the named pool.
func (r *Registry) AllocateResources(poolID string, cpu, ram int64) error {
	p, err := r.FindPool(poolID)
	if err != nil {
		return err
	}
	return p.Allocate(cpu, ram)
}

// FreeResources releases cpu/ram previously reserved against the named pool.
func (r *Registry) FreeResources(poolID string, cpu, ram int64) error {
	p, err := r.FindPool(poolID)
	if err != nil {
		return err
	}
	return p.Free(cpu, ram)
}

// ResourcesLeft returns the named pool's unallocated CPU and RAM.
func (r *Registry) ResourcesLeft(poolID string) (cpu, ram int64, err error) {
	p, err := r.FindPool(poolID)
	if err != nil {
		return 0, 0, err
	}
	cpu, ram = p.ResourcesLeft()
	return cpu, ram, nil
}
