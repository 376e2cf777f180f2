// Package pool tracks node capacity and CPU/RAM accounting for fuzzer
// worker pools.
package pool

import (
	"fmt"
	"log/slog"
	"sync"
)

// Node is one Kubernetes node contributing capacity to a pool.
type Node struct {
	Name string
	CPU  int64 // millicpu
	RAM  int64 // MiB
}

// ResourcePool accounts CPU/RAM usage against the capacity contributed by
// its member nodes. All quantities are base units: millicpu and MiB.
//
// A ResourcePool is safe for concurrent use; callers outside the owning
// goroutine should still prefer routing mutations through PoolRegistry so
// that pool and pod state change together, but the accounting itself does
// not assume single-threaded access.
type ResourcePool struct {
	mu sync.Mutex

	id     string
	logger *slog.Logger

	nodes    map[string]Node
	cpuUsed  int64
	ramUsed  int64
	cpuLimit int64
	ramLimit int64
	locked   bool
}

// NewResourcePool creates an empty pool with no nodes and no capacity.
func NewResourcePool(id string, locked bool, logger *slog.Logger) *ResourcePool {
	return &ResourcePool{
		id:     id,
		locked: locked,
		nodes:  make(map[string]Node),
		logger: logger.With(slog.String("pool_id", id)),
	}
}

// ID returns the pool's identifier.
func (p *ResourcePool) ID() string {
	return p.id
}

// ResourcesLeft returns the unallocated CPU and RAM capacity.
func (p *ResourcePool) ResourcesLeft() (cpu, ram int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cpuLimit - p.cpuUsed, p.ramLimit - p.ramUsed
}

// Snapshot returns the pool's current accounting state.
func (p *ResourcePool) Snapshot() (cpuUsed, ramUsed, cpuLimit, ramLimit int64, locked bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cpuUsed, p.ramUsed, p.cpuLimit, p.ramLimit, p.locked
}

// NodeCount returns the number of nodes currently contributing capacity.
func (p *ResourcePool) NodeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.nodes)
}

// Nodes returns a snapshot slice of the pool's member nodes.
func (p *ResourcePool) Nodes() []Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Node, 0, len(p.nodes))
	for _, n := range p.nodes {
		out = append(out, n)
	}
	return out
}

// AddNode registers a node's capacity with the pool.
func (p *ResourcePool) AddNode(name string, cpu, ram int64) error {
	if cpu <= 0 {
		panic("pool: cpu must be greater than zero")
	}
	if ram <= 0 {
		panic("pool: ram must be greater than zero")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.nodes[name]; ok {
		return fmt.Errorf("%w: node %q in pool %q", ErrPoolNodeExists, name, p.id)
	}

	p.cpuLimit += cpu
	p.ramLimit += ram
	p.nodes[name] = Node{Name: name, CPU: cpu, RAM: ram}

	p.logger.Debug("node added",
		slog.String("node", name), slog.Int64("cpu_m", cpu), slog.Int64("ram_mi", ram))
	p.logger.Debug("pool summary",
		slog.Int64("cpu_total_m", p.cpuLimit), slog.Int64("ram_total_mi", p.ramLimit),
		slog.Int("node_count", len(p.nodes)))
	return nil
}

// RemoveNode unregisters a node, shrinking the pool's capacity.
func (p *ResourcePool) RemoveNode(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	node, ok := p.nodes[name]
	if !ok {
		return fmt.Errorf("%w: node %q in pool %q", ErrPoolNodeNotFound, name, p.id)
	}
	delete(p.nodes, name)

	p.cpuLimit -= node.CPU
	p.ramLimit -= node.RAM
	if p.cpuLimit < 0 || p.ramLimit < 0 {
		panic(fmt.Sprintf("pool %q: negative capacity after removing node %q", p.id, name))
	}

	p.logger.Debug("node removed",
		slog.String("node", name), slog.Int64("cpu_m", node.CPU), slog.Int64("ram_mi", node.RAM))
	p.logger.Debug("pool summary",
		slog.Int64("cpu_total_m", p.cpuLimit), slog.Int64("ram_total_mi", p.ramLimit),
		slog.Int("node_count", len(p.nodes)))
	return nil
}

// Allocate reserves cpu/ram against the pool's capacity. The checks run in a
// fixed order: lock state, then capacity, then overflow, then availability.
func (p *ResourcePool) Allocate(cpu, ram int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.locked {
		return fmt.Errorf("%w: pool %q", ErrPoolLocked, p.id)
	}

	if cpu > p.cpuLimit || ram > p.ramLimit {
		p.logger.Warn("requested resources exceed pool capacity",
			slog.Int64("req_cpu_m", cpu), slog.Int64("limit_cpu_m", p.cpuLimit),
			slog.Int64("req_ram_mi", ram), slog.Int64("limit_ram_mi", p.ramLimit))
		return fmt.Errorf("%w: req/max <cpu=[%dm/%dm], ram=[%dMi/%dMi]>",
			ErrPoolCapacityExceeded, cpu, p.cpuLimit, ram, p.ramLimit)
	}

	if p.cpuUsed > p.cpuLimit || p.ramUsed > p.ramLimit {
		p.logger.Warn("pool overflowed",
			slog.Int64("cur_cpu_m", p.cpuUsed), slog.Int64("limit_cpu_m", p.cpuLimit),
			slog.Int64("cur_ram_mi", p.ramUsed), slog.Int64("limit_ram_mi", p.ramLimit))
		return fmt.Errorf("%w: cur/max <cpu=[%dm/%dm], ram=[%dMi/%dMi]>",
			ErrPoolOverflow, p.cpuUsed, p.cpuLimit, p.ramUsed, p.ramLimit)
	}

	if p.cpuUsed+cpu > p.cpuLimit || p.ramUsed+ram > p.ramLimit {
		p.logger.Debug("no resources left",
			slog.Int64("req_cpu_m", cpu), slog.Int64("left_cpu_m", p.cpuLimit-p.cpuUsed),
			slog.Int64("req_ram_mi", ram), slog.Int64("left_ram_mi", p.ramLimit-p.ramUsed))
		return fmt.Errorf("%w: req/left <cpu=[%dm/%dm], ram=[%dMi/%dMi]>",
			ErrPoolNoResourcesLeft, cpu, p.cpuLimit-p.cpuUsed, ram, p.ramLimit-p.ramUsed)
	}

	p.cpuUsed += cpu
	p.ramUsed += ram

	p.logger.Debug("resources allocated",
		slog.Int64("cur_cpu_m", p.cpuUsed), slog.Int64("limit_cpu_m", p.cpuLimit),
		slog.Int64("cur_ram_mi", p.ramUsed), slog.Int64("limit_ram_mi", p.ramLimit))
	return nil
}

// Free releases cpu/ram previously reserved with Allocate. Freeing more than
// is in use indicates a bookkeeping bug upstream: it is logged at Error
// level and returned as ErrPoolUnderflow, leaving usage unchanged.
func (p *ResourcePool) Free(cpu, ram int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cpuUsed-cpu < 0 || p.ramUsed-ram < 0 {
		p.logger.Error("pool underflow",
			slog.Int64("cpu_from_m", p.cpuUsed), slog.Int64("cpu_to_m", p.cpuUsed-cpu),
			slog.Int64("ram_from_mi", p.ramUsed), slog.Int64("ram_to_mi", p.ramUsed-ram))
		return fmt.Errorf("%w: pool %q <cpu=[%dm->%dm], ram=[%dMi->%dMi]>",
			ErrPoolUnderflow, p.id, p.cpuUsed, p.cpuUsed-cpu, p.ramUsed, p.ramUsed-ram)
	}

	p.cpuUsed -= cpu
	p.ramUsed -= ram

	p.logger.Debug("resources freed",
		slog.Int64("cur_cpu_m", p.cpuUsed), slog.Int64("limit_cpu_m", p.cpuLimit),
		slog.Int64("cur_ram_mi", p.ramUsed), slog.Int64("limit_ram_mi", p.ramLimit))
	return nil
}

// Lock marks the pool as unavailable for new allocations.
func (p *ResourcePool) Lock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = true
}

// Unlock marks the pool as available for new allocations.
func (p *ResourcePool) Unlock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = false
}

// Locked reports whether the pool currently rejects allocations.
func (p *ResourcePool) Locked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locked
}
