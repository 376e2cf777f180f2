package pod

import (
	"fmt"
	"sync"
)

// Registry owns all known FuzzerPods plus the per-pool displacement
// counters used to suppress duplicate displacement rounds.
type Registry struct {
	mu      sync.RWMutex
	pods    map[string]*FuzzerPod
	dspPool map[string]int
}

// NewRegistry creates an empty pod registry.
func NewRegistry() *Registry {
	return &Registry{
		pods:    make(map[string]*FuzzerPod),
		dspPool: make(map[string]int),
	}
}

// AddPod registers a new pod. If the pod is already displaced, the pool's
// displacement counter is incremented to match.
func (r *Registry) AddPod(p *FuzzerPod) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pods[p.Name]; ok {
		return fmt.Errorf("%w: %q", ErrPodExists, p.Name)
	}
	r.pods[p.Name] = p
	if p.Displaced {
		r.dspPool[p.PoolID]++
	}
	return nil
}

// RemovePod deletes a pod record, decrementing its pool's displacement
// counter if the pod was displaced.
func (r *Registry) RemovePod(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pods[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrPodNotFound, name)
	}
	delete(r.pods, name)
	if p.Displaced {
		r.dspPool[p.PoolID]--
	}
	return nil
}

// FindPod returns the live pod record for in-place mutation by the pod
// event processor. Callers outside that processor should prefer a snapshot
// via ListPods.
func (r *Registry) FindPod(name string) (*FuzzerPod, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pods[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPodNotFound, name)
	}
	return p, nil
}

// HasPod reports whether a pod with the given name is registered.
func (r *Registry) HasPod(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pods[name]
	return ok
}

// DisplacePod marks a pod as displaced and increments its pool's counter.
// Calling it more than once on the same pod has no additional effect on the
// counter beyond the first call, matching the planner's at-most-once usage.
func (r *Registry) DisplacePod(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pods[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrPodNotFound, name)
	}
	if p.Displaced {
		return nil
	}
	p.Displaced = true
	r.dspPool[p.PoolID]++
	return nil
}

// ListPods returns a snapshot slice of all registered pods (shared
// pointers; callers must not mutate fields outside the owning goroutine).
func (r *Registry) ListPods() []*FuzzerPod {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*FuzzerPod, 0, len(r.pods))
	for _, p := range r.pods {
		out = append(out, p)
	}
	return out
}

// DisplacementInProgress reports whether any pod in the given pool is
// currently displaced, which suppresses new displacement rounds for it.
func (r *Registry) DisplacementInProgress(poolID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dspPool[poolID] > 0
}

// InstanceCount returns the number of live pods sharing the given
// fuzzer/revision pair. The displacement planner does not call it: it
// counts instances among its own eligible candidates.
func (r *Registry) InstanceCount(fuzzerID, fuzzerRev string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, p := range r.pods {
		if p.FuzzerID == fuzzerID && p.FuzzerRev == fuzzerRev {
			count++
		}
	}
	return count
}
