package startup

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/fuzzcorp/starter/orchestrator"
	"github.com/fuzzcorp/starter/pod"
	"github.com/fuzzcorp/starter/podspec"
	"github.com/fuzzcorp/starter/pool"
	"github.com/fuzzcorp/starter/poolmanager"
	"github.com/fuzzcorp/starter/resources"
)

// fuzzerPodLabelSelector matches every pod this service manages, the same
// label orchestrator.ListFuzzerPods selects on; it is passed to the pod
// event watch.
var fuzzerPodLabelSelector = podspec.Key("pool_id")

// suitcaseLabelNames are the bondifuzz/* label names every fuzzer pod must
// carry. A pod missing one of these was not created by this service, or is
// corrupt, and rehydration cannot recover its identity.
var suitcaseLabelNames = []string{
	"user_id", "project_id", "pool_id", "fuzzer_id", "fuzzer_rev",
	"agent_mode", "fuzzer_lang", "fuzzer_engine", "session_id",
}

// rehydratePods rebuilds the pod registry from every fuzzer pod already
// running in the cluster, so a restart picks up exactly where the previous
// process left off instead of losing track of live work.
func rehydratePods(ctx context.Context, k8s *orchestrator.Client, pods *pod.Registry) error {
	podList, err := k8s.ListFuzzerPods(ctx)
	if err != nil {
		return fmt.Errorf("listing fuzzer pods: %w", err)
	}

	for i := range podList {
		fp, err := parseRunningPod(&podList[i])
		if err != nil {
			return fmt.Errorf("parsing pod %q: %w", podList[i].Name, err)
		}
		if err := pods.AddPod(fp); err != nil {
			return fmt.Errorf("registering pod %q: %w", fp.Name, err)
		}
	}

	return nil
}

// parseRunningPod reconstructs a FuzzerPod from a live orchestrator pod:
// its bondifuzz/* labels give back the suitcase, its container resource
// requests give back the reservation, and the displaced_at label's mere
// presence (not its value) marks it displaced.
func parseRunningPod(p *corev1.Pod) (*pod.FuzzerPod, error) {
	labels := podspec.ParseLabels(p.Labels)
	for _, name := range suitcaseLabelNames {
		if _, ok := labels[name]; !ok {
			return nil, fmt.Errorf("missing required label %q", podspec.Key(name))
		}
	}

	cpu, ram, err := podResourceTotals(p)
	if err != nil {
		return nil, err
	}

	_, displaced := labels["displaced_at"]

	var startTime *time.Time
	if p.Status.StartTime != nil {
		t := p.Status.StartTime.Time
		startTime = &t
	}

	return &pod.FuzzerPod{
		Name:      p.Name,
		Phase:     pod.Phase(p.Status.Phase),
		StartTime: startTime,
		Displaced: displaced,
		Deleting:  false,
		CPUm:      cpu,
		RAMMi:     ram,
		Suitcase: pod.Suitcase{
			UserID:       labels["user_id"],
			ProjectID:    labels["project_id"],
			PoolID:       labels["pool_id"],
			FuzzerID:     labels["fuzzer_id"],
			FuzzerRev:    labels["fuzzer_rev"],
			AgentMode:    pod.AgentMode(labels["agent_mode"]),
			FuzzerLang:   labels["fuzzer_lang"],
			FuzzerEngine: labels["fuzzer_engine"],
			SessionID:    labels["session_id"],
		},
	}, nil
}

// podResourceTotals sums every container's cpu/memory request, agent and
// sandbox alike, matching get_pod_resources's whole-pod accounting.
func podResourceTotals(p *corev1.Pod) (cpu, ram int64, err error) {
	for _, c := range p.Spec.Containers {
		if q, ok := c.Resources.Requests[corev1.ResourceCPU]; ok {
			v, err := resources.ParseCPU(q.String(), resources.CPUUnitMilli)
			if err != nil {
				return 0, 0, fmt.Errorf("container %q cpu request: %w", c.Name, err)
			}
			cpu += v
		}
		if q, ok := c.Resources.Requests[corev1.ResourceMemory]; ok {
			v, err := resources.ParseRAM(q.String(), resources.RAMUnitMi)
			if err != nil {
				return 0, 0, fmt.Errorf("container %q memory request: %w", c.Name, err)
			}
			ram += v
		}
	}
	return cpu, ram, nil
}

// buildPoolTopology rebuilds the pool registry's pools and node capacity
// from the pool manager's view, independent of anything pod-related.
func buildPoolTopology(ctx context.Context, poolMgr *poolmanager.Client, pools *pool.Registry) error {
	remotePools, err := poolMgr.ListPools(ctx)
	if err != nil {
		return fmt.Errorf("listing pools: %w", err)
	}

	for _, rp := range remotePools {
		if _, err := pools.CreatePool(rp.ID, rp.Locked()); err != nil {
			return fmt.Errorf("creating pool %q: %w", rp.ID, err)
		}
		for _, node := range rp.RSAvail.Nodes {
			if err := pools.AddPoolNode(rp.ID, node.Name, node.CPU, node.RAM); err != nil {
				return fmt.Errorf("adding node %q to pool %q: %w", node.Name, rp.ID, err)
			}
		}
	}

	return nil
}

// replayPodAllocations reserves each already-rehydrated pod's resources
// against the freshly built pool topology. It must run after both
// rehydratePods and buildPoolTopology complete: it reads one and mutates
// the other.
func replayPodAllocations(pools *pool.Registry, pods *pod.Registry) error {
	for _, p := range pods.ListPods() {
		if err := pools.AllocateResources(p.PoolID, p.CPUm, p.RAMMi); err != nil {
			return fmt.Errorf("replaying allocation for pod %q in pool %q: %w", p.Name, p.PoolID, err)
		}
	}
	return nil
}
