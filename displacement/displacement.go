// Package displacement selects and evicts the cheapest-to-lose running
// fuzzer pods in a pool to make room for a higher-priority admission.
package displacement

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/fuzzcorp/starter/pod"
)

// PodDisplacer marks a pod for displacement on the orchestrator. Satisfied
// by orchestrator.Client.
type PodDisplacer interface {
	DisplacePod(ctx context.Context, name string) error
}

// Planner selects running pods to evict so a pool can absorb a new
// admission request, and carries the eviction out against the pod
// registry and the orchestrator together.
type Planner struct {
	pods   *pod.Registry
	k8s    PodDisplacer
	logger *slog.Logger
}

// NewPlanner builds a displacement planner.
func NewPlanner(pods *pod.Registry, k8s PodDisplacer, logger *slog.Logger) *Planner {
	return &Planner{pods: pods, k8s: k8s, logger: logger.With(slog.String("component", "displacement"))}
}

// candidates returns every pod eligible for displacement in poolID,
// ordered ascending by (instance count for its fuzzer revision, start
// time) so pods of the least-replicated fuzzer revisions, oldest first,
// are evicted first.
func candidates(pods []*pod.FuzzerPod, poolID string) []*pod.FuzzerPod {
	var suitable []*pod.FuzzerPod
	for _, p := range pods {
		if p.PoolID == poolID && p.AgentMode == pod.AgentModeFuzzing && p.Phase == pod.PhaseRunning {
			suitable = append(suitable, p)
		}
	}

	instances := make(map[[2]string]int, len(suitable))
	for _, p := range suitable {
		instances[[2]string{p.FuzzerID, p.FuzzerRev}]++
	}

	sort.SliceStable(suitable, func(i, j int) bool {
		ci := instances[[2]string{suitable[i].FuzzerID, suitable[i].FuzzerRev}]
		cj := instances[[2]string{suitable[j].FuzzerID, suitable[j].FuzzerRev}]
		if ci != cj {
			return ci < cj
		}
		ti, tj := suitable[i].StartTime, suitable[j].StartTime
		if ti == nil || tj == nil {
			return ti == nil && tj != nil
		}
		return ti.Before(*tj)
	})

	return suitable
}

// TryDisplace accumulates candidates from poolID, ascending by redundancy
// and age, until the requested cpu/ram deficit is covered, then displaces
// all of them in parallel. It is all-or-nothing: if the full required
// amount cannot be freed from the candidate set, nothing is displaced.
func (pl *Planner) TryDisplace(ctx context.Context, poolID string, cpuRequired, ramRequired int64) error {
	var toDisplace []*pod.FuzzerPod

	for _, p := range candidates(pl.pods.ListPods(), poolID) {
		toDisplace = append(toDisplace, p)
		cpuRequired -= p.CPUm
		ramRequired -= p.RAMMi

		if cpuRequired <= 0 && ramRequired <= 0 {
			return pl.displaceAll(ctx, toDisplace)
		}
	}

	return nil
}

// displaceAll patches every pod in parallel. A single pod's failure is
// logged but does not stop the rest, matching the fire-and-forget
// asyncio.gather semantics of the Python original.
func (pl *Planner) displaceAll(ctx context.Context, pods []*pod.FuzzerPod) error {
	var g errgroup.Group
	for _, p := range pods {
		name := p.Name
		g.Go(func() error {
			if err := pl.pods.DisplacePod(name); err != nil {
				pl.logger.Error("failed to mark pod displaced", slog.String("pod", name), slog.Any("err", err))
				return nil
			}
			if err := pl.k8s.DisplacePod(ctx, name); err != nil {
				pl.logger.Error("failed to patch pod for displacement", slog.String("pod", name), slog.Any("err", err))
			}
			return nil
		})
	}
	_ = g.Wait()

	names := make([]string, len(pods))
	for i, p := range pods {
		names[i] = p.Name
	}
	pl.logger.Info("displaced pods", slog.Any("pods", names))
	return nil
}
