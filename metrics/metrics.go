// Package metrics names the starter's domain counters on top of the
// ambient utils/metrics-go singleton.
package metrics

import (
	"context"

	metricsgo "github.com/fuzzcorp/starter/utils/metrics-go"
)

const (
	counterAllocate  = "starter.pool.allocate"
	counterFree      = "starter.pool.free"
	counterDisplace  = "starter.pod.displace"
	counterNotify    = "starter.pod.notify"
	counterAdmission = "starter.admission.request"
)

// RecordAllocate counts a resource allocation attempt, tagged with its
// outcome ("ok", "pool_not_found", "locked", "capacity_exceeded", "no_resources_left").
func RecordAllocate(ctx context.Context, poolID, outcome string) {
	record(ctx, counterAllocate, "pool allocation attempts by outcome", map[string]string{
		"pool_id": poolID, "outcome": outcome,
	})
}

// RecordFree counts a resource release, tagged with its outcome ("ok",
// "underflow").
func RecordFree(ctx context.Context, poolID, outcome string) {
	record(ctx, counterFree, "pool free attempts by outcome", map[string]string{
		"pool_id": poolID, "outcome": outcome,
	})
}

// RecordDisplace counts a pod displacement.
func RecordDisplace(ctx context.Context, poolID string) {
	record(ctx, counterDisplace, "pods marked for displacement", map[string]string{
		"pool_id": poolID,
	})
}

// RecordNotify counts a pod-finished notification, tagged with success.
func RecordNotify(ctx context.Context, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	record(ctx, counterNotify, "pod finished notifications by outcome", map[string]string{
		"outcome": outcome,
	})
}

// RecordAdmission counts a run-fuzzer admission request, tagged with its
// outcome ("admitted", "displaced", "rejected").
func RecordAdmission(ctx context.Context, poolID, outcome string) {
	record(ctx, counterAdmission, "run-fuzzer admission requests by outcome", map[string]string{
		"pool_id": poolID, "outcome": outcome,
	})
}

func record(ctx context.Context, name, description string, tags map[string]string) {
	_ = metricsgo.GetMetricCreator().RecordCounter(ctx, name, 1, "1", description, tags)
}
