package metrics

import (
	"context"
	"testing"
)

// These exercise the nil-safe path: no InitMetricCreator call has been
// made, so GetMetricCreator() returns nil and every Record* call must be
// a safe no-op rather than panicking.
func TestRecordersAreNilSafe(t *testing.T) {
	ctx := context.Background()
	RecordAllocate(ctx, "pool-1", "ok")
	RecordFree(ctx, "pool-1", "underflow")
	RecordDisplace(ctx, "pool-1")
	RecordNotify(ctx, true)
	RecordNotify(ctx, false)
	RecordAdmission(ctx, "pool-1", "admitted")
}
