package pod

import (
	"errors"
	"testing"
)

func newTestPod(name, poolID string, displaced bool) *FuzzerPod {
	return &FuzzerPod{
		Name:  name,
		Phase: PhasePending,
		Suitcase: Suitcase{
			PoolID:    poolID,
			FuzzerID:  "fz1",
			FuzzerRev: "rev1",
			AgentMode: AgentModeFuzzing,
		},
		Displaced: displaced,
	}
}

func TestAddFindRemovePod(t *testing.T) {
	r := NewRegistry()

	p := newTestPod("pod-a", "pool-1", false)
	if err := r.AddPod(p); err != nil {
		t.Fatalf("AddPod: %v", err)
	}
	if err := r.AddPod(p); !errors.Is(err, ErrPodExists) {
		t.Fatalf("expected ErrPodExists, got %v", err)
	}

	got, err := r.FindPod("pod-a")
	if err != nil {
		t.Fatalf("FindPod: %v", err)
	}
	if got != p {
		t.Fatal("FindPod returned a different pointer than registered")
	}

	if err := r.RemovePod("pod-a"); err != nil {
		t.Fatalf("RemovePod: %v", err)
	}
	if _, err := r.FindPod("pod-a"); !errors.Is(err, ErrPodNotFound) {
		t.Fatalf("expected ErrPodNotFound, got %v", err)
	}
}

func TestDisplacementCounterTracksAddAndRemove(t *testing.T) {
	r := NewRegistry()

	p1 := newTestPod("pod-a", "pool-1", true)
	if err := r.AddPod(p1); err != nil {
		t.Fatalf("AddPod: %v", err)
	}
	if !r.DisplacementInProgress("pool-1") {
		t.Fatal("expected displacement in progress after adding an already-displaced pod")
	}

	if err := r.RemovePod("pod-a"); err != nil {
		t.Fatalf("RemovePod: %v", err)
	}
	if r.DisplacementInProgress("pool-1") {
		t.Fatal("expected displacement to clear after removing the displaced pod")
	}
}

func TestDisplacePodIncrementsOnce(t *testing.T) {
	r := NewRegistry()
	p := newTestPod("pod-a", "pool-1", false)
	if err := r.AddPod(p); err != nil {
		t.Fatalf("AddPod: %v", err)
	}

	if err := r.DisplacePod("pod-a"); err != nil {
		t.Fatalf("DisplacePod: %v", err)
	}
	if err := r.DisplacePod("pod-a"); err != nil {
		t.Fatalf("DisplacePod (second call): %v", err)
	}

	if !r.DisplacementInProgress("pool-1") {
		t.Fatal("expected displacement in progress")
	}
	if err := r.RemovePod("pod-a"); err != nil {
		t.Fatalf("RemovePod: %v", err)
	}
	if r.DisplacementInProgress("pool-1") {
		t.Fatal("expected displacement counter to settle back to zero after one remove")
	}
}

func TestInstanceCount(t *testing.T) {
	r := NewRegistry()
	if err := r.AddPod(newTestPod("pod-a", "pool-1", false)); err != nil {
		t.Fatalf("AddPod: %v", err)
	}
	if err := r.AddPod(newTestPod("pod-b", "pool-1", false)); err != nil {
		t.Fatalf("AddPod: %v", err)
	}
	other := newTestPod("pod-c", "pool-1", false)
	other.FuzzerRev = "rev2"
	if err := r.AddPod(other); err != nil {
		t.Fatalf("AddPod: %v", err)
	}

	if got := r.InstanceCount("fz1", "rev1"); got != 2 {
		t.Fatalf("InstanceCount = %d, want 2", got)
	}
	if got := r.InstanceCount("fz1", "rev2"); got != 1 {
		t.Fatalf("InstanceCount = %d, want 1", got)
	}
}
