package startup

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	resourceapi "k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/fuzzcorp/starter/orchestrator"
	"github.com/fuzzcorp/starter/pod"
	"github.com/fuzzcorp/starter/podspec"
	"github.com/fuzzcorp/starter/pool"
	"github.com/fuzzcorp/starter/poolmanager"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fuzzerPodFixture(name, poolID string, phase corev1.PodPhase, start time.Time, displaced bool) *corev1.Pod {
	labels := map[string]string{
		podspec.Key("user_id"):       "u1",
		podspec.Key("project_id"):    "p1",
		podspec.Key("pool_id"):       poolID,
		podspec.Key("fuzzer_id"):     "f1",
		podspec.Key("fuzzer_rev"):    "1",
		podspec.Key("agent_mode"):    "fuzzing",
		podspec.Key("fuzzer_lang"):   "cpp",
		podspec.Key("fuzzer_engine"): "libfuzzer",
		podspec.Key("session_id"):    "s1",
	}
	if displaced {
		labels[podspec.Key("displaced_at")] = ""
	}

	startMeta := metav1.NewTime(start)
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels},
		Status:     corev1.PodStatus{Phase: phase, StartTime: &startMeta},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{
				{
					Name: "agent",
					Resources: corev1.ResourceRequirements{
						Requests: corev1.ResourceList{
							corev1.ResourceCPU:    resourceapi.MustParse("100m"),
							corev1.ResourceMemory: resourceapi.MustParse("200Mi"),
						},
					},
				},
				{
					Name: "sandbox",
					Resources: corev1.ResourceRequirements{
						Requests: corev1.ResourceList{
							corev1.ResourceCPU:    resourceapi.MustParse("500m"),
							corev1.ResourceMemory: resourceapi.MustParse("1000Mi"),
						},
					},
				},
			},
		},
	}
}

func TestParseRunningPodSumsContainerResourcesAndSuitcase(t *testing.T) {
	start := time.Now().Add(-5 * time.Minute).Truncate(time.Second)
	p := fuzzerPodFixture("fuzzer-a", "pool-1", corev1.PodRunning, start, false)

	fp, err := parseRunningPod(p)
	if err != nil {
		t.Fatalf("parseRunningPod: %v", err)
	}
	if fp.CPUm != 600 || fp.RAMMi != 1200 {
		t.Fatalf("resources = (%d,%d), want (600,1200)", fp.CPUm, fp.RAMMi)
	}
	if fp.PoolID != "pool-1" || fp.FuzzerID != "f1" || fp.AgentMode != pod.AgentModeFuzzing {
		t.Fatalf("suitcase mismatch: %+v", fp.Suitcase)
	}
	if fp.Phase != pod.PhaseRunning {
		t.Fatalf("phase = %q, want Running", fp.Phase)
	}
	if fp.StartTime == nil || !fp.StartTime.Equal(start) {
		t.Fatalf("start time = %v, want %v", fp.StartTime, start)
	}
	if fp.Displaced {
		t.Fatal("expected not displaced")
	}
}

func TestParseRunningPodDetectsDisplacedByLabelPresence(t *testing.T) {
	p := fuzzerPodFixture("fuzzer-b", "pool-1", corev1.PodRunning, time.Now(), true)
	fp, err := parseRunningPod(p)
	if err != nil {
		t.Fatalf("parseRunningPod: %v", err)
	}
	if !fp.Displaced {
		t.Fatal("expected displaced, since displaced_at label is present")
	}
}

func TestParseRunningPodMissingLabelFails(t *testing.T) {
	p := fuzzerPodFixture("fuzzer-c", "pool-1", corev1.PodRunning, time.Now(), false)
	delete(p.Labels, podspec.Key("fuzzer_rev"))

	if _, err := parseRunningPod(p); err == nil {
		t.Fatal("expected error for pod missing a required suitcase label")
	}
}

func TestRehydratePodsPopulatesRegistry(t *testing.T) {
	cs := fake.NewSimpleClientset(
		fuzzerPodFixture("fuzzer-a", "pool-1", corev1.PodRunning, time.Now(), false),
		fuzzerPodFixture("fuzzer-b", "pool-2", corev1.PodRunning, time.Now(), false),
	)
	k8s := orchestrator.NewClientFromClientset(cs, "fuzzer", testLogger())
	pods := pod.NewRegistry()

	if err := rehydratePods(context.Background(), k8s, pods); err != nil {
		t.Fatalf("rehydratePods: %v", err)
	}
	if !pods.HasPod("fuzzer-a") || !pods.HasPod("fuzzer-b") {
		t.Fatalf("expected both pods registered, got %+v", pods.ListPods())
	}
}

// fakePoolManagerServer serves one page of pools with the given lock state,
// mimicking the pool manager's paginated list endpoint.
func fakePoolManagerServer(t *testing.T, pools []poolmanager.Pool) *httptest.Server {
	t.Helper()
	served := false
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if served {
			json.NewEncoder(w).Encode(map[string]any{
				"result": map[string]any{"pg_num": 1, "pg_size": len(pools), "items": []poolmanager.Pool{}},
			})
			return
		}
		served = true
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"pg_num": 0, "pg_size": len(pools) + 1, "items": pools},
		})
	}))
}

func rawOperation(t *testing.T) *json.RawMessage {
	t.Helper()
	raw := json.RawMessage(`{"type":"scale"}`)
	return &raw
}

func TestRehydratePoolsBuildsLockedStateAndReplaysAllocations(t *testing.T) {
	server := fakePoolManagerServer(t, []poolmanager.Pool{
		{
			ID: "pool-1", Name: "pool-1",
			RSAvail: struct {
				CPUTotal  int64              `json:"cpu_total"`
				RAMTotal  int64              `json:"ram_total"`
				NodeCount int                `json:"node_count"`
				Nodes     []poolmanager.Node `json:"nodes"`
			}{
				CPUTotal: 2000, RAMTotal: 4000, NodeCount: 1,
				Nodes: []poolmanager.Node{{Name: "n1", CPU: 2000, RAM: 4000}},
			},
		},
		{
			ID: "pool-2", Name: "pool-2", Operation: rawOperation(t),
			RSAvail: struct {
				CPUTotal  int64              `json:"cpu_total"`
				RAMTotal  int64              `json:"ram_total"`
				NodeCount int                `json:"node_count"`
				Nodes     []poolmanager.Node `json:"nodes"`
			}{
				CPUTotal: 1000, RAMTotal: 1000, NodeCount: 1,
				Nodes: []poolmanager.Node{{Name: "n2", CPU: 1000, RAM: 1000}},
			},
		},
	})
	defer server.Close()

	poolMgr := poolmanager.NewClient(server.URL, server.Client())
	pools := pool.NewRegistry(testLogger())
	pods := pod.NewRegistry()
	pods.AddPod(&pod.FuzzerPod{
		Name: "fuzzer-a", CPUm: 500, RAMMi: 1000,
		Suitcase: pod.Suitcase{PoolID: "pool-1"},
	})

	if err := buildPoolTopology(context.Background(), poolMgr, pools); err != nil {
		t.Fatalf("buildPoolTopology: %v", err)
	}
	if err := replayPodAllocations(pools, pods); err != nil {
		t.Fatalf("replayPodAllocations: %v", err)
	}

	p1, err := pools.FindPool("pool-1")
	if err != nil {
		t.Fatalf("FindPool(pool-1): %v", err)
	}
	if p1.Locked() {
		t.Fatal("pool-1 should not be locked: its pool-manager entry had no operation")
	}

	p2, err := pools.FindPool("pool-2")
	if err != nil {
		t.Fatalf("FindPool(pool-2): %v", err)
	}
	if !p2.Locked() {
		t.Fatal("pool-2 should be locked: its pool-manager entry had a non-null operation")
	}

	cpuLeft, ramLeft, err := pools.ResourcesLeft("pool-1")
	if err != nil {
		t.Fatalf("ResourcesLeft: %v", err)
	}
	if cpuLeft != 2000-500 || ramLeft != 4000-1000 {
		t.Fatalf("resources left = (%d,%d), want (1500,3000): allocation replay did not apply", cpuLeft, ramLeft)
	}
}
