package poolevents

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/fuzzcorp/starter/pool"
)

type fakeDeleter struct {
	mu    sync.Mutex
	calls [][2]string
}

func (f *fakeDeleter) DeleteFuzzerPods(ctx context.Context, fuzzerID, poolID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]string{fuzzerID, poolID})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandlePingIsNoop(t *testing.T) {
	pools := pool.NewRegistry(testLogger())
	h := NewHandler(pools, &fakeDeleter{}, testLogger())
	h.Handle(context.Background(), "ping", "{}")
	if len(pools.ListPools()) != 0 {
		t.Fatal("expected no pools created by a ping event")
	}
}

func TestHandleCreatingCreatesLockedPool(t *testing.T) {
	pools := pool.NewRegistry(testLogger())
	h := NewHandler(pools, &fakeDeleter{}, testLogger())
	h.Handle(context.Background(), string(TypeCreating), `{"pool_id":"p1"}`)

	p, err := pools.FindPool("p1")
	if err != nil {
		t.Fatalf("FindPool: %v", err)
	}
	if !p.Locked() {
		t.Fatal("expected pool to be created locked")
	}
}

func TestHandleCreatedUnlocksPool(t *testing.T) {
	pools := pool.NewRegistry(testLogger())
	if _, err := pools.CreatePool("p1", true); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	h := NewHandler(pools, &fakeDeleter{}, testLogger())
	h.Handle(context.Background(), string(TypeCreated), `{"pool_id":"p1"}`)

	p, _ := pools.FindPool("p1")
	if p.Locked() {
		t.Fatal("expected pool to be unlocked")
	}
}

func TestHandleUpdatingLocksAndEvicts(t *testing.T) {
	pools := pool.NewRegistry(testLogger())
	if _, err := pools.CreatePool("p1", false); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	deleter := &fakeDeleter{}
	h := NewHandler(pools, deleter, testLogger())
	h.Handle(context.Background(), string(TypeUpdating), `{"pool_id":"p1"}`)

	p, _ := pools.FindPool("p1")
	if !p.Locked() {
		t.Fatal("expected pool to be locked during update")
	}
	if len(deleter.calls) != 1 || deleter.calls[0][1] != "p1" {
		t.Fatalf("expected one eviction call for p1, got %+v", deleter.calls)
	}
}

func TestHandleUpdatedAlsoEvicts(t *testing.T) {
	pools := pool.NewRegistry(testLogger())
	if _, err := pools.CreatePool("p1", true); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	deleter := &fakeDeleter{}
	h := NewHandler(pools, deleter, testLogger())
	h.Handle(context.Background(), string(TypeUpdated), `{"pool_id":"p1"}`)

	p, _ := pools.FindPool("p1")
	if p.Locked() {
		t.Fatal("expected pool to be unlocked after update finished")
	}
	if len(deleter.calls) != 1 {
		t.Fatalf("expected updated to also evict pods (preserved quirk), got %+v", deleter.calls)
	}
}

func TestHandleDeletedRemovesPool(t *testing.T) {
	pools := pool.NewRegistry(testLogger())
	if _, err := pools.CreatePool("p1", true); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	h := NewHandler(pools, &fakeDeleter{}, testLogger())
	h.Handle(context.Background(), string(TypeDeleted), `{"pool_id":"p1"}`)

	if pools.HasPool("p1") {
		t.Fatal("expected pool to be removed")
	}
}

func TestHandleNodeAddedAndRemoved(t *testing.T) {
	pools := pool.NewRegistry(testLogger())
	if _, err := pools.CreatePool("p1", false); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	h := NewHandler(pools, &fakeDeleter{}, testLogger())
	h.Handle(context.Background(), string(TypeNodeAdded), `{"pool_id":"p1","node_name":"n1","cpu":1000,"ram":2048}`)

	cpu, ram, err := pools.ResourcesLeft("p1")
	if err != nil {
		t.Fatalf("ResourcesLeft: %v", err)
	}
	if cpu != 1000 || ram != 2048 {
		t.Fatalf("ResourcesLeft = (%d, %d), want (1000, 2048)", cpu, ram)
	}

	h.Handle(context.Background(), string(TypeNodeRemoved), `{"pool_id":"p1","node_name":"n1"}`)
	cpu, ram, err = pools.ResourcesLeft("p1")
	if err != nil {
		t.Fatalf("ResourcesLeft: %v", err)
	}
	if cpu != 0 || ram != 0 {
		t.Fatalf("ResourcesLeft = (%d, %d), want (0, 0) after node removal", cpu, ram)
	}
}

func TestHandleUnknownEventIsIgnored(t *testing.T) {
	pools := pool.NewRegistry(testLogger())
	h := NewHandler(pools, &fakeDeleter{}, testLogger())
	h.Handle(context.Background(), "bondifuzz.pools.mystery", `{}`)
}
