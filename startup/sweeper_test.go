package startup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeLaunchSweeper struct {
	calls atomic.Int64
	err   error
}

func (f *fakeLaunchSweeper) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	f.calls.Add(1)
	return 0, f.err
}

type fakeOutboxFlusher struct {
	calls atomic.Int64
}

func (f *fakeOutboxFlusher) FlushOutbox(ctx context.Context) {
	f.calls.Add(1)
}

func TestSweeperRunsBothChoresOnEveryTick(t *testing.T) {
	launches := &fakeLaunchSweeper{}
	publisher := &fakeOutboxFlusher{}

	s := startSweeper(launches, publisher, 10*time.Millisecond, testLogger())
	defer s.stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if launches.calls.Load() >= 2 && publisher.calls.Load() >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected at least 2 ticks, got launches=%d publisher=%d", launches.calls.Load(), publisher.calls.Load())
}

func TestSweeperStopWaitsForLoopToExit(t *testing.T) {
	launches := &fakeLaunchSweeper{}
	publisher := &fakeOutboxFlusher{}

	s := startSweeper(launches, publisher, time.Hour, testLogger())
	s.stop()

	select {
	case <-s.done:
	default:
		t.Fatal("expected done channel closed after stop")
	}
}
