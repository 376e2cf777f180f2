package startup

import (
	"context"
	"log/slog"
	"time"
)

// launchSweeper expires retained launch records. Satisfied by store.LaunchStore.
type launchSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// outboxFlusher retries any MQ notification still sitting in the outbox.
// Satisfied by mq.Publisher.
type outboxFlusher interface {
	FlushOutbox(ctx context.Context)
}

// sweeper runs the two periodic background chores the original process ran
// as separate BackgroundTasks, on a single shared ticker.
type sweeper struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startSweeper(launches launchSweeper, publisher outboxFlusher, interval time.Duration, logger *slog.Logger) *sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	s := &sweeper{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx, launches, publisher, logger)
			}
		}
	}()

	return s
}

func (s *sweeper) tick(ctx context.Context, launches launchSweeper, publisher outboxFlusher, logger *slog.Logger) {
	n, err := launches.SweepExpired(ctx, time.Now())
	if err != nil {
		logger.Error("launch record sweep failed", slog.Any("err", err))
	} else if n > 0 {
		logger.Info("swept expired launch records", slog.Int64("count", n))
	}

	publisher.FlushOutbox(ctx)
}

func (s *sweeper) stop() {
	s.cancel()
	<-s.done
}
