package poolevents

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fuzzcorp/starter/poolmanager"
	"github.com/fuzzcorp/starter/utils"
)

const maxReconnectBackoff = 30 * time.Second

// EventSource streams pool events. Satisfied by poolmanager.Client.
type EventSource interface {
	EventStream(ctx context.Context) (<-chan poolmanager.Event, error)
}

// Listener maintains a persistent SSE subscription to the pool manager and
// dispatches each event to a Handler, reconnecting on stream failure.
type Listener struct {
	source  EventSource
	handler *Handler
	logger  *slog.Logger

	dispatchMu sync.Mutex
	stopMu     sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewListener builds a pool event listener.
func NewListener(source EventSource, handler *Handler, logger *slog.Logger) *Listener {
	return &Listener{
		source:  source,
		handler: handler,
		logger:  logger.With(slog.String("component", "pool.events.listener")),
	}
}

// Start begins consuming the event stream in a background goroutine.
func (l *Listener) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.loop(ctx)
}

// Stop ends the subscription and waits for any in-flight dispatch to drain.
func (l *Listener) Stop() {
	l.stopMu.Lock()
	defer l.stopMu.Unlock()

	l.dispatchMu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.dispatchMu.Unlock()

	if l.done != nil {
		<-l.done
	}
}

func (l *Listener) loop(ctx context.Context) {
	defer close(l.done)

	l.logger.Info("pool event listener is running")

	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := l.watchOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			retryCount++
			backoff := utils.CalculateBackoff(retryCount, maxReconnectBackoff)
			l.logger.Error("pool event stream failed, reconnecting",
				slog.Any("err", err), slog.Duration("backoff", backoff))
			time.Sleep(backoff)
		} else {
			retryCount = 0
		}
	}
}

func (l *Listener) watchOnce(ctx context.Context) error {
	events, err := l.source.EventStream(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil // stream closed by server, reconnect
			}
			l.dispatch(ctx, e)
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, e poolmanager.Event) {
	l.dispatchMu.Lock()
	defer l.dispatchMu.Unlock()
	l.handler.Handle(ctx, e.Type, e.Data)
}
