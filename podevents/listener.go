package podevents

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/fuzzcorp/starter/utils"
)

const maxReconnectBackoff = 30 * time.Second

// dedupeCacheSize bounds how many (name, resourceVersion) pairs are
// remembered to guard against a reconnecting watch redelivering the same
// event after a server-side timeout.
const dedupeCacheSize = 4096

// Listener maintains a persistent watch against the orchestrator's pod
// list and dispatches each event to a Handler. Every handler invocation
// holds dispatchMu, so Stop can wait for in-flight handling to drain
// before cancelling the watch.
type Listener struct {
	clientset kubernetes.Interface
	namespace string
	labelSel  string
	handler   *Handler
	logger    *slog.Logger

	seen *lru.Cache[string, struct{}]

	dispatchMu sync.Mutex
	stopMu     sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewListener builds a pod event listener scoped to namespace, watching
// pods carrying labelSelector.
func NewListener(clientset kubernetes.Interface, namespace, labelSelector string, handler *Handler, logger *slog.Logger) *Listener {
	seen, err := lru.New[string, struct{}](dedupeCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which dedupeCacheSize never is.
		panic(err)
	}
	return &Listener{
		clientset: clientset,
		namespace: namespace,
		labelSel:  labelSelector,
		handler:   handler,
		logger:    logger.With(slog.String("component", "pod.events.listener")),
		seen:      seen,
	}
}

// Start begins watching in a background goroutine. Safe to call once.
func (l *Listener) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.loop(ctx)
}

// Stop cancels the watch and blocks until any in-flight handler call
// returns, guaranteeing no handler runs after Stop returns.
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

// Pause returns the dispatch mutex so graceful-shutdown paths elsewhere can
// quiesce event handling without tearing the watch down.
func (l *Listener) Pause() *sync.Mutex {
	return &l.dispatchMu
}

func (l *Listener) loop(ctx context.Context) {
	defer close(l.done)

	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := l.watchOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			retryCount++
			backoff := utils.CalculateBackoff(retryCount, maxReconnectBackoff)
			l.logger.Error("pod watch failed, reconnecting",
				slog.Any("err", err), slog.Duration("backoff", backoff))
			time.Sleep(backoff)
		} else {
			retryCount = 0
		}
	}
}

func (l *Listener) watchOnce(ctx context.Context) error {
	w, err := l.clientset.CoreV1().Pods(l.namespace).Watch(ctx, metav1.ListOptions{
		LabelSelector: l.labelSel,
	})
	if err != nil {
		return err
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case event, ok := <-w.ResultChan():
			if !ok {
				return nil // channel closed: server-side timeout, reconnect
			}
			if event.Type == watch.Error {
				if status, ok := event.Object.(*metav1.Status); ok {
					return apierrors.FromObject(status)
				}
				continue
			}
			p, ok := event.Object.(*corev1.Pod)
			if !ok {
				continue
			}
			l.dispatch(ctx, toEventType(event.Type), p)
		}
	}
}

func toEventType(t watch.EventType) EventType {
	switch t {
	case watch.Added:
		return EventAdded
	case watch.Deleted:
		return EventDeleted
	default:
		return EventModified
	}
}

func (l *Listener) dispatch(ctx context.Context, eventType EventType, p *corev1.Pod) {
	key := p.Name + "/" + p.ResourceVersion
	if l.seen.Contains(key) {
		return
	}
	l.seen.Add(key, struct{}{})

	l.dispatchMu.Lock()
	defer l.dispatchMu.Unlock()
	l.handler.Handle(ctx, eventType, p)
}
