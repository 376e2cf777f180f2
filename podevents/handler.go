package podevents

import (
	"context"
	"errors"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/fuzzcorp/starter/pod"
	"github.com/fuzzcorp/starter/pool"
)

// EventType mirrors the watch event kinds the orchestrator emits.
type EventType string

const (
	EventAdded    EventType = "ADDED"
	EventModified EventType = "MODIFIED"
	EventDeleted  EventType = "DELETED"
)

// SaveMode controls whether a terminated pod's launch record is persisted.
type SaveMode string

const (
	SaveModeNone  SaveMode = "None"
	SaveModeError SaveMode = "Error"
	SaveModeAll   SaveMode = "All"
)

// FinishedNotification is published to the scheduler when a fuzzer pod's
// lifecycle concludes.
type FinishedNotification struct {
	pod.Suitcase
	Success bool
}

// Notifier publishes a pod-finished notification. Implemented by mq.Publisher.
type Notifier interface {
	NotifyPodFinished(ctx context.Context, n FinishedNotification) error
}

// LaunchRecord is the persisted record of one completed fuzzer run.
type LaunchRecord struct {
	pod.Suitcase
	StartTime  time.Time
	FinishTime time.Time
	ExitReason string
	AgentLogs  *string
	SandboxLogs *string
	ExpDate    time.Time
}

// LaunchStore persists LaunchRecords. Implemented by store.LaunchStore.
type LaunchStore interface {
	SaveLaunch(ctx context.Context, r LaunchRecord) error
}

// PodDeleter deletes and reads logs from pods. A narrow slice of
// orchestrator.Client's surface, kept as an interface so tests can fake it.
type PodDeleter interface {
	DeletePod(ctx context.Context, name string) error
	ReadPodLog(ctx context.Context, podName, containerName string) (string, error)
}

// Config bundles handler tuning knobs sourced from POD_* settings.
type Config struct {
	MinWorkTime             time.Duration
	OutputSaveMode          SaveMode
	LaunchInfoRetentionTime time.Duration
}

// Handler advances FuzzerPod state in response to orchestrator pod events.
type Handler struct {
	pods   *pod.Registry
	pools  *pool.Registry
	k8s    PodDeleter
	mq     Notifier
	store  LaunchStore
	cfg    Config
	logger *slog.Logger

	now func() time.Time
}

// NewHandler builds a pod event handler.
func NewHandler(pods *pod.Registry, pools *pool.Registry, k8s PodDeleter, mq Notifier, store LaunchStore, cfg Config, logger *slog.Logger) *Handler {
	return &Handler{
		pods: pods, pools: pools, k8s: k8s, mq: mq, store: store, cfg: cfg,
		logger: logger.With(slog.String("component", "pod.events")),
		now:    time.Now,
	}
}

// Handle runs the full per-event algorithm against the given snapshot.
func (h *Handler) Handle(ctx context.Context, eventType EventType, snapshot *corev1.Pod) {
	name := snapshot.Name

	// 1. Find or ignore.
	p, err := h.pods.FindPod(name)
	if err != nil {
		return
	}

	// 2. Start time capture.
	if p.StartTime == nil && snapshot.Status.StartTime != nil {
		t := snapshot.Status.StartTime.Time
		p.StartTime = &t
		h.logger.Info("fuzzer pod is now running", h.podAttrs(p)...)
	}

	// 3. Phase refresh.
	p.Phase = pod.Phase(snapshot.Status.Phase)

	// 4. Graceful-termination hook.
	if snapshot.DeletionTimestamp != nil && !p.Deleting {
		h.logger.Info("fuzzer pod is terminating", h.podAttrs(p)...)
		h.saveLogs(ctx, p)
		p.Deleting = true
	}

	// 5. Deferred-delete for displaced pods.
	if p.Displaced && !p.Deleting {
		h.logger.Info("fuzzer pod marked for deletion", h.podAttrs(p)...)
		h.deleteDisplacedPod(ctx, p)
		return
	}

	// 6. Lost-pod reclamation.
	if eventType == EventDeleted && (p.Phase == pod.PhasePending || p.Phase == pod.PhaseRunning) {
		h.logger.Info("fuzzer pod lost", h.podAttrs(p)...)
		h.finish(ctx, p, false)
		return
	}

	// 7. Non-terminal skip.
	if p.Phase == pod.PhasePending || p.Phase == pod.PhaseUnknown {
		return
	}

	// 8. Terminal handling.
	if eventType == EventDeleted {
		checker, err := NewStateChecker(snapshot)
		if err != nil {
			h.logger.Error("fuzzer pod deleted, could not build state checker", append(h.podAttrs(p), slog.Any("err", err))...)
			h.finish(ctx, p, false)
			return
		}

		info, err := checker.AgentTerminationInfo()
		if err != nil {
			if errors.Is(err, ErrNotTerminated) {
				h.logger.Error("fuzzer pod deleted, agent container is not terminated", h.podAttrs(p)...)
			} else {
				h.logger.Error("fuzzer pod deleted, failed to read termination info", append(h.podAttrs(p), slog.Any("err", err))...)
			}
			h.finish(ctx, p, false)
			return
		}

		success := info.ExitCode == 0
		h.finish(ctx, p, success)
		h.saveLaunchRecord(ctx, p, info)
		return
	}

	// 9. Self-kill.
	checker, err := NewStateChecker(snapshot)
	if err == nil && checker.IsAgentTerminated() && !p.Deleting {
		h.logger.Info("fuzzer pod agent exited, deleting", h.podAttrs(p)...)
		h.deleteSafe(ctx, p.Name)
	}
}

func (h *Handler) podAttrs(p *pod.FuzzerPod) []any {
	return []any{
		slog.String("fuzzer_id", p.FuzzerID),
		slog.String("fuzzer_rev", p.FuzzerRev),
		slog.String("agent_mode", string(p.AgentMode)),
		slog.String("pod", p.Name),
	}
}

func (h *Handler) saveLogs(ctx context.Context, p *pod.FuzzerPod) {
	if p.LogsSaved {
		return
	}
	agentLogs := h.readLog(ctx, p.Name, "agent")
	sandboxLogs := h.readLog(ctx, p.Name, "sandbox")
	p.AgentLogs = agentLogs
	p.SandboxLogs = sandboxLogs
	p.LogsSaved = true
}

func (h *Handler) readLog(ctx context.Context, podName, container string) *string {
	logs, err := h.k8s.ReadPodLog(ctx, podName, container)
	if err != nil {
		h.logger.Warn("failed to retrieve pod logs",
			slog.String("pod", podName), slog.String("container", container), slog.Any("err", err))
		return nil
	}
	return &logs
}

func (h *Handler) deleteDisplacedPod(ctx context.Context, p *pod.FuzzerPod) {
	if p.StartTime == nil {
		panic("podevents: displaced pod has no start_time")
	}

	elapsed := h.now().Sub(*p.StartTime)
	if elapsed >= h.cfg.MinWorkTime {
		h.deleteSafe(ctx, p.Name)
		return
	}

	delay := h.cfg.MinWorkTime - elapsed
	if delay < 0 {
		delay = 0
	}
	name := p.Name
	go func() {
		time.Sleep(delay)
		h.deleteSafe(context.Background(), name)
	}()
}

func (h *Handler) deleteSafe(ctx context.Context, podName string) {
	if err := h.k8s.DeletePod(ctx, podName); err != nil {
		h.logger.Error("failed to delete pod", slog.String("pod", podName), slog.Any("err", err))
	}
}

func (h *Handler) finish(ctx context.Context, p *pod.FuzzerPod, success bool) {
	if err := h.pools.FreeResources(p.PoolID, p.CPUm, p.RAMMi); err != nil {
		h.logger.Error("failed to free pool resources", slog.String("pool_id", p.PoolID), slog.Any("err", err))
	}
	if err := h.pods.RemovePod(p.Name); err != nil {
		h.logger.Error("failed to remove pod from registry", slog.String("pod", p.Name), slog.Any("err", err))
	}
	if err := h.mq.NotifyPodFinished(ctx, FinishedNotification{Suitcase: p.Suitcase, Success: success}); err != nil {
		h.logger.Error("failed to notify pod finished", slog.String("pod", p.Name), slog.Any("err", err))
	}
}

func (h *Handler) saveLaunchRecord(ctx context.Context, p *pod.FuzzerPod, info ContainerExitInfo) {
	switch h.cfg.OutputSaveMode {
	case SaveModeNone:
		return
	case SaveModeError:
		if info.ExitCode == 0 {
			return
		}
	}

	rec := LaunchRecord{
		Suitcase:    p.Suitcase,
		StartTime:   info.StartTime,
		FinishTime:  info.FinishTime,
		ExitReason:  info.Reason,
		AgentLogs:   p.AgentLogs,
		SandboxLogs: p.SandboxLogs,
		ExpDate:     info.StartTime.Add(h.cfg.LaunchInfoRetentionTime),
	}
	if err := h.store.SaveLaunch(ctx, rec); err != nil {
		h.logger.Error("failed to save launch record", slog.String("pod", p.Name), slog.Any("err", err))
	}
}
