package poolevents

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/fuzzcorp/starter/pool"
)

// FuzzerPodDeleter tears down every fuzzer pod running in a pool. Satisfied
// by orchestrator.Client.
type FuzzerPodDeleter interface {
	DeleteFuzzerPods(ctx context.Context, fuzzerID, poolID string) error
}

// Handler applies pool lifecycle events to the pool registry, tearing down
// pods on the orchestrator when a pool's topology changes underneath them.
type Handler struct {
	pools  *pool.Registry
	k8s    FuzzerPodDeleter
	logger *slog.Logger
}

// NewHandler builds a pool event handler.
func NewHandler(pools *pool.Registry, k8s FuzzerPodDeleter, logger *slog.Logger) *Handler {
	return &Handler{pools: pools, k8s: k8s, logger: logger.With(slog.String("component", "pool.events"))}
}

// Handle applies one decoded SSE event to the pool registry.
func (h *Handler) Handle(ctx context.Context, eventType string, rawData string) {
	et := EventType(eventType)

	if et == TypePing {
		return
	}

	var e envelope
	if et == TypeCreating || et == TypeCreated || et == TypeUpdating || et == TypeUpdated ||
		et == TypeDeleting || et == TypeDeleted || et == TypeNodeAdded || et == TypeNodeRemoved {
		if err := json.Unmarshal([]byte(rawData), &e); err != nil {
			h.logger.Error("failed to decode pool event", slog.String("type", eventType), slog.Any("err", err))
			return
		}
	}

	switch et {
	case TypeCreating:
		if _, err := h.pools.CreatePool(e.PoolID, true); err != nil {
			h.logger.Error("pool creation failed", slog.String("pool_id", e.PoolID), slog.Any("err", err))
			return
		}
		h.logger.Debug("pool creation started", slog.String("pool_id", e.PoolID))

	case TypeCreated:
		if err := h.pools.UnlockPool(e.PoolID); err != nil {
			h.logger.Error("pool unlock failed", slog.String("pool_id", e.PoolID), slog.Any("err", err))
			return
		}
		h.logger.Debug("pool creation finished", slog.String("pool_id", e.PoolID))

	case TypeUpdating:
		if err := h.pools.LockPool(e.PoolID); err != nil {
			h.logger.Error("pool lock failed", slog.String("pool_id", e.PoolID), slog.Any("err", err))
			return
		}
		h.deleteAllPods(ctx, e.PoolID)
		h.logger.Debug("pool update started", slog.String("pool_id", e.PoolID))

	case TypeUpdated:
		// Unlocks the pool and, like updating, evicts all its pods: the
		// pool's topology already changed by the time this event arrives,
		// so pods placed against the old topology are evicted and rescheduled.
		if err := h.pools.UnlockPool(e.PoolID); err != nil {
			h.logger.Error("pool unlock failed", slog.String("pool_id", e.PoolID), slog.Any("err", err))
			return
		}
		h.deleteAllPods(ctx, e.PoolID)
		h.logger.Debug("pool update finished", slog.String("pool_id", e.PoolID))

	case TypeDeleting:
		if err := h.pools.LockPool(e.PoolID); err != nil {
			h.logger.Error("pool lock failed", slog.String("pool_id", e.PoolID), slog.Any("err", err))
			return
		}
		h.deleteAllPods(ctx, e.PoolID)
		h.logger.Debug("pool deletion started", slog.String("pool_id", e.PoolID))

	case TypeDeleted:
		if err := h.pools.RemovePool(e.PoolID); err != nil {
			h.logger.Error("pool removal failed", slog.String("pool_id", e.PoolID), slog.Any("err", err))
			return
		}
		h.logger.Debug("pool deletion finished", slog.String("pool_id", e.PoolID))

	case TypeNodeAdded:
		if err := h.pools.AddPoolNode(e.PoolID, e.NodeName, e.CPU, e.RAM); err != nil {
			h.logger.Error("pool node add failed", slog.String("pool_id", e.PoolID), slog.String("node_name", e.NodeName), slog.Any("err", err))
			return
		}
		h.logger.Debug("pool node added", slog.String("pool_id", e.PoolID), slog.String("node_name", e.NodeName))

	case TypeNodeRemoved:
		if err := h.pools.RemovePoolNode(e.PoolID, e.NodeName); err != nil {
			h.logger.Error("pool node remove failed", slog.String("pool_id", e.PoolID), slog.String("node_name", e.NodeName), slog.Any("err", err))
			return
		}
		h.logger.Debug("pool node removed", slog.String("pool_id", e.PoolID), slog.String("node_name", e.NodeName))

	default:
		h.logger.Warn("unknown pool event type", slog.String("type", eventType))
	}
}

func (h *Handler) deleteAllPods(ctx context.Context, poolID string) {
	if err := h.k8s.DeleteFuzzerPods(ctx, "", poolID); err != nil {
		h.logger.Error("failed to delete fuzzer pods for pool",
			slog.String("pool_id", poolID), slog.Any("err", err))
	}
}
