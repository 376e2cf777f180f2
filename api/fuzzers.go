package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"

	"github.com/fuzzcorp/starter/config"
	"github.com/fuzzcorp/starter/displacement"
	"github.com/fuzzcorp/starter/metrics"
	"github.com/fuzzcorp/starter/pod"
	"github.com/fuzzcorp/starter/podspec"
	"github.com/fuzzcorp/starter/pool"
)

// RunFuzzerRequest is the body of POST .../fuzzers. Every string field is a
// LimitedString (1-64 chars) and every usage field must be strictly
// positive; Validate enforces both.
type RunFuzzerRequest struct {
	UserID       string `json:"user_id"`
	ProjectID    string `json:"project_id"`
	SessionID    string `json:"session_id"`
	FuzzerID     string `json:"fuzzer_id"`
	FuzzerRev    string `json:"fuzzer_rev"`
	FuzzerEngine string `json:"fuzzer_engine"`
	FuzzerLang   string `json:"fuzzer_lang"`
	AgentMode    string `json:"agent_mode"`
	ImageID      string `json:"image_id"`
	CPUUsage     int64  `json:"cpu_usage"`
	RAMUsage     int64  `json:"ram_usage"`
	TmpfsSize    int64  `json:"tmpfs_size"`
}

func limitedString(name, value string) error {
	if len(value) < 1 || len(value) > 64 {
		return fmt.Errorf("%s must be between 1 and 64 characters", name)
	}
	return nil
}

func resourceUsage(name string, value int64) error {
	if value <= 0 {
		return fmt.Errorf("%s must be positive", name)
	}
	return nil
}

// Validate checks every field's constraints, collecting nothing - it
// returns the first violation found, matching FastAPI's per-field 422.
func (r RunFuzzerRequest) Validate() error {
	for _, f := range []struct {
		name  string
		value string
	}{
		{"user_id", r.UserID}, {"project_id", r.ProjectID}, {"session_id", r.SessionID},
		{"fuzzer_id", r.FuzzerID}, {"fuzzer_rev", r.FuzzerRev}, {"fuzzer_engine", r.FuzzerEngine},
		{"fuzzer_lang", r.FuzzerLang}, {"agent_mode", r.AgentMode}, {"image_id", r.ImageID},
	} {
		if err := limitedString(f.name, f.value); err != nil {
			return err
		}
	}
	for _, f := range []struct {
		name  string
		value int64
	}{
		{"cpu_usage", r.CPUUsage}, {"ram_usage", r.RAMUsage}, {"tmpfs_size", r.TmpfsSize},
	} {
		if err := resourceUsage(f.name, f.value); err != nil {
			return err
		}
	}
	return nil
}

// computeResources is the millicpu/MiB pair reserved against a pool.
type computeResources struct {
	CPU int64
	RAM int64
}

// PodCreator creates a pod from a built spec. Satisfied by orchestrator.Client.
type PodCreator interface {
	CreatePod(ctx context.Context, pod *corev1.Pod) (*corev1.Pod, error)
}

// FuzzerPodDeleter tears down pods by fuzzer and/or pool label selector.
// Satisfied by orchestrator.Client.
type FuzzerPodDeleter interface {
	DeleteFuzzerPods(ctx context.Context, fuzzerID, poolID string) error
}

// FuzzerHandler implements the run/stop fuzzer-pod admission endpoints.
type FuzzerHandler struct {
	pools    *pool.Registry
	pods     *pod.Registry
	k8s      PodCreator
	deleter  FuzzerPodDeleter
	template *podspec.Template
	planner  *displacement.Planner
	cfg      config.Config
	logger   *slog.Logger
}

// NewFuzzerHandler builds a fuzzer admission handler.
func NewFuzzerHandler(
	pools *pool.Registry,
	pods *pod.Registry,
	k8s PodCreator,
	deleter FuzzerPodDeleter,
	template *podspec.Template,
	planner *displacement.Planner,
	cfg config.Config,
	logger *slog.Logger,
) *FuzzerHandler {
	return &FuzzerHandler{
		pools: pools, pods: pods, k8s: k8s, deleter: deleter, template: template,
		planner: planner, cfg: cfg, logger: logger.With(slog.String("component", "api.fuzzers")),
	}
}

// RunFuzzer handles POST /api/v1/pools/{pool_id}/fuzzers.
func (h *FuzzerHandler) RunFuzzer(w http.ResponseWriter, r *http.Request) {
	poolID := r.PathValue("pool_id")

	var req RunFuzzerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInternal)
		return
	}
	if err := req.Validate(); err != nil {
		h.logger.Warn("run fuzzer request failed validation", slog.String("pool_id", poolID), slog.Any("err", err))
		writeError(w, http.StatusBadRequest, errInternal)
		return
	}

	sandbox := computeResources{CPU: req.CPUUsage, RAM: req.RAMUsage + req.TmpfsSize}
	agent := computeResources{CPU: h.cfg.FuzzerPod.AgentCPU, RAM: h.cfg.FuzzerPod.AgentRAM}
	total := computeResources{CPU: sandbox.CPU + agent.CPU, RAM: sandbox.RAM + agent.RAM}

	ctx := r.Context()
	if err := h.pools.AllocateResources(poolID, total.CPU, total.RAM); err != nil {
		h.handleAllocationFailure(ctx, w, poolID, req, total, err)
		return
	}

	metrics.RecordAllocate(ctx, poolID, "ok")

	builtPod := h.buildPod(poolID, req, agent, sandbox)
	created, err := h.k8s.CreatePod(ctx, builtPod)
	if err != nil {
		h.logger.Error("failed to create fuzzer pod", slog.String("pool_id", poolID), slog.Any("err", err))
		if ferr := h.pools.FreeResources(poolID, total.CPU, total.RAM); ferr != nil {
			h.logger.Error("failed to free resources after create failure", slog.Any("err", ferr))
		}
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	p := &pod.FuzzerPod{
		Name:      created.Name,
		Phase:     pod.Phase(created.Status.Phase),
		Displaced: false,
		Deleting:  false,
		CPUm:      total.CPU,
		RAMMi:     total.RAM,
		Suitcase: pod.Suitcase{
			UserID: req.UserID, ProjectID: req.ProjectID, PoolID: poolID,
			FuzzerID: req.FuzzerID, FuzzerRev: req.FuzzerRev, AgentMode: pod.AgentMode(req.AgentMode),
			FuzzerLang: req.FuzzerLang, FuzzerEngine: req.FuzzerEngine, SessionID: req.SessionID,
		},
	}
	if err := h.pods.AddPod(p); err != nil {
		h.logger.Error("failed to register newly created pod", slog.String("pod", created.Name), slog.Any("err", err))
		if ferr := h.pools.FreeResources(poolID, total.CPU, total.RAM); ferr != nil {
			h.logger.Error("failed to free resources after register failure", slog.Any("err", ferr))
		}
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	metrics.RecordAdmission(ctx, poolID, "admitted")
	h.logger.Info("admitted fuzzer pod",
		slog.String("pool_id", poolID), slog.String("fuzzer_id", req.FuzzerID),
		slog.String("fuzzer_rev", req.FuzzerRev), slog.String("agent_mode", req.AgentMode))
	writeOK(w, http.StatusCreated)
}

// handleAllocationFailure maps a PoolRegistry.AllocateResources error to
// the HTTP response, firing a best-effort displacement round when a
// firstrun launch hits resource exhaustion.
func (h *FuzzerHandler) handleAllocationFailure(ctx context.Context, w http.ResponseWriter, poolID string, req RunFuzzerRequest, total computeResources, err error) {
	switch {
	case errors.Is(err, pool.ErrPoolNotFound):
		metrics.RecordAllocate(ctx, poolID, "pool_not_found")
		writeError(w, http.StatusNotFound, errPoolNotFound)

	case errors.Is(err, pool.ErrPoolLocked):
		metrics.RecordAllocate(ctx, poolID, "locked")
		writeError(w, http.StatusConflict, errPoolLocked)

	case errors.Is(err, pool.ErrPoolCapacityExceeded):
		metrics.RecordAllocate(ctx, poolID, "capacity_exceeded")
		writeError(w, http.StatusConflict, errPoolTooSmall)

	case errors.Is(err, pool.ErrPoolNoResourcesLeft), errors.Is(err, pool.ErrPoolOverflow):
		metrics.RecordAllocate(ctx, poolID, "no_resources_left")
		h.maybeDisplace(poolID, req, total)
		writeError(w, http.StatusConflict, errPoolNoResources)

	default:
		h.logger.Error("unexpected pool allocation error", slog.String("pool_id", poolID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, errInternal)
	}
}

// maybeDisplace fires a detached displacement round when a firstrun
// launch cannot be admitted and no round is already underway for the
// pool. It never blocks the HTTP response.
func (h *FuzzerHandler) maybeDisplace(poolID string, req RunFuzzerRequest, total computeResources) {
	if pod.AgentMode(req.AgentMode) != pod.AgentModeFirstRun {
		return
	}
	if h.pods.DisplacementInProgress(poolID) {
		return
	}

	freeCPU, freeRAM, err := h.pools.ResourcesLeft(poolID)
	if err != nil {
		h.logger.Error("failed to read resources left before displacement", slog.String("pool_id", poolID), slog.Any("err", err))
		return
	}
	cpuRequired := total.CPU - freeCPU
	ramRequired := total.RAM - freeRAM

	go func() {
		if err := h.planner.TryDisplace(context.Background(), poolID, cpuRequired, ramRequired); err != nil {
			h.logger.Error("displacement round failed", slog.String("pool_id", poolID), slog.Any("err", err))
		}
	}()
}

func (h *FuzzerHandler) buildPod(poolID string, req RunFuzzerRequest, agent, sandbox computeResources) *corev1.Pod {
	b := h.template.New().
		SetLabel("user_id", req.UserID).
		SetLabel("project_id", req.ProjectID).
		SetLabel("pool_id", poolID).
		SetLabel("fuzzer_id", req.FuzzerID).
		SetLabel("fuzzer_rev", req.FuzzerRev).
		SetLabel("agent_mode", req.AgentMode).
		SetLabel("fuzzer_lang", req.FuzzerLang).
		SetLabel("fuzzer_engine", req.FuzzerEngine).
		SetLabel("session_id", req.SessionID).
		SetNodeSelector("pool_id", poolID).
		SetToleration("pool_id", poolID, corev1.TolerationOpEqual, corev1.TaintEffectNoSchedule).
		SetTmpfsSize(fmt.Sprintf("%dMi", req.TmpfsSize)).
		SetAgentImage(fmt.Sprintf("%s/agents/%s", h.cfg.Registry.URL, strings.ToLower(req.FuzzerEngine))).
		SetAgentResources(fmt.Sprintf("%dm", agent.CPU), fmt.Sprintf("%dMi", agent.RAM)).
		SetAgentEnv("AGENT_MODE", req.AgentMode).
		SetAgentEnv("FUZZER_SESSION_ID", req.SessionID).
		SetAgentEnv("FUZZER_USER_ID", req.UserID).
		SetAgentEnv("FUZZER_PROJECT_ID", req.ProjectID).
		SetAgentEnv("FUZZER_POOL_ID", poolID).
		SetAgentEnv("FUZZER_ID", req.FuzzerID).
		SetAgentEnv("FUZZER_REV", req.FuzzerRev).
		SetAgentEnv("FUZZER_LANG", req.FuzzerLang).
		SetAgentEnv("FUZZER_ENGINE", req.FuzzerEngine).
		SetAgentEnv("FUZZER_RAM_LIMIT", strconv.FormatInt(sandbox.RAM, 10)).
		SetSandboxImage(fmt.Sprintf("%s/sandbox/%s", h.cfg.Registry.URL, strings.ToLower(req.ImageID))).
		SetSandboxResources(fmt.Sprintf("%dm", sandbox.CPU), fmt.Sprintf("%dMi", sandbox.RAM))

	builtPod := b.Pod()
	builtPod.Name = ""
	builtPod.GenerateName = fmt.Sprintf("fuzzer-%s-", strings.ToLower(req.FuzzerID))
	return builtPod
}

// StopFuzzerPods handles DELETE /api/v1/pools/{pool_id}/fuzzers/{fuzzer_id}.
func (h *FuzzerHandler) StopFuzzerPods(w http.ResponseWriter, r *http.Request) {
	poolID := r.PathValue("pool_id")
	fuzzerID := r.PathValue("fuzzer_id")

	if err := h.deleter.DeleteFuzzerPods(r.Context(), fuzzerID, poolID); err != nil {
		h.logger.Error("failed to stop fuzzer pods", slog.String("pool_id", poolID), slog.String("fuzzer_id", fuzzerID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	h.logger.Info("stopped fuzzer pods", slog.String("pool_id", poolID), slog.String("fuzzer_id", fuzzerID))
	writeOK(w, http.StatusOK)
}

// StopAllFuzzerPods handles DELETE /api/v1/pools/{pool_id}/fuzzers.
func (h *FuzzerHandler) StopAllFuzzerPods(w http.ResponseWriter, r *http.Request) {
	poolID := r.PathValue("pool_id")

	if err := h.deleter.DeleteFuzzerPods(r.Context(), "", poolID); err != nil {
		h.logger.Error("failed to stop all fuzzer pods", slog.String("pool_id", poolID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	h.logger.Info("stopped all fuzzer pods", slog.String("pool_id", poolID))
	writeOK(w, http.StatusOK)
}
