// Package pod tracks the lifecycle of fuzzer pods and the displacement
// bookkeeping that coordinates eviction rounds with admission.
package pod

import "time"

// Phase mirrors the orchestrator's pod phase.
type Phase string

const (
	PhasePending   Phase = "Pending"
	PhaseRunning   Phase = "Running"
	PhaseSucceeded Phase = "Succeeded"
	PhaseFailed    Phase = "Failed"
	PhaseUnknown   Phase = "Unknown"
)

// Terminal reports whether the phase is a terminal one (Succeeded/Failed).
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// AgentMode is the role a fuzzer pod's agent plays.
type AgentMode string

const (
	AgentModeFuzzing  AgentMode = "fuzzing"
	AgentModeMerge    AgentMode = "merge"
	AgentModeFirstRun AgentMode = "firstrun"
)

// Suitcase is the set of fields opaque to the core scheduling logic but
// forwarded verbatim to the message queue and launch record.
type Suitcase struct {
	UserID       string
	ProjectID    string
	PoolID       string
	FuzzerID     string
	FuzzerRev    string
	AgentMode    AgentMode
	FuzzerLang   string
	FuzzerEngine string
	SessionID    string
}

// FuzzerPod is the in-memory record of a fuzzer pod, identified by its
// orchestrator pod name. It is mutated only by the pod event processor
// after creation.
type FuzzerPod struct {
	Name string

	// Orchestrator state.
	Phase     Phase
	StartTime *time.Time
	Displaced bool
	Deleting  bool
	CPUm      int64 // total reserved millicpu: agent + sandbox
	RAMMi     int64 // total reserved MiB: agent + sandbox + tmpfs

	Suitcase

	// Captured logs, populated once at the graceful-termination hook.
	AgentLogs   *string
	SandboxLogs *string
	LogsSaved   bool
}

// Clone returns a deep-enough copy safe to hand to a caller without risking
// concurrent mutation of the registry's own record.
func (p *FuzzerPod) Clone() *FuzzerPod {
	cp := *p
	if p.StartTime != nil {
		t := *p.StartTime
		cp.StartTime = &t
	}
	if p.AgentLogs != nil {
		s := *p.AgentLogs
		cp.AgentLogs = &s
	}
	if p.SandboxLogs != nil {
		s := *p.SandboxLogs
		cp.SandboxLogs = &s
	}
	return &cp
}
