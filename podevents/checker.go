// Package podevents consumes the orchestrator's pod watch stream and
// advances each tracked FuzzerPod through its lifecycle.
package podevents

import (
	"errors"
	"time"

	corev1 "k8s.io/api/core/v1"
)

// ErrNotTerminated is returned when termination info is requested for a
// container that has not terminated.
var ErrNotTerminated = errors.New("container is not terminated")

// ContainerExitInfo captures a terminated container's exit details.
type ContainerExitInfo struct {
	StartTime  time.Time
	FinishTime time.Time
	ExitCode   int32
	Reason     string
}

// StateChecker answers termination questions about a pod's named
// containers, read from its container statuses.
type StateChecker struct {
	agent   *corev1.ContainerState
	sandbox *corev1.ContainerState
}

// NewStateChecker builds a StateChecker from a pod snapshot. Returns an
// error if the pod is missing an agent or sandbox container status.
func NewStateChecker(p *corev1.Pod) (*StateChecker, error) {
	var agent, sandbox *corev1.ContainerState
	for i := range p.Status.ContainerStatuses {
		cs := &p.Status.ContainerStatuses[i]
		switch cs.Name {
		case "agent":
			agent = &cs.State
		case "sandbox":
			sandbox = &cs.State
		}
	}
	if agent == nil {
		return nil, errors.New("pod is missing agent container status")
	}
	if sandbox == nil {
		return nil, errors.New("pod is missing sandbox container status")
	}
	return &StateChecker{agent: agent, sandbox: sandbox}, nil
}

func terminationInfo(state *corev1.ContainerState) (ContainerExitInfo, error) {
	if state.Terminated == nil {
		return ContainerExitInfo{}, ErrNotTerminated
	}
	t := state.Terminated
	return ContainerExitInfo{
		StartTime:  t.StartedAt.Time,
		FinishTime: t.FinishedAt.Time,
		ExitCode:   t.ExitCode,
		Reason:     t.Reason,
	}, nil
}

// AgentTerminationInfo returns the agent container's exit details.
func (c *StateChecker) AgentTerminationInfo() (ContainerExitInfo, error) {
	return terminationInfo(c.agent)
}

// SandboxTerminationInfo returns the sandbox container's exit details.
func (c *StateChecker) SandboxTerminationInfo() (ContainerExitInfo, error) {
	return terminationInfo(c.sandbox)
}

// IsAgentTerminated reports whether the agent container has terminated.
func (c *StateChecker) IsAgentTerminated() bool {
	return c.agent.Terminated != nil
}

// IsSandboxTerminated reports whether the sandbox container has terminated.
func (c *StateChecker) IsSandboxTerminated() bool {
	return c.sandbox.Terminated != nil
}
