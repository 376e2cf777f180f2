package orchestrator

import "errors"

var (
	// ErrInit wraps any Kubernetes API error encountered while probing
	// permissions at startup.
	ErrInit = errors.New("orchestrator init error")
)
