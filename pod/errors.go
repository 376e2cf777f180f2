package pod

import "errors"

var (
	ErrPodExists   = errors.New("pod already exists")
	ErrPodNotFound = errors.New("pod not found")
)
