package pool

import "errors"

// Sentinel errors returned by ResourcePool and PoolRegistry. Callers should
// use errors.Is to distinguish them; the wrapping error carries the detail.
var (
	ErrPoolLocked           = errors.New("pool locked")
	ErrPoolCapacityExceeded = errors.New("requested resources exceed pool capacity")
	ErrPoolOverflow         = errors.New("pool overflowed")
	ErrPoolNoResourcesLeft  = errors.New("no resources left")
	ErrPoolUnderflow        = errors.New("pool underflow")
	ErrPoolNodeExists       = errors.New("node already exists in pool")
	ErrPoolNodeNotFound     = errors.New("node not found in pool")
	ErrPoolExists           = errors.New("pool already exists")
	ErrPoolNotFound         = errors.New("pool not found")
)
