package worker

import "errors"

// Sentinel errors for pool operations
var (
	// ErrPoolStopped indicates the pool has been stopped
	ErrPoolStopped = errors.New("worker pool stopped")

	// ErrStopTimeout indicates workers did not finish within the stop timeout
	ErrStopTimeout = errors.New("worker pool stop timeout")
)
