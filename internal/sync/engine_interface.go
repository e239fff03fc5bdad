package sync

import "context"

// Drainer is the interface the scheduler drives. It allows mocking the
// engine in tests.
type Drainer interface {
	// Drain performs one drain cycle over all pending operations.
	Drain(ctx context.Context) (*DrainResult, error)

	// Draining reports whether a drain cycle is currently running.
	Draining() bool
}
