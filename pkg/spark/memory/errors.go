package memory

import "errors"

// Panic values raised by this package. Misuse of an Arena or Tracker is a
// programming error and is reported by panicking with one of these.
var (
	// ErrOutOfMemory is raised by LimitHeap when a connection exceeds its
	// memory budget.
	ErrOutOfMemory = errors.New("memory: connection memory limit exceeded")

	// ErrReleased is raised when an Arena or Tracker is used after Destroy.
	ErrReleased = errors.New("memory: use after destroy")

	// ErrGiveBack is raised when GiveBack returns more bytes than the last
	// served chunk holds.
	ErrGiveBack = errors.New("memory: give back exceeds last allocation")

	// ErrAlignment is raised for an alignment that is not a power of two.
	ErrAlignment = errors.New("memory: alignment must be a power of two")

	// ErrCheckpoint is raised when Rollback is handed a checkpoint taken
	// before the last Reset.
	ErrCheckpoint = errors.New("memory: stale checkpoint")
)

// IsOutOfMemory reports whether a recovered panic value is ErrOutOfMemory.
func IsOutOfMemory(r any) bool {
	err, ok := r.(error)
	return ok && errors.Is(err, ErrOutOfMemory)
}
