package task

import (
	"context"
	"time"
)

// State is the lifecycle state of a task.
type State int32

const (
	// StateCreated is the state of a task that was never started.
	StateCreated State = iota

	// StateStarted is the state of a task whose run-loop is active.
	StateStarted

	// StateStopped is the state of a task after Stop, or after its run-loop crashed.
	// A stopped task may be started again.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateStarted:
		return "STARTED"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Worker is the capability a task drives. Every cycle the run-loop asks
// ShouldProcess, calls Process when it reports true, and then sleeps for
// CalculateSleepTime.
//
// All three methods are called from the task's own goroutine only.
type Worker interface {
	// ShouldProcess reports whether there is work for this cycle.
	ShouldProcess() bool

	// Process performs one unit of work. A returned error fails the
	// current cycle only; the run-loop continues with the next one.
	Process(ctx context.Context) error

	// CalculateSleepTime returns how long to sleep before the next cycle.
	// waiting is the time elapsed since the task was last active.
	// A non-positive result starts the next cycle immediately.
	CalculateSleepTime(waiting time.Duration) time.Duration
}

// BeforeStarter is implemented by workers that need a hook on the caller's
// goroutine before the run-loop is spawned.
type BeforeStarter interface {
	BeforeStart()
}

// AfterStopper is implemented by workers that need a hook on the caller's
// goroutine once the run-loop has fully exited.
type AfterStopper interface {
	AfterStop()
}

// Initializer is implemented by workers that need a hook on the task's
// goroutine before the first cycle.
type Initializer interface {
	Initialize()
}

// Cleaner is implemented by workers that need a hook on the task's goroutine
// after the last cycle. Cleanup runs exactly once per run-loop, even when the
// loop ends with a panic.
type Cleaner interface {
	Cleanup()
}
