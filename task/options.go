package task

import (
	"github.com/jonboulle/clockwork"
)

// Option configures a Task.
type Option func(*Task)

// WithID overrides the generated identifier.
// An empty id is ignored.
func WithID(id string) Option {
	return func(t *Task) {
		if id != "" {
			t.id = id
		}
	}
}

// WithClock sets the clock used for timestamps and the inter-cycle sleep.
// Tests pass a clockwork.FakeClock to drive the run-loop deterministically.
func WithClock(clock clockwork.Clock) Option {
	return func(t *Task) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithErrorHandler registers a callback for processing failures and
// recovered panics. It is called on the task's goroutine.
func WithErrorHandler(fn func(err error)) Option {
	return func(t *Task) {
		t.onError = fn
	}
}
