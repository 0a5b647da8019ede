// Package relay implements adaptive tasks that transform queued values and
// forward the results to downstream acceptors.
//
// Relays may be wired into arbitrary graphs, including cycles:
//
//	a, _ := relay.Of(func(x float64) float64 { return x / 2 })
//	b, _ := relay.Of(func(x float64) float64 { return x / 2 })
//	a.Relay(b)
//	b.Relay(a)
//	a.Accept(1)
package relay

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/vinayprograms/agentflow/errors"
	"github.com/vinayprograms/agentflow/task"
	"github.com/vinayprograms/agentflow/timing"
)

// Acceptor receives values produced by a relay.
// Accept must not block.
type Acceptor[T any] interface {
	Accept(value T)
}

// AcceptorFunc adapts a function to the Acceptor interface.
type AcceptorFunc[T any] func(value T)

// Accept calls f(value).
func (f AcceptorFunc[T]) Accept(value T) {
	f(value)
}

// Relay is a task that drains its inbox through an expression and hands each
// result to every registered downstream acceptor, in registration order.
type Relay[X, Y any] struct {
	*task.Task
	*timing.Adaptive

	expression func(X) (Y, error)

	mu     sync.Mutex
	inbox  []X
	relays []Acceptor[Y]
}

// New creates a relay with a fallible expression.
func New[X, Y any](expression func(X) (Y, error), opts ...Option) (*Relay[X, Y], error) {
	if expression == nil {
		return nil, errors.InvalidConfig("relay expression must not be nil")
	}

	cfg := config{
		alpha:    timing.DefaultAlpha,
		estimate: timing.DefaultEstimate,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	adaptive, err := timing.NewAdaptive(cfg.alpha, timing.WithInitialEstimate(cfg.estimate))
	if err != nil {
		return nil, err
	}

	r := &Relay[X, Y]{
		Adaptive:   adaptive,
		expression: expression,
	}

	var worker task.Worker = r
	for _, wrap := range cfg.wrappers {
		worker = wrap(worker)
	}
	r.Task = task.New(worker, cfg.taskOpts...)
	return r, nil
}

// Of creates a relay with an expression that cannot fail.
func Of[X, Y any](expression func(X) Y, opts ...Option) (*Relay[X, Y], error) {
	if expression == nil {
		return nil, errors.InvalidConfig("relay expression must not be nil")
	}
	return New(func(x X) (Y, error) {
		return expression(x), nil
	}, opts...)
}

// Accept appends value to the inbox. It never blocks on processing and may be
// called from any goroutine, including another relay's.
func (r *Relay[X, Y]) Accept(value X) {
	r.mu.Lock()
	r.inbox = append(r.inbox, value)
	r.mu.Unlock()
}

// Relay registers a downstream acceptor. Registering the same acceptor twice
// delivers every result to it twice.
func (r *Relay[X, Y]) Relay(target Acceptor[Y]) {
	r.mu.Lock()
	r.relays = append(r.relays, target)
	r.mu.Unlock()
}

// ShouldProcess reports whether the inbox holds any values.
func (r *Relay[X, Y]) ShouldProcess() bool {
	return r.InboxSize() > 0
}

// Process drains the inbox in FIFO order.
//
// The batch is swapped out under the lock and forwarded outside it, so a relay
// may be its own downstream. If the expression fails, the rest of the batch is
// discarded and the error is returned.
func (r *Relay[X, Y]) Process(ctx context.Context) error {
	r.mu.Lock()
	batch := r.inbox
	r.inbox = nil
	targets := make([]Acceptor[Y], len(r.relays))
	copy(targets, r.relays)
	r.mu.Unlock()

	for i, x := range batch {
		y, err := r.expression(x)
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrCodeTransformFailed, "relay transform failed",
				errors.WithTaskID(r.ID()),
				errors.WithMetadata("discarded", strconv.Itoa(len(batch)-i)))
		}
		for _, target := range targets {
			target.Accept(y)
		}
	}
	return nil
}

// InboxSize returns the number of queued values.
func (r *Relay[X, Y]) InboxSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inbox)
}

// InboxEntry returns the queued value at index i.
func (r *Relay[X, Y]) InboxEntry(i int) (X, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i < 0 || i >= len(r.inbox) {
		var zero X
		return zero, false
	}
	return r.inbox[i], true
}

// Inbox returns a snapshot of the queued values.
func (r *Relay[X, Y]) Inbox() []X {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]X, len(r.inbox))
	copy(out, r.inbox)
	return out
}

// Targets returns the number of registered downstream acceptors.
func (r *Relay[X, Y]) Targets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.relays)
}

// EstimatedSleepTime returns the current adaptive sleep estimate.
func (r *Relay[X, Y]) EstimatedSleepTime() time.Duration {
	return r.Estimate()
}
