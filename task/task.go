package task

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/vinayprograms/agentflow/errors"
)

// Task runs a Worker on a dedicated goroutine.
type Task struct {
	id      string
	worker  Worker
	clock   clockwork.Clock
	onError func(error)

	state   atomic.Int32
	alive   atomic.Bool
	started atomic.Bool

	// runWaiters counts Run calls blocked on the current loop.
	runWaiters atomic.Int32

	// mu serializes Start and Stop.
	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	stopPending bool

	timeMu      sync.Mutex
	lastActive  time.Time
	lastWaiting time.Duration

	errMu   sync.Mutex
	lastErr error
}

// New creates a task in the CREATED state that will drive worker once started.
func New(worker Worker, opts ...Option) *Task {
	t := &Task{
		id:     uuid.NewString(),
		worker: worker,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ID returns the task identifier. It never changes.
func (t *Task) ID() string {
	return t.id
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	return State(t.state.Load())
}

// Worker returns the worker driven by this task.
func (t *Task) Worker() Worker {
	return t.worker
}

// IsThreadAlive reports whether the task's goroutine is running.
func (t *Task) IsThreadAlive() bool {
	return t.alive.Load()
}

// ThreadName returns the name of the task's goroutine: the task ID once the
// task has been started, empty before.
func (t *Task) ThreadName() string {
	if !t.started.Load() {
		return ""
	}
	return t.id
}

// LastActiveTime returns when the task last processed, started or stopped.
func (t *Task) LastActiveTime() time.Time {
	t.timeMu.Lock()
	defer t.timeMu.Unlock()
	return t.lastActive
}

// LastWaitingTime returns the idle time observed at the start of the most
// recent cycle.
func (t *Task) LastWaitingTime() time.Duration {
	t.timeMu.Lock()
	defer t.timeMu.Unlock()
	return t.lastWaiting
}

// Err returns the most recent processing failure, or nil.
func (t *Task) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.lastErr
}

// Start spawns the run-loop. It is a no-op while the task is already started.
//
// BeforeStart runs on the caller's goroutine before the state changes.
// The spawned goroutine does not keep the process alive.
func (t *Task) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() == StateStarted {
		return
	}

	// A crashed loop moves to STOPPED on its own; let it finish exiting.
	if t.done != nil {
		<-t.done
	}

	if h, ok := t.worker.(BeforeStarter); ok {
		h.BeforeStart()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	t.stopPending = true

	t.state.Store(int32(StateStarted))
	t.setLastActive(t.clock.Now())
	t.started.Store(true)
	t.alive.Store(true)

	go t.loop(ctx, t.done)
}

// Stop halts the run-loop and waits for its goroutine to exit.
//
// When Stop returns, Cleanup has run and IsThreadAlive reports false.
// AfterStop then runs on the caller's goroutine, once per Start.
// There is no timeout: a Process call that never returns blocks Stop.
//
// Stop on a task that was never started does nothing. It stays CREATED and
// AfterStop does not run, since there was no Start for it to pair with.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() == StateCreated {
		return
	}

	t.state.Store(int32(StateStopped))
	if t.cancel != nil {
		t.cancel()
	}
	if t.done != nil {
		<-t.done
	}

	if t.stopPending {
		t.stopPending = false
		if h, ok := t.worker.(AfterStopper); ok {
			h.AfterStop()
		}
	}
	t.setLastActive(t.clock.Now())
}

// Run is the run-loop entry point. The loop itself only ever executes on
// the goroutine spawned by Start; Run fails with an ErrCodeNotStarted error
// unless the task was started that way, and otherwise blocks until the
// current loop exits or ctx is done.
func (t *Task) Run(ctx context.Context) error {
	t.mu.Lock()
	state, done := t.State(), t.done
	t.mu.Unlock()

	if state != StateStarted || done == nil {
		return errors.NotStarted(t.id)
	}

	t.runWaiters.Add(1)
	defer t.runWaiters.Add(-1)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer t.alive.Store(false)
	defer func() {
		if r := recover(); r != nil {
			t.state.CompareAndSwap(int32(StateStarted), int32(StateStopped))
			t.report(errors.Panic(t.id, r))
		}
	}()
	defer t.cleanup()

	if h, ok := t.worker.(Initializer); ok {
		h.Initialize()
	}

	for t.State() == StateStarted {
		t.cycle(ctx)
	}
}

func (t *Task) cycle(ctx context.Context) {
	now := t.clock.Now()

	t.timeMu.Lock()
	waiting := now.Sub(t.lastActive)
	t.lastWaiting = waiting
	t.timeMu.Unlock()

	if t.worker.ShouldProcess() {
		// Waiting time only accumulates while idle.
		t.setLastActive(now)
		if err := t.worker.Process(ctx); err != nil {
			t.report(err)
		}
	}

	sleep := t.worker.CalculateSleepTime(waiting)
	if sleep <= 0 {
		return
	}

	timer := t.clock.NewTimer(sleep)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.Chan():
	}
}

func (t *Task) cleanup() {
	if h, ok := t.worker.(Cleaner); ok {
		h.Cleanup()
	}
}

func (t *Task) report(err error) {
	t.errMu.Lock()
	t.lastErr = err
	t.errMu.Unlock()

	if t.onError != nil {
		t.onError(err)
	}
}

func (t *Task) setLastActive(at time.Time) {
	t.timeMu.Lock()
	t.lastActive = at
	t.timeMu.Unlock()
}
