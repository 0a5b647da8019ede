package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/vinayprograms/agentflow/logging"
	"github.com/vinayprograms/agentflow/task"
)

// InstrumentOptions configures Instrument.
type InstrumentOptions struct {
	// Name labels spans, metrics and log lines. Required.
	Name string

	// Tracer records cycle and lifecycle spans. Defaults to GetTracer().
	Tracer *Tracer

	// Metrics records Prometheus metrics. Nil disables metrics.
	Metrics *Metrics

	// Logger receives lifecycle and failure lines. Nil disables logging.
	Logger *logging.Logger
}

// Instrumented decorates a worker with tracing, metrics and logging.
// Lifecycle hooks are forwarded only when the wrapped worker implements them.
type Instrumented struct {
	inner task.Worker
	opts  InstrumentOptions

	mu        sync.Mutex
	startedAt time.Time
}

var (
	_ task.Worker        = (*Instrumented)(nil)
	_ task.BeforeStarter = (*Instrumented)(nil)
	_ task.AfterStopper  = (*Instrumented)(nil)
	_ task.Initializer   = (*Instrumented)(nil)
	_ task.Cleaner       = (*Instrumented)(nil)
)

type inboxSizer interface {
	InboxSize() int
}

// Instrument wraps w.
func Instrument(w task.Worker, opts InstrumentOptions) *Instrumented {
	if opts.Tracer == nil {
		opts.Tracer = GetTracer()
	}
	return &Instrumented{inner: w, opts: opts}
}

// Wrapper returns a function suitable for relay.WithWorkerWrapper.
func Wrapper(opts InstrumentOptions) func(task.Worker) task.Worker {
	return func(w task.Worker) task.Worker {
		return Instrument(w, opts)
	}
}

// Unwrap returns the decorated worker.
func (i *Instrumented) Unwrap() task.Worker {
	return i.inner
}

// ShouldProcess forwards to the wrapped worker.
func (i *Instrumented) ShouldProcess() bool {
	return i.inner.ShouldProcess()
}

// Process runs the wrapped Process inside a cycle span.
func (i *Instrumented) Process(ctx context.Context) error {
	ctx, span := i.opts.Tracer.StartCycleSpan(ctx, i.opts.Name)
	start := time.Now()

	err := i.inner.Process(ctx)

	d := time.Since(start)
	inbox := -1
	if s, ok := i.inner.(inboxSizer); ok {
		inbox = s.InboxSize()
	}
	i.opts.Tracer.EndCycleSpan(span, CycleSpanOptions{Duration: d, Inbox: inbox}, err)
	i.opts.Metrics.ObserveProcess(i.opts.Name, d, err)
	if err != nil && i.opts.Logger != nil {
		i.opts.Logger.CycleFailed(i.opts.Name, err)
	}
	return err
}

// CalculateSleepTime forwards to the wrapped worker and records the cycle.
func (i *Instrumented) CalculateSleepTime(waiting time.Duration) time.Duration {
	sleep := i.inner.CalculateSleepTime(waiting)

	i.opts.Metrics.ObserveCycle(i.opts.Name, waiting, sleep)
	if s, ok := i.inner.(inboxSizer); ok {
		i.opts.Metrics.SetInboxSize(i.opts.Name, s.InboxSize())
	}
	if i.opts.Logger != nil {
		i.opts.Logger.CycleCompleted(i.opts.Name, waiting, sleep)
	}
	return sleep
}

// BeforeStart forwards the hook.
func (i *Instrumented) BeforeStart() {
	i.hook("before_start", func() {
		if h, ok := i.inner.(task.BeforeStarter); ok {
			h.BeforeStart()
		}
	})
}

// Initialize forwards the hook and marks the task running.
func (i *Instrumented) Initialize() {
	i.mu.Lock()
	i.startedAt = time.Now()
	i.mu.Unlock()

	i.hook("initialize", func() {
		if h, ok := i.inner.(task.Initializer); ok {
			h.Initialize()
		}
	})
	i.opts.Metrics.SetRunning(i.opts.Name, true)
	if i.opts.Logger != nil {
		i.opts.Logger.TaskStarted(i.opts.Name)
	}
}

// Cleanup forwards the hook and marks the task stopped.
func (i *Instrumented) Cleanup() {
	i.hook("cleanup", func() {
		if h, ok := i.inner.(task.Cleaner); ok {
			h.Cleanup()
		}
	})
	i.opts.Metrics.SetRunning(i.opts.Name, false)
}

// AfterStop forwards the hook.
func (i *Instrumented) AfterStop() {
	i.hook("after_stop", func() {
		if h, ok := i.inner.(task.AfterStopper); ok {
			h.AfterStop()
		}
	})

	if i.opts.Logger != nil {
		i.mu.Lock()
		uptime := time.Since(i.startedAt)
		i.mu.Unlock()
		i.opts.Logger.TaskStopped(i.opts.Name, uptime)
	}
}

func (i *Instrumented) hook(name string, fn func()) {
	_, span := i.opts.Tracer.StartLifecycleSpan(context.Background(), i.opts.Name, name)
	defer i.opts.Tracer.EndLifecycleSpan(span, nil)

	fn()
	i.opts.Metrics.ObserveLifecycle(i.opts.Name, name)
}
