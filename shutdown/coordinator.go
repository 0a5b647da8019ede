package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/vinayprograms/agentflow/errors"
)

// Coordinator runs registered handlers phase by phase, once.
type Coordinator struct {
	config Config

	mu   sync.Mutex
	regs []registration

	once   sync.Once
	done   chan struct{}
	err    error
	result *ShutdownResult
	sigs   chan os.Signal
}

var _ ShutdownCoordinator = (*Coordinator)(nil)

// NewCoordinator creates a coordinator. Zero fields of config take their
// DefaultConfig values.
func NewCoordinator(config Config) *Coordinator {
	defaults := DefaultConfig()
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = defaults.DefaultTimeout
	}
	if config.DefaultPhase == 0 {
		config.DefaultPhase = defaults.DefaultPhase
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}

	return &Coordinator{
		config: config,
		done:   make(chan struct{}),
		sigs:   make(chan os.Signal, 1),
	}
}

// Register adds a handler in the default phase.
func (c *Coordinator) Register(name string, handler ShutdownHandler) {
	c.RegisterWithPhase(name, handler, c.config.DefaultPhase)
}

// RegisterWithPhase adds a handler to phase.
func (c *Coordinator) RegisterWithPhase(name string, handler ShutdownHandler, phase int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs = append(c.regs, registration{name: name, handler: handler, phase: phase})
}

// RegisterFunc adds fn in the default phase.
func (c *Coordinator) RegisterFunc(name string, fn func(ctx context.Context) error) {
	c.Register(name, ShutdownFunc(fn))
}

// RegisterFuncWithPhase adds fn to phase.
func (c *Coordinator) RegisterFuncWithPhase(name string, fn func(ctx context.Context) error, phase int) {
	c.RegisterWithPhase(name, ShutdownFunc(fn), phase)
}

// RegisterStopper adds anything with a blocking Stop, such as a *task.Task
// or a heartbeat sender, to phase.
func (c *Coordinator) RegisterStopper(name string, s Stopper, phase int) {
	c.RegisterWithPhase(name, StopHandler(s), phase)
}

// Shutdown runs every phase. Concurrent and later calls block until the
// first one finishes and return its error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.result = c.run(ctx)
		c.err = c.result.Err
		close(c.done)
	})
	<-c.done
	return c.err
}

// ShutdownWithTimeout runs Shutdown bounded by timeout, or by the default
// timeout when timeout is zero.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout == 0 {
		timeout = c.config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals shuts down on the first SIGINT or SIGTERM.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.sigs, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		defer signal.Stop(c.sigs)
		select {
		case sig := <-c.sigs:
			if c.config.OnSignal != nil {
				c.config.OnSignal(sig)
			}
			_ = c.ShutdownWithTimeout(c.config.DefaultTimeout)
		case <-c.done:
		}
	}()
}

// Trigger delivers a SIGTERM to the HandleSignals goroutine.
func (c *Coordinator) Trigger() {
	select {
	case c.sigs <- syscall.SIGTERM:
	default:
	}
}

// Done is closed once shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown error, or nil while shutdown has not finished.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Result returns per-handler outcomes, or nil while shutdown has not
// finished.
func (c *Coordinator) Result() *ShutdownResult {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

// phase is one step of the shutdown plan.
type phase struct {
	number int
	regs   []registration
}

// plan groups registrations by phase in ascending order, keeping
// registration order inside a phase.
func plan(regs []registration) []phase {
	byNumber := make(map[int][]registration)
	var numbers []int
	for _, r := range regs {
		if _, ok := byNumber[r.phase]; !ok {
			numbers = append(numbers, r.phase)
		}
		byNumber[r.phase] = append(byNumber[r.phase], r)
	}
	sort.Ints(numbers)

	phases := make([]phase, 0, len(numbers))
	for _, n := range numbers {
		phases = append(phases, phase{number: n, regs: byNumber[n]})
	}
	return phases
}

func (c *Coordinator) run(ctx context.Context) *ShutdownResult {
	clock := c.config.Clock
	start := clock.Now()

	c.mu.Lock()
	phases := plan(c.regs)
	c.mu.Unlock()

	result := &ShutdownResult{}
	var failures error
	timedOut := false

	for _, p := range phases {
		if ctx.Err() != nil {
			failures = multierr.Append(failures, ErrTimeout)
			timedOut = true
			break
		}

		outcomes := c.runPhase(ctx, p)
		result.Results = append(result.Results, outcomes...)

		failed := false
		for _, hr := range outcomes {
			if hr.Err != nil {
				failed = true
				failures = multierr.Append(failures, fmt.Errorf("%s: %w", hr.Name, hr.Err))
			}
		}
		if failed && !c.config.ContinueOnError {
			break
		}
	}

	switch {
	case failures == nil:
	case timedOut:
		result.Err = failures
	default:
		result.Err = fmt.Errorf("%w: %w", ErrHandlerFailed, failures)
	}
	result.TotalDuration = clock.Since(start)
	return result
}

// runPhase runs the handlers of p concurrently and waits for all of them.
func (c *Coordinator) runPhase(ctx context.Context, p phase) []HandlerResult {
	outcomes := make([]HandlerResult, len(p.regs))

	var wg sync.WaitGroup
	for i, r := range p.regs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = c.runHandler(ctx, r)
			if c.config.OnProgress != nil {
				c.config.OnProgress(outcomes[i])
			}
		}()
	}
	wg.Wait()
	return outcomes
}

// runHandler calls one handler, turning a panic into a PANIC error.
func (c *Coordinator) runHandler(ctx context.Context, r registration) (hr HandlerResult) {
	start := c.config.Clock.Now()
	hr = HandlerResult{Name: r.name, Phase: r.phase}

	defer func() {
		if v := recover(); v != nil {
			hr.Err = errors.Panic(r.name, v)
		}
		hr.Duration = c.config.Clock.Since(start)
	}()

	hr.Err = r.handler.OnShutdown(ctx)
	return hr
}
