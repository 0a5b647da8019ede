package shutdown

import (
	"context"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vinayprograms/agentflow/errors"
)

var (
	// ErrTimeout indicates shutdown did not complete within the timeout.
	ErrTimeout = errors.New(errors.ErrCodeTimeout, "shutdown timeout exceeded")

	// ErrHandlerFailed indicates one or more handlers failed during shutdown.
	ErrHandlerFailed = errors.New(errors.ErrCodeInternal, "one or more handlers failed")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.InvalidConfig("invalid shutdown configuration")
)

// Standard phases. Lower phases shut down first.
const (
	// PhaseTasks stops task groups and relays.
	PhaseTasks = 10

	// PhaseMonitors stops heartbeat senders and monitors.
	PhaseMonitors = 20

	// PhaseTransport closes buses and inlets.
	PhaseTransport = 30

	// PhaseExporters flushes telemetry and stops the metrics server.
	PhaseExporters = 40
)

// ShutdownHandler releases one component. ctx ends when the shutdown
// timeout is reached.
type ShutdownHandler interface {
	OnShutdown(ctx context.Context) error
}

// ShutdownFunc adapts a function to ShutdownHandler.
type ShutdownFunc func(ctx context.Context) error

// OnShutdown implements ShutdownHandler.
func (f ShutdownFunc) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// Stopper is anything with a blocking Stop, such as a task or a group.
type Stopper interface {
	Stop()
}

// StopHandler adapts a Stopper to ShutdownHandler. Stop runs on its own
// goroutine; if ctx ends first the handler returns a timeout error and the
// stop keeps running in the background.
func StopHandler(s Stopper) ShutdownHandler {
	return ShutdownFunc(func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.Stop()
		}()

		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "stop did not finish")
		}
	})
}

// ShutdownCoordinator is the surface of Coordinator used by callers that
// only register handlers and trigger shutdown.
type ShutdownCoordinator interface {
	Register(name string, handler ShutdownHandler)
	RegisterWithPhase(name string, handler ShutdownHandler, phase int)
	Shutdown(ctx context.Context) error
	ShutdownWithTimeout(timeout time.Duration) error
	HandleSignals()
	Done() <-chan struct{}
	Err() error
}

// HandlerResult is the outcome of one handler.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// ShutdownResult is the outcome of a whole shutdown.
type ShutdownResult struct {
	TotalDuration time.Duration

	// Results holds one entry per handler that ran, phase by phase.
	// Handlers of phases skipped after a timeout or failure are absent.
	Results []HandlerResult

	Err error
}

// Failed reports whether any handler failed or the shutdown timed out.
func (r *ShutdownResult) Failed() bool {
	return r.Err != nil
}

// FailedHandlers returns the names of handlers that returned an error.
func (r *ShutdownResult) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures a Coordinator.
type Config struct {
	// DefaultTimeout bounds ShutdownWithTimeout(0) and signal-triggered
	// shutdowns. Default: 30s
	DefaultTimeout time.Duration

	// DefaultPhase is used by Register and RegisterFunc. Default: 100
	DefaultPhase int

	// ContinueOnError keeps running later phases after a handler fails.
	ContinueOnError bool

	// OnProgress is called from the handler's goroutine as each handler
	// completes.
	OnProgress func(result HandlerResult)

	// OnSignal is called when HandleSignals receives a signal, before
	// shutdown starts.
	OnSignal func(sig os.Signal)

	// Clock measures handler and total durations.
	Clock clockwork.Clock
}

// Validate rejects negative timeouts and phases.
func (c *Config) Validate() error {
	if c.DefaultTimeout < 0 || c.DefaultPhase < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns a 30 second, continue-on-error configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:  30 * time.Second,
		DefaultPhase:    100,
		ContinueOnError: true,
		Clock:           clockwork.NewRealClock(),
	}
}

type registration struct {
	name    string
	handler ShutdownHandler
	phase   int
}
