package relay

import (
	"time"

	"github.com/vinayprograms/agentflow/task"
)

type config struct {
	alpha    float64
	estimate time.Duration
	taskOpts []task.Option
	wrappers []func(task.Worker) task.Worker
}

// Option configures a Relay.
type Option func(*config)

// WithAlpha sets the smoothing factor of the sleep estimate.
func WithAlpha(alpha float64) Option {
	return func(c *config) {
		c.alpha = alpha
	}
}

// WithInitialEstimate sets the sleep estimate used before the first sample.
func WithInitialEstimate(d time.Duration) Option {
	return func(c *config) {
		c.estimate = d
	}
}

// WithTaskOptions passes options through to the underlying task.
func WithTaskOptions(opts ...task.Option) Option {
	return func(c *config) {
		c.taskOpts = append(c.taskOpts, opts...)
	}
}

// WithWorkerWrapper decorates the worker the task drives, e.g. with
// telemetry.Instrument. Wrappers apply in the order given.
func WithWorkerWrapper(wrap func(task.Worker) task.Worker) Option {
	return func(c *config) {
		if wrap != nil {
			c.wrappers = append(c.wrappers, wrap)
		}
	}
}
