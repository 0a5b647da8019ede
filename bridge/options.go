package bridge

import (
	"time"

	"github.com/vinayprograms/agentflow/task"
	"github.com/vinayprograms/agentflow/telemetry"
	"github.com/vinayprograms/agentflow/timing"
)

type options struct {
	tracer   *telemetry.Tracer
	onError  func(error)
	queue    string
	alpha    float64
	estimate time.Duration
	taskOpts []task.Option
}

func defaultOptions() options {
	return options{
		alpha:    timing.DefaultAlpha,
		estimate: timing.DefaultEstimate,
	}
}

// Option configures an Outlet or an Inlet.
type Option func(*options)

// WithTracer sets the tracer for publish and receive spans.
// Defaults to telemetry.GetTracer().
func WithTracer(t *telemetry.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithErrorHandler is called with every encode or publish failure of an
// Outlet. Inlets report through their task instead; see WithTaskOptions.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// WithQueue makes an Inlet join a queue group, so each message reaches only
// one inlet of the group.
func WithQueue(name string) Option {
	return func(o *options) {
		o.queue = name
	}
}

// WithAlpha sets the smoothing factor of an Inlet's sleep estimate.
func WithAlpha(alpha float64) Option {
	return func(o *options) {
		o.alpha = alpha
	}
}

// WithInitialEstimate sets an Inlet's initial sleep estimate.
func WithInitialEstimate(d time.Duration) Option {
	return func(o *options) {
		o.estimate = d
	}
}

// WithTaskOptions passes options through to an Inlet's task.
func WithTaskOptions(opts ...task.Option) Option {
	return func(o *options) {
		o.taskOpts = append(o.taskOpts, opts...)
	}
}
