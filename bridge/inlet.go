package bridge

import (
	"context"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/vinayprograms/agentflow/bus"
	"github.com/vinayprograms/agentflow/errors"
	"github.com/vinayprograms/agentflow/relay"
	"github.com/vinayprograms/agentflow/task"
	"github.com/vinayprograms/agentflow/telemetry"
	"github.com/vinayprograms/agentflow/timing"
)

// Inlet is an adaptive task that drains a bus subscription into an acceptor,
// usually a relay. Messages that cannot be decoded are skipped and reported
// as DECODE_FAILED errors through the task.
type Inlet[T any] struct {
	*task.Task
	*timing.Adaptive

	sub    bus.Subscription
	target relay.Acceptor[T]
	tracer *telemetry.Tracer

	received atomic.Uint64
}

// NewInlet subscribes to pattern and returns an inlet in the CREATED state.
// Messages buffer in the subscription until the inlet is started.
func NewInlet[T any](b bus.MessageBus, pattern string, target relay.Acceptor[T], opts ...Option) (*Inlet[T], error) {
	if b == nil {
		return nil, errors.InvalidConfig("inlet requires a bus")
	}
	if target == nil {
		return nil, errors.InvalidConfig("inlet requires a target")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = telemetry.GetTracer()
	}

	adaptive, err := timing.NewAdaptive(o.alpha, timing.WithInitialEstimate(o.estimate))
	if err != nil {
		return nil, err
	}

	var sub bus.Subscription
	if o.queue != "" {
		sub, err = b.QueueSubscribe(pattern, o.queue)
	} else {
		sub, err = b.Subscribe(pattern)
	}
	if err != nil {
		return nil, errors.Wrap(err, "inlet subscribe", errors.WithMetadata("pattern", pattern))
	}

	in := &Inlet[T]{
		Adaptive: adaptive,
		sub:      sub,
		target:   target,
		tracer:   o.tracer,
	}
	in.Task = task.New(in, o.taskOpts...)
	return in, nil
}

// ShouldProcess reports whether messages are waiting.
func (in *Inlet[T]) ShouldProcess() bool {
	return len(in.sub.Messages()) > 0
}

// Process hands every message buffered at call time to the target.
func (in *Inlet[T]) Process(ctx context.Context) error {
	ch := in.sub.Messages()

	var errs error
	for n := len(ch); n > 0; n-- {
		msg, ok := <-ch
		if !ok {
			break
		}
		if err := in.deliver(ctx, msg); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (in *Inlet[T]) deliver(ctx context.Context, msg *bus.Message) error {
	if msg.Header != nil {
		ctx = telemetry.ExtractContext(ctx, telemetry.MapCarrier(msg.Header))
	}
	_, span := in.tracer.StartReceiveSpan(ctx, msg.Subject)

	var value T
	if err := codec.Unmarshal(msg.Data, &value); err != nil {
		err = errors.WrapWithCode(err, errors.ErrCodeDecodeFailed, "decode payload",
			errors.WithTaskID(in.ID()),
			errors.WithMetadata("subject", msg.Subject))
		in.tracer.EndSpan(span, err)
		return err
	}

	in.target.Accept(value)
	in.received.Add(1)
	in.tracer.EndSpan(span, nil)
	return nil
}

// Received returns the number of values handed to the target.
func (in *Inlet[T]) Received() uint64 {
	return in.received.Load()
}

// Pending returns the number of messages buffered in the subscription.
func (in *Inlet[T]) Pending() int {
	return len(in.sub.Messages())
}

// Dropped returns the number of messages the bus discarded because the
// subscription buffer was full.
func (in *Inlet[T]) Dropped() uint64 {
	return in.sub.Dropped()
}

// Close stops the inlet and cancels its subscription.
func (in *Inlet[T]) Close() error {
	in.Stop()
	return in.sub.Unsubscribe()
}

// OnShutdown closes the inlet.
func (in *Inlet[T]) OnShutdown(context.Context) error {
	return in.Close()
}
