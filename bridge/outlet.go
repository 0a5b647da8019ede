package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"github.com/vinayprograms/agentflow/bus"
	"github.com/vinayprograms/agentflow/errors"
	"github.com/vinayprograms/agentflow/relay"
	"github.com/vinayprograms/agentflow/telemetry"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Outlet publishes every accepted value to a bus subject as JSON.
// It is a relay.Acceptor, so a relay can forward straight onto the bus.
type Outlet[T any] struct {
	bus     bus.MessageBus
	subject string
	tracer  *telemetry.Tracer
	onError func(error)

	published atomic.Uint64
	failed    atomic.Uint64

	mu      sync.Mutex
	lastErr error
}

var _ relay.Acceptor[int] = (*Outlet[int])(nil)

// NewOutlet creates an outlet for subject.
func NewOutlet[T any](b bus.MessageBus, subject string, opts ...Option) (*Outlet[T], error) {
	if b == nil {
		return nil, errors.InvalidConfig("outlet requires a bus")
	}
	if err := bus.ValidateSubject(subject); err != nil {
		return nil, errors.Wrap(err, "outlet subject", errors.WithMetadata("subject", subject))
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = telemetry.GetTracer()
	}

	return &Outlet[T]{
		bus:     b,
		subject: subject,
		tracer:  o.tracer,
		onError: o.onError,
	}, nil
}

// Accept encodes value and publishes it. Accept never blocks on subscribers;
// failures are recorded and passed to the error handler.
func (o *Outlet[T]) Accept(value T) {
	ctx, span := o.tracer.StartPublishSpan(context.Background(), o.subject)
	err := o.publish(ctx, value)
	o.tracer.EndSpan(span, err)

	if err != nil {
		o.failed.Add(1)
		o.mu.Lock()
		o.lastErr = err
		o.mu.Unlock()
		if o.onError != nil {
			o.onError(err)
		}
		return
	}
	o.published.Add(1)
}

func (o *Outlet[T]) publish(ctx context.Context, value T) error {
	data, err := codec.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "encode payload", errors.WithMetadata("subject", o.subject))
	}

	header := telemetry.MapCarrier{}
	telemetry.InjectContext(ctx, header)

	if err := o.bus.PublishMsg(&bus.Message{
		Subject: o.subject,
		Header:  header,
		Data:    data,
	}); err != nil {
		return errors.Wrap(err, "publish", errors.WithMetadata("subject", o.subject))
	}
	return nil
}

// Subject returns the subject values are published to.
func (o *Outlet[T]) Subject() string {
	return o.subject
}

// Published returns the number of values published successfully.
func (o *Outlet[T]) Published() uint64 {
	return o.published.Load()
}

// Failed returns the number of values that could not be published.
func (o *Outlet[T]) Failed() uint64 {
	return o.failed.Load()
}

// Err returns the most recent failure, or nil.
func (o *Outlet[T]) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}
