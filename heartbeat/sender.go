package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"

	"github.com/vinayprograms/agentflow/bus"
	"github.com/vinayprograms/agentflow/errors"
	"github.com/vinayprograms/agentflow/task"
	"github.com/vinayprograms/agentflow/timing"
)

// Sender is a task that publishes one heartbeat per watched task every
// interval, starting immediately on Start.
type Sender struct {
	*task.Task
	timing.Fixed

	bus   bus.MessageBus
	clock clockwork.Clock

	mu       sync.RWMutex
	watched  []Watched
	metadata map[string]string

	sent atomic.Uint64
}

// NewSender creates a sender in the CREATED state.
func NewSender(cfg SenderConfig, watched ...Watched) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultSenderConfig().Interval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s := &Sender{
		Fixed:    timing.Fixed(interval),
		bus:      cfg.Bus,
		clock:    clock,
		metadata: make(map[string]string, len(cfg.Metadata)),
	}
	for k, v := range cfg.Metadata {
		s.metadata[k] = v
	}
	for _, w := range watched {
		if w != nil {
			s.watched = append(s.watched, w)
		}
	}
	opts := []task.Option{task.WithClock(clock)}
	if cfg.OnError != nil {
		opts = append(opts, task.WithErrorHandler(cfg.OnError))
	}
	s.Task = task.New(s, opts...)
	return s, nil
}

// Watch adds tasks to report on.
func (s *Sender) Watch(watched ...Watched) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range watched {
		if w != nil {
			s.watched = append(s.watched, w)
		}
	}
}

// SetMetadata updates a metadata field.
func (s *Sender) SetMetadata(key, value string) {
	s.mu.Lock()
	s.metadata[key] = value
	s.mu.Unlock()
}

// ShouldProcess always returns true; every cycle sends.
func (s *Sender) ShouldProcess() bool {
	return true
}

// Process publishes a heartbeat for every watched task.
func (s *Sender) Process(context.Context) error {
	var errs error
	for _, hb := range s.Build() {
		data, err := hb.Marshal()
		if err == nil {
			err = s.bus.Publish(hb.Subject(), data)
		}
		if err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, "send heartbeat",
				errors.WithTaskID(hb.TaskID)))
			continue
		}
		s.sent.Add(1)
	}
	return errs
}

// Build returns the heartbeats the next cycle would send.
func (s *Sender) Build() []*Heartbeat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	out := make([]*Heartbeat, 0, len(s.watched))
	for _, w := range s.watched {
		hb := Snapshot(w, now)
		if len(s.metadata) > 0 {
			hb.Metadata = make(map[string]string, len(s.metadata))
			for k, v := range s.metadata {
				hb.Metadata[k] = v
			}
		}
		out = append(out, hb)
	}
	return out
}

// Sent returns the number of heartbeats published.
func (s *Sender) Sent() uint64 {
	return s.sent.Load()
}
