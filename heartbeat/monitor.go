package heartbeat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"

	"github.com/vinayprograms/agentflow/bus"
	"github.com/vinayprograms/agentflow/logging"
	"github.com/vinayprograms/agentflow/task"
	"github.com/vinayprograms/agentflow/timing"
)

// Monitor is a task that consumes heartbeats and reports tasks whose
// heartbeats stop arriving. Silence is measured from when the monitor last
// received a heartbeat, not from the sender's timestamp.
type Monitor struct {
	*task.Task
	timing.Fixed

	sub     bus.Subscription
	timeout time.Duration
	clock   clockwork.Clock
	logger  *logging.Logger

	mu       sync.RWMutex
	lastSeen map[string]seen
	reported map[string]bool
	deadCBs  []func(taskID string)
	watchers []chan *Heartbeat
}

type seen struct {
	hb *Heartbeat
	at time.Time
}

// NewMonitor subscribes to all heartbeat subjects and returns a monitor in
// the CREATED state.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	def := DefaultMonitorConfig()
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = def.Timeout
	}
	checkInterval := cfg.CheckInterval
	if checkInterval == 0 {
		checkInterval = def.CheckInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	sub, err := cfg.Bus.Subscribe(SubjectPrefix + ">")
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		Fixed:    timing.Fixed(checkInterval),
		sub:      sub,
		timeout:  timeout,
		clock:    clock,
		logger:   cfg.Logger,
		lastSeen: make(map[string]seen),
		reported: make(map[string]bool),
	}
	m.Task = task.New(m, task.WithClock(clock))
	return m, nil
}

// ShouldProcess always returns true; silence is checked every cycle.
func (m *Monitor) ShouldProcess() bool {
	return true
}

// Process records every buffered heartbeat, then reports tasks that have
// been silent longer than the timeout.
func (m *Monitor) Process(context.Context) error {
	ch := m.sub.Messages()

	var errs error
	for n := len(ch); n > 0; n-- {
		msg, ok := <-ch
		if !ok {
			break
		}
		hb, err := Unmarshal(msg.Data)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if hb.TaskID == "" {
			hb.TaskID = strings.TrimPrefix(msg.Subject, SubjectPrefix)
		}
		m.Observe(hb)
	}

	m.CheckDead()
	return errs
}

// Observe records hb as received now.
func (m *Monitor) Observe(hb *Heartbeat) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastSeen[hb.TaskID] = seen{hb: hb, at: m.clock.Now()}
	delete(m.reported, hb.TaskID)

	// Sends never block, and holding the lock keeps Close from closing a
	// channel mid-send.
	for _, ch := range m.watchers {
		select {
		case ch <- hb:
		default:
		}
	}
}

// CheckDead invokes the OnDead callbacks once for every task silent longer
// than the timeout. A task is reported again only after it reappears.
func (m *Monitor) CheckDead() {
	now := m.clock.Now()
	var dead []string
	var silences []time.Duration

	m.mu.Lock()
	for id, s := range m.lastSeen {
		if silence := now.Sub(s.at); silence > m.timeout && !m.reported[id] {
			m.reported[id] = true
			dead = append(dead, id)
			silences = append(silences, silence)
		}
	}
	callbacks := make([]func(string), len(m.deadCBs))
	copy(callbacks, m.deadCBs)
	m.mu.Unlock()

	for i, id := range dead {
		if m.logger != nil {
			m.logger.HeartbeatMissed(id, silences[i])
		}
		for _, cb := range callbacks {
			cb(id)
		}
	}
}

// OnDead registers a callback for when a task is presumed dead.
func (m *Monitor) OnDead(callback func(taskID string)) {
	m.mu.Lock()
	m.deadCBs = append(m.deadCBs, callback)
	m.mu.Unlock()
}

// Watch returns a channel that receives every heartbeat the monitor records.
// Heartbeats are dropped when the channel is full. The channel is closed by
// Close.
func (m *Monitor) Watch() <-chan *Heartbeat {
	ch := make(chan *Heartbeat, 64)
	m.mu.Lock()
	m.watchers = append(m.watchers, ch)
	m.mu.Unlock()
	return ch
}

// IsAlive reports whether taskID was heard from within timeout.
func (m *Monitor) IsAlive(taskID string, timeout time.Duration) bool {
	m.mu.RLock()
	s, ok := m.lastSeen[taskID]
	m.mu.RUnlock()

	if !ok {
		return false
	}
	return m.clock.Since(s.at) <= timeout
}

// LastHeartbeat returns the last heartbeat for taskID, or nil.
func (m *Monitor) LastHeartbeat(taskID string) *Heartbeat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSeen[taskID].hb
}

// Known returns the IDs of every task heard from, sorted.
func (m *Monitor) Known() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.lastSeen))
	for id := range m.lastSeen {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Close stops the monitor, cancels its subscription and closes watcher
// channels.
func (m *Monitor) Close() error {
	m.Stop()
	err := m.sub.Unsubscribe()

	m.mu.Lock()
	for _, ch := range m.watchers {
		close(ch)
	}
	m.watchers = nil
	m.mu.Unlock()

	return err
}
