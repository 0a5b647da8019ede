package heartbeat

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"

	"github.com/vinayprograms/agentflow/bus"
	"github.com/vinayprograms/agentflow/errors"
	"github.com/vinayprograms/agentflow/logging"
	"github.com/vinayprograms/agentflow/relay"
)

type deadRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *deadRecorder) record(id string) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

func (r *deadRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func newTestMonitor(t *testing.T, b bus.MessageBus, clock clockwork.Clock) *Monitor {
	t.Helper()
	m, err := NewMonitor(MonitorConfig{
		Bus:           b,
		Timeout:       3 * time.Second,
		CheckInterval: time.Second,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	return m
}

func TestMonitorConfig_Validate(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	tests := []struct {
		name    string
		cfg     MonitorConfig
		wantErr bool
	}{
		{"valid", MonitorConfig{Bus: b}, false},
		{"missing bus", MonitorConfig{}, true},
		{"negative timeout", MonitorConfig{Bus: b, Timeout: -1}, true},
		{"negative check interval", MonitorConfig{Bus: b, CheckInterval: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultMonitorConfig(t *testing.T) {
	cfg := DefaultMonitorConfig()
	if cfg.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want 15s", cfg.Timeout)
	}
	if cfg.CheckInterval != time.Second {
		t.Errorf("CheckInterval = %v, want 1s", cfg.CheckInterval)
	}
}

func TestMonitor_ProcessRecordsHeartbeats(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	m := newTestMonitor(t, b, clock)
	s, err := NewSender(SenderConfig{Bus: b, Clock: clock},
		&fakeWatched{id: "b"}, &fakeWatched{id: "a", alive: true})
	if err != nil {
		t.Fatalf("NewSender() error = %v", err)
	}
	if err := s.Process(context.Background()); err != nil {
		t.Fatalf("sender Process() error = %v", err)
	}

	if err := m.Process(context.Background()); err != nil {
		t.Fatalf("monitor Process() error = %v", err)
	}

	if diff := cmp.Diff([]string{"a", "b"}, m.Known()); diff != "" {
		t.Errorf("Known() mismatch (-want +got):\n%s", diff)
	}
	if hb := m.LastHeartbeat("a"); hb == nil || !hb.Alive {
		t.Errorf("LastHeartbeat(a) = %+v", hb)
	}
	if m.LastHeartbeat("missing") != nil {
		t.Error("LastHeartbeat(missing) should be nil")
	}
	if !m.IsAlive("a", time.Second) {
		t.Error("IsAlive(a) = false right after a heartbeat")
	}
	if m.IsAlive("missing", time.Hour) {
		t.Error("IsAlive(missing) = true")
	}

	clock.Advance(2 * time.Second)
	if m.IsAlive("a", time.Second) {
		t.Error("IsAlive(a, 1s) = true after 2s of silence")
	}
}

func TestMonitor_TaskIDFromSubject(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	m := newTestMonitor(t, b, clockwork.NewFakeClock())
	_ = b.Publish("heartbeat.orphan", []byte(`{"state":"STARTED"}`))

	if err := m.Process(context.Background()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if hb := m.LastHeartbeat("orphan"); hb == nil || hb.State != "STARTED" {
		t.Errorf("LastHeartbeat(orphan) = %+v", hb)
	}
}

func TestMonitor_DecodeFailure(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	m := newTestMonitor(t, b, clockwork.NewFakeClock())
	_ = b.Publish("heartbeat.x", []byte("garbage"))

	err := m.Process(context.Background())
	if !errors.Is(err, errors.ErrCodeDecodeFailed) {
		t.Errorf("Process() error = %v, want DECODE_FAILED", err)
	}
	if len(m.Known()) != 0 {
		t.Errorf("Known() = %v, want none", m.Known())
	}
}

func TestMonitor_DeathDetection(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	var buf bytes.Buffer
	log := logging.New()
	log.SetOutput(&buf)

	m, err := NewMonitor(MonitorConfig{Bus: b, Timeout: 3 * time.Second, Clock: clock, Logger: log})
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	dead := &deadRecorder{}
	m.OnDead(dead.record)

	m.Observe(&Heartbeat{TaskID: "t1"})
	clock.Advance(2 * time.Second)
	m.CheckDead()
	if got := dead.snapshot(); len(got) != 0 {
		t.Fatalf("reported %v before timeout", got)
	}

	clock.Advance(2 * time.Second)
	m.CheckDead()
	m.CheckDead()
	if diff := cmp.Diff([]string{"t1"}, dead.snapshot()); diff != "" {
		t.Errorf("dead mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(buf.String(), "heartbeat_missed") || !strings.Contains(buf.String(), "t1") {
		t.Errorf("log output = %q", buf.String())
	}

	// A task that reappears is reported again on its next silence.
	m.Observe(&Heartbeat{TaskID: "t1"})
	clock.Advance(4 * time.Second)
	m.CheckDead()
	if diff := cmp.Diff([]string{"t1", "t1"}, dead.snapshot()); diff != "" {
		t.Errorf("dead after resurrection mismatch (-want +got):\n%s", diff)
	}
}

func TestMonitor_Watch(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	m := newTestMonitor(t, b, clockwork.NewFakeClock())
	ch := m.Watch()

	m.Observe(&Heartbeat{TaskID: "w"})
	select {
	case hb := <-ch:
		if hb.TaskID != "w" {
			t.Errorf("TaskID = %q, want w", hb.TaskID)
		}
	default:
		t.Fatal("watcher did not receive the heartbeat")
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("watch channel should be closed after Close")
	}
}

func TestSenderMonitor_Integration(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	r, err := relay.Of(func(x int) int { return x }, relay.WithInitialEstimate(time.Millisecond))
	if err != nil {
		t.Fatalf("relay.Of() error = %v", err)
	}
	r.Start()
	defer r.Stop()

	sender, err := NewSender(SenderConfig{Bus: b, Interval: 10 * time.Millisecond}, r)
	if err != nil {
		t.Fatalf("NewSender() error = %v", err)
	}
	monitor, err := NewMonitor(MonitorConfig{
		Bus:           b,
		Timeout:       100 * time.Millisecond,
		CheckInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	dead := &deadRecorder{}
	monitor.OnDead(dead.record)

	monitor.Start()
	defer monitor.Close()
	sender.Start()

	waitFor(t, 2*time.Second, func() bool {
		hb := monitor.LastHeartbeat(r.ID())
		return hb != nil && hb.State == "STARTED" && hb.Alive
	}, "relay heartbeat")

	sender.Stop()
	waitFor(t, 2*time.Second, func() bool { return len(dead.snapshot()) == 1 }, "dead report")
	if got := dead.snapshot()[0]; got != r.ID() {
		t.Errorf("dead task = %q, want %q", got, r.ID())
	}
}
