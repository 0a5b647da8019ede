package heartbeat

import (
	"time"

	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"

	"github.com/vinayprograms/agentflow/bus"
	"github.com/vinayprograms/agentflow/errors"
	"github.com/vinayprograms/agentflow/logging"
	"github.com/vinayprograms/agentflow/task"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrInvalidConfig indicates an unusable sender or monitor configuration.
var ErrInvalidConfig = errors.InvalidConfig("invalid heartbeat configuration")

// SubjectPrefix is the subject prefix for heartbeat messages.
const SubjectPrefix = "heartbeat."

// Heartbeat is one status report for one task.
type Heartbeat struct {
	// TaskID identifies the reported task.
	TaskID string `json:"task_id"`

	// Timestamp when the heartbeat was generated.
	Timestamp time.Time `json:"timestamp"`

	// State is the task's lifecycle state (CREATED, STARTED, STOPPED).
	State string `json:"state"`

	// Alive reports whether the task's goroutine was running.
	Alive bool `json:"alive"`

	// SleepEstimateMs is the adaptive sleep estimate, when the task has one.
	SleepEstimateMs float64 `json:"sleep_estimate_ms,omitempty"`

	// LastError is the task's most recent failure.
	LastError string `json:"last_error,omitempty"`

	// Metadata contains additional key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Marshal serializes a heartbeat to JSON.
func (h *Heartbeat) Marshal() ([]byte, error) {
	return codec.Marshal(h)
}

// Unmarshal deserializes a heartbeat from JSON.
func Unmarshal(data []byte) (*Heartbeat, error) {
	var h Heartbeat
	if err := codec.Unmarshal(data, &h); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeDecodeFailed, "decode heartbeat")
	}
	return &h, nil
}

// Subject returns the subject for this heartbeat.
func (h *Heartbeat) Subject() string {
	return SubjectPrefix + h.TaskID
}

// Watched is the view of a task a Sender reports on. *task.Task and every
// type embedding it satisfy it.
type Watched interface {
	ID() string
	State() task.State
	IsThreadAlive() bool
	Err() error
}

type estimator interface {
	EstimateMillis() float64
}

// Snapshot builds a heartbeat describing w at time now.
func Snapshot(w Watched, now time.Time) *Heartbeat {
	hb := &Heartbeat{
		TaskID:    w.ID(),
		Timestamp: now,
		State:     w.State().String(),
		Alive:     w.IsThreadAlive(),
	}
	if e, ok := w.(estimator); ok {
		hb.SleepEstimateMs = e.EstimateMillis()
	}
	if err := w.Err(); err != nil {
		hb.LastError = err.Error()
	}
	return hb
}

// SenderConfig configures a heartbeat sender.
type SenderConfig struct {
	// Bus is the message bus for publishing heartbeats.
	Bus bus.MessageBus

	// Interval between heartbeats.
	// Default: 5 seconds
	Interval time.Duration

	// Clock stamps heartbeats and paces the sender. Default: real clock.
	Clock clockwork.Clock

	// Metadata is attached to every heartbeat.
	Metadata map[string]string

	// OnError receives each failed publish cycle. Err keeps the latest one
	// regardless.
	OnError func(error)
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Bus == nil || c.Interval < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultSenderConfig returns configuration with sensible defaults.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Interval: 5 * time.Second,
	}
}

// MonitorConfig configures a heartbeat monitor.
type MonitorConfig struct {
	// Bus is the message bus for subscribing to heartbeats.
	Bus bus.MessageBus

	// Timeout for considering a task dead.
	// Should be 2-3x the expected heartbeat interval.
	// Default: 15 seconds
	Timeout time.Duration

	// CheckInterval paces the monitor's task.
	// Default: 1 second
	CheckInterval time.Duration

	// Clock measures silence. Default: real clock.
	Clock clockwork.Clock

	// Logger receives a warning for every task presumed dead. Optional.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *MonitorConfig) Validate() error {
	if c.Bus == nil || c.Timeout < 0 || c.CheckInterval < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultMonitorConfig returns configuration with sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Timeout:       15 * time.Second,
		CheckInterval: 1 * time.Second,
	}
}
