// Package config loads relay graphs and runtime settings from TOML files.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/vinayprograms/agentflow/bus"
	"github.com/vinayprograms/agentflow/errors"
	"github.com/vinayprograms/agentflow/logging"
)

// FileName is the configuration file looked up in the standard paths.
const FileName = "agentflow.toml"

// Environment overrides applied by Load and LoadFile.
const (
	EnvLogLevel      = "AGENTFLOW_LOG_LEVEL"
	EnvMetricsListen = "AGENTFLOW_METRICS_LISTEN"
	EnvNATSURL       = "AGENTFLOW_NATS_URL"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Duration is a time.Duration written as a string ("250ms", "5s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root of agentflow.toml.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Bus       BusConfig       `toml:"bus"`
	Relays    []RelayConfig   `toml:"relay" validate:"min=1,dive"`
	Seeds     []SeedConfig    `toml:"seed" validate:"dive"`
}

// LogConfig configures the logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled"`
	Endpoint    string `toml:"endpoint" validate:"required_if=Enabled true"`
	Protocol    string `toml:"protocol" validate:"omitempty,oneof=grpc http"`
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address /metrics is served on. Empty disables it.
	Listen string `toml:"listen" validate:"omitempty,hostname_port"`
}

// HeartbeatConfig configures heartbeat reporting.
type HeartbeatConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval Duration `toml:"interval"`
	Timeout  Duration `toml:"timeout"`
}

// BusConfig selects the message bus heartbeats and published values travel on.
type BusConfig struct {
	// Backend is memory (in-process) or nats. Empty means memory.
	Backend string `toml:"backend" validate:"omitempty,oneof=memory nats"`

	// URL of the NATS server.
	URL string `toml:"url" validate:"required_if=Backend nats,omitempty,url"`

	// Name is the NATS client name.
	Name string `toml:"name"`

	// BufferSize of each subscription channel. Zero means default.
	BufferSize int `toml:"buffer_size" validate:"gte=0"`
}

// RelayConfig describes one relay of the graph.
type RelayConfig struct {
	// Name identifies the relay; targets and seeds refer to it.
	Name string `toml:"name" validate:"required,max=64,excludesall=.*>"`

	// Operation applied to every value: multiply, add, identity or negate.
	Operation string `toml:"operation" validate:"required,oneof=multiply add identity negate"`

	// Operand of multiply and add.
	Operand float64 `toml:"operand"`

	// Alpha is the smoothing factor of the sleep estimate. Zero means default.
	Alpha float64 `toml:"alpha" validate:"gte=0,lte=1"`

	// InitialEstimate is the first sleep estimate. Zero means default.
	InitialEstimate Duration `toml:"initial_estimate"`

	// Targets are the names of downstream relays, in forwarding order.
	Targets []string `toml:"targets"`

	// Publish is a bus subject every result is also published to.
	Publish string `toml:"publish"`
}

// SeedConfig places an initial value in a relay's inbox.
type SeedConfig struct {
	Relay string  `toml:"relay" validate:"required"`
	Value float64 `toml:"value"`
}

// Expression returns the function the relay applies.
func (r RelayConfig) Expression() (func(float64) float64, error) {
	operand := r.Operand
	switch r.Operation {
	case "multiply":
		return func(x float64) float64 { return x * operand }, nil
	case "add":
		return func(x float64) float64 { return x + operand }, nil
	case "identity":
		return func(x float64) float64 { return x }, nil
	case "negate":
		return func(x float64) float64 { return -x }, nil
	default:
		return nil, errors.InvalidConfig("unknown relay operation",
			errors.WithMetadata("relay", r.Name),
			errors.WithMetadata("operation", r.Operation))
	}
}

// Default returns two relays that halve a value back and forth, seeded
// with 1.
func Default() *Config {
	cfg := base()
	cfg.Relays = []RelayConfig{
		{Name: "a", Operation: "multiply", Operand: 0.5, Targets: []string{"b"}},
		{Name: "b", Operation: "multiply", Operand: 0.5, Targets: []string{"a"}},
	}
	cfg.Seeds = []SeedConfig{{Relay: "a", Value: 1}}
	return cfg
}

// base holds the ambient defaults a file is decoded over.
func base() *Config {
	return &Config{
		Log:       LogConfig{Level: "info"},
		Telemetry: TelemetryConfig{Protocol: "grpc"},
		Bus:       BusConfig{Backend: "memory"},
		Heartbeat: HeartbeatConfig{
			Enabled:  true,
			Interval: Duration{time.Second},
			Timeout:  Duration{5 * time.Second},
		},
	}
}

// StandardPaths returns the config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{FileName}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "agentflow", FileName))
	}
	return paths
}

// Load loads the first file found in StandardPaths. Without a file it
// returns Default() and an empty path.
func Load() (*Config, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := LoadFile(path)
			return cfg, path, err
		}
	}

	cfg := Default()
	cfg.applyEnv()
	return cfg, "", cfg.Validate()
}

// LoadFile loads and validates a specific file.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config", errors.WithMetadata("path", path))
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, "load config", errors.WithMetadata("path", path))
	}
	return cfg, nil
}

// Decode reads TOML from r over the ambient defaults, applies environment
// overrides and validates the result. Unknown keys are rejected.
func Decode(r io.Reader) (*Config, error) {
	cfg := base()
	md, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return nil, errors.InvalidConfig("parse config", errors.WithCause(err))
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.InvalidConfig("unknown keys: " + strings.Join(keys, ", "))
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Encode writes cfg as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvMetricsListen); v != "" {
		c.Metrics.Listen = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		c.Bus.Backend = "nats"
		c.Bus.URL = v
	}
}

// Validate checks field constraints and cross references. All problems are
// reported in one INVALID_CONFIG error.
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				problems = append(problems, describe(fe))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, fmt.Sprintf("log.level: %v", err))
	}

	if c.Heartbeat.Enabled {
		if c.Heartbeat.Interval.Duration <= 0 {
			problems = append(problems, "heartbeat.interval must be positive")
		}
		if c.Heartbeat.Timeout.Duration < c.Heartbeat.Interval.Duration {
			problems = append(problems, "heartbeat.timeout must not be shorter than heartbeat.interval")
		}
	}

	names := make(map[string]bool, len(c.Relays))
	for _, r := range c.Relays {
		if names[r.Name] {
			problems = append(problems, fmt.Sprintf("relay %q defined twice", r.Name))
		}
		names[r.Name] = true

		if r.InitialEstimate.Duration < 0 {
			problems = append(problems, fmt.Sprintf("relay %q: initial_estimate must not be negative", r.Name))
		}
		if r.Publish != "" {
			if err := bus.ValidateSubject(r.Publish); err != nil {
				problems = append(problems, fmt.Sprintf("relay %q: invalid publish subject %q", r.Name, r.Publish))
			}
		}
	}
	for _, r := range c.Relays {
		for _, target := range r.Targets {
			if !names[target] {
				problems = append(problems, fmt.Sprintf("relay %q: unknown target %q", r.Name, target))
			}
		}
	}
	for _, s := range c.Seeds {
		if s.Relay != "" && !names[s.Relay] {
			problems = append(problems, fmt.Sprintf("seed: unknown relay %q", s.Relay))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return errors.InvalidConfig(strings.Join(problems, "; "))
}

// Relay returns the relay named name.
func (c *Config) Relay(name string) (RelayConfig, bool) {
	for _, r := range c.Relays {
		if r.Name == name {
			return r, true
		}
	}
	return RelayConfig{}, false
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(strings.TrimPrefix(fe.Namespace(), "Config."))
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s: failed %s", field, fe.Tag())
}
