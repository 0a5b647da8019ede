package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vinayprograms/agentflow/bus"
	"github.com/vinayprograms/agentflow/config"
	"github.com/vinayprograms/agentflow/errors"
	"github.com/vinayprograms/agentflow/heartbeat"
	"github.com/vinayprograms/agentflow/logging"
	"github.com/vinayprograms/agentflow/shutdown"
	"github.com/vinayprograms/agentflow/telemetry"
)

type runOptions struct {
	duration        time.Duration
	shutdownTimeout time.Duration
}

func newRunCmd() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the relay graph, run it and print what is left in each inbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New().WithComponent("agentflow")
			log.SetOutput(cmd.ErrOrStderr())

			cfg, err := loadConfig(cmd, log)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts, log, cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "stop after this long (0 runs until SIGINT/SIGTERM)")
	cmd.Flags().DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 10*time.Second, "upper bound for graceful shutdown")
	return cmd
}

// run wires the graph with its collaborators and blocks until the duration
// elapses, a signal arrives or ctx is done.
func run(ctx context.Context, cfg *config.Config, opts runOptions, log *logging.Logger, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	coord := shutdown.NewCoordinator(shutdown.Config{
		DefaultTimeout:  opts.shutdownTimeout,
		ContinueOnError: true,
		OnProgress: func(r shutdown.HandlerResult) {
			fields := map[string]interface{}{"handler": r.Name, "phase": r.Phase, "duration": r.Duration.String()}
			if r.Err != nil {
				fields["error"] = r.Err.Error()
				log.Warn("shutdown_handler_failed", fields)
				return
			}
			log.Debug("shutdown_handler_done", fields)
		},
		OnSignal: func(sig os.Signal) {
			log.Info("signal_received", map[string]interface{}{"signal": sig.String()})
		},
	})

	deps := graphDeps{logger: log}

	if cfg.Telemetry.Enabled {
		provider, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: Version,
			Endpoint:       cfg.Telemetry.Endpoint,
			Protocol:       cfg.Telemetry.Protocol,
			Insecure:       cfg.Telemetry.Insecure,
		})
		if err != nil {
			return err
		}
		deps.tracer = provider.Tracer()
		coord.RegisterFuncWithPhase("tracing", provider.Shutdown, shutdown.PhaseExporters)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if deps.metrics, err = telemetry.NewMetrics(reg); err != nil {
		return err
	}
	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, reg, log)
		coord.RegisterFuncWithPhase("metrics", srv.Shutdown, shutdown.PhaseExporters)
	}

	b, err := newBus(cfg.Bus)
	if err != nil {
		_ = coord.ShutdownWithTimeout(opts.shutdownTimeout)
		return err
	}
	deps.bus = b
	coord.RegisterFuncWithPhase("bus", func(context.Context) error { return b.Close() }, shutdown.PhaseTransport)
	log.Debug("bus_ready", map[string]interface{}{"backend": cfg.Bus.Backend})

	g, err := buildGraph(cfg, deps)
	if err != nil {
		_ = coord.ShutdownWithTimeout(opts.shutdownTimeout)
		return err
	}
	coord.RegisterWithPhase("relays", g.group, shutdown.PhaseTasks)

	if cfg.Heartbeat.Enabled {
		if err := startHeartbeat(cfg.Heartbeat, b, g, coord, log); err != nil {
			_ = coord.ShutdownWithTimeout(opts.shutdownTimeout)
			return err
		}
	}

	coord.HandleSignals()
	g.group.Start()
	log.Info("graph_started", map[string]interface{}{"relays": len(g.names), "seeds": len(cfg.Seeds)})

	var timeout <-chan time.Time
	if opts.duration > 0 {
		timer := time.NewTimer(opts.duration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-timeout:
	case <-ctx.Done():
	case <-coord.Done():
	}

	shutdownErr := coord.ShutdownWithTimeout(opts.shutdownTimeout)
	printInboxes(out, g)
	return shutdownErr
}

// newBus returns the bus selected by cfg.Backend.
func newBus(cfg config.BusConfig) (bus.MessageBus, error) {
	base := bus.DefaultConfig()
	if cfg.BufferSize > 0 {
		base.BufferSize = cfg.BufferSize
	}

	switch cfg.Backend {
	case "", "memory":
		return bus.NewMemoryBus(base), nil
	case "nats":
		nc := bus.DefaultNATSConfig()
		nc.Config = base
		nc.URL = cfg.URL
		nc.Name = cfg.Name
		if nc.Name == "" {
			nc.Name = "agentflow"
		}
		return bus.NewNATSBus(nc)
	default:
		return nil, errors.InvalidConfig("unknown bus backend", errors.WithMetadata("backend", cfg.Backend))
	}
}

func startHeartbeat(cfg config.HeartbeatConfig, b bus.MessageBus, g *graph, coord *shutdown.Coordinator, log *logging.Logger) error {
	sender, err := heartbeat.NewSender(heartbeat.SenderConfig{
		Bus:      b,
		Interval: cfg.Interval.Duration,
		OnError:  cycleErrorLogger(log, "heartbeat"),
	})
	if err != nil {
		return err
	}
	for _, r := range g.watched() {
		sender.Watch(r)
	}

	monitor, err := heartbeat.NewMonitor(heartbeat.MonitorConfig{
		Bus:           b,
		Timeout:       cfg.Timeout.Duration,
		CheckInterval: cfg.Interval.Duration,
		Logger:        log,
	})
	if err != nil {
		return err
	}

	coord.RegisterStopper("heartbeat-sender", sender, shutdown.PhaseMonitors)
	coord.RegisterFuncWithPhase("heartbeat-monitor", func(context.Context) error {
		return monitor.Close()
	}, shutdown.PhaseMonitors)

	monitor.Start()
	sender.Start()
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler(reg))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics_server_failed", map[string]interface{}{"addr": addr, "error": err.Error()})
		}
	}()
	log.Info("metrics_serving", map[string]interface{}{"addr": addr})
	return srv
}

// printInboxes writes one line per relay: name, inbox size, inbox values.
func printInboxes(w io.Writer, g *graph) {
	for _, name := range g.names {
		inbox := g.relays[name].Inbox()
		fmt.Fprintf(w, "%s\t%d\t%v\n", name, len(inbox), inbox)
	}
}
