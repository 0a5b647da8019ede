package main

import (
	"github.com/vinayprograms/agentflow/bridge"
	"github.com/vinayprograms/agentflow/bus"
	"github.com/vinayprograms/agentflow/config"
	"github.com/vinayprograms/agentflow/errors"
	"github.com/vinayprograms/agentflow/group"
	"github.com/vinayprograms/agentflow/logging"
	"github.com/vinayprograms/agentflow/relay"
	"github.com/vinayprograms/agentflow/task"
	"github.com/vinayprograms/agentflow/telemetry"
)

type valueRelay = relay.Relay[float64, float64]

// graph is the relay network built from a config.
type graph struct {
	names   []string
	relays  map[string]*valueRelay
	outlets []*bridge.Outlet[float64]
	group   *group.Group
}

type graphDeps struct {
	bus     bus.MessageBus
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics
	logger  *logging.Logger
}

// buildGraph creates one instrumented relay per config entry, wires targets
// and publish subjects, and seeds the inboxes. Nothing is started. Relay
// cycle failures are logged by the instrumentation; outlet failures by the
// outlet's error handler.
func buildGraph(cfg *config.Config, deps graphDeps) (*graph, error) {
	g := &graph{
		relays: make(map[string]*valueRelay, len(cfg.Relays)),
		group:  group.New(),
	}

	for _, rc := range cfg.Relays {
		expr, err := rc.Expression()
		if err != nil {
			return nil, err
		}

		opts := []relay.Option{
			relay.WithTaskOptions(task.WithID(rc.Name)),
			relay.WithWorkerWrapper(telemetry.Wrapper(telemetry.InstrumentOptions{
				Name:    rc.Name,
				Tracer:  deps.tracer,
				Metrics: deps.metrics,
				Logger:  deps.logger,
			})),
		}
		if rc.Alpha > 0 {
			opts = append(opts, relay.WithAlpha(rc.Alpha))
		}
		if rc.InitialEstimate.Duration > 0 {
			opts = append(opts, relay.WithInitialEstimate(rc.InitialEstimate.Duration))
		}

		r, err := relay.Of(expr, opts...)
		if err != nil {
			return nil, errors.Wrap(err, "build relay", errors.WithMetadata("relay", rc.Name))
		}
		g.relays[rc.Name] = r
		g.names = append(g.names, rc.Name)
		g.group.Add(r)
	}

	for _, rc := range cfg.Relays {
		r := g.relays[rc.Name]
		for _, target := range rc.Targets {
			r.Relay(g.relays[target])
		}
		if rc.Publish != "" {
			if deps.bus == nil {
				return nil, errors.InvalidConfig("relay publishes but no bus is configured",
					errors.WithMetadata("relay", rc.Name))
			}
			out, err := bridge.NewOutlet[float64](deps.bus, rc.Publish,
				bridge.WithTracer(deps.tracer),
				bridge.WithErrorHandler(cycleErrorLogger(deps.logger, rc.Name)))
			if err != nil {
				return nil, err
			}
			r.Relay(out)
			g.outlets = append(g.outlets, out)
		}
	}

	for _, seed := range cfg.Seeds {
		g.relays[seed.Relay].Accept(seed.Value)
	}
	return g, nil
}

// watched returns the relays in config order for heartbeat reporting.
func (g *graph) watched() []*valueRelay {
	out := make([]*valueRelay, 0, len(g.names))
	for _, name := range g.names {
		out = append(out, g.relays[name])
	}
	return out
}

func cycleErrorLogger(log *logging.Logger, name string) func(error) {
	return func(err error) {
		if log != nil {
			log.CycleFailed(name, err)
		}
	}
}
