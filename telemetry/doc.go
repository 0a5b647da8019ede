// Package telemetry provides tracing, metrics and instrumentation for tasks.
//
// Instrument decorates any task.Worker so that every Process call runs in a
// span, every cycle updates Prometheus collectors, and lifecycle hooks are
// logged:
//
//	metrics, _ := telemetry.NewMetrics(prometheus.DefaultRegisterer)
//	w := telemetry.Instrument(worker, telemetry.InstrumentOptions{
//	    Name:    "poller",
//	    Metrics: metrics,
//	    Logger:  logger,
//	})
//	t := task.New(w)
//
// InitProvider installs an OTLP trace exporter as the global provider.
package telemetry
