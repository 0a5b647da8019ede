package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentflow"

// Metrics holds the Prometheus collectors for task run-loops.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	cycles      *prometheus.CounterVec
	processed   *prometheus.CounterVec
	processTime *prometheus.HistogramVec
	waiting     *prometheus.HistogramVec
	sleep       *prometheus.GaugeVec
	running     *prometheus.GaugeVec
	lifecycle   *prometheus.CounterVec
	inbox       *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "cycles_total",
			Help:      "Run-loop iterations, processed or idle.",
		}, []string{"task"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "process_total",
			Help:      "Process calls by outcome.",
		}, []string{"task", "outcome"}),
		processTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "process_duration_seconds",
			Help:      "Time spent in Process.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"task"}),
		waiting: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "waiting_seconds",
			Help:      "Idle time observed at the start of each cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"task"}),
		sleep: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "sleep_seconds",
			Help:      "Most recent sleep time chosen by the worker.",
		}, []string{"task"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "running",
			Help:      "1 while the task's run-loop is active.",
		}, []string{"task"}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "lifecycle_events_total",
			Help:      "Lifecycle hook invocations.",
		}, []string{"task", "event"}),
		inbox: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "inbox_size",
			Help:      "Values queued in a relay inbox at the end of a cycle.",
		}, []string{"task"}),
	}

	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.cycles, m.processed, m.processTime, m.waiting,
		m.sleep, m.running, m.lifecycle, m.inbox,
	}
}

// ObserveCycle records one run-loop iteration.
func (m *Metrics) ObserveCycle(task string, waiting, sleep time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(task).Inc()
	m.waiting.WithLabelValues(task).Observe(waiting.Seconds())
	m.sleep.WithLabelValues(task).Set(sleep.Seconds())
}

// ObserveProcess records one Process call.
func (m *Metrics) ObserveProcess(task string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.processed.WithLabelValues(task, outcome).Inc()
	m.processTime.WithLabelValues(task).Observe(d.Seconds())
}

// ObserveLifecycle records a lifecycle hook invocation.
func (m *Metrics) ObserveLifecycle(task, event string) {
	if m == nil {
		return
	}
	m.lifecycle.WithLabelValues(task, event).Inc()
}

// SetRunning marks the task's run-loop as active or not.
func (m *Metrics) SetRunning(task string, running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.running.WithLabelValues(task).Set(v)
}

// SetInboxSize records the number of queued relay values.
func (m *Metrics) SetInboxSize(task string, n int) {
	if m == nil {
		return
	}
	m.inbox.WithLabelValues(task).Set(float64(n))
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
