// Package metrics exports the orchestrator's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for one orchestrator instance. Each instance
// owns its registry, so tests can build as many as they like without
// duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	// Matching scheduler
	SchedulerCycles prometheus.Counter
	CycleDuration   prometheus.Histogram
	TasksAssigned   prometheus.Counter
	QueueDepth      prometheus.Gauge

	// Registry and liveness
	TasksTerminal *prometheus.CounterVec
	ActiveAgents  prometheus.Gauge
	AgentsEvicted prometheus.Counter

	// Transport
	BusPublishErrors prometheus.Counter
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SchedulerCycles: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "steve",
				Name:      "scheduler_cycles_total",
				Help:      "Total matching cycles run",
			},
		),
		CycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "steve",
				Name:      "scheduler_cycle_duration_seconds",
				Help:      "Matching cycle duration in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
		),
		TasksAssigned: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "steve",
				Name:      "tasks_assigned_total",
				Help:      "Total tasks assigned to agents",
			},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "steve",
				Name:      "queue_depth",
				Help:      "Number of tasks waiting in the pending queue",
			},
		),
		TasksTerminal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "steve",
				Name:      "tasks_terminal_total",
				Help:      "Total tasks reaching a terminal status",
			},
			[]string{"status"},
		),
		ActiveAgents: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "steve",
				Name:      "active_agents",
				Help:      "Number of active registered agents",
			},
		),
		AgentsEvicted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "steve",
				Name:      "agents_evicted_total",
				Help:      "Total agents evicted for missed heartbeats",
			},
		),
		BusPublishErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "steve",
				Name:      "bus_publish_errors_total",
				Help:      "Total failed publishes to the message bus",
			},
		),
	}
}

// RecordCycle records one matching cycle and refreshes the load gauges.
func (m *Metrics) RecordCycle(duration time.Duration, assigned, queueDepth, activeAgents int) {
	m.SchedulerCycles.Inc()
	m.CycleDuration.Observe(duration.Seconds())
	m.TasksAssigned.Add(float64(assigned))
	m.QueueDepth.Set(float64(queueDepth))
	m.ActiveAgents.Set(float64(activeAgents))
}

// RecordTerminal records a task reaching a terminal status.
func (m *Metrics) RecordTerminal(status string) {
	m.TasksTerminal.WithLabelValues(status).Inc()
}

// RecordEvictions records agents removed by the liveness monitor.
func (m *Metrics) RecordEvictions(count int) {
	m.AgentsEvicted.Add(float64(count))
}

// RecordPublishError records a failed bus publish.
func (m *Metrics) RecordPublishError() {
	m.BusPublishErrors.Inc()
}

// Handler serves this instance's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
