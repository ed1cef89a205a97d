package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aescanero/tickgraph/pkg/domain"
	"github.com/aescanero/tickgraph/pkg/ports"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	runsSubmitted     *prometheus.CounterVec
	runsCompleted     *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	activeRuns        prometheus.Gauge
	ticks             *prometheus.CounterVec
	nodeInvocations   *prometheus.CounterVec
	nodeDuration      *prometheus.HistogramVec
	retries           *prometheus.CounterVec
	dropped           *prometheus.CounterVec
	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
}

// NewCollector creates a collector registered with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)

	return &Collector{
		runsSubmitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickgraph_runs_submitted_total",
				Help: "Total number of runs submitted",
			},
			[]string{"graph"},
		),
		runsCompleted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickgraph_runs_completed_total",
				Help: "Total number of runs that reached a terminal status",
			},
			[]string{"graph", "status"},
		),
		runDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tickgraph_run_duration_seconds",
				Help:    "Run duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"graph"},
		),
		activeRuns: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tickgraph_active_runs",
				Help: "Number of currently active runs",
			},
		),
		ticks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickgraph_ticks_total",
				Help: "Total number of ticks executed",
			},
			[]string{"graph"},
		),
		nodeInvocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickgraph_node_invocations_total",
				Help: "Total number of node invocations",
			},
			[]string{"graph", "node", "status"},
		),
		nodeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tickgraph_node_duration_seconds",
				Help:    "Node invocation duration in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"graph", "node"},
		),
		retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickgraph_process_retries_total",
				Help: "Total number of processes rescheduled after an unroutable output or fault",
			},
			[]string{"graph", "node"},
		),
		dropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickgraph_process_dropped_total",
				Help: "Total number of processes dropped after exhausting their attempts",
			},
			[]string{"graph", "node"},
		),
		workerPoolIdle: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tickgraph_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tickgraph_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tickgraph_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordRunSubmitted records a run submission
func (c *Collector) RecordRunSubmitted(graph string) {
	c.runsSubmitted.WithLabelValues(graph).Inc()
}

// RecordRunCompleted records a run reaching a terminal status
func (c *Collector) RecordRunCompleted(graph string, status domain.ExecutionStatus, duration time.Duration) {
	c.runsCompleted.WithLabelValues(graph, string(status)).Inc()
	c.runDuration.WithLabelValues(graph).Observe(duration.Seconds())
}

// SetActiveRuns sets the number of runs in flight
func (c *Collector) SetActiveRuns(count int) {
	c.activeRuns.Set(float64(count))
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}

// ObserveInvocation records one node invocation
func (c *Collector) ObserveInvocation(graph, node string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.nodeInvocations.WithLabelValues(graph, node, status).Inc()
	c.nodeDuration.WithLabelValues(graph, node).Observe(duration.Seconds())
}

// IncTicks counts one tick
func (c *Collector) IncTicks(graph string) {
	c.ticks.WithLabelValues(graph).Inc()
}

// IncRetries counts one rescheduled process
func (c *Collector) IncRetries(graph, node string) {
	c.retries.WithLabelValues(graph, node).Inc()
}

// IncDropped counts one dropped process
func (c *Collector) IncDropped(graph, node string) {
	c.dropped.WithLabelValues(graph, node).Inc()
}

var _ ports.MetricsCollector = (*Collector)(nil)
