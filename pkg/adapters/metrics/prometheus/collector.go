package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "autopresenter"

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	jobsSubmitted     *prometheus.CounterVec
	jobTransitions    *prometheus.CounterVec
	unitsExecuted     *prometheus.CounterVec
	unitDuration      *prometheus.HistogramVec
	unitRetries       *prometheus.CounterVec
	strategies        *prometheus.CounterVec
	inFlight          *prometheus.GaugeVec
	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
}

// NewCollector creates a collector registered with reg. A nil reg uses the
// default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		jobsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_submitted_total",
				Help:      "Total number of jobs submitted",
			},
			[]string{"source_kind"},
		),
		jobTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_status_transitions_total",
				Help:      "Total number of job status transitions by target status",
			},
			[]string{"status"},
		),
		unitsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_executed_total",
				Help:      "Total number of work units executed",
			},
			[]string{"stage", "outcome"},
		),
		unitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unit_duration_seconds",
				Help:      "Work unit execution duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900},
			},
			[]string{"stage"},
		),
		unitRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unit_retries_total",
				Help:      "Total number of work units re-queued after a failure",
			},
			[]string{"stage", "kind"},
		),
		strategies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "encode_strategy_total",
				Help:      "Encoding strategy that produced each video artifact",
			},
			[]string{"stage", "strategy"},
		),
		inFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "units_in_flight",
				Help:      "Number of work units currently executing",
			},
			[]string{"stage"},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_idle",
				Help:      "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_busy",
				Help:      "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_stopped",
				Help:      "Number of stopped workers",
			},
		),
	}
}

// RecordJobSubmitted counts a new job by source kind
func (c *Collector) RecordJobSubmitted(kind string) {
	c.jobsSubmitted.WithLabelValues(kind).Inc()
}

// RecordJobStatus counts a job entering status
func (c *Collector) RecordJobStatus(status string) {
	c.jobTransitions.WithLabelValues(status).Inc()
}

// RecordUnitExecuted records a finished work unit
func (c *Collector) RecordUnitExecuted(stage, outcome string, duration time.Duration) {
	c.unitsExecuted.WithLabelValues(stage, outcome).Inc()
	c.unitDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordUnitRetry counts a re-queued work unit
func (c *Collector) RecordUnitRetry(stage, kind string) {
	c.unitRetries.WithLabelValues(stage, kind).Inc()
}

// RecordStrategy counts the encoding strategy used for an artifact
func (c *Collector) RecordStrategy(stage, strategy string) {
	c.strategies.WithLabelValues(stage, strategy).Inc()
}

// SetInFlight sets the number of executing units for a stage
func (c *Collector) SetInFlight(stage string, count int) {
	c.inFlight.WithLabelValues(stage).Set(float64(count))
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}
