// Package metrics exposes job, delivery, schedule and inline counters for
// Prometheus on a registry of its own.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teranos/peterbot/pulse/async"
)

const namespace = "peterbot"

// Collector records worker, dispatcher, queue and ticker activity.
// It satisfies async.Recorder, async.EnqueueRecorder and schedule.Recorder.
type Collector struct {
	registry *prometheus.Registry

	jobsEnqueued   *prometheus.CounterVec
	jobsCompleted  prometheus.Counter
	jobsFailed     *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	jobDuration    prometheus.Histogram
	scheduleFiring *prometheus.CounterVec
	inline         *prometheus.CounterVec
}

// NewCollector creates a collector with Go runtime and process metrics included
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Jobs created, by type.",
		}, []string{"type"}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Jobs whose AI invocation succeeded.",
		}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Jobs moved to failed, by reason.",
		}, []string{"reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery attempts, by result.",
		}, []string{"result"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from a job starting to its output being stored.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}),
		scheduleFiring: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_firings_total",
			Help:      "Due schedules handled by the ticker, by result.",
		}, []string{"result"}),
		inline: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inline_total",
			Help:      "Interactive messages, by outcome.",
		}, []string{"outcome"}),
	}

	c.registry.MustRegister(
		c.jobsEnqueued,
		c.jobsCompleted,
		c.jobsFailed,
		c.deliveries,
		c.jobDuration,
		c.scheduleFiring,
		c.inline,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry backing the collector
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) JobEnqueued(jobType async.JobType) {
	c.jobsEnqueued.WithLabelValues(string(jobType)).Inc()
}

func (c *Collector) JobCompleted(d time.Duration) {
	c.jobsCompleted.Inc()
	c.jobDuration.Observe(d.Seconds())
}

func (c *Collector) JobFailed(reason async.FailureReason) {
	c.jobsFailed.WithLabelValues(string(reason)).Inc()
}

func (c *Collector) Delivery(outcome string) {
	c.deliveries.WithLabelValues(outcome).Inc()
}

func (c *Collector) InlineOutcome(outcome string) {
	c.inline.WithLabelValues(outcome).Inc()
}

func (c *Collector) ScheduleFiring(result string) {
	c.scheduleFiring.WithLabelValues(result).Inc()
}
