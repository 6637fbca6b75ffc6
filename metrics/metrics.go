// Package metrics exposes Prometheus instrumentation for the dispatcher and
// the concurrency manager.
//
// A Collector registers its metrics with the registerer passed to New, so
// several servers (and tests) can coexist in one process. A nil *Collector
// is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "xweb"

// Collector records dispatch and scheduling metrics.
type Collector struct {
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	superseded prometheus.Counter
	queueWait  prometheus.Histogram
	evicted    prometheus.Counter
}

// New creates a Collector registered with reg. A nil reg uses a fresh
// private registry.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Collector{
		// Labels: service, status (ok, error), kind (error kind, empty on success)
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Dispatched requests by service type and outcome",
		}, []string{"service", "status", "kind"}),

		// Labels: service
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "End to end dispatch latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"service"}),

		superseded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "superseded_total",
			Help:      "Queued or running tasks cancelled by a later mutating request",
		}),

		queueWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "queue_wait_seconds",
			Help:      "Time tasks spent queued before obtaining a worker",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),

		evicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "evicted_total",
			Help:      "Sessions evicted after exceeding the idle threshold",
		}),
	}
}

// ObserveRequest records the outcome of one dispatched request.
func (c *Collector) ObserveRequest(service, status, kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(service, status, kind).Inc()
	c.duration.WithLabelValues(service).Observe(d.Seconds())
}

// TasksSuperseded implements engine.Observer.
func (c *Collector) TasksSuperseded(n int) {
	if c == nil {
		return
	}
	c.superseded.Add(float64(n))
}

// TaskStarted implements engine.Observer.
func (c *Collector) TaskStarted(wait time.Duration) {
	if c == nil {
		return
	}
	c.queueWait.Observe(wait.Seconds())
}

// SessionsEvicted records evicted session ids. It matches the signature of
// session.Options.OnEvict.
func (c *Collector) SessionsEvicted(ids []string) {
	if c == nil {
		return
	}
	c.evicted.Add(float64(len(ids)))
}

// RegisterGauges registers gauges sampled at scrape time: live sessions and
// engine lanes with pending work.
func RegisterGauges(reg prometheus.Registerer, sessions func() int, lanes func() int) error {
	if reg == nil {
		return nil
	}
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Live sessions",
		}, func() float64 { return float64(sessions()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "lanes",
			Help:      "Lanes with queued or running tasks",
		}, func() float64 { return float64(lanes()) }),
	}
	for _, g := range gauges {
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}
