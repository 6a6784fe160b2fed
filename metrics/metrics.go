// Package metrics exposes Prometheus metrics for the scan service.
//
// Counters track scans by flow and outcome, scorer calls by result kind and
// HTTP requests by route. A histogram records scorer latency and a gauge
// tracks batch jobs waiting for the worker pool.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/medguard-ai/medguard/scorer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the service metrics. A nil *Collector is a no-op.
type Collector struct {
	registry *prometheus.Registry

	scansCreated   *prometheus.CounterVec
	scansCompleted *prometheus.CounterVec
	scansFailed    *prometheus.CounterVec
	photosScored   *prometheus.CounterVec
	scorerLatency  prometheus.Histogram
	batchQueued    prometheus.Gauge
	catalogDrugs   prometheus.Gauge
	evicted        prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// NewCollector creates the metrics and registers them on registry.
func NewCollector(registry *prometheus.Registry) *Collector {
	c := &Collector{
		registry: registry,
		scansCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medguard_scans_created_total",
			Help: "Total number of scan jobs created",
		}, []string{"flow"}),
		scansCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medguard_scans_completed_total",
			Help: "Total number of scan jobs finalized, by verdict",
		}, []string{"flow", "authenticity"}),
		scansFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medguard_scans_failed_total",
			Help: "Total number of scan jobs that failed",
		}, []string{"flow"}),
		photosScored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medguard_photos_scored_total",
			Help: "Total number of scorer calls, by result",
		}, []string{"result"}),
		scorerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medguard_scorer_latency_seconds",
			Help:    "Scorer call latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		batchQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medguard_batch_jobs_queued",
			Help: "Batch scan jobs waiting for a worker",
		}),
		catalogDrugs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medguard_catalog_drugs",
			Help: "Number of reference drugs in the active vector catalog",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medguard_scans_evicted_total",
			Help: "Total number of stale scan jobs evicted",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medguard_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medguard_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	registry.MustRegister(
		c.scansCreated,
		c.scansCompleted,
		c.scansFailed,
		c.photosScored,
		c.scorerLatency,
		c.batchQueued,
		c.catalogDrugs,
		c.evicted,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordCreated(flow string) {
	if c == nil {
		return
	}
	c.scansCreated.WithLabelValues(flow).Inc()
}

func (c *Collector) RecordCompleted(flow, authenticity string) {
	if c == nil {
		return
	}
	c.scansCompleted.WithLabelValues(flow, authenticity).Inc()
}

func (c *Collector) RecordFailed(flow string) {
	if c == nil {
		return
	}
	c.scansFailed.WithLabelValues(flow).Inc()
}

// RecordScore counts one scorer call and its latency.
func (c *Collector) RecordScore(d time.Duration, err error) {
	if c == nil {
		return
	}
	c.photosScored.WithLabelValues(ScoreResult(err)).Inc()
	c.scorerLatency.Observe(d.Seconds())
}

func (c *Collector) BatchQueued(delta float64) {
	if c == nil {
		return
	}
	c.batchQueued.Add(delta)
}

func (c *Collector) SetCatalogSize(n int) {
	if c == nil {
		return
	}
	c.catalogDrugs.Set(float64(n))
}

func (c *Collector) RecordEvicted(n int) {
	if c == nil {
		return
	}
	c.evicted.Add(float64(n))
}

func (c *Collector) RecordRequest(method, route string, code int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// ScoreResult is the result label for a scorer error.
func ScoreResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, scorer.ErrTimeout):
		return "timeout"
	case errors.Is(err, scorer.ErrParse):
		return "parse_error"
	case errors.Is(err, scorer.ErrScorerFailure):
		return "scorer_failure"
	case errors.Is(err, scorer.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
