// Package metrics exposes Prometheus collectors for the orchestrator.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapeJobsTotal           *prometheus.CounterVec
	scrapeActiveJobs          prometheus.Gauge
	scrapeRecordsTotal        prometheus.Counter
	scrapeMergeDurationSecond prometheus.Histogram
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scrapeJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storescout_jobs_total",
				Help: "Total number of jobs reaching a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		scrapeActiveJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "storescout_active_jobs",
				Help: "Number of jobs with a live worker process.",
			},
		)

		scrapeRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "storescout_records_scraped_total",
				Help: "Total data rows produced by completed jobs.",
			},
		)

		scrapeMergeDurationSecond = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "storescout_merge_duration_seconds",
				Help:    "Histogram of merge worker run durations.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the terminal job counter for the given status.
func ObserveJob(status string) {
	scrapeJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveJobs increments the live-worker gauge.
func IncActiveJobs() {
	scrapeActiveJobs.Inc()
}

// DecActiveJobs decrements the live-worker gauge.
func DecActiveJobs() {
	scrapeActiveJobs.Dec()
}

// AddRecordsScraped adds the rows produced by a completed job.
func AddRecordsScraped(rows int) {
	if rows > 0 {
		scrapeRecordsTotal.Add(float64(rows))
	}
}

// ObserveMergeDuration records one merge worker run.
func ObserveMergeDuration(d time.Duration) {
	scrapeMergeDurationSecond.Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
