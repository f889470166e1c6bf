// Package metrics exposes Prometheus collectors for the scanner service.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	httpInFlight               prometheus.Gauge
	staggerDelaySeconds        *prometheus.HistogramVec
	announcementsTotal         *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	stepsPurgedTotal           prometheus.Counter
	onDemandRequestsTotal      *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		httpInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "HTTP requests currently being served.",
			},
		)

		staggerDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scanner_stagger_delay_seconds",
				Help:    "Start-time offsets applied to monitors within a run, labeled by source.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
			},
			[]string{"source"},
		)

		announcementsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_announcements_total",
				Help: "Analysis announcements published, labeled by mode.",
			},
			[]string{"mode"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scanner_active_workers",
				Help: "Number of on-demand workers currently running a scan.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scanner_rate_limit_delays_seconds",
				Help:    "Histogram of source rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		stepsPurgedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scanner_steps_purged_total",
				Help: "Step log records removed by retention.",
			},
		)

		onDemandRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_on_demand_requests_total",
				Help: "On-demand scan requests handled, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveStaggerDelay records the offset applied to one monitor.
func ObserveStaggerDelay(source string, delay time.Duration) {
	Init()
	staggerDelaySeconds.WithLabelValues(source).Observe(delay.Seconds())
}

// AddAnnouncements counts published analysis announcements.
func AddAnnouncements(mode string, n int) {
	if n <= 0 {
		return
	}
	Init()
	announcementsTotal.WithLabelValues(mode).Add(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(source string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// AddStepsPurged counts step log records removed by retention.
func AddStepsPurged(n int64) {
	if n <= 0 {
		return
	}
	Init()
	stepsPurgedTotal.Add(float64(n))
}

// ObserveOnDemandRequest counts one handled on-demand request.
func ObserveOnDemandRequest(outcome string) {
	Init()
	onDemandRequestsTotal.WithLabelValues(outcome).Inc()
}
