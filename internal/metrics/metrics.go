// Package metrics exposes Prometheus collectors for the crawl worker.
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
	crawlerJobsTotal              *prometheus.CounterVec
	crawlerJobDurationSeconds     *prometheus.HistogramVec
	crawlerSkipsTotal             *prometheus.CounterVec
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerEmailsFoundTotal       prometheus.Counter
	crawlerActiveCrawls           prometheus.Gauge
	crawlerClaimErrorsTotal       prometheus.Counter
	crawlerRateLimitDelaysSeconds prometheus.Histogram
	crawlerRobotsFallbackTotal    prometheus.Counter
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_jobs_total",
				Help: "Total number of resolved jobs, labeled by resulting status.",
			},
			[]string{"status"},
		)

		crawlerJobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_job_duration_seconds",
				Help:    "Wall time from claim to resolution, labeled by resulting status.",
				Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 90, 120},
			},
			[]string{"status"},
		)

		crawlerSkipsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_skips_total",
				Help: "Total number of skipped crawls, labeled by skip code.",
			},
			[]string{"code"},
		)

		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of page visits, labeled by page type and result.",
			},
			[]string{"page_type", "result"},
		)

		crawlerEmailsFoundTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_emails_found_total",
				Help: "Total number of deduplicated emails returned by successful crawls.",
			},
		)

		crawlerActiveCrawls = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_crawls",
				Help: "Number of crawls currently in flight.",
			},
		)

		crawlerClaimErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_claim_errors_total",
				Help: "Total number of failed job claim attempts.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		crawlerRobotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_robots_fallback_total",
				Help: "Total robots.txt probes answered by the allow-all fallback after TLS handshake timeouts.",
			},
		)

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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob records a resolved job and how long it took.
func ObserveJob(status string, duration time.Duration) {
	crawlerJobsTotal.WithLabelValues(status).Inc()
	crawlerJobDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveSkip increments the skip counter for code.
func ObserveSkip(code string) {
	crawlerSkipsTotal.WithLabelValues(code).Inc()
}

// ObservePage records one page visit.
func ObservePage(pageType, result string) {
	crawlerPagesTotal.WithLabelValues(pageType, result).Inc()
}

// ObserveEmailsFound adds n to the emails counter.
func ObserveEmailsFound(n int) {
	if n > 0 {
		crawlerEmailsFoundTotal.Add(float64(n))
	}
}

// IncActiveCrawls increments the in-flight gauge.
func IncActiveCrawls() {
	crawlerActiveCrawls.Inc()
}

// DecActiveCrawls decrements the in-flight gauge.
func DecActiveCrawls() {
	crawlerActiveCrawls.Dec()
}

// ObserveClaimError counts a failed claim.
func ObserveClaimError() {
	crawlerClaimErrorsTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	crawlerRateLimitDelaysSeconds.Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt probe answered by the fallback.
func ObserveRobotsFallback() {
	crawlerRobotsFallbackTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
