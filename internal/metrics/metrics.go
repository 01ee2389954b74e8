// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	downloadsTotal             *prometheus.CounterVec
	downloadBytesTotal         *prometheus.CounterVec
	httpRetriesTotal           *prometheus.CounterVec
	retryDelaySeconds          *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	stagedFilesTotal           *prometheus.CounterVec
	activeWorkers              *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		downloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parlingest_downloads_total",
				Help: "Total number of portal downloads, labeled by host and status.",
			},
			[]string{"host", "status"},
		)

		downloadBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parlingest_download_bytes_total",
				Help: "Total number of bytes downloaded, labeled by host.",
			},
			[]string{"host"},
		)

		httpRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parlingest_http_retries_total",
				Help: "Total number of HTTP retry attempts, labeled by host.",
			},
			[]string{"host"},
		)

		retryDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parlingest_retry_delay_seconds",
				Help:    "Histogram of backoff delays between retry attempts.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"host"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parlingest_rate_limit_delay_seconds",
				Help:    "Histogram of politeness rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		stagedFilesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parlingest_staged_files_total",
				Help: "Total number of files written to staging, labeled by provider.",
			},
			[]string{"provider"},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "parlingest_active_workers",
				Help: "Number of workers currently busy, labeled by pool.",
			},
			[]string{"pool"},
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

// SanitizeHost sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDownload increments the download counters.
func ObserveDownload(site string, status string, bytesFetched int64) {
	host := SanitizeHost(site)
	downloadsTotal.WithLabelValues(host, status).Inc()
	if bytesFetched > 0 {
		downloadBytesTotal.WithLabelValues(host).Add(float64(bytesFetched))
	}
}

// ObserveRetry records one retry attempt and its backoff delay.
func ObserveRetry(site string, delay time.Duration) {
	host := SanitizeHost(site)
	httpRetriesTotal.WithLabelValues(host).Inc()
	retryDelaySeconds.WithLabelValues(host).Observe(delay.Seconds())
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(SanitizeHost(site)).Observe(duration.Seconds())
}

// ObserveStagedFile counts one file written to the staging provider.
func ObserveStagedFile(provider string) {
	stagedFilesTotal.WithLabelValues(provider).Inc()
}

// IncActiveWorkers increments the busy gauge for a worker pool.
func IncActiveWorkers(pool string) {
	activeWorkers.WithLabelValues(pool).Inc()
}

// DecActiveWorkers decrements the busy gauge for a worker pool.
func DecActiveWorkers(pool string) {
	activeWorkers.WithLabelValues(pool).Dec()
}

// ObserveHTTPRequest increments the ops API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
