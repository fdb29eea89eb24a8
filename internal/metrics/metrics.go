// Package metrics exposes Prometheus collectors for the fetch engine and its
// ops HTTP server.
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
	fetchesTotal               *prometheus.CounterVec
	fetchErrorsTotal           *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	bytesTotal                 *prometheus.CounterVec
	retriesTotal               prometheus.Counter
	cacheHitsTotal             *prometheus.CounterVec
	poolSlotsInUse             prometheus.Gauge
	outstandingTasks           prometheus.Gauge
	drainsTotal                prometheus.Counter
	handlerErrorsTotal         *prometheus.CounterVec
	rateLimitDelaySeconds      prometheus.Histogram
	charsetConversionsTotal    *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gifcrawler_fetches_total",
				Help: "Completed fetches, labeled by site and status class.",
			},
			[]string{"site", "status"},
		)

		fetchErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gifcrawler_fetch_errors_total",
				Help: "Transport errors, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gifcrawler_fetch_duration_seconds",
				Help:    "Histogram of transport latencies, labeled by site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gifcrawler_bytes_total",
				Help: "Decoded body bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		retriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gifcrawler_retries_total",
				Help: "Retries scheduled after transport errors.",
			},
		)

		cacheHitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gifcrawler_cache_hits_total",
				Help: "Cache table hits, labeled by kind (response or seen).",
			},
			[]string{"kind"},
		)

		poolSlotsInUse = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gifcrawler_pool_slots_in_use",
				Help: "Connection pool slots currently held.",
			},
		)

		outstandingTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gifcrawler_outstanding_tasks",
				Help: "Tasks queued, in flight, or scheduled for retry.",
			},
		)

		drainsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gifcrawler_drains_total",
				Help: "Times outstanding work reached zero.",
			},
		)

		handlerErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gifcrawler_handler_errors_total",
				Help: "Handler failures, labeled by kind (error or panic).",
			},
			[]string{"kind"},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gifcrawler_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		charsetConversionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gifcrawler_charset_conversions_total",
				Help: "Charset normalization outcomes, labeled by charset and result.",
			},
			[]string{"charset", "result"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gifcrawler_records_total",
				Help: "Extracted records written, labeled by destination.",
			},
			[]string{"destination"},
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

// SanitizeSite extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// StatusClass buckets an HTTP status code as "2xx", "3xx", and so on.
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch records a completed transport call.
func ObserveFetch(site string, code int, bytesFetched int, duration time.Duration) {
	Init()
	s := SanitizeSite(site)
	fetchesTotal.WithLabelValues(s, StatusClass(code)).Inc()
	fetchDurationSeconds.WithLabelValues(s).Observe(duration.Seconds())
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(s).Add(float64(bytesFetched))
	}
}

// ObserveFetchError records a transport error.
func ObserveFetchError(site string) {
	Init()
	fetchErrorsTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveRetry increments the retry counter.
func ObserveRetry() {
	Init()
	retriesTotal.Inc()
}

// ObserveCacheHit records a cache table hit of the given kind.
func ObserveCacheHit(kind string) {
	Init()
	cacheHitsTotal.WithLabelValues(kind).Inc()
}

// SetPoolInUse reports the pool's held slot count.
func SetPoolInUse(n int) {
	Init()
	poolSlotsInUse.Set(float64(n))
}

// SetOutstanding reports the engine's outstanding work.
func SetOutstanding(n int) {
	Init()
	outstandingTasks.Set(float64(n))
}

// ObserveDrain increments the drain counter.
func ObserveDrain() {
	Init()
	drainsTotal.Inc()
}

// ObserveHandlerError records a handler failure of the given kind.
func ObserveHandlerError(kind string) {
	Init()
	handlerErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveCharsetConversion records a normalizer outcome.
func ObserveCharsetConversion(charset, result string) {
	Init()
	if charset == "" {
		charset = "unknown"
	}
	charsetConversionsTotal.WithLabelValues(strings.ToLower(charset), result).Inc()
}

// ObserveRecord records an extracted record reaching destination.
func ObserveRecord(destination string) {
	Init()
	recordsTotal.WithLabelValues(destination).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
