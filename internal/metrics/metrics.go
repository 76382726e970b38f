// Package metrics exposes Prometheus collectors for the ingestion pipeline and its API.
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
	fetchPagesTotal            *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	breakerState               *prometheus.GaugeVec
	passesTotal                prometheus.Counter
	passDurationSeconds        prometheus.Histogram
	passSourcesTotal           *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	extractionSkipsTotal       *prometheus.CounterVec
	alertFlushesTotal          *prometheus.CounterVec
	storeCommitsTotal          *prometheus.CounterVec
	mirrorRepairsTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comics_fetch_pages_total",
				Help: "Total number of publisher pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comics_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "comics_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		breakerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "comics_fetch_breaker_state",
				Help: "Circuit breaker state per host (0 closed, 1 half-open, 2 open).",
			},
			[]string{"host"},
		)

		passesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "comics_passes_total",
				Help: "Total number of ingestion passes run.",
			},
		)

		passDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "comics_pass_duration_seconds",
				Help:    "Histogram of ingestion pass durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
		)

		passSourcesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comics_pass_sources_total",
				Help: "Publisher sources processed per pass, labeled by publisher and outcome.",
			},
			[]string{"publisher", "outcome"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comics_records_total",
				Help: "Records reconciled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		extractionSkipsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comics_extraction_skips_total",
				Help: "Listing items skipped during extraction, labeled by publisher.",
			},
			[]string{"publisher"},
		)

		alertFlushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comics_alert_flushes_total",
				Help: "Alert batch flushes, labeled by result.",
			},
			[]string{"result"},
		)

		storeCommitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comics_store_commits_total",
				Help: "Catalog writes, labeled by operation and result.",
			},
			[]string{"op", "result"},
		)

		mirrorRepairsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comics_mirror_repairs_total",
				Help: "Mirror entries rewritten by repair, labeled by action.",
			},
			[]string{"action"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch increments the fetch counters for one page.
func ObserveFetch(site string, status string, bytesFetched int) {
	sanitizedSite := SanitizeSite(site)
	fetchPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// SetBreakerState records the breaker state for host.
func SetBreakerState(host string, state int) {
	breakerState.WithLabelValues(host).Set(float64(state))
}

// ObservePass records a completed ingestion pass.
func ObservePass(duration time.Duration) {
	passesTotal.Inc()
	passDurationSeconds.Observe(duration.Seconds())
}

// ObservePassSource records the outcome of one publisher source in a pass.
func ObservePassSource(publisher, outcome string) {
	passSourcesTotal.WithLabelValues(publisher, outcome).Inc()
}

// ObserveRecord records a reconciliation outcome.
func ObserveRecord(outcome string) {
	recordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveExtractionSkips adds n skipped listing items for publisher.
func ObserveExtractionSkips(publisher string, n int) {
	if n > 0 {
		extractionSkipsTotal.WithLabelValues(publisher).Add(float64(n))
	}
}

// ObserveAlertFlush records an alert flush result.
func ObserveAlertFlush(result string) {
	alertFlushesTotal.WithLabelValues(result).Inc()
}

// ObserveStoreCommit records a catalog write.
func ObserveStoreCommit(op, result string) {
	storeCommitsTotal.WithLabelValues(op, result).Inc()
}

// ObserveMirrorRepair records the entries a repair rewrote and dropped.
func ObserveMirrorRepair(upserted, removed int) {
	if upserted > 0 {
		mirrorRepairsTotal.WithLabelValues("upserted").Add(float64(upserted))
	}
	if removed > 0 {
		mirrorRepairsTotal.WithLabelValues("removed").Add(float64(removed))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
