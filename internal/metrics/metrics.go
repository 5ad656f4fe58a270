// Package metrics exposes Prometheus collectors for the session crawler.
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
	listingPagesTotal          *prometheus.CounterVec
	listingCandidatesTotal     *prometheus.CounterVec
	walkStopsTotal             *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	detailsTotal               *prometheus.CounterVec
	filesTotal                 *prometheus.CounterVec
	storedSessions             prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		listingPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessions_listing_pages_total",
				Help: "Listing pages requested, labeled by outcome.",
			},
			[]string{"status"},
		)

		listingCandidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessions_listing_candidates_total",
				Help: "Session links seen on listing pages, labeled by outcome (new, known, skipped).",
			},
			[]string{"outcome"},
		)

		walkStopsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessions_walk_stops_total",
				Help: "Completed listing walks, labeled by stop reason.",
			},
			[]string{"reason"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sessions_fetch_duration_seconds",
				Help:    "Histogram of page and file fetch latencies, labeled by site and status.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site", "status"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sessions_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		detailsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessions_details_total",
				Help: "Detail extractions, labeled by outcome.",
			},
			[]string{"status"},
		)

		filesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessions_files_total",
				Help: "Session files processed by the downloader, labeled by classification.",
			},
			[]string{"status"},
		)

		storedSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessions_stored",
				Help: "Number of sessions in the store after the last walk.",
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

// ObserveListingPage counts one listing page request.
func ObserveListingPage(status string) {
	Init()
	listingPagesTotal.WithLabelValues(status).Inc()
}

// ObserveCandidate counts one session link by outcome.
func ObserveCandidate(outcome string) {
	Init()
	listingCandidatesTotal.WithLabelValues(outcome).Inc()
}

// ObserveWalk records why a walk ended and the resulting store size.
func ObserveWalk(reason string, stored int) {
	Init()
	walkStopsTotal.WithLabelValues(reason).Inc()
	storedSessions.Set(float64(stored))
}

// ObserveFetch records the latency of one fetch.
func ObserveFetch(rawURL string, status string, duration time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(SanitizeSite(rawURL), status).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveDetail counts one detail extraction outcome.
func ObserveDetail(status string) {
	Init()
	detailsTotal.WithLabelValues(status).Inc()
}

// ObserveFile counts one file classification outcome.
func ObserveFile(status string) {
	Init()
	filesTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
