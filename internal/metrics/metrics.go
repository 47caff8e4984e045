// Package metrics exposes Prometheus collectors for the crawler.
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
	crawlerPagesTotal                     *prometheus.CounterVec
	crawlerBytesTotal                     *prometheus.CounterVec
	crawlerDocumentsTotal                 *prometheus.CounterVec
	crawlerSitemapsTotal                  *prometheus.CounterVec
	httpRequestsTotal                     *prometheus.CounterVec
	httpRequestDurationSeconds            *prometheus.HistogramVec
	crawlerRobotsTLSHandshakeTimeoutTotal prometheus.Counter
	crawlerActiveWorkers                  prometheus.Gauge
	crawlerQueueDepth                     prometheus.Gauge
	crawlerRateLimitWaitSeconds           *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of page fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerDocumentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_documents_total",
				Help: "Documents handled by workers, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		crawlerSitemapsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_sitemaps_total",
				Help: "Sitemap documents fetched, labeled by site and result.",
			},
			[]string{"site", "result"},
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

		crawlerRobotsTLSHandshakeTimeoutTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_robots_tls_handshake_timeout_total",
				Help: "Total TLS handshake timeouts encountered while fetching robots.txt.",
			},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing an item.",
			},
		)

		crawlerQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_queue_depth",
				Help: "Items waiting in the crawl queue.",
			},
		)

		crawlerRateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_wait_seconds",
				Help:    "Histogram of per-host politeness waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
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

// ObserveFetch records one page fetch. status is the HTTP code or "error".
func ObserveFetch(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveDocument records a worker outcome such as "stored" or "parse_error".
func ObserveDocument(site, outcome string) {
	Init()
	crawlerDocumentsTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveSitemap records a sitemap fetch result ("ok" or "error").
func ObserveSitemap(site, result string) {
	Init()
	crawlerSitemapsTotal.WithLabelValues(SanitizeSite(site), result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRobotsTLSHandshakeTimeout increments the robots handshake timeout counter.
func ObserveRobotsTLSHandshakeTimeout() {
	Init()
	crawlerRobotsTLSHandshakeTimeoutTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// SetQueueDepth publishes the current queue length.
func SetQueueDepth(n int) {
	Init()
	crawlerQueueDepth.Set(float64(n))
}

// ObserveRateLimitWait records the duration of a politeness wait.
func ObserveRateLimitWait(site string, duration time.Duration) {
	Init()
	crawlerRateLimitWaitSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}
