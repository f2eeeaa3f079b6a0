// Package metrics exposes Prometheus collectors for the page pool service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	pageViewsTotal             *prometheus.CounterVec
	backendCallsTotal          *prometheus.CounterVec
	backendCallSeconds         prometheus.Histogram

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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)

		pageViewsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagepool_page_views_total",
				Help: "Total recorded page views, labeled by host.",
			},
			[]string{"host"},
		)

		backendCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagepool_backend_calls_total",
				Help: "Chat backend calls, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		backendCallSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagepool_backend_call_seconds",
				Help:    "Chat backend call latency.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
			},
		)
	})
}

// SanitizeHost lowercases a hostname and strips any port.
// It returns "unknown" for empty input.
func SanitizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	if host == "" {
		return "unknown"
	}
	return host
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObservePageView increments the view counter for a host.
func ObservePageView(host string) {
	pageViewsTotal.WithLabelValues(SanitizeHost(host)).Inc()
}

// ObserveBackendCall records one chat backend call.
func ObserveBackendCall(outcome string, duration time.Duration) {
	backendCallsTotal.WithLabelValues(outcome).Inc()
	backendCallSeconds.Observe(duration.Seconds())
}
