// Package metrics exposes Prometheus collectors for the acquisition pipeline,
// page dispatch, and the HTTP server.
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

// Fetch and dispatch result labels.
const (
	ResultOK        = "ok"
	ResultTransport = "transport_error"
	ResultParse     = "parse_error"
	ResultNotFound  = "not_found"
	ResultUnknown   = "unknown_service"
	ResultCorrupt   = "corrupt"
	ResultError     = "error"
)

var (
	fetchTotal                 *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	tasksInFlight              prometheus.Gauge
	dispatchTotal              *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call multiple times; every Observe helper calls it.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neuronav_fetch_total",
				Help: "Neuron page fetches, labeled by result.",
			},
			[]string{"result"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "neuronav_fetch_duration_seconds",
				Help:    "Histogram of neuron page fetch latencies, labeled by result.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"result"},
		)

		tasksInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "neuronav_tasks_in_flight",
				Help: "Number of scrape tasks currently running.",
			},
		)

		dispatchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neuronav_dispatch_total",
				Help: "Page lookups served by provider dispatch, labeled by provider and result.",
			},
			[]string{"provider", "result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neuronav_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "neuronav_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one page fetch.
func ObserveFetch(result string, duration time.Duration) {
	Init()
	fetchTotal.WithLabelValues(result).Inc()
	fetchDurationSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// IncTasksInFlight increments the in-flight task gauge.
func IncTasksInFlight() {
	Init()
	tasksInFlight.Inc()
}

// DecTasksInFlight decrements the in-flight task gauge.
func DecTasksInFlight() {
	Init()
	tasksInFlight.Dec()
}

// ObserveDispatch records one dispatch lookup.
func ObserveDispatch(provider, result string) {
	Init()
	dispatchTotal.WithLabelValues(provider, result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
