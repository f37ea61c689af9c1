package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	topologyMutations   *prometheus.CounterVec
	topologyItems       prometheus.Gauge
	normalizations      prometheus.Counter
	fetchDuration       *prometheus.HistogramVec
	fetchFailures       *prometheus.CounterVec
	cacheLookups        *prometheus.CounterVec
	statusRunsTotal     prometheus.Counter
	statusRunDuration   prometheus.Histogram
}

// New creates a fresh Metrics registry with HTTP, topology and status metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ftth",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by core-go",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ftth",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by core-go",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	topologyMutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ftth",
		Name:      "topology_mutations_total",
		Help:      "Committed topology changes by operation and outcome",
	}, []string{"op", "result"})

	topologyItems := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ftth",
		Name:      "topology_items",
		Help:      "Items in the last committed topology snapshot",
	})

	normalizations := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ftth",
		Name:      "config_corrections_total",
		Help:      "Item config fields replaced by defaults during normalisation",
	})

	fetchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ftth",
		Name:      "status_fetch_duration_seconds",
		Help:      "Duration of batched telemetry and probe fetches",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
	}, []string{"source"})

	fetchFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ftth",
		Name:      "status_fetch_failures_total",
		Help:      "Batched status fetches that failed or timed out",
	}, []string{"source"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ftth",
		Name:      "cache_lookups_total",
		Help:      "Aggregator cache lookups by result",
	}, []string{"result"})

	statusRunsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ftth",
		Name:      "status_runs_total",
		Help:      "Total number of status refresh runs processed",
	})

	statusRunDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ftth",
		Name:      "status_run_duration_seconds",
		Help:      "Duration of status refresh runs from start to finish",
		Buckets:   []float64{0.1, 0.5, 1, 3, 5, 10, 30, 60},
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		topologyMutations,
		topologyItems,
		normalizations,
		fetchDuration,
		fetchFailures,
		cacheLookups,
		statusRunsTotal,
		statusRunDuration,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		topologyMutations:   topologyMutations,
		topologyItems:       topologyItems,
		normalizations:      normalizations,
		fetchDuration:       fetchDuration,
		fetchFailures:       fetchFailures,
		cacheLookups:        cacheLookups,
		statusRunsTotal:     statusRunsTotal,
		statusRunDuration:   statusRunDuration,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveMutation counts one add/edit/delete/connection change.
func (m *Metrics) ObserveMutation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.topologyMutations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) SetTopologyItems(n int) {
	if m == nil {
		return
	}
	m.topologyItems.Set(float64(n))
}

func (m *Metrics) AddCorrections(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.normalizations.Add(float64(n))
}

// ObserveFetch records one batched call to a status source ("telemetry" or "netwatch").
func (m *Metrics) ObserveFetch(source string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(source).Observe(duration.Seconds())
	if err != nil {
		m.fetchFailures.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// IncStatusRun increments the status run counter.
func (m *Metrics) IncStatusRun() {
	if m == nil {
		return
	}
	m.statusRunsTotal.Inc()
}

// ObserveStatusRunDuration observes a status run duration.
func (m *Metrics) ObserveStatusRunDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.statusRunDuration.Observe(duration.Seconds())
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
