// Package metrics provides Prometheus metrics exporting.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FormidableLabs/trygql/internal/cache"
	"github.com/FormidableLabs/trygql/internal/coalesce"
)

const namespace = "trygql"

// Metrics holds all trygql metrics.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	responseSize     *prometheus.HistogramVec
	upstreamDuration *prometheus.HistogramVec
	upstreamRequests *prometheus.CounterVec
	upstreamErrors   *prometheus.CounterVec

	// Upstream HTTP cache
	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec

	// Resolver cache
	resolverCacheLookups *prometheus.CounterVec
	resolverCacheErrors  *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new metrics instance with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		responseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 7),
			},
			[]string{"method", "route"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_duration_seconds",
				Help:      "Upstream request duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"upstream", "endpoint"},
		),
		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Total number of upstream requests",
			},
			[]string{"upstream", "endpoint", "status"},
		),
		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_errors_total",
				Help:      "Total number of upstream errors",
			},
			[]string{"upstream", "endpoint", "error_type"},
		),
		cacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of upstream response cache hits",
			},
			[]string{"cache_type"},
		),
		cacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of upstream response cache misses",
			},
			[]string{"cache_type"},
		),
		resolverCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolver_cache_lookups_total",
				Help:      "Resolver cache lookups by field and result (hit, miss, coalesced)",
			},
			[]string{"field", "result"},
		),
		resolverCacheErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolver_cache_errors_total",
				Help:      "Resolver cache store and codec failures by field and operation",
			},
			[]string{"field", "op"},
		),
		registry: registry,
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.responseSize,
		m.upstreamDuration,
		m.upstreamRequests,
		m.upstreamErrors,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.resolverCacheLookups,
		m.resolverCacheErrors,
	)

	return m
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordRequest records a request metric.
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration, respSize int64) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
	m.responseSize.WithLabelValues(method, route).Observe(float64(respSize))
}

// RecordUpstreamRequest records an upstream request metric.
func (m *Metrics) RecordUpstreamRequest(upstream, endpoint string, status int, duration time.Duration) {
	m.upstreamRequests.WithLabelValues(upstream, endpoint, strconv.Itoa(status)).Inc()
	m.upstreamDuration.WithLabelValues(upstream, endpoint).Observe(duration.Seconds())
}

// RecordUpstreamError records an upstream error.
func (m *Metrics) RecordUpstreamError(upstream, endpoint, errorType string) {
	m.upstreamErrors.WithLabelValues(upstream, endpoint, errorType).Inc()
}

// RecordCacheHit records an upstream response cache hit.
func (m *Metrics) RecordCacheHit(cacheType string) {
	m.cacheHitsTotal.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records an upstream response cache miss.
func (m *Metrics) RecordCacheMiss(cacheType string) {
	m.cacheMissesTotal.WithLabelValues(cacheType).Inc()
}

// RecordResolverCacheLookup records the outcome of a cached field lookup.
func (m *Metrics) RecordResolverCacheLookup(field, result string) {
	m.resolverCacheLookups.WithLabelValues(field, result).Inc()
}

// RecordResolverCacheError records a resolver cache failure.
func (m *Metrics) RecordResolverCacheError(field, op string) {
	m.resolverCacheErrors.WithLabelValues(field, op).Inc()
}

// RegisterCircuitBreaker exports the state of an upstream's breaker
// (0=closed, 1=open, 2=half-open), read on every scrape.
func (m *Metrics) RegisterCircuitBreaker(upstream string, state func() int) error {
	return m.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "circuit_breaker_state",
			Help:        "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			ConstLabels: prometheus.Labels{"upstream": upstream},
		},
		func() float64 { return float64(state()) },
	))
}

// RegisterStore exports the operation counters of a cache store, read on
// every scrape.
func (m *Metrics) RegisterStore(backend string, store cache.StatsReporter) error {
	ops := []struct {
		op    string
		count func(cache.Stats) uint64
	}{
		{"hit", func(s cache.Stats) uint64 { return s.Hits }},
		{"miss", func(s cache.Stats) uint64 { return s.Misses }},
		{"set", func(s cache.Stats) uint64 { return s.Sets }},
		{"error", func(s cache.Stats) uint64 { return s.Errors }},
	}

	for _, o := range ops {
		count := o.count
		err := m.registry.Register(prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "store_operations_total",
				Help:        "Cache store operations by backend and outcome",
				ConstLabels: prometheus.Labels{"backend": backend, "op": o.op},
			},
			func() float64 { return float64(count(store.GetStats())) },
		))
		if err != nil {
			return fmt.Errorf("registering %s store metrics: %w", backend, err)
		}
	}
	return nil
}

// RegisterCoalescer exports the request and flight counts of a coalescer.
func (m *Metrics) RegisterCoalescer(c *coalesce.Coalescer) error {
	cols := []prometheus.Collector{
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coalesce_requests_total",
				Help:      "Resolver cache misses routed through the coalescer",
			},
			func() float64 { return float64(c.GetMetrics().TotalRequests) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coalesce_shared_total",
				Help:      "Misses that joined an in-flight resolver call",
			},
			func() float64 { return float64(c.GetMetrics().CoalescedRequests) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "coalesce_active_flights",
				Help:      "Resolver calls currently in flight",
			},
			func() float64 { return float64(c.GetMetrics().ActiveFlights) },
		),
	}

	for _, col := range cols {
		if err := m.registry.Register(col); err != nil {
			return fmt.Errorf("registering coalescer metrics: %w", err)
		}
	}
	return nil
}

// Middleware returns an HTTP middleware recording requests under route.
func (m *Metrics) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &metricsResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			m.RecordRequest(r.Method, route, rw.statusCode, time.Since(start), rw.bytesWritten)
		})
	}
}

// metricsResponseWriter wraps http.ResponseWriter to capture metrics.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *metricsResponseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
