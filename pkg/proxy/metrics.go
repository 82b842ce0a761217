package proxy

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the sidecar host.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	edgesTotal   *prometheus.CounterVec
	routeMisses  prometheus.Counter
	routeReloads *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance with all host metrics registered
// on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "depscope_requests_total",
				Help: "Total number of proxied requests by cluster and status code",
			},
			[]string{"cluster", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "depscope_request_duration_seconds",
				Help:    "Proxied request duration by cluster",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"cluster"},
		),
		edgesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "depscope_edges_total",
				Help: "Dependency edges learned, by publication disposition",
			},
			[]string{"published"},
		),
		routeMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "depscope_route_misses_total",
				Help: "Requests whose authority matched no configured route",
			},
		),
		routeReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "depscope_route_reloads_total",
				Help: "Route table reloads by status",
			},
			[]string{"status"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.edgesTotal,
		m.routeMisses,
		m.routeReloads,
	)

	return m
}

// RecordRequest records one proxied request outcome.
func (m *Metrics) RecordRequest(cluster string, code int, duration time.Duration) {
	if cluster == "" {
		cluster = "unknown"
	}
	m.requestsTotal.WithLabelValues(cluster, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(cluster).Observe(duration.Seconds())
}

// RecordEdge records one learned edge and whether it was published.
func (m *Metrics) RecordEdge(published bool) {
	m.edgesTotal.WithLabelValues(strconv.FormatBool(published)).Inc()
}

// RecordRouteMiss records a request whose authority had no route.
func (m *Metrics) RecordRouteMiss() {
	m.routeMisses.Inc()
}

// RecordRouteReload records a route table reload attempt.
func (m *Metrics) RecordRouteReload(status string) {
	m.routeReloads.WithLabelValues(status).Inc()
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
