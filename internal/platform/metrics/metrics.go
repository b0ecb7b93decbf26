// Package metrics exposes the prometheus collectors for HTTP traffic, the
// database pool and domain operations.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder counts domain operations. Services take one and default to Nop.
type Recorder interface {
	Operation(entity, operation string)
}

// Nop discards every operation.
type Nop struct{}

func (Nop) Operation(string, string) {}

// Registry owns the collectors of one process.
type Registry struct {
	reg        *prometheus.Registry
	requests   *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	operations *prometheus.CounterVec
}

// NewRegistry builds a registry with the go and process collectors plus the
// application collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domain_operations_total",
			Help: "Domain service operations by entity and operation.",
		}, []string{"entity", "operation"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.requests, r.durations, r.operations,
	)
	return r
}

// Operation implements Recorder.
func (r *Registry) Operation(entity, operation string) {
	r.operations.WithLabelValues(entity, operation).Inc()
}

// ObserveRequest records one finished HTTP request.
func (r *Registry) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	r.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.durations.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Register adds extra collectors such as the pool collector.
func (r *Registry) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := r.reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the /metrics endpoint.
func (r *Registry) Handler() echo.HandlerFunc {
	h := promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
	return echo.WrapHandler(h)
}

// Middleware records every request against its route template.
func (r *Registry) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			r.ObserveRequest(c.Request().Method, route, status, time.Since(start))
			return err
		}
	}
}
