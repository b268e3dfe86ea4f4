// Package metrics exposes Prometheus instrumentation for the HTTP layer and
// the user operations behind it.
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

// Outcomes recorded for user operations.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
	OutcomeDenied   = "denied"
	OutcomeError    = "error"
)

// Metrics owns a registry so that independent instances (tests, several
// servers in one process) never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	userOps      *prometheus.CounterVec
}

// New registers the service metrics plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latency of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		userOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "user_operations_total",
			Help: "User operations by kind and outcome",
		}, []string{"op", "outcome"}),
	}
	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.userOps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the metrics live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordUserOp counts one user operation. A nil receiver is a no-op.
func (m *Metrics) RecordUserOp(op, outcome string) {
	if m == nil {
		return
	}
	m.userOps.WithLabelValues(op, outcome).Inc()
}

// Middleware records request counts and latency labelled by route template,
// so ids in query strings or paths do not explode cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if status < http.StatusBadRequest {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			return err
		}
	}
}
