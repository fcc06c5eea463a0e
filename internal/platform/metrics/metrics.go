// Package metrics wires prometheus instrumentation for the HTTP surface
// and a few domain counters the admin endpoints report on.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the collectors so tests can build isolated ones.
type Registry struct {
	reg *prometheus.Registry

	inFlight        prometheus.Gauge
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	LoginsTotal       *prometheus.CounterVec
	AuthzDecisions    *prometheus.CounterVec
	AuditEntriesTotal prometheus.Counter
	SessionsActive    prometheus.Gauge
}

// New builds a registry with all portal collectors registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_logins_total",
				Help: "Login attempts by outcome.",
			},
			[]string{"outcome"},
		),
		AuthzDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_authz_decisions_total",
				Help: "Authorization decisions by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		AuditEntriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_audit_entries_total",
			Help: "Audit entries appended.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portal_sessions_active",
			Help: "Sessions issued minus sessions revoked this process.",
		}),
	}
	r.reg.MustRegister(
		r.inFlight, r.requestsTotal, r.requestDuration,
		r.LoginsTotal, r.AuthzDecisions, r.AuditEntriesTotal, r.SessionsActive,
	)
	return r
}

// Middleware observes every request: count, latency, in-flight.
// The route template is used as the path label to bound cardinality.
func (r *Registry) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r.inFlight.Inc()
			start := time.Now()

			err := next(c)

			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			status := strconv.Itoa(c.Response().Status)
			method := c.Request().Method

			r.requestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
			r.requestsTotal.WithLabelValues(method, path, status).Inc()
			r.inFlight.Dec()

			return err
		}
	}
}

// Handler serves the exposition endpoint from this registry only.
func (r *Registry) Handler() echo.HandlerFunc {
	h := promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
	return func(c echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}

