// metrics.go - Prometheus collectors for HTTP traffic and logins.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "event_board"

// Metrics groups the server's collectors. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	logins   *prometheus.CounterVec
}

// NewMetrics registers the server collectors on reg. Collectors that are
// already registered are reused.
func NewMetrics(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{gatherer: reg}
	var err error
	if m.requests, err = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})); err != nil {
		return nil, err
	}
	if m.duration, err = registerCollector(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})); err != nil {
		return nil, err
	}
	if m.logins, err = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "auth",
		Name:      "login_attempts_total",
		Help:      "Login attempts by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	return m, nil
}

func registerCollector[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metrics: %w", err)
	}
	return c, nil
}

// RecordLogin counts a login attempt.
func (m *Metrics) RecordLogin(success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.logins.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// middleware records request counts and latency. It must wrap the mux
// directly so the matched pattern is visible after ServeHTTP returns.
func (m *Metrics) middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
