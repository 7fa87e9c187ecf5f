// Package metrics exposes the application's prometheus instruments.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics instruments the gin request path.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repairlane_http_requests_total",
			Help: "HTTP requests by method, route, and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repairlane_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repairlane_http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.inflight)
	return m
}

// GinMiddleware records request counts, latency, and in-flight gauge. The
// route template is used as the label, not the raw path, to keep cardinality
// bounded.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		m.inflight.Inc()
		c.Next()
		m.inflight.Dec()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		m.requests.WithLabelValues(method, route, status).Inc()
		m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// SessionMetrics counts auth actions and profile reconciliation outcomes.
type SessionMetrics struct {
	authAttempts   *prometheus.CounterVec
	profileFetches *prometheus.CounterVec
}

func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repairlane_auth_attempts_total",
			Help: "Login, register, and logout attempts by outcome.",
		}, []string{"action", "outcome"}),
		profileFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repairlane_profile_fetches_total",
			Help: "Profile reconciliation outcomes.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.authAttempts, m.profileFetches)
	return m
}

func (m *SessionMetrics) RecordAuth(action string, success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.authAttempts.WithLabelValues(action, outcome).Inc()
}

func (m *SessionMetrics) RecordProfileFetch(outcome string) {
	if m == nil {
		return
	}
	m.profileFetches.WithLabelValues(outcome).Inc()
}
