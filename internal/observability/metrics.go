package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation results recorded by Metrics.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the battle server's Prometheus collectors on a private
// registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	notifications     *prometheus.CounterVec
	scenes            *prometheus.GaugeVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors.
//
// Postcondition: Returns a Metrics whose Handler serves every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "battle_operations_total",
				Help: "Battle operations by name and result (ok or the failing error kind).",
			},
			[]string{"op", "result"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "battle_operation_duration_seconds",
				Help:    "Battle operation latency including load and save.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "battle_notifications_total",
				Help: "Battle update notifications by delivery result.",
			},
			[]string{"result"},
		),
		scenes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "battle_scenes",
				Help: "Stored battles by status, sampled by the database health check.",
			},
			[]string{"status"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "battle_http_requests_total",
				Help: "HTTP requests by method, route and status code.",
			},
			[]string{"method", "route", "status_code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "battle_http_request_duration_seconds",
				Help:    "HTTP request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
	m.registry.MustRegister(
		m.operations,
		m.operationDuration,
		m.notifications,
		m.scenes,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveOperation records one battle operation.
func (m *Metrics) ObserveOperation(op, result string, elapsed time.Duration) {
	m.operations.WithLabelValues(op, result).Inc()
	m.operationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveNotification records one notification attempt.
func (m *Metrics) ObserveNotification(result string) {
	m.notifications.WithLabelValues(result).Inc()
}

// SetSceneCounts replaces the stored battle gauge with counts keyed by status.
func (m *Metrics) SetSceneCounts(counts map[string]int) {
	for status, n := range counts {
		m.scenes.WithLabelValues(status).Set(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware instruments gin requests by their route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
