package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "route", "method", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "route", "method"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retries_total",
			Help: "Total retry attempts against a downstream dependency",
		},
		[]string{"service", "dependency"},
	)

	DLQPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_published_total",
			Help: "Total events published to a dead-letter topic",
		},
		[]string{"service", "topic", "error_type"},
	)

	DuplicateEventsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplicate_events_skipped_total",
			Help: "Duplicate inbox events skipped",
		},
		[]string{"service", "topic"},
	)

	ProviderCircuitOpenGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "provider_circuit_open",
			Help: "1 if the provider circuit breaker is currently open, else 0",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		RetriesTotal,
		DLQPublishedTotal,
		DuplicateEventsSkippedTotal,
		ProviderCircuitOpenGauge,
	)
}

func MetricsMiddleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(serviceName, path, c.Request.Method, status).Inc()
		httpRequestDuration.WithLabelValues(serviceName, path, c.Request.Method).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
