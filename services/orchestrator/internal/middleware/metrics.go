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

	PaymentRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_requests_total",
			Help: "Total payment requests",
		},
		[]string{"service"},
	)

	PaymentSuccessTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_success_total",
			Help: "Total successful payments",
		},
		[]string{"service"},
	)

	PaymentFailureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_failure_total",
			Help: "Total failed payments",
		},
		[]string{"service"},
	)

	PaymentE2ESeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "payment_e2e_seconds",
			Help: "Payment end-to-end duration seconds from CREATED to terminal",
		},
		[]string{"service", "terminal_state"},
	)

	DuplicateEventsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplicate_events_skipped_total",
			Help: "Duplicate inbox events skipped",
		},
		[]string{"service", "topic"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		PaymentRequestsTotal,
		PaymentSuccessTotal,
		PaymentFailureTotal,
		PaymentE2ESeconds,
		DuplicateEventsSkippedTotal,
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
