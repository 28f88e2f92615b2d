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

	SettlementsPostedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlements_posted_total",
			Help: "Total settlement transactions posted",
		},
		[]string{"service"},
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
		SettlementsPostedTotal,
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
