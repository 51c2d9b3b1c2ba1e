package handler

import (
	"strconv"
	"time"

	"github.com/LightHostingFree/sslgen/internal/certerr"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sslgenRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslgen_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	sslgenRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sslgen_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	sslgenIssuanceFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslgen_issuance_failures_total",
		Help: "Failed issuance attempts by error kind.",
	}, []string{"kind"})

	sslgenDNSRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslgen_dns_retries_total",
		Help: "Retried validation-zone API calls by operation.",
	}, []string{"op"})

	sslgenRemindersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslgen_reminders_sent_total",
		Help: "Expiry reminder deliveries by success status.",
	}, []string{"status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		sslgenRequestsTotal.WithLabelValues(method, path, status).Inc()
		sslgenRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordIssuanceFailure counts a failed issuance attempt.
func RecordIssuanceFailure(kind certerr.Kind) {
	sslgenIssuanceFailuresTotal.WithLabelValues(string(kind)).Inc()
}

// RecordDNSRetry counts one retried validation-zone call.
func RecordDNSRetry(op string, _ int, _ time.Duration, _ error) {
	sslgenDNSRetriesTotal.WithLabelValues(op).Inc()
}

// RecordReminder records a reminder delivery attempt.
func RecordReminder(success bool) {
	if success {
		sslgenRemindersTotal.WithLabelValues("success").Inc()
	} else {
		sslgenRemindersTotal.WithLabelValues("failure").Inc()
	}
}
