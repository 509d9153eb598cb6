package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nathanyu/order-arbiter/internal/telemetry"
)

// Metrics middleware collects Prometheus metrics for requests
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := routePath(c)

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()

		telemetry.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
		).Observe(duration.Seconds())
	}
}
