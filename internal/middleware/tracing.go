package middleware

import (
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nathanyu/order-arbiter/internal/telemetry"
)

var (
	// Pattern to normalize unmatched paths carrying a symbol
	symbolPattern = regexp.MustCompile(`/books/[^/]+`)
)

// normalizePath converts high-cardinality paths to low-cardinality patterns
func normalizePath(path string) string {
	return symbolPattern.ReplaceAllString(path, "/books/{symbol}")
}

// routePath is the matched route pattern, or the normalized request path
// when no route matched.
func routePath(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return normalizePath(c.Request.URL.Path)
}

// Tracing middleware adds OpenTelemetry tracing to requests
func Tracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		if telemetry.Tracer == nil {
			c.Next()
			return
		}

		path := routePath(c)

		ctx, span := telemetry.Tracer.Start(c.Request.Context(), "HTTP "+c.Request.Method+" "+path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", path),
				attribute.String("http.target", c.Request.URL.Path),
				attribute.String("http.host", c.Request.Host),
				attribute.String("http.user_agent", c.Request.UserAgent()),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		statusCode := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.status_code", statusCode),
			attribute.Float64("http.duration_ms", float64(duration.Milliseconds())),
		)

		if statusCode >= 400 {
			span.SetStatus(codes.Error, "HTTP error")
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}
