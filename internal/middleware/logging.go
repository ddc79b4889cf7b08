package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RequestLogger logs one line per request with its latency and outcome.
func RequestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			traceID := ""
			if span := trace.SpanFromContext(req.Context()); span.SpanContext().IsValid() {
				traceID = span.SpanContext().TraceID().String()
			}
			fields := []zap.Field{
				zap.String("trace_id", traceID),
				zap.Int("status", c.Response().Status),
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.String("route", c.Path()),
				zap.String("ip", c.RealIP()),
				zap.String("user", currentUserID(c)),
				zap.Duration("latency", time.Since(start)),
				zap.String("user-agent", req.UserAgent()),
			}
			if c.Response().Status >= 500 {
				logger.Error("HTTP Request", fields...)
			} else {
				logger.Info("HTTP Request", fields...)
			}
			return nil
		}
	}
}
