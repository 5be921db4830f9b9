package middleware

import (
	"log/slog"
	"net/http"
	"print-order-service/pkg/ctxmanage"
	"print-order-service/pkg/logkey"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const TraceHeader = "X-Trace-Id"

// Logger attaches a trace id to the request context and logs each request when it completes.
// An incoming X-Trace-Id header is reused so a caller can follow its own id through the logs.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		traceId := c.GetHeader(TraceHeader)
		if traceId == "" {
			traceId = uuid.NewString()
		}
		c.Request = c.Request.WithContext(ctxmanage.WithTraceId(c.Request.Context(), traceId))
		c.Header(TraceHeader, traceId)

		slog.Info("started", slog.String(logkey.TraceID, traceId),
			slog.String("Method", c.Request.Method), slog.Any("URL Path", c.Request.URL.Path))

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			slog.String(logkey.TraceID, traceId),
			slog.String("Method", c.Request.Method),
			slog.String("URL Path", c.Request.URL.Path),
			slog.Int("Status Code", status),
			slog.Int64("Duration ms", time.Since(start).Milliseconds()),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String(logkey.ERROR, c.Errors.String()))
		}
		if status >= http.StatusInternalServerError {
			slog.Error("completed", attrs...)
			return
		}
		slog.Info("completed", attrs...)
	}
}
