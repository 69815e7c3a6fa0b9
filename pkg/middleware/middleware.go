// Package middleware Gin 通用中间件：访问日志、panic 恢复、限流
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wyfcoding/economyengine/pkg/logger"
	"github.com/wyfcoding/economyengine/pkg/response"
)

const (
	// RequestIDKey gin context 中的 request ID
	RequestIDKey = "request_id"
	// RequestIDHeader 请求与响应头中的 request ID
	RequestIDHeader = "X-Request-ID"
	// TraceIDHeader 上游透传的 trace ID
	TraceIDHeader = "X-Trace-ID"
)

// headerOrNew 读取请求头，缺省时生成新 ID
func headerOrNew(c *gin.Context, header string) string {
	if v := c.GetHeader(header); v != "" && len(v) <= 128 {
		return v
	}
	return uuid.NewString()
}

// GinLoggingMiddleware 访问日志。沿用上游 request/trace ID，按路由模板记录，5xx 记 error，4xx 记 warn
func GinLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := headerOrNew(c, RequestIDHeader)
		traceID := headerOrNew(c, TraceIDHeader)

		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		ctx := logger.ContextWithRequestID(logger.ContextWithTraceID(c.Request.Context(), traceID), requestID)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		attrs := []any{
			"method", c.Request.Method,
			"route", route,
			"status_code", c.Writer.Status(),
			"response_size", c.Writer.Size(),
			"client_ip", c.ClientIP(),
			"duration", time.Since(start),
		}
		if id := c.Param("id"); id != "" {
			attrs = append(attrs, "resource_id", id)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		logAccess(ctx, c.Writer.Status(), attrs)
	}
}

func logAccess(ctx context.Context, status int, attrs []any) {
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error(ctx, "HTTP request failed", attrs...)
	case status >= http.StatusBadRequest:
		logger.Warn(ctx, "HTTP request rejected", attrs...)
	default:
		logger.Info(ctx, "HTTP request completed", attrs...)
	}
}

// GinRecoveryMiddleware panic 恢复，返回统一错误体
func GinRecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error(c.Request.Context(), "HTTP request panicked",
					"route", c.FullPath(),
					"panic", rec,
				)
				response.ErrorWithStatus(c, http.StatusInternalServerError, "internal error", c.GetString(RequestIDKey))
			}
		}()
		c.Next()
	}
}
