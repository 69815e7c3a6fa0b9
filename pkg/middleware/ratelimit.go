package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/economyengine/pkg/logger"
	"github.com/wyfcoding/economyengine/pkg/ratelimit"
	"github.com/wyfcoding/economyengine/pkg/response"
)

// KeyFunc 生成限流键
type KeyFunc func(c *gin.Context) string

// ByClientIP 按客户端 IP 限流
func ByClientIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// RateLimitMiddleware GCRA 限流；key 为空时用 ByClientIP。限流器不可用时放行
func RateLimitMiddleware(limiter ratelimit.RateLimiter, limit ratelimit.Limit, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ByClientIP
	}
	return func(c *gin.Context) {
		res, err := limiter.Allow(c.Request.Context(), key(c), limit)
		if err != nil {
			logger.Warn(c.Request.Context(), "rate limiter unavailable, request allowed", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Rate))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(res.ResetAfter/time.Second), 10))
		if res.Allowed {
			c.Next()
			return
		}

		retry := int64(res.RetryAfter.Round(time.Second) / time.Second)
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.FormatInt(retry, 10))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, response.Body{
			Code:    "RATE_LIMITED",
			Message: "too many requests",
		})
	}
}
