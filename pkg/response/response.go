// Package response 统一的 HTTP JSON 响应结构
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/economyengine/pkg/apperr"
	"github.com/wyfcoding/economyengine/pkg/logger"
)

// Body 响应体
type Body struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Success 200 成功响应
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Body{Code: "OK", Message: "success", Data: data})
}

// Created 201 创建成功
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Body{Code: "OK", Message: "created", Data: data})
}

// ErrorWithStatus 指定状态码的错误响应
func ErrorWithStatus(c *gin.Context, status int, message, detail string) {
	c.AbortWithStatusJSON(status, Body{Code: http.StatusText(status), Message: message, Detail: detail})
}

// Error 按错误类别映射状态码，非领域错误不向客户端暴露细节
func Error(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	code := apperr.CodeOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "code", code, "error", err)
	}
	if code == apperr.CodeUnknown {
		c.AbortWithStatusJSON(status, Body{Code: string(apperr.CodeInternal), Message: "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, Body{Code: string(code), Message: err.Error()})
}
