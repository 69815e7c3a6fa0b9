// Package apperr 提供封闭的领域错误分类，调用方按错误类别分派而不是匹配错误字符串
package apperr

import (
	"errors"
	"net/http"
)

// Kind 错误类别
type Kind string

const (
	KindNotFound              Kind = "NOT_FOUND"
	KindInvalidState          Kind = "INVALID_STATE"
	KindInsufficientInventory Kind = "INSUFFICIENT_INVENTORY"
	KindValidation            Kind = "VALIDATION"
	KindExternalService       Kind = "EXTERNAL_SERVICE"
	KindFatalInvariant        Kind = "FATAL_INVARIANT"
	KindInternal              Kind = "INTERNAL"
)

// Code 机器可读的错误码
type Code string

const (
	CodeUnknown  Code = "UNKNOWN"
	CodeInternal Code = "INTERNAL"

	// 时钟
	CodeClockNotFound       Code = "CLOCK_NOT_FOUND"
	CodeClockNotRunning     Code = "CLOCK_NOT_RUNNING"
	CodeClockAlreadyStarted Code = "CLOCK_ALREADY_STARTED"

	// 市场
	CodeMarketNotFound        Code = "MARKET_NOT_FOUND"
	CodeItemNotFound          Code = "ITEM_NOT_FOUND"
	CodeInsufficientInventory Code = "INSUFFICIENT_INVENTORY"
	CodeInvalidPrice          Code = "INVALID_PRICE"
	CodeInvalidQuantity       Code = "INVALID_QUANTITY"
	CodeDriftAlreadyApplied   Code = "DRIFT_ALREADY_APPLIED"
	CodeDriftInvariant        Code = "DRIFT_INVARIANT_VIOLATED"

	// 订单
	CodeOrderNotFound     Code = "ORDER_NOT_FOUND"
	CodeAlreadyFinalized  Code = "ORDER_ALREADY_FINALIZED"
	CodeUnknownItemType   Code = "UNKNOWN_ITEM_TYPE"
	CodeInvalidOrderInput Code = "INVALID_ORDER_INPUT"

	// 编排
	CodePreconditionFailed Code = "PRECONDITION_FAILED"
	CodeSimulationExists   Code = "SIMULATION_EXISTS"
	CodeInvalidInput       Code = "INVALID_INPUT"

	// 外部依赖
	CodeNotificationFailed Code = "NOTIFICATION_FAILED"
	CodeUnknownMessageType Code = "UNKNOWN_MESSAGE_TYPE"
	CodeInvalidMessage     Code = "INVALID_MESSAGE"
)

// Kind 将错误码映射到错误类别
func (c Code) Kind() Kind {
	switch c {
	case CodeClockNotFound, CodeMarketNotFound, CodeItemNotFound,
		CodeOrderNotFound, CodePreconditionFailed:
		return KindNotFound
	case CodeClockNotRunning, CodeClockAlreadyStarted, CodeAlreadyFinalized,
		CodeDriftAlreadyApplied, CodeSimulationExists:
		return KindInvalidState
	case CodeInsufficientInventory:
		return KindInsufficientInventory
	case CodeInvalidPrice, CodeInvalidQuantity, CodeUnknownItemType,
		CodeInvalidOrderInput, CodeInvalidInput, CodeUnknownMessageType, CodeInvalidMessage:
		return KindValidation
	case CodeNotificationFailed:
		return KindExternalService
	case CodeDriftInvariant:
		return KindFatalInvariant
	default:
		return KindInternal
	}
}

// Error 带结构化元数据的领域错误
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Kind 错误类别
func (e *Error) Kind() Kind {
	return e.Code.Kind()
}

// New 创建领域错误
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithMetadata 创建带元数据的领域错误
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap 包装底层错误
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf 返回错误链上第一个领域错误的错误码
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// KindOf 返回错误类别；非领域错误归为 Internal
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return CodeOf(err).Kind()
}

// IsKind 判断错误是否属于某类别
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus 将错误类别映射为 HTTP 状态码
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindInsufficientInventory:
		return http.StatusUnprocessableEntity
	case KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
