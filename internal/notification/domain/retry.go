package domain

import (
	"context"
	"encoding/json"
)

// NotifyFunc 一次外部调用，返回 nil 表示成功
type NotifyFunc func(ctx context.Context, payload json.RawMessage) error

// RetryJob 失败的外部调用，等待重试。只存在于内存中
type RetryJob struct {
	Type    string
	Payload json.RawMessage
	// Attempt 已由重试队列发起的调用次数
	Attempt     int
	MaxAttempts int
	Notify      NotifyFunc
}
