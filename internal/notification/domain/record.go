package domain

import (
	"context"
	"time"
)

// RecordStatus 通知记录状态
type RecordStatus string

const (
	RecordPending   RecordStatus = "PENDING"
	RecordSent      RecordStatus = "SENT"
	RecordFailed    RecordStatus = "FAILED"
	RecordExhausted RecordStatus = "EXHAUSTED"
)

// Record 外部通知的投递记录
type Record struct {
	NotificationID string
	OrderID        string
	Type           string
	Target         string
	// Payload 通知内容 (JSON)
	Payload      string
	Status       RecordStatus
	Attempts     int
	ErrorMessage string
	SentAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MarkSent 标记投递成功
func (r *Record) MarkSent(at time.Time) {
	r.Attempts++
	r.Status = RecordSent
	r.ErrorMessage = ""
	r.SentAt = &at
}

// MarkFailed 标记一次投递失败
func (r *Record) MarkFailed(err error) {
	r.Attempts++
	r.Status = RecordFailed
	if err != nil {
		r.ErrorMessage = err.Error()
	}
}

// MarkExhausted 进程内重试耗尽
func (r *Record) MarkExhausted() {
	r.Status = RecordExhausted
}

// RecordRepository 通知记录仓储接口
type RecordRepository interface {
	// Save 保存或更新通知记录
	Save(ctx context.Context, record *Record) error
	// Get 根据通知 ID 获取记录，不存在时返回 nil
	Get(ctx context.Context, notificationID string) (*Record, error)
	// ListByOrder 获取某订单的全部通知记录
	ListByOrder(ctx context.Context, orderID string) ([]*Record, error)
}
