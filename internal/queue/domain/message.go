// Package domain 持久化队列的领域模型：消息、队列类别与队列端口
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/economyengine/pkg/apperr"
)

// Class 队列类别，每类一个消费者
type Class string

const (
	ClassCritical     Class = "critical"
	ClassBusiness     Class = "business"
	ClassNotification Class = "notification"
)

// 消息类型
const (
	TypeAccountCreation  = "account-creation"
	TypeRateUpdate       = "rate-update"
	TypePhonePurchase    = "phone-purchase"
	TypePhoneRecycle     = "phone-recycle"
	TypeEquipmentFailure = "equipment-failure"
	TypeEpochUpdate      = "epoch-update"
	TypeDeliveryRetry    = "delivery-retry"
)

// ClassTypes 每个队列类别可识别的消息类型集合
var ClassTypes = map[Class][]string{
	ClassCritical:     {TypeAccountCreation, TypeRateUpdate},
	ClassBusiness:     {TypePhonePurchase, TypePhoneRecycle},
	ClassNotification: {TypeEquipmentFailure, TypeEpochUpdate, TypeDeliveryRetry},
}

// ErrUnknownMessageType 消息类型不属于该队列
var ErrUnknownMessageType = apperr.New(apperr.CodeUnknownMessageType, "unknown message type")

// Body 消息体，按 Type 分派
type Body struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Message 持久化队列消息
type Message struct {
	ID      string
	Body    Body
	GroupID string
	DedupID string
	// ReceiveCount 队列侧记录的投递次数，进程重启后仍然有效
	ReceiveCount int
	// Delay 发送时的延迟可见时长
	Delay time.Duration
}

// NewMessage 以 JSON 编码负载构造消息
func NewMessage(msgType string, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return &Message{Body: Body{Type: msgType, Payload: raw}}, nil
}

// Decode 解码负载
func (m *Message) Decode(v any) error {
	if err := json.Unmarshal(m.Body.Payload, v); err != nil {
		return apperr.Wrap(apperr.CodeInvalidMessage, "invalid "+m.Body.Type+" payload", err)
	}
	return nil
}

// IsUnknownType 判断错误是否为未知消息类型
func IsUnknownType(err error) bool {
	return errors.Is(err, ErrUnknownMessageType)
}

// Queue 外部持久化队列端口：至少一次投递、可见性超时、组内 FIFO
type Queue interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
	// Receive 最多返回 max 条消息，队列为空时最多等待 wait；max 为 0 时只检查连通性
	Receive(ctx context.Context, max int, wait time.Duration) ([]*Message, error)
	Delete(ctx context.Context, id string) error
}
