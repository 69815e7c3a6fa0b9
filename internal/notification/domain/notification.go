// Package domain 外部通知的领域模型
package domain

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/economyengine/pkg/apperr"
)

// 通知类型
const (
	TypeDelivery = "delivery"
)

// Delivery 设备与车辆订单完成后发往物流系统的交付通知
type Delivery struct {
	NotificationID string          `json:"notification_id"`
	OrderID        string          `json:"order_id"`
	SimulationID   string          `json:"simulation_id"`
	CompanyName    string          `json:"company_name"`
	ItemName       string          `json:"item_name"`
	Market         string          `json:"market"`
	Quantity       decimal.Decimal `json:"quantity"`
	ItemIDs        []string        `json:"item_ids"`
	Weight         decimal.Decimal `json:"weight"`
	OperatingCost  decimal.Decimal `json:"operating_cost"`
	OrderDate      string          `json:"order_date"`
}

// DeliveryNotifier 交付通知发送接口
type DeliveryNotifier interface {
	NotifyDelivery(ctx context.Context, delivery Delivery) error
}

// ExternalServiceError 外部通知失败，由重试队列恢复，不向订单调用方暴露
func ExternalServiceError(notificationType, target string, cause error) error {
	e := apperr.Wrap(apperr.CodeNotificationFailed, notificationType+" notification failed", cause)
	e.Metadata = map[string]string{"target": target}
	return e
}
