package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderCompletedEvent 订单完成事件
type OrderCompletedEvent struct {
	OrderID      string          `json:"order_id"`
	SimulationID string          `json:"simulation_id"`
	CompanyName  string          `json:"company_name"`
	ItemName     string          `json:"item_name"`
	Market       string          `json:"market"`
	Quantity     decimal.Decimal `json:"quantity"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	Currency     string          `json:"currency"`
	OrderDate    string          `json:"order_date"`
	OccurredOn   time.Time       `json:"occurred_on"`
}

// OrderCancelledEvent 订单取消事件
type OrderCancelledEvent struct {
	OrderID      string    `json:"order_id"`
	SimulationID string    `json:"simulation_id"`
	OccurredOn   time.Time `json:"occurred_on"`
}

// EventPublisher 事件发布者接口
type EventPublisher interface {
	// PublishOrderCompleted 发布订单完成事件
	PublishOrderCompleted(ctx context.Context, event OrderCompletedEvent) error
	// PublishOrderCancelled 发布订单取消事件
	PublishOrderCancelled(ctx context.Context, event OrderCancelledEvent) error
}
