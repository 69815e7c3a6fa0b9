// Package domain 包含采购订单的领域模型
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/economyengine/pkg/apperr"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order 订单实体
// 公司向某个市场发起的一笔采购
type Order struct {
	// 订单 ID
	OrderID string `json:"order_id"`
	// 所属模拟运行
	SimulationID string `json:"simulation_id"`
	// 付款公司，在支付时确定
	CompanyName string `json:"company_name"`
	// 商品名称
	ItemName string `json:"item_name"`
	// 商品类型 ID，用于确定市场类别
	ItemTypeID string `json:"item_type_id"`
	// 数量
	Quantity decimal.Decimal `json:"quantity"`
	// 下单时的单价
	UnitPrice decimal.Decimal `json:"unit_price"`
	// 总价
	TotalPrice decimal.Decimal `json:"total_price"`
	// 币种
	Currency string `json:"currency"`
	// 模拟日期
	OrderDate time.Time `json:"order_date"`
	// 订单状态
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// NewOrder 创建待支付订单
func NewOrder(orderID, simulationID, itemName, itemTypeID string, quantity, unitPrice decimal.Decimal, currency string, orderDate time.Time) *Order {
	return &Order{
		OrderID:      orderID,
		SimulationID: simulationID,
		ItemName:     itemName,
		ItemTypeID:   itemTypeID,
		Quantity:     quantity,
		UnitPrice:    unitPrice,
		TotalPrice:   unitPrice.Mul(quantity).Round(2),
		Currency:     currency,
		OrderDate:    orderDate,
		Status:       OrderStatusPending,
	}
}

// IsFinal 终态订单不可再变更
func (o *Order) IsFinal() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusCancelled
}

// Complete pending -> completed
func (o *Order) Complete(companyName string) error {
	if o.IsFinal() {
		return AlreadyFinalizedError(o.OrderID, o.Status)
	}
	o.CompanyName = companyName
	o.Status = OrderStatusCompleted
	return nil
}

// Cancel pending -> cancelled
func (o *Order) Cancel() error {
	if o.IsFinal() {
		return AlreadyFinalizedError(o.OrderID, o.Status)
	}
	o.Status = OrderStatusCancelled
	return nil
}

// Clone 返回订单副本
func (o *Order) Clone() *Order {
	cp := *o
	return &cp
}

// OrderNotFoundError 订单不存在
func OrderNotFoundError(orderID string) error {
	return apperr.WithMetadata(apperr.CodeOrderNotFound, "order not found",
		map[string]string{"order_id": orderID})
}

// AlreadyFinalizedError 订单已处于终态
func AlreadyFinalizedError(orderID string, status OrderStatus) error {
	return apperr.WithMetadata(apperr.CodeAlreadyFinalized, "order is already "+string(status),
		map[string]string{"order_id": orderID, "status": string(status)})
}

// OrderRepository 订单仓储接口
type OrderRepository interface {
	// Save 保存或更新订单
	Save(ctx context.Context, order *Order) error
	// Get 根据订单 ID 获取订单，不存在时返回 nil
	Get(ctx context.Context, orderID string) (*Order, error)
	// ListBySimulation 分页获取模拟运行的订单，status 为空时不过滤
	ListBySimulation(ctx context.Context, simulationID string, status OrderStatus, limit, offset int) ([]*Order, int64, error)
}
