package domain

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Collection 订单完成后待提货的记录，每个完成订单恰好一条
type Collection struct {
	OrderID  string `json:"order_id"`
	ItemName string `json:"item_name"`
	// ItemID 售出的库存行 ID，多件时以逗号分隔
	ItemID          string          `json:"item_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	AmountCollected decimal.Decimal `json:"amount_collected"`
	Collected       bool            `json:"collected"`
	CollectionDate  time.Time       `json:"collection_date"`
}

// NewCollection 为已完成订单创建提货记录
func NewCollection(order *Order, itemIDs []string) *Collection {
	return &Collection{
		OrderID:         order.OrderID,
		ItemName:        order.ItemName,
		ItemID:          strings.Join(itemIDs, ","),
		Quantity:        order.Quantity,
		AmountCollected: decimal.Zero,
		CollectionDate:  order.OrderDate,
	}
}

// ItemIDs 拆分库存行 ID
func (c *Collection) ItemIDs() []string {
	if c.ItemID == "" {
		return nil
	}
	return strings.Split(c.ItemID, ",")
}

// CollectionRepository 提货记录仓储接口
type CollectionRepository interface {
	// Create 创建提货记录，同一订单重复创建返回错误
	Create(ctx context.Context, collection *Collection) error
	// GetByOrder 不存在时返回 nil
	GetByOrder(ctx context.Context, orderID string) (*Collection, error)
}
