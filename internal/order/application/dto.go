package application

import (
	"github.com/wyfcoding/economyengine/internal/order/domain"
)

// CreateOrderRequest 采购请求
type CreateOrderRequest struct {
	SimulationID string `json:"simulation_id" binding:"required"`
	ItemName     string `json:"item_name" binding:"required"`
	ItemTypeID   string `json:"item_type_id" binding:"required"`
	Quantity     string `json:"quantity" binding:"required"`
}

// PayOrderRequest 支付请求
type PayOrderRequest struct {
	CompanyName string `json:"company_name" binding:"required"`
}

type OrderDTO struct {
	OrderID      string `json:"order_id"`
	SimulationID string `json:"simulation_id"`
	CompanyName  string `json:"company_name,omitempty"`
	ItemName     string `json:"item_name"`
	ItemTypeID   string `json:"item_type_id"`
	Quantity     string `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
	TotalPrice   string `json:"total_price"`
	Currency     string `json:"currency"`
	OrderDate    string `json:"order_date"`
	Status       string `json:"status"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// PayResult 支付结果。CanFulfill 为 false 时订单保持 pending，Available 为当前可售数量
type PayResult struct {
	OrderID        string `json:"order_id"`
	ItemName       string `json:"item_name"`
	Quantity       string `json:"quantity"`
	TotalPrice     string `json:"total_price"`
	Status         string `json:"status"`
	CanFulfill     bool   `json:"can_fulfill"`
	Available      string `json:"available,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
}

type CollectionDTO struct {
	OrderID         string   `json:"order_id"`
	ItemName        string   `json:"item_name"`
	ItemIDs         []string `json:"item_ids"`
	Quantity        string   `json:"quantity"`
	AmountCollected string   `json:"amount_collected"`
	Collected       bool     `json:"collected"`
	CollectionDate  string   `json:"collection_date"`
}

func toOrderDTO(o *domain.Order) *OrderDTO {
	return &OrderDTO{
		OrderID:      o.OrderID,
		SimulationID: o.SimulationID,
		CompanyName:  o.CompanyName,
		ItemName:     o.ItemName,
		ItemTypeID:   o.ItemTypeID,
		Quantity:     o.Quantity.String(),
		UnitPrice:    o.UnitPrice.StringFixed(2),
		TotalPrice:   o.TotalPrice.StringFixed(2),
		Currency:     o.Currency,
		OrderDate:    o.OrderDate.Format("2006-01-02"),
		Status:       string(o.Status),
		CreatedAt:    o.CreatedAt.Unix(),
		UpdatedAt:    o.UpdatedAt.Unix(),
	}
}

func toCollectionDTO(c *domain.Collection) *CollectionDTO {
	return &CollectionDTO{
		OrderID:         c.OrderID,
		ItemName:        c.ItemName,
		ItemIDs:         c.ItemIDs(),
		Quantity:        c.Quantity.String(),
		AmountCollected: c.AmountCollected.StringFixed(2),
		Collected:       c.Collected,
		CollectionDate:  c.CollectionDate.Format("2006-01-02"),
	}
}
