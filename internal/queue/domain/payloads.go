package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateUpdatePayload 市场价格更新
type RateUpdatePayload struct {
	SimulationID string          `json:"simulation_id"`
	Market       string          `json:"market"`
	ItemName     string          `json:"item_name"`
	Price        decimal.Decimal `json:"price"`
}

// EpochUpdatePayload 时钟真实时间基准更新
type EpochUpdatePayload struct {
	SimulationID string    `json:"simulation_id"`
	Epoch        time.Time `json:"epoch"`
}

// PhoneRecyclePayload 回收批次
type PhoneRecyclePayload struct {
	SimulationID  string `json:"simulation_id"`
	SimulatedDate string `json:"simulated_date"`
	TotalQuantity int64  `json:"total_quantity"`
	// UpToID 批次覆盖的最大积压登记 ID
	UpToID uint64 `json:"up_to_id"`
}

// BatchKey 回收批次键
func (p PhoneRecyclePayload) BatchKey() string {
	return "recycle-" + p.SimulationID + "-" + p.SimulatedDate
}

// SimulationDayPayload 每日批处理触发，设备故障与机会性采购共用
type SimulationDayPayload struct {
	SimulationID string `json:"simulation_id"`
	Day          int    `json:"day"`
}
