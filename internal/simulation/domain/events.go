package domain

import (
	"context"
	"time"
)

// DayAdvancedEvent 模拟日推进事件
type DayAdvancedEvent struct {
	SimulationID  string    `json:"simulation_id"`
	Day           int       `json:"day"`
	SimulatedDate string    `json:"simulated_date"`
	Recycled      bool      `json:"recycled"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// SimulationStoppedEvent 模拟结束事件
type SimulationStoppedEvent struct {
	SimulationID string    `json:"simulation_id"`
	FinalDay     int       `json:"final_day"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// RecycleBatch 发往业务队列的回收批次
type RecycleBatch struct {
	SimulationID  string            `json:"simulation_id"`
	SimulatedDate string            `json:"simulated_date"`
	TotalQuantity int64             `json:"total_quantity"`
	Groups        []RecyclableGroup `json:"groups"`
	// UpToID 批次覆盖的最大积压登记 ID，之后登记的手机留给下一批
	UpToID uint64 `json:"up_to_id"`
}

// DedupKey 同一模拟日的重复入队在下游只计一次
func (b RecycleBatch) DedupKey() string {
	return "recycle-" + b.SimulationID + "-" + b.SimulatedDate
}

// EventPublisher 模拟事件发布接口
type EventPublisher interface {
	PublishDayAdvanced(ctx context.Context, event DayAdvancedEvent) error
	PublishSimulationStopped(ctx context.Context, event SimulationStoppedEvent) error
}

// RecycleScheduler 回收批次入队接口
type RecycleScheduler interface {
	ScheduleRecycle(ctx context.Context, batch RecycleBatch) error
}
