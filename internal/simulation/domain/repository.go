package domain

import "context"

// ClockRepository 时钟仓储接口，每个模拟一行
type ClockRepository interface {
	// Save 保存或更新时钟
	Save(ctx context.Context, c *Clock) error
	// Get 获取时钟，不存在时返回 nil
	Get(ctx context.Context, simulationID string) (*Clock, error)
	// ListRunning 返回所有运行中的模拟 ID
	ListRunning(ctx context.Context) ([]string, error)
}

// RecyclableGroup 按型号分组的待回收手机
type RecyclableGroup struct {
	Model    string `json:"model"`
	Quantity int64  `json:"quantity"`
}

// RecyclingSnapshot 某一时刻尚未回收的积压；UpToID 为快照覆盖的最大登记 ID
type RecyclingSnapshot struct {
	Groups []RecyclableGroup
	UpToID uint64
}

// Total 快照内手机总数
func (s RecyclingSnapshot) Total() int64 {
	var total int64
	for _, g := range s.Groups {
		total += g.Quantity
	}
	return total
}

// RecyclingBacklog 待回收手机积压
type RecyclingBacklog interface {
	// Add 登记报废手机
	Add(ctx context.Context, simulationID string, group RecyclableGroup) error
	// Recyclable 返回尚未回收的分组积压
	Recyclable(ctx context.Context, simulationID string) (RecyclingSnapshot, error)
	// MarkRecycled 将 ID 不超过 upToID 的未回收登记归入该批次，同一批次重复调用不再生效
	MarkRecycled(ctx context.Context, simulationID string, batchKey string, upToID uint64) (int64, error)
}

// DailyPass 每日推进中运行的外部批处理（设备故障、机会性采购等）
type DailyPass interface {
	Name() string
	Run(ctx context.Context, simulationID string, day int) error
}
