package domain

import "context"

// MarketRepository 市场仓储接口
type MarketRepository interface {
	// Save 保存市场头信息及被修改的库存行
	Save(ctx context.Context, m *Market) error
	// Get 加载市场，不存在时返回 nil
	Get(ctx context.Context, simulationID string, kind Kind) (*Market, error)
}
