package application

import (
	"context"

	"github.com/wyfcoding/economyengine/internal/order/domain"
)

// OrderQuery 处理订单相关的读取操作
type OrderQuery struct {
	repo        domain.OrderRepository
	collections domain.CollectionRepository
}

func NewOrderQuery(repo domain.OrderRepository, collections domain.CollectionRepository) *OrderQuery {
	return &OrderQuery{repo: repo, collections: collections}
}

// GetOrder 获取订单详情
func (q *OrderQuery) GetOrder(ctx context.Context, orderID string) (*OrderDTO, error) {
	order, err := q.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.OrderNotFoundError(orderID)
	}
	return toOrderDTO(order), nil
}

// ListOrders 分页获取模拟运行的订单
func (q *OrderQuery) ListOrders(ctx context.Context, simulationID string, status domain.OrderStatus, limit, offset int) ([]*OrderDTO, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	orders, total, err := q.repo.ListBySimulation(ctx, simulationID, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	dtos := make([]*OrderDTO, len(orders))
	for i, o := range orders {
		dtos[i] = toOrderDTO(o)
	}
	return dtos, total, nil
}

// GetCollection 获取已完成订单的提货记录
func (q *OrderQuery) GetCollection(ctx context.Context, orderID string) (*CollectionDTO, error) {
	c, err := q.collections.GetByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, domain.OrderNotFoundError(orderID)
	}
	return toCollectionDTO(c), nil
}
