package application

import (
	"context"

	"github.com/wyfcoding/economyengine/internal/order/domain"
)

// OrderService 订单服务门面，整合命令和查询服务
type OrderService struct {
	Command *OrderManager
	Query   *OrderQuery
}

// NewOrderService 构造函数
func NewOrderService(command *OrderManager, query *OrderQuery) *OrderService {
	return &OrderService{Command: command, Query: query}
}

// --- Command (Writes) ---

// CreateOrder 创建采购订单
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderDTO, error) {
	return s.Command.CreateOrder(ctx, req)
}

// PayOrder 支付订单
func (s *OrderService) PayOrder(ctx context.Context, orderID, companyName string) (*PayResult, error) {
	return s.Command.PayOrder(ctx, orderID, companyName)
}

// CancelOrder 取消订单
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (*OrderDTO, error) {
	return s.Command.CancelOrder(ctx, orderID)
}

// --- Query (Reads) ---

// GetOrder 获取订单详情
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*OrderDTO, error) {
	return s.Query.GetOrder(ctx, orderID)
}

// ListOrders 获取订单列表
func (s *OrderService) ListOrders(ctx context.Context, simulationID string, status domain.OrderStatus, limit, offset int) ([]*OrderDTO, int64, error) {
	return s.Query.ListOrders(ctx, simulationID, status, limit, offset)
}

// GetCollection 获取提货记录
func (s *OrderService) GetCollection(ctx context.Context, orderID string) (*CollectionDTO, error) {
	return s.Query.GetCollection(ctx, orderID)
}
