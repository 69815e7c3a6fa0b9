// Package application 订单的命令与查询服务
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	market "github.com/wyfcoding/economyengine/internal/market/domain"
	notification "github.com/wyfcoding/economyengine/internal/notification/domain"
	"github.com/wyfcoding/economyengine/internal/order/domain"
	simulation "github.com/wyfcoding/economyengine/internal/simulation/domain"
	"github.com/wyfcoding/economyengine/pkg/apperr"
	"github.com/wyfcoding/economyengine/pkg/idgen"
	"github.com/wyfcoding/economyengine/pkg/logger"
	"github.com/wyfcoding/economyengine/pkg/metrics"
)

// Transactor 在单个数据库事务内执行 fn，*db.TxManager 满足该接口
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DeliveryDispatcher 投递交付通知，失败自行重试，不向调用方返回错误
type DeliveryDispatcher interface {
	Dispatch(ctx context.Context, delivery notification.Delivery) string
}

// OrderManager 处理所有订单相关的写入操作（Commands）。
type OrderManager struct {
	repo        domain.OrderRepository
	collections domain.CollectionRepository
	markets     market.MarketRepository
	sessions    simulation.Sessions
	classifier  *domain.ItemClassifier
	tx          Transactor
	deliveries  DeliveryDispatcher
	publisher   domain.EventPublisher
	metrics     *metrics.Metrics
	currency    string
	logger      *slog.Logger
}

// NewOrderManager 构造函数。
func NewOrderManager(repo domain.OrderRepository, collections domain.CollectionRepository, markets market.MarketRepository,
	sessions simulation.Sessions, classifier *domain.ItemClassifier, tx Transactor, logger *slog.Logger,
) *OrderManager {
	return &OrderManager{
		repo:        repo,
		collections: collections,
		markets:     markets,
		sessions:    sessions,
		classifier:  classifier,
		tx:          tx,
		currency:    "ZAR",
		logger:      logger.With("module", "order_manager"),
	}
}

func (m *OrderManager) SetDeliveryDispatcher(d DeliveryDispatcher) {
	m.deliveries = d
}

func (m *OrderManager) SetEventPublisher(p domain.EventPublisher) {
	m.publisher = p
}

func (m *OrderManager) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

func (m *OrderManager) SetCurrency(currency string) {
	if currency != "" {
		m.currency = currency
	}
}

// CreateOrder 按市场当前单价创建待支付订单
func (m *OrderManager) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderDTO, error) {
	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil || !quantity.IsPositive() {
		return nil, apperr.WithMetadata(apperr.CodeInvalidOrderInput, "quantity must be a positive number",
			map[string]string{"quantity": req.Quantity})
	}
	if req.SimulationID == "" || req.ItemName == "" {
		return nil, apperr.New(apperr.CodeInvalidOrderInput, "simulation_id and item_name are required")
	}

	kind, err := m.classify(ctx, req.ItemTypeID)
	if err != nil {
		return nil, err
	}

	session, err := m.sessions.Get(ctx, req.SimulationID)
	if err != nil {
		return nil, err
	}
	session.Lock()
	defer session.Unlock()

	clock := session.Clock()
	if !clock.IsRunning() {
		return nil, simulation.NotRunningError(clock.SimulationID, clock.Status)
	}
	mk, err := session.Market(kind)
	if err != nil {
		return nil, err
	}
	unitPrice, err := mk.UnitCost(req.ItemName)
	if err != nil {
		return nil, err
	}

	order := domain.NewOrder(fmt.Sprintf("ORD-%d", idgen.GenID()), req.SimulationID, req.ItemName, req.ItemTypeID,
		quantity, unitPrice, m.currency, clock.CurrentSimulatedDate())
	if err := m.repo.Save(ctx, order); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "order created", "order_id", order.OrderID, "item", order.ItemName, "market", kind)
	return toOrderDTO(order), nil
}

// fulfilment 会话锁内完成的履约结果
type fulfilment struct {
	order   *domain.Order
	kind    market.Kind
	itemIDs []string
	lines   []market.InventoryLine
	short   *market.InsufficientInventoryError
}

// PayOrder 预留库存并完成订单。库存不足时返回 CanFulfill=false 且订单保持 pending
func (m *OrderManager) PayOrder(ctx context.Context, orderID, companyName string) (*PayResult, error) {
	defer logger.LogDuration(ctx, "pay order completed", "order_id", orderID)()

	order, err := m.loadPending(ctx, orderID)
	if err != nil {
		return nil, err
	}

	res, err := m.fulfil(ctx, order.SimulationID, orderID, companyName)
	if err != nil {
		return nil, err
	}

	if res.short != nil {
		m.metrics.OrderUnfulfilled(string(res.kind))
		m.logger.InfoContext(ctx, "order cannot be fulfilled yet", "order_id", orderID,
			"requested", res.short.Requested.String(), "available", res.short.Available.String())
		return &PayResult{
			OrderID:    res.order.OrderID,
			ItemName:   res.order.ItemName,
			Quantity:   res.order.Quantity.String(),
			TotalPrice: res.order.TotalPrice.StringFixed(2),
			Status:     string(res.order.Status),
			CanFulfill: false,
			Available:  res.short.Available.String(),
		}, nil
	}

	completed := res.order
	m.metrics.OrderCompleted(string(res.kind))
	m.logger.InfoContext(ctx, "order completed", "order_id", completed.OrderID, "company", companyName, "market", res.kind)

	result := &PayResult{
		OrderID:    completed.OrderID,
		ItemName:   completed.ItemName,
		Quantity:   completed.Quantity.String(),
		TotalPrice: completed.TotalPrice.StringFixed(2),
		Status:     string(completed.Status),
		CanFulfill: true,
	}

	if res.kind.Discrete() && m.deliveries != nil {
		result.NotificationID = m.deliveries.Dispatch(ctx, deliveryFor(completed, res.kind, res.lines))
	}

	if m.publisher != nil {
		event := domain.OrderCompletedEvent{
			OrderID:      completed.OrderID,
			SimulationID: completed.SimulationID,
			CompanyName:  completed.CompanyName,
			ItemName:     completed.ItemName,
			Market:       string(res.kind),
			Quantity:     completed.Quantity,
			TotalPrice:   completed.TotalPrice,
			Currency:     completed.Currency,
			OrderDate:    completed.OrderDate.Format("2006-01-02"),
			OccurredOn:   time.Now(),
		}
		if err := m.publisher.PublishOrderCompleted(ctx, event); err != nil {
			m.logger.WarnContext(ctx, "failed to publish order completed event", "order_id", completed.OrderID, "error", err)
		}
	}
	return result, nil
}

// fulfil 持有会话锁：重新读取订单、预留库存并在一个事务内持久化订单、提货记录与库存
func (m *OrderManager) fulfil(ctx context.Context, simulationID, orderID, companyName string) (*fulfilment, error) {
	session, err := m.sessions.Get(ctx, simulationID)
	if err != nil {
		return nil, err
	}
	session.Lock()
	defer session.Unlock()

	// 等锁期间订单可能已被其他请求完成
	order, err := m.loadPending(ctx, orderID)
	if err != nil {
		return nil, err
	}

	kind, err := m.classify(ctx, order.ItemTypeID)
	if err != nil {
		return nil, err
	}
	mk, err := session.Market(kind)
	if err != nil {
		return nil, err
	}

	itemIDs, err := mk.Reserve(order.ItemName, order.Quantity)
	if err != nil {
		var short *market.InsufficientInventoryError
		if errors.As(err, &short) {
			return &fulfilment{order: order, kind: kind, short: short}, nil
		}
		return nil, err
	}

	completed := order.Clone()
	if err := completed.Complete(companyName); err != nil {
		mk.Release(order.ItemName, order.Quantity, itemIDs)
		return nil, err
	}
	collection := domain.NewCollection(completed, itemIDs)

	err = m.tx.WithTx(ctx, func(txCtx context.Context) error {
		if err := m.repo.Save(txCtx, completed); err != nil {
			return err
		}
		if err := m.collections.Create(txCtx, collection); err != nil {
			return err
		}
		return m.markets.Save(txCtx, mk)
	})
	if err != nil {
		mk.Release(order.ItemName, order.Quantity, itemIDs)
		m.logger.ErrorContext(ctx, "failed to persist fulfilment, reservation released", "order_id", orderID, "error", err)
		return nil, err
	}
	mk.ClearDirty()

	lines := make([]market.InventoryLine, 0, len(itemIDs))
	for _, id := range itemIDs {
		if line, ok := mk.Line(id); ok {
			lines = append(lines, line)
		}
	}
	return &fulfilment{order: completed, kind: kind, itemIDs: itemIDs, lines: lines}, nil
}

// CancelOrder pending -> cancelled
func (m *OrderManager) CancelOrder(ctx context.Context, orderID string) (*OrderDTO, error) {
	order, err := m.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	session, err := m.sessions.Get(ctx, order.SimulationID)
	if err != nil {
		return nil, err
	}
	session.Lock()
	defer session.Unlock()

	order, err = m.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := order.Cancel(); err != nil {
		return nil, err
	}
	if err := m.repo.Save(ctx, order); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "order cancelled", "order_id", orderID)
	if m.publisher != nil {
		event := domain.OrderCancelledEvent{OrderID: orderID, SimulationID: order.SimulationID, OccurredOn: time.Now()}
		if err := m.publisher.PublishOrderCancelled(ctx, event); err != nil {
			m.logger.WarnContext(ctx, "failed to publish order cancelled event", "order_id", orderID, "error", err)
		}
	}
	return toOrderDTO(order), nil
}

func (m *OrderManager) load(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := m.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.OrderNotFoundError(orderID)
	}
	return order, nil
}

func (m *OrderManager) loadPending(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := m.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsFinal() {
		return nil, domain.AlreadyFinalizedError(orderID, order.Status)
	}
	return order, nil
}

func (m *OrderManager) classify(ctx context.Context, itemTypeID string) (market.Kind, error) {
	kind, fellBack, err := m.classifier.Classify(itemTypeID)
	if err != nil {
		return "", err
	}
	if fellBack {
		m.metrics.ItemTypeFallback()
		m.logger.WarnContext(ctx, "unknown item type, treating as bulk material", "item_type_id", itemTypeID)
	}
	return kind, nil
}

func deliveryFor(o *domain.Order, kind market.Kind, lines []market.InventoryLine) notification.Delivery {
	d := notification.Delivery{
		OrderID:       o.OrderID,
		SimulationID:  o.SimulationID,
		CompanyName:   o.CompanyName,
		ItemName:      o.ItemName,
		Market:        string(kind),
		Quantity:      o.Quantity,
		ItemIDs:       make([]string, 0, len(lines)),
		Weight:        decimal.Zero,
		OperatingCost: decimal.Zero,
		OrderDate:     o.OrderDate.Format("2006-01-02"),
	}
	for _, line := range lines {
		d.ItemIDs = append(d.ItemIDs, line.ItemID)
		d.Weight = d.Weight.Add(line.Weight)
		d.OperatingCost = d.OperatingCost.Add(line.OperatingCost)
	}
	return d
}
