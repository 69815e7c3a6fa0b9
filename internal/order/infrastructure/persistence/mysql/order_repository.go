// Package mysql 提供了订单与提货记录仓储接口的 GORM 实现。
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/economyengine/internal/order/domain"
	"github.com/wyfcoding/economyengine/pkg/db"
	"github.com/wyfcoding/economyengine/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderModel 订单数据库模型
type OrderModel struct {
	gorm.Model
	OrderID      string          `gorm:"column:order_id;type:varchar(32);uniqueIndex;not null"`
	SimulationID string          `gorm:"column:simulation_id;type:varchar(32);index;not null"`
	CompanyName  string          `gorm:"column:company_name;type:varchar(100)"`
	ItemName     string          `gorm:"column:item_name;type:varchar(100);not null"`
	ItemTypeID   string          `gorm:"column:item_type_id;type:varchar(32);not null"`
	Quantity     decimal.Decimal `gorm:"column:quantity;type:decimal(20,4);not null"`
	UnitPrice    decimal.Decimal `gorm:"column:unit_price;type:decimal(20,4);not null"`
	TotalPrice   decimal.Decimal `gorm:"column:total_price;type:decimal(20,4);not null"`
	Currency     string          `gorm:"column:currency;type:varchar(8);not null"`
	OrderDate    time.Time       `gorm:"column:order_date;type:date;not null"`
	Status       string          `gorm:"column:status;type:varchar(20);index;not null"`
}

// TableName 指定表名
func (OrderModel) TableName() string {
	return "orders"
}

// CollectionModel 提货记录数据库模型，order_id 唯一
type CollectionModel struct {
	gorm.Model
	OrderID         string          `gorm:"column:order_id;type:varchar(32);uniqueIndex;not null"`
	ItemName        string          `gorm:"column:item_name;type:varchar(100);not null"`
	ItemID          string          `gorm:"column:item_id;type:text"`
	Quantity        decimal.Decimal `gorm:"column:quantity;type:decimal(20,4);not null"`
	AmountCollected decimal.Decimal `gorm:"column:amount_collected;type:decimal(20,4);not null;default:0"`
	Collected       bool            `gorm:"column:collected;not null;default:false"`
	CollectionDate  time.Time       `gorm:"column:collection_date;type:date"`
}

// TableName 指定表名
func (CollectionModel) TableName() string {
	return "order_collections"
}

// AutoMigrate 创建订单相关表
func AutoMigrate(database *gorm.DB) error {
	return database.AutoMigrate(&OrderModel{}, &CollectionModel{})
}

// orderRepositoryImpl 是 domain.OrderRepository 接口的 GORM 实现。
type orderRepositoryImpl struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储实例
func NewOrderRepository(database *gorm.DB) domain.OrderRepository {
	return &orderRepositoryImpl{db: database}
}

// Save 实现 domain.OrderRepository.Save
func (r *orderRepositoryImpl) Save(ctx context.Context, o *domain.Order) error {
	m := &OrderModel{
		OrderID:      o.OrderID,
		SimulationID: o.SimulationID,
		CompanyName:  o.CompanyName,
		ItemName:     o.ItemName,
		ItemTypeID:   o.ItemTypeID,
		Quantity:     o.Quantity,
		UnitPrice:    o.UnitPrice,
		TotalPrice:   o.TotalPrice,
		Currency:     o.Currency,
		OrderDate:    o.OrderDate,
		Status:       string(o.Status),
	}

	err := db.Conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"company_name", "status", "updated_at"}),
	}).Create(m).Error
	if err != nil {
		logger.Error(ctx, "order_repository.Save failed", "order_id", o.OrderID, "error", err)
		return fmt.Errorf("failed to save order: %w", err)
	}

	if o.CreatedAt.IsZero() {
		o.CreatedAt = m.CreatedAt
	}
	o.UpdatedAt = m.UpdatedAt
	return nil
}

// Get 实现 domain.OrderRepository.Get
func (r *orderRepositoryImpl) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	var m OrderModel
	if err := db.Conn(ctx, r.db).Where("order_id = ?", orderID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "order_repository.Get failed", "order_id", orderID, "error", err)
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return toOrder(&m), nil
}

// ListBySimulation 实现 domain.OrderRepository.ListBySimulation
func (r *orderRepositoryImpl) ListBySimulation(ctx context.Context, simulationID string, status domain.OrderStatus, limit, offset int) ([]*domain.Order, int64, error) {
	var ms []OrderModel
	var total int64
	q := db.Conn(ctx, r.db).Model(&OrderModel{}).Where("simulation_id = ?", simulationID)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Order("id desc").Limit(limit).Offset(offset).Find(&ms).Error; err != nil {
		logger.Error(ctx, "order_repository.ListBySimulation failed", "simulation_id", simulationID, "error", err)
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}

	res := make([]*domain.Order, len(ms))
	for i := range ms {
		res[i] = toOrder(&ms[i])
	}
	return res, total, nil
}

func toOrder(m *OrderModel) *domain.Order {
	return &domain.Order{
		OrderID:      m.OrderID,
		SimulationID: m.SimulationID,
		CompanyName:  m.CompanyName,
		ItemName:     m.ItemName,
		ItemTypeID:   m.ItemTypeID,
		Quantity:     m.Quantity,
		UnitPrice:    m.UnitPrice,
		TotalPrice:   m.TotalPrice,
		Currency:     m.Currency,
		OrderDate:    m.OrderDate,
		Status:       domain.OrderStatus(m.Status),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

type collectionRepositoryImpl struct {
	db *gorm.DB
}

// NewCollectionRepository 创建提货记录仓储实例
func NewCollectionRepository(database *gorm.DB) domain.CollectionRepository {
	return &collectionRepositoryImpl{db: database}
}

func (r *collectionRepositoryImpl) Create(ctx context.Context, c *domain.Collection) error {
	m := &CollectionModel{
		OrderID:         c.OrderID,
		ItemName:        c.ItemName,
		ItemID:          c.ItemID,
		Quantity:        c.Quantity,
		AmountCollected: c.AmountCollected,
		Collected:       c.Collected,
		CollectionDate:  c.CollectionDate,
	}
	if err := db.Conn(ctx, r.db).Create(m).Error; err != nil {
		logger.Error(ctx, "collection_repository.Create failed", "order_id", c.OrderID, "error", err)
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func (r *collectionRepositoryImpl) GetByOrder(ctx context.Context, orderID string) (*domain.Collection, error) {
	var m CollectionModel
	if err := db.Conn(ctx, r.db).Where("order_id = ?", orderID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return &domain.Collection{
		OrderID:         m.OrderID,
		ItemName:        m.ItemName,
		ItemID:          m.ItemID,
		Quantity:        m.Quantity,
		AmountCollected: m.AmountCollected,
		Collected:       m.Collected,
		CollectionDate:  m.CollectionDate,
	}, nil
}
