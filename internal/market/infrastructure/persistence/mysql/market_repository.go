// Package mysql 提供了市场仓储接口的 GORM 实现。
package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/economyengine/internal/market/domain"
	"github.com/wyfcoding/economyengine/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MarketModel 市场头信息数据库模型
type MarketModel struct {
	MarketID     string          `gorm:"column:market_id;type:varchar(64);primaryKey"`
	SimulationID string          `gorm:"column:simulation_id;type:varchar(32);index;not null"`
	Kind         string          `gorm:"column:kind;type:varchar(20);not null"`
	PriceFloor   decimal.Decimal `gorm:"column:price_floor;type:decimal(20,4)"`
	LastDriftDay int             `gorm:"column:last_drift_day;not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (MarketModel) TableName() string { return "markets" }

// InventoryLineModel 库存行数据库模型，主键 (market_id, item_id)
type InventoryLineModel struct {
	MarketID      string          `gorm:"column:market_id;type:varchar(64);primaryKey"`
	ItemID        string          `gorm:"column:item_id;type:varchar(64);primaryKey"`
	ItemName      string          `gorm:"column:item_name;type:varchar(100);index;not null"`
	UnitCost      decimal.Decimal `gorm:"column:unit_cost;type:decimal(20,4)"`
	Quantity      decimal.Decimal `gorm:"column:quantity;type:decimal(20,4)"`
	Weight        decimal.Decimal `gorm:"column:weight;type:decimal(20,4)"`
	OperatingCost decimal.Decimal `gorm:"column:operating_cost;type:decimal(20,4)"`
	Sold          bool            `gorm:"column:sold;not null;default:false"`
	UpdatedAt     time.Time
}

func (InventoryLineModel) TableName() string { return "market_inventory_lines" }

// AutoMigrate 创建市场相关表
func AutoMigrate(database *gorm.DB) error {
	return database.AutoMigrate(&MarketModel{}, &InventoryLineModel{})
}

// marketRepositoryImpl 市场仓储实现
type marketRepositoryImpl struct {
	db *gorm.DB
}

// NewMarketRepository 创建市场仓储实例
func NewMarketRepository(database *gorm.DB) domain.MarketRepository {
	return &marketRepositoryImpl{db: database}
}

func (r *marketRepositoryImpl) Save(ctx context.Context, m *domain.Market) error {
	conn := db.Conn(ctx, r.db)

	header := &MarketModel{
		MarketID:     m.ID,
		SimulationID: m.SimulationID,
		Kind:         string(m.Kind),
		PriceFloor:   m.Floor,
		LastDriftDay: m.LastDriftDay,
	}
	if err := conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "market_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"price_floor", "last_drift_day", "updated_at"}),
	}).Create(header).Error; err != nil {
		return err
	}

	dirty := m.DirtyLines()
	if len(dirty) == 0 {
		return nil
	}
	rows := make([]InventoryLineModel, 0, len(dirty))
	for _, line := range dirty {
		rows = append(rows, toLineModel(m.ID, line))
	}
	return conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "market_id"}, {Name: "item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"item_name", "unit_cost", "quantity", "weight", "operating_cost", "sold", "updated_at"}),
	}).CreateInBatches(rows, 100).Error
}

func (r *marketRepositoryImpl) Get(ctx context.Context, simulationID string, kind domain.Kind) (*domain.Market, error) {
	conn := db.Conn(ctx, r.db)
	marketID := domain.MarketID(simulationID, kind)

	var header MarketModel
	if err := conn.Where("market_id = ?", marketID).First(&header).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var rows []InventoryLineModel
	if err := conn.Where("market_id = ?", marketID).Order("item_id").Find(&rows).Error; err != nil {
		return nil, err
	}

	lines := make([]domain.InventoryLine, 0, len(rows))
	for i := range rows {
		lines = append(lines, toLine(&rows[i]))
	}
	m := domain.NewMarket(header.SimulationID, domain.Kind(header.Kind), header.PriceFloor, lines)
	m.LastDriftDay = header.LastDriftDay
	m.ClearDirty()
	return m, nil
}

func toLineModel(marketID string, line domain.InventoryLine) InventoryLineModel {
	return InventoryLineModel{
		MarketID:      marketID,
		ItemID:        line.ItemID,
		ItemName:      line.ItemName,
		UnitCost:      line.UnitCost,
		Quantity:      line.Quantity,
		Weight:        line.Weight,
		OperatingCost: line.OperatingCost,
		Sold:          line.Sold,
	}
}

func toLine(m *InventoryLineModel) domain.InventoryLine {
	return domain.InventoryLine{
		ItemID:        m.ItemID,
		ItemName:      m.ItemName,
		UnitCost:      m.UnitCost,
		Quantity:      m.Quantity,
		Weight:        m.Weight,
		OperatingCost: m.OperatingCost,
		Sold:          m.Sold,
	}
}
