// Package mysql 提供了模拟时钟与回收积压仓储的 GORM 实现。
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/wyfcoding/economyengine/internal/simulation/domain"
	"github.com/wyfcoding/economyengine/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClockModel 模拟时钟数据库模型，每个模拟一行
type ClockModel struct {
	SimulationID      string    `gorm:"column:simulation_id;type:varchar(32);primaryKey"`
	Status            string    `gorm:"column:status;type:varchar(20);index;not null"`
	CurrentDay        int       `gorm:"column:current_day;not null;default:0"`
	StartInstant      time.Time `gorm:"column:start_instant;not null"`
	EpochStartInstant time.Time `gorm:"column:epoch_start_instant"`
	DayDurationMillis int64     `gorm:"column:day_duration_ms;not null"`
	EndedAt           *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (ClockModel) TableName() string { return "simulation_clocks" }

// RecyclablePhoneModel 待回收手机，BatchKey 为空表示尚未回收
type RecyclablePhoneModel struct {
	gorm.Model
	SimulationID string `gorm:"column:simulation_id;type:varchar(32);index:idx_sim_batch;not null"`
	BatchKey     string `gorm:"column:batch_key;type:varchar(96);index:idx_sim_batch;not null;default:''"`
	PhoneModel   string `gorm:"column:phone_model;type:varchar(64);not null"`
	Quantity     int64  `gorm:"column:quantity;not null"`
}

func (RecyclablePhoneModel) TableName() string { return "recyclable_phones" }

// AutoMigrate 创建模拟相关表
func AutoMigrate(database *gorm.DB) error {
	return database.AutoMigrate(&ClockModel{}, &RecyclablePhoneModel{})
}

type clockRepositoryImpl struct {
	db *gorm.DB
}

// NewClockRepository 创建时钟仓储实例
func NewClockRepository(database *gorm.DB) domain.ClockRepository {
	return &clockRepositoryImpl{db: database}
}

func (r *clockRepositoryImpl) Save(ctx context.Context, c *domain.Clock) error {
	m := &ClockModel{
		SimulationID:      c.SimulationID,
		Status:            string(c.Status),
		CurrentDay:        c.CurrentDay,
		StartInstant:      c.StartInstant,
		EpochStartInstant: c.EpochStartInstant,
		DayDurationMillis: c.DayDuration.Milliseconds(),
	}
	if !c.EndedAt.IsZero() {
		ended := c.EndedAt
		m.EndedAt = &ended
	}
	return db.Conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "simulation_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "current_day", "epoch_start_instant", "day_duration_ms", "ended_at", "updated_at",
		}),
	}).Create(m).Error
}

func (r *clockRepositoryImpl) Get(ctx context.Context, simulationID string) (*domain.Clock, error) {
	var m ClockModel
	if err := db.Conn(ctx, r.db).Where("simulation_id = ?", simulationID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	c := &domain.Clock{
		SimulationID:      m.SimulationID,
		Status:            domain.ClockStatus(m.Status),
		CurrentDay:        m.CurrentDay,
		StartInstant:      m.StartInstant.UTC(),
		EpochStartInstant: m.EpochStartInstant.UTC(),
		DayDuration:       time.Duration(m.DayDurationMillis) * time.Millisecond,
	}
	if m.EndedAt != nil {
		c.EndedAt = m.EndedAt.UTC()
	}
	return c, nil
}

func (r *clockRepositoryImpl) ListRunning(ctx context.Context) ([]string, error) {
	var ids []string
	err := db.Conn(ctx, r.db).Model(&ClockModel{}).
		Where("status = ?", string(domain.ClockRunning)).
		Order("simulation_id").
		Pluck("simulation_id", &ids).Error
	return ids, err
}

type recyclingBacklogImpl struct {
	db *gorm.DB
}

// NewRecyclingBacklog 创建回收积压仓储实例
func NewRecyclingBacklog(database *gorm.DB) domain.RecyclingBacklog {
	return &recyclingBacklogImpl{db: database}
}

func (r *recyclingBacklogImpl) Add(ctx context.Context, simulationID string, group domain.RecyclableGroup) error {
	return db.Conn(ctx, r.db).Create(&RecyclablePhoneModel{
		SimulationID: simulationID,
		PhoneModel:   group.Model,
		Quantity:     group.Quantity,
	}).Error
}

func (r *recyclingBacklogImpl) Recyclable(ctx context.Context, simulationID string) (domain.RecyclingSnapshot, error) {
	var snapshot domain.RecyclingSnapshot
	err := db.WithTx(ctx, r.db, func(txCtx context.Context) error {
		conn := db.Conn(txCtx, r.db)

		var maxID sql.NullInt64
		if err := conn.Model(&RecyclablePhoneModel{}).
			Where("simulation_id = ? AND batch_key = ?", simulationID, "").
			Select("MAX(id)").
			Scan(&maxID).Error; err != nil {
			return err
		}
		if !maxID.Valid {
			return nil
		}
		upTo := uint64(maxID.Int64)

		var rows []struct {
			PhoneModel string
			Total      int64
		}
		if err := conn.Model(&RecyclablePhoneModel{}).
			Select("phone_model, SUM(quantity) AS total").
			Where("simulation_id = ? AND batch_key = ? AND id <= ?", simulationID, "", upTo).
			Group("phone_model").
			Order("phone_model").
			Scan(&rows).Error; err != nil {
			return err
		}

		snapshot.UpToID = upTo
		for _, row := range rows {
			if row.Total > 0 {
				snapshot.Groups = append(snapshot.Groups, domain.RecyclableGroup{Model: row.PhoneModel, Quantity: row.Total})
			}
		}
		return nil
	})
	return snapshot, err
}

// MarkRecycled 批次已落账时返回 0，队列重复投递不会重复回收。
// upToID 为 0 时不设上限（兼容未携带水位的旧消息）
func (r *recyclingBacklogImpl) MarkRecycled(ctx context.Context, simulationID string, batchKey string, upToID uint64) (int64, error) {
	var recycled int64
	err := db.WithTx(ctx, r.db, func(txCtx context.Context) error {
		conn := db.Conn(txCtx, r.db)

		var existing int64
		if err := conn.Model(&RecyclablePhoneModel{}).
			Where("simulation_id = ? AND batch_key = ?", simulationID, batchKey).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}

		pending := func() *gorm.DB {
			q := conn.Model(&RecyclablePhoneModel{}).
				Where("simulation_id = ? AND batch_key = ?", simulationID, "")
			if upToID > 0 {
				q = q.Where("id <= ?", upToID)
			}
			return q
		}
		if err := pending().
			Select("COALESCE(SUM(quantity), 0)").
			Scan(&recycled).Error; err != nil {
			return err
		}
		return pending().Update("batch_key", batchKey).Error
	})
	return recycled, err
}
