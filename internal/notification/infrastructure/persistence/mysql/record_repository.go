// Package mysql 提供了通知记录仓储接口的 GORM 实现。
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/economyengine/internal/notification/domain"
	"github.com/wyfcoding/economyengine/pkg/db"
	"github.com/wyfcoding/economyengine/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordModel 通知记录数据库模型
type RecordModel struct {
	gorm.Model
	NotificationID string     `gorm:"column:notification_id;type:varchar(32);uniqueIndex;not null"`
	OrderID        string     `gorm:"column:order_id;type:varchar(32);index;not null"`
	Type           string     `gorm:"column:type;type:varchar(20);not null"`
	Target         string     `gorm:"column:target;type:varchar(255)"`
	Payload        string     `gorm:"column:payload;type:text"`
	Status         string     `gorm:"column:status;type:varchar(20);index;not null"`
	Attempts       int        `gorm:"column:attempts;not null;default:0"`
	ErrorMessage   string     `gorm:"column:error_message;type:text"`
	SentAt         *time.Time `gorm:"column:sent_at;type:datetime"`
}

// TableName 指定表名
func (RecordModel) TableName() string {
	return "notification_records"
}

// AutoMigrate 创建通知记录表
func AutoMigrate(database *gorm.DB) error {
	return database.AutoMigrate(&RecordModel{})
}

type recordRepositoryImpl struct {
	db *gorm.DB
}

// NewRecordRepository 创建通知记录仓储实例
func NewRecordRepository(database *gorm.DB) domain.RecordRepository {
	return &recordRepositoryImpl{db: database}
}

// Save 按 notification_id 插入或更新
func (r *recordRepositoryImpl) Save(ctx context.Context, rec *domain.Record) error {
	m := &RecordModel{
		NotificationID: rec.NotificationID,
		OrderID:        rec.OrderID,
		Type:           rec.Type,
		Target:         rec.Target,
		Payload:        rec.Payload,
		Status:         string(rec.Status),
		Attempts:       rec.Attempts,
		ErrorMessage:   rec.ErrorMessage,
		SentAt:         rec.SentAt,
	}

	err := db.Conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "notification_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "attempts", "error_message", "sent_at", "updated_at",
		}),
	}).Create(m).Error
	if err != nil {
		logger.Error(ctx, "record_repository.Save failed", "notification_id", rec.NotificationID, "error", err)
		return fmt.Errorf("failed to save notification record: %w", err)
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.CreatedAt
	}
	rec.UpdatedAt = m.UpdatedAt
	return nil
}

// Get 不存在时返回 nil, nil
func (r *recordRepositoryImpl) Get(ctx context.Context, notificationID string) (*domain.Record, error) {
	var m RecordModel
	if err := db.Conn(ctx, r.db).Where("notification_id = ?", notificationID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "record_repository.Get failed", "notification_id", notificationID, "error", err)
		return nil, fmt.Errorf("failed to get notification record: %w", err)
	}
	return toDomain(&m), nil
}

func (r *recordRepositoryImpl) ListByOrder(ctx context.Context, orderID string) ([]*domain.Record, error) {
	var ms []RecordModel
	if err := db.Conn(ctx, r.db).Where("order_id = ?", orderID).Order("id asc").Find(&ms).Error; err != nil {
		logger.Error(ctx, "record_repository.ListByOrder failed", "order_id", orderID, "error", err)
		return nil, fmt.Errorf("failed to list notification records: %w", err)
	}

	res := make([]*domain.Record, len(ms))
	for i := range ms {
		res[i] = toDomain(&ms[i])
	}
	return res, nil
}

func toDomain(m *RecordModel) *domain.Record {
	return &domain.Record{
		NotificationID: m.NotificationID,
		OrderID:        m.OrderID,
		Type:           m.Type,
		Target:         m.Target,
		Payload:        m.Payload,
		Status:         domain.RecordStatus(m.Status),
		Attempts:       m.Attempts,
		ErrorMessage:   m.ErrorMessage,
		SentAt:         m.SentAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
