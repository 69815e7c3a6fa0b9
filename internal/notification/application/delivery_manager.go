package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wyfcoding/economyengine/internal/notification/domain"
	"github.com/wyfcoding/economyengine/pkg/idgen"
	"github.com/wyfcoding/economyengine/pkg/metrics"
)

// RetryEnqueuer 接收失败通知的重试队列
type RetryEnqueuer interface {
	Enqueue(job domain.RetryJob) error
}

// DeliveryConfig 交付通知配置
type DeliveryConfig struct {
	// Target 记录在通知记录上的投递地址
	Target string
	// Timeout 同步投递的硬超时
	Timeout time.Duration
}

// DeliveryManager 处理设备与车辆订单的交付通知：记录、同步投递、失败转重试
type DeliveryManager struct {
	repo     domain.RecordRepository
	notifier domain.DeliveryNotifier
	retries  RetryEnqueuer
	durable  ExhaustedSink
	cfg      DeliveryConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewDeliveryManager 构造函数。
func NewDeliveryManager(repo domain.RecordRepository, notifier domain.DeliveryNotifier, retries RetryEnqueuer,
	cfg DeliveryConfig, m *metrics.Metrics, logger *slog.Logger,
) *DeliveryManager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &DeliveryManager{
		repo:     repo,
		notifier: notifier,
		retries:  retries,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With("module", "delivery_manager"),
	}
}

// SetDurableSink 设置重试耗尽后的持久化去处
func (m *DeliveryManager) SetDurableSink(sink ExhaustedSink) {
	m.durable = sink
}

// Dispatch 同步投递一次交付通知。失败时转入重试队列，从不向调用方返回错误
func (m *DeliveryManager) Dispatch(ctx context.Context, delivery domain.Delivery) string {
	if delivery.NotificationID == "" {
		delivery.NotificationID = idgen.NewID("NTF-")
	}

	payload, err := json.Marshal(delivery)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to encode delivery", "order_id", delivery.OrderID, "error", err)
		return delivery.NotificationID
	}

	record := &domain.Record{
		NotificationID: delivery.NotificationID,
		OrderID:        delivery.OrderID,
		Type:           domain.TypeDelivery,
		Target:         m.cfg.Target,
		Payload:        string(payload),
		Status:         domain.RecordPending,
	}
	if err := m.repo.Save(ctx, record); err != nil {
		m.logger.ErrorContext(ctx, "failed to save pending notification", "notification_id", record.NotificationID, "error", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	err = m.notifier.NotifyDelivery(sendCtx, delivery)
	cancel()

	if err == nil {
		m.metrics.NotifyAttempt(domain.TypeDelivery, "success")
		record.MarkSent(time.Now())
		m.saveRecord(ctx, record)
		return record.NotificationID
	}

	m.metrics.NotifyAttempt(domain.TypeDelivery, "failure")
	m.logger.WarnContext(ctx, "delivery notification failed, scheduling retry", "order_id", delivery.OrderID, "error", err)
	record.MarkFailed(err)
	m.saveRecord(ctx, record)

	job := domain.RetryJob{
		Type:    domain.TypeDelivery,
		Payload: payload,
		Notify:  m.notifyPayload,
	}
	if err := m.retries.Enqueue(job); err != nil {
		m.logger.ErrorContext(ctx, "failed to enqueue delivery retry", "notification_id", record.NotificationID, "error", err)
		if m.durable != nil {
			if err := m.durable.Exhausted(ctx, job); err != nil {
				m.logger.ErrorContext(ctx, "failed to persist delivery retry", "notification_id", record.NotificationID, "error", err)
			}
		}
	}
	return record.NotificationID
}

// NotifyDelivery 投递并更新记录，返回投递错误。供重试队列与持久化队列处理器调用
func (m *DeliveryManager) NotifyDelivery(ctx context.Context, delivery domain.Delivery) error {
	sendErr := m.notifier.NotifyDelivery(ctx, delivery)

	record, err := m.repo.Get(ctx, delivery.NotificationID)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to load notification record", "notification_id", delivery.NotificationID, "error", err)
		return sendErr
	}
	if record == nil {
		payload, _ := json.Marshal(delivery)
		record = &domain.Record{
			NotificationID: delivery.NotificationID,
			OrderID:        delivery.OrderID,
			Type:           domain.TypeDelivery,
			Target:         m.cfg.Target,
			Payload:        string(payload),
			Status:         domain.RecordPending,
		}
	}

	if sendErr != nil {
		record.MarkFailed(sendErr)
	} else {
		record.MarkSent(time.Now())
	}
	m.saveRecord(ctx, record)
	return sendErr
}

// Exhausted 实现 ExhaustedSink：标记记录并转交持久化队列
func (m *DeliveryManager) Exhausted(ctx context.Context, job domain.RetryJob) error {
	var delivery domain.Delivery
	if err := json.Unmarshal(job.Payload, &delivery); err != nil {
		return fmt.Errorf("failed to decode exhausted delivery: %w", err)
	}

	record, err := m.repo.Get(ctx, delivery.NotificationID)
	if err != nil {
		return err
	}
	if record != nil {
		record.MarkExhausted()
		m.saveRecord(ctx, record)
	}

	if m.durable == nil {
		return nil
	}
	return m.durable.Exhausted(ctx, job)
}

// Records 查询订单的通知记录
func (m *DeliveryManager) Records(ctx context.Context, orderID string) ([]*domain.Record, error) {
	return m.repo.ListByOrder(ctx, orderID)
}

func (m *DeliveryManager) notifyPayload(ctx context.Context, payload json.RawMessage) error {
	var delivery domain.Delivery
	if err := json.Unmarshal(payload, &delivery); err != nil {
		return fmt.Errorf("failed to decode delivery: %w", err)
	}
	return m.NotifyDelivery(ctx, delivery)
}

func (m *DeliveryManager) saveRecord(ctx context.Context, record *domain.Record) {
	if err := m.repo.Save(ctx, record); err != nil {
		m.logger.ErrorContext(ctx, "failed to save notification record", "notification_id", record.NotificationID, "error", err)
	}
}
