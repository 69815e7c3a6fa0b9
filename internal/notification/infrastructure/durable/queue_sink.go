// Package durable 把进程内重试耗尽的通知转存到持久化通知队列
package durable

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wyfcoding/economyengine/internal/notification/domain"
	qdomain "github.com/wyfcoding/economyengine/internal/queue/domain"
)

// QueueSink 以 delivery-retry 消息写入通知队列，进程重启后仍会被消费
type QueueSink struct {
	queue qdomain.Queue
}

// NewQueueSink 创建队列转存器
func NewQueueSink(queue qdomain.Queue) *QueueSink {
	return &QueueSink{queue: queue}
}

// Exhausted 实现 application.ExhaustedSink
func (s *QueueSink) Exhausted(ctx context.Context, job domain.RetryJob) error {
	if job.Type != domain.TypeDelivery {
		return fmt.Errorf("no durable message type for notification %q", job.Type)
	}

	var ref struct {
		NotificationID string `json:"notification_id"`
		OrderID        string `json:"order_id"`
	}
	if err := json.Unmarshal(job.Payload, &ref); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", job.Type, err)
	}

	msg, err := qdomain.NewMessage(qdomain.TypeDeliveryRetry, job.Payload)
	if err != nil {
		return err
	}
	msg.GroupID = "delivery-" + ref.OrderID
	msg.DedupID = "delivery-retry-" + ref.NotificationID
	return s.queue.Send(ctx, msg)
}
