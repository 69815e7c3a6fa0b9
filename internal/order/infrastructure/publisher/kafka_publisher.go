// Package publisher 订单事件的 Kafka 发布实现
package publisher

import (
	"context"

	"github.com/wyfcoding/economyengine/internal/order/domain"
	"github.com/wyfcoding/economyengine/pkg/mq"
)

// KafkaEventPublisher 实现 domain.EventPublisher，以模拟 ID 为分区键
type KafkaEventPublisher struct {
	producer mq.Publisher
	topic    string
}

// NewKafkaEventPublisher 创建订单事件发布者
func NewKafkaEventPublisher(producer mq.Publisher, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

// PublishOrderCompleted 发布订单完成事件
func (p *KafkaEventPublisher) PublishOrderCompleted(ctx context.Context, event domain.OrderCompletedEvent) error {
	return mq.PublishEvent(ctx, p.producer, p.topic, event.SimulationID, "OrderCompletedEvent", event)
}

// PublishOrderCancelled 发布订单取消事件
func (p *KafkaEventPublisher) PublishOrderCancelled(ctx context.Context, event domain.OrderCancelledEvent) error {
	return mq.PublishEvent(ctx, p.producer, p.topic, event.SimulationID, "OrderCancelledEvent", event)
}
