// Package publisher 模拟事件的 Kafka 发布实现
package publisher

import (
	"context"

	"github.com/wyfcoding/economyengine/internal/simulation/domain"
	"github.com/wyfcoding/economyengine/pkg/mq"
)

// KafkaEventPublisher 实现 domain.EventPublisher
type KafkaEventPublisher struct {
	producer mq.Publisher
	topic    string
}

// NewKafkaEventPublisher 创建模拟事件发布者
func NewKafkaEventPublisher(producer mq.Publisher, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) PublishDayAdvanced(ctx context.Context, event domain.DayAdvancedEvent) error {
	return mq.PublishEvent(ctx, p.producer, p.topic, event.SimulationID, "DayAdvancedEvent", event)
}

func (p *KafkaEventPublisher) PublishSimulationStopped(ctx context.Context, event domain.SimulationStoppedEvent) error {
	return mq.PublishEvent(ctx, p.producer, p.topic, event.SimulationID, "SimulationStoppedEvent", event)
}
