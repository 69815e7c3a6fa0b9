// Package mq 提供 Kafka 生产者与死信队列封装
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/economyengine/pkg/logger"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers      []string
	MaxRetries   int
	RetryBackoff int
}

// Publisher 以 JSON 形式发布消息的最小接口
type Publisher interface {
	SendMessage(ctx context.Context, topic string, key string, value any) error
}

// messageWriter 抽象 kafka.Writer，便于测试替换
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer Kafka 生产者
type KafkaProducer struct {
	writer messageWriter
}

// NewProducer 创建 Kafka 生产者
func NewProducer(cfg KafkaConfig) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        time.Duration(cfg.RetryBackoff) * time.Millisecond,
		WriteBackoffMax:        time.Duration(cfg.RetryBackoff*10) * time.Millisecond,
	}

	logger.Info(context.Background(), "Kafka producer created successfully", "brokers", cfg.Brokers)
	return &KafkaProducer{writer: writer}
}

// SendMessage 发送单条消息，相同 key 落到同一分区以保证顺序
func (kp *KafkaProducer) SendMessage(ctx context.Context, topic string, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}
	if err := kp.writer.WriteMessages(ctx, msg); err != nil {
		logger.Error(ctx, "Failed to send Kafka message", "topic", topic, "key", key, "error", err)
		return err
	}

	logger.Debug(ctx, "Kafka message sent", "topic", topic, "key", key)
	return nil
}

// Close 关闭生产者
func (kp *KafkaProducer) Close() error {
	return kp.writer.Close()
}

// Envelope 领域事件外层结构，消费方按 EventType 分派
type Envelope struct {
	EventType string `json:"event_type"`
	Payload   any    `json:"payload"`
}

// PublishEvent 以 Envelope 发布领域事件
func PublishEvent(ctx context.Context, p Publisher, topic, key, eventType string, payload any) error {
	return p.SendMessage(ctx, topic, key, Envelope{EventType: eventType, Payload: payload})
}

// DeadLetter 死信记录
type DeadLetter struct {
	Source           string          `json:"source"`
	MessageID        string          `json:"message_id"`
	MessageType      string          `json:"message_type"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Attempts         int             `json:"attempts"`
	FailureReason    string          `json:"failure_reason"`
	FailureError     string          `json:"failure_error,omitempty"`
	FailureTimestamp time.Time       `json:"failure_timestamp"`
}

// DeadLetterQueue 死信队列
type DeadLetterQueue struct {
	producer Publisher
	topic    string
}

// NewDeadLetterQueue 创建死信队列
func NewDeadLetterQueue(producer Publisher, topic string) *DeadLetterQueue {
	return &DeadLetterQueue{producer: producer, topic: topic}
}

// Send 发送死信
func (dlq *DeadLetterQueue) Send(ctx context.Context, letter DeadLetter) error {
	if letter.FailureTimestamp.IsZero() {
		letter.FailureTimestamp = time.Now()
	}
	return dlq.producer.SendMessage(ctx, dlq.topic, letter.MessageID, letter)
}
