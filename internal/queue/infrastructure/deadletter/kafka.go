// Package deadletter 将放弃的队列消息写入 Kafka 死信主题
package deadletter

import (
	"context"
	"log/slog"

	"github.com/wyfcoding/economyengine/internal/queue/domain"
	"github.com/wyfcoding/economyengine/pkg/mq"
)

// KafkaSink Kafka 死信实现
type KafkaSink struct {
	dlq *mq.DeadLetterQueue
}

// NewKafkaSink 创建 Kafka 死信实现
func NewKafkaSink(dlq *mq.DeadLetterQueue) *KafkaSink {
	return &KafkaSink{dlq: dlq}
}

func (s *KafkaSink) DeadLetter(ctx context.Context, source string, msg *domain.Message, attempts int, reason string, cause error) error {
	letter := mq.DeadLetter{
		Source:        source,
		MessageID:     msg.ID,
		MessageType:   msg.Body.Type,
		Payload:       msg.Body.Payload,
		Attempts:      attempts,
		FailureReason: reason,
	}
	if cause != nil {
		letter.FailureError = cause.Error()
	}
	return s.dlq.Send(ctx, letter)
}

// LogSink 未配置 Kafka 时仅记录死信日志
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink 创建日志死信实现
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("module", "dead_letter")}
}

func (s *LogSink) DeadLetter(ctx context.Context, source string, msg *domain.Message, attempts int, reason string, cause error) error {
	s.logger.ErrorContext(ctx, "message dead-lettered",
		"source", source,
		"message_id", msg.ID,
		"type", msg.Body.Type,
		"attempts", attempts,
		"reason", reason,
		"error", cause,
		"payload", string(msg.Body.Payload),
	)
	return nil
}
