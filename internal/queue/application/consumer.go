package application

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wyfcoding/economyengine/internal/queue/domain"
	"github.com/wyfcoding/economyengine/pkg/logger"
	"github.com/wyfcoding/economyengine/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	BatchSize    int
	WaitTime     time.Duration
	PollInterval time.Duration
	ErrorBackoff time.Duration
	// MaxRetries 失败达到该次数后放弃消息
	MaxRetries int
}

// DeadLetterSink 放弃的消息的去处
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, source string, msg *domain.Message, attempts int, reason string, cause error) error
}

// Consumer 单个队列类别的长轮询消费者
type Consumer struct {
	queue       domain.Queue
	registry    *Registry
	deadLetters DeadLetterSink
	metrics     *metrics.Metrics
	cfg         ConsumerConfig
	logger      *slog.Logger

	running atomic.Bool
	stopped atomic.Bool

	mu       sync.Mutex
	failures map[string]int
}

// NewConsumer 创建消费者
func NewConsumer(queue domain.Queue, registry *Registry, deadLetters DeadLetterSink, m *metrics.Metrics, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Consumer{
		queue:       queue,
		registry:    registry,
		deadLetters: deadLetters,
		metrics:     m,
		cfg:         cfg,
		logger:      logger.With("module", "queue_consumer", "queue", queue.Name()),
		failures:    make(map[string]int),
	}
}

// Initialize 以零条接收检查队列连通性
func (c *Consumer) Initialize(ctx context.Context) error {
	if _, err := c.queue.Receive(ctx, 0, 0); err != nil {
		c.logger.ErrorContext(ctx, "queue connectivity check failed", "error", err)
		return err
	}
	c.logger.InfoContext(ctx, "queue consumer initialized", "types", c.registry.Types())
	return nil
}

// Start 运行轮询循环，直到 Stop 被调用或 ctx 结束。
// 在 Start 之前调用过 Stop 时直接返回
func (c *Consumer) Start(ctx context.Context) error {
	if c.stopped.Load() {
		c.logger.InfoContext(ctx, "queue consumer stopped before start")
		return nil
	}
	c.running.Store(true)
	c.logger.InfoContext(ctx, "queue consumer started")

	for !c.stopped.Load() {
		msgs, err := c.queue.Receive(ctx, c.cfg.BatchSize, c.cfg.WaitTime)
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to receive messages", "error", err, "backoff", c.cfg.ErrorBackoff)
			c.metrics.QueueReceiveError(c.queue.Name())
			if !sleep(ctx, c.cfg.ErrorBackoff) {
				break
			}
			continue
		}

		if len(msgs) > 0 {
			c.processBatch(ctx, msgs)
		}
		if !sleep(ctx, c.cfg.PollInterval) {
			break
		}
	}

	c.running.Store(false)
	c.logger.InfoContext(ctx, "queue consumer stopped")
	return nil
}

// Stop 协作式停止：当前批次处理完后退出
func (c *Consumer) Stop() {
	c.stopped.Store(true)
}

// Running 是否在运行
func (c *Consumer) Running() bool {
	return c.running.Load()
}

// processBatch 并发处理一批消息并等待全部完成。
// 处理器不随关停取消
func (c *Consumer) processBatch(ctx context.Context, msgs []*domain.Message) {
	handlerCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for _, msg := range msgs {
		g.Go(func() error {
			c.handle(handlerCtx, msg)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Consumer) handle(ctx context.Context, msg *domain.Message) {
	ctx = logger.ContextWithTraceID(ctx, msg.ID)
	log := logger.From(ctx, c.logger).With("message_id", msg.ID, "type", msg.Body.Type)

	err := c.registry.Dispatch(ctx, msg)
	if err == nil {
		c.delete(ctx, log, msg)
		c.metrics.QueueMessage(c.queue.Name(), msg.Body.Type, "processed")
		return
	}

	if domain.IsUnknownType(err) {
		log.WarnContext(ctx, "unrecognized message type, dead-lettering", "error", err)
		c.metrics.QueueMessage(c.queue.Name(), msg.Body.Type, "unknown_type")
		c.giveUp(ctx, log, msg, max(msg.ReceiveCount, 1), "unknown message type", err)
		return
	}

	attempts := c.recordFailure(msg)
	if attempts >= c.cfg.MaxRetries {
		log.ErrorContext(ctx, "message failed too many times, giving up", "attempts", attempts, "error", err)
		c.metrics.QueueMessage(c.queue.Name(), msg.Body.Type, "dead_lettered")
		c.giveUp(ctx, log, msg, attempts, "max retries exceeded", err)
		return
	}

	log.WarnContext(ctx, "message handler failed, awaiting redelivery", "attempts", attempts, "error", err)
	c.metrics.QueueMessage(c.queue.Name(), msg.Body.Type, "failed")
}

// recordFailure 本地计数与队列侧投递次数取较大者，计数在重启后不会归零
func (c *Consumer) recordFailure(msg *domain.Message) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	attempts := max(c.failures[msg.ID]+1, msg.ReceiveCount)
	c.failures[msg.ID] = attempts
	return attempts
}

// Failures 本地失败计数
func (c *Consumer) Failures(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[id]
}

func (c *Consumer) giveUp(ctx context.Context, log *slog.Logger, msg *domain.Message, attempts int, reason string, cause error) {
	if c.deadLetters != nil {
		if err := c.deadLetters.DeadLetter(ctx, c.queue.Name(), msg, attempts, reason, cause); err != nil {
			log.ErrorContext(ctx, "failed to dead-letter message", "error", err)
		}
	}
	c.delete(ctx, log, msg)
}

// delete 无论删除成败都清掉本地计数；删除失败的消息重投后按队列侧投递次数续计
func (c *Consumer) delete(ctx context.Context, log *slog.Logger, msg *domain.Message) {
	c.mu.Lock()
	delete(c.failures, msg.ID)
	c.mu.Unlock()

	if err := c.queue.Delete(ctx, msg.ID); err != nil {
		log.ErrorContext(ctx, "failed to delete message", "error", err)
	}
}

// sleep 等待 d，ctx 结束时返回 false
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
