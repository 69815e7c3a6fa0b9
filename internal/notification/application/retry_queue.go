// Package application 外部通知投递与进程内重试队列
package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wyfcoding/economyengine/internal/notification/domain"
	"github.com/wyfcoding/economyengine/pkg/metrics"
)

// ErrRetryQueueClosed 队列已关闭
var ErrRetryQueueClosed = errors.New("retry queue closed")

// RetryConfig 重试队列配置
type RetryConfig struct {
	BaseDelay      time.Duration
	MaxAttempts    int
	AttemptTimeout time.Duration
}

// ExhaustedSink 重试耗尽的任务去处
type ExhaustedSink interface {
	Exhausted(ctx context.Context, job domain.RetryJob) error
}

// RetryQueue 进程内 FIFO 重试队列。同一时刻只有一个排空循环，
// 失败任务按 BaseDelay*2^attempt 退避后重新入队
type RetryQueue struct {
	cfg     RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu          sync.Mutex
	jobs        []domain.RetryJob
	draining    bool
	closed      bool
	outstanding int
	idle        chan struct{}
	sink        ExhaustedSink
}

// NewRetryQueue 创建重试队列
func NewRetryQueue(cfg RetryConfig, m *metrics.Metrics, logger *slog.Logger) *RetryQueue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	idle := make(chan struct{})
	close(idle)
	return &RetryQueue{
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("module", "retry_queue"),
		idle:    idle,
	}
}

// SetExhaustedSink 设置重试耗尽回调
func (q *RetryQueue) SetExhaustedSink(sink ExhaustedSink) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sink = sink
}

// Enqueue 加入重试任务，可在任意 goroutine 调用
func (q *RetryQueue) Enqueue(job domain.RetryJob) error {
	if job.Notify == nil {
		return errors.New("retry job has no notify function")
	}
	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.cfg.MaxAttempts
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrRetryQueueClosed
	}
	if q.outstanding == 0 {
		q.idle = make(chan struct{})
	}
	q.outstanding++
	q.pushLocked(job)
	return nil
}

// Len 等待执行的任务数（不含退避中的任务）
func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Wait 阻塞直到没有未完成的任务
func (q *RetryQueue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收新任务，已入队与退避中的任务继续执行
func (q *RetryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

func (q *RetryQueue) push(job domain.RetryJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushLocked(job)
}

func (q *RetryQueue) pushLocked(job domain.RetryJob) {
	q.jobs = append(q.jobs, job)
	if !q.draining {
		q.draining = true
		go q.drain()
	}
}

func (q *RetryQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs[0] = domain.RetryJob{}
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		q.run(job)
	}
}

func (q *RetryQueue) run(job domain.RetryJob) {
	ctx := context.Background()
	if q.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.AttemptTimeout)
		defer cancel()
	}

	err := job.Notify(ctx, job.Payload)
	if err == nil {
		q.metrics.NotifyAttempt(job.Type, "retry_success")
		q.logger.Info("retry succeeded", "type", job.Type, "attempt", job.Attempt)
		q.done()
		return
	}
	q.metrics.NotifyAttempt(job.Type, "retry_failure")

	if job.Attempt < job.MaxAttempts {
		delay := q.cfg.BaseDelay * time.Duration(1<<job.Attempt)
		q.logger.Warn("retry failed, backing off", "type", job.Type, "attempt", job.Attempt, "delay", delay, "error", err)
		next := job
		next.Attempt++
		time.AfterFunc(delay, func() { q.push(next) })
		return
	}

	q.logger.Error("retry attempts exhausted, dropping job", "type", job.Type, "attempts", job.Attempt, "error", err)
	q.metrics.RetryExhausted(job.Type)

	q.mu.Lock()
	sink := q.sink
	q.mu.Unlock()
	if sink != nil {
		if err := sink.Exhausted(context.Background(), job); err != nil {
			q.logger.Error("failed to hand off exhausted job", "type", job.Type, "error", err)
		}
	}
	q.done()
}

func (q *RetryQueue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.outstanding--
	if q.outstanding == 0 {
		close(q.idle)
	}
}
