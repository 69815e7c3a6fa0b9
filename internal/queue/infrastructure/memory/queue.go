// Package memory 提供进程内的持久化队列实现，用于开发与测试
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/wyfcoding/economyengine/internal/queue/domain"
	"github.com/wyfcoding/economyengine/pkg/idgen"
)

// pollStep 等待期间检查延迟消息的间隔
const pollStep = 20 * time.Millisecond

type entry struct {
	msg       domain.Message
	visibleAt time.Time
	inFlight  bool
}

// Queue 进程内队列，语义与 Redis 实现一致：可见性超时、延迟投递、去重窗口、组内 FIFO
type Queue struct {
	mu sync.Mutex

	name              string
	visibilityTimeout time.Duration
	dedupWindow       time.Duration
	now               func() time.Time

	order   []string
	entries map[string]*entry
	dedup   map[string]time.Time
	groups  map[string]string
	signal  chan struct{}
}

// Option 队列选项
type Option func(*Queue)

// WithClock 注入时间源
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New 创建进程内队列
func New(name string, visibilityTimeout, dedupWindow time.Duration, opts ...Option) *Queue {
	q := &Queue{
		name:              name,
		visibilityTimeout: visibilityTimeout,
		dedupWindow:       dedupWindow,
		now:               time.Now,
		entries:           make(map[string]*entry),
		dedup:             make(map[string]time.Time),
		groups:            make(map[string]string),
		signal:            make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Name() string { return q.name }

// Send 入队；去重窗口内相同 DedupID 的消息被静默丢弃
func (q *Queue) Send(_ context.Context, msg *domain.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if msg.DedupID != "" {
		if exp, ok := q.dedup[msg.DedupID]; ok && now.Before(exp) {
			return nil
		}
		q.dedup[msg.DedupID] = now.Add(q.dedupWindow)
	}
	if msg.ID == "" {
		msg.ID = idgen.NewID("msg-")
	}

	cp := *msg
	cp.ReceiveCount = 0
	q.entries[cp.ID] = &entry{msg: cp, visibleAt: now.Add(msg.Delay)}
	q.order = append(q.order, cp.ID)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Receive 取出可见消息并置为 in-flight
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max <= 0 {
		return nil, nil
	}

	deadline := time.Now().Add(wait)
	for {
		if msgs := q.take(max); len(msgs) > 0 {
			return msgs, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(min(remaining, pollStep))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.signal:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *Queue) take(max int) []*domain.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []*domain.Message
	busy := make(map[string]bool)
	for _, id := range q.order {
		if len(out) >= max {
			break
		}
		e := q.entries[id]
		if now.Before(e.visibleAt) {
			// 组内后续消息不能越过不可见的前序消息
			if e.msg.GroupID != "" {
				busy[e.msg.GroupID] = true
			}
			continue
		}
		if e.inFlight {
			// 可见性超时，释放组锁后重新投递
			e.inFlight = false
			if q.groups[e.msg.GroupID] == id {
				delete(q.groups, e.msg.GroupID)
			}
		}
		if g := e.msg.GroupID; g != "" {
			if busy[g] {
				continue
			}
			if holder, ok := q.groups[g]; ok && holder != id {
				busy[g] = true
				continue
			}
			q.groups[g] = id
			busy[g] = true
		}

		e.inFlight = true
		e.visibleAt = now.Add(q.visibilityTimeout)
		e.msg.ReceiveCount++
		cp := e.msg
		out = append(out, &cp)
	}
	return out
}

// Delete 删除消息并释放组锁
func (q *Queue) Delete(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return nil
	}
	delete(q.entries, id)
	if g := e.msg.GroupID; g != "" && q.groups[g] == id {
		delete(q.groups, g)
	}
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len 队列中未删除的消息数
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
