// Package redis 提供基于 Redis 的持久化队列实现
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/economyengine/internal/queue/domain"
	"github.com/wyfcoding/economyengine/pkg/idgen"
)

// pollStep 长轮询期间的检查间隔
const pollStep = 100 * time.Millisecond

// releaseGroupScript 仅当组锁仍由该消息持有时才释放
var releaseGroupScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// claimScanLimit 每次认领最多检查的 ready 条目数
const claimScanLimit = 500

// claimScript 从 ready 中按序认领可投递的消息：移出 ready、受组锁约束、receive_count+1、登记 in-flight。
// 被组锁挡住的消息留在原位。
// KEYS: ready, inflight; ARGV: 键前缀, max, 可见时刻, 组锁毫秒, 扫描上限
var claimScript = redis.NewScript(`
local ids = redis.call("LRANGE", KEYS[1], 0, tonumber(ARGV[5]) - 1)
local max = tonumber(ARGV[2])
local busy = {}
local out = {}
for _, id in ipairs(ids) do
	if #out >= max then
		break
	end
	local mkey = ARGV[1] .. "msg:" .. id
	if redis.call("EXISTS", mkey) == 0 then
		redis.call("LREM", KEYS[1], 1, id)
	else
		local ok = true
		local group = redis.call("HGET", mkey, "group_id")
		if group and group ~= "" then
			if busy[group] then
				ok = false
			else
				busy[group] = true
				local gkey = ARGV[1] .. "group:" .. group
				local holder = redis.call("GET", gkey)
				if holder and holder ~= id then
					ok = false
				else
					redis.call("SET", gkey, id, "PX", ARGV[4])
				end
			end
		end
		if ok then
			redis.call("LREM", KEYS[1], 1, id)
			redis.call("HINCRBY", mkey, "receive_count", 1)
			redis.call("ZADD", KEYS[2], ARGV[3], id)
			table.insert(out, id)
		end
	end
end
return out
`)

// promoteScript 把有序集合中到期的消息移入 ready；ARGV[3] 为 1 时放队首并释放组锁
// KEYS: 源有序集合, ready; ARGV: 截止分数, 键前缀, 模式
var promoteScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, id in ipairs(ids) do
	redis.call("ZREM", KEYS[1], id)
	if ARGV[3] == "1" then
		local group = redis.call("HGET", ARGV[2] .. "msg:" .. id, "group_id")
		if group and group ~= "" then
			local gkey = ARGV[2] .. "group:" .. group
			if redis.call("GET", gkey) == id then
				redis.call("DEL", gkey)
			end
		end
		redis.call("LPUSH", KEYS[2], id)
	else
		redis.call("RPUSH", KEYS[2], id)
	end
end
return #ids
`)

// Config 队列配置
type Config struct {
	Prefix            string
	VisibilityTimeout time.Duration
	DedupWindow       time.Duration
}

// Queue Redis 队列：ready 列表、in-flight 与 delayed 有序集合、消息哈希（含 receive_count）
type Queue struct {
	client *redis.Client
	name   string
	cfg    Config
	now    func() time.Time
}

// Option 队列选项
type Option func(*Queue)

// WithClock 注入时间源，用于可见性与延迟计算
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New 创建 Redis 队列
func New(client *redis.Client, name string, cfg Config, opts ...Option) *Queue {
	q := &Queue{client: client, name: name, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) key(suffix string) string {
	return fmt.Sprintf("%s:%s:%s", q.cfg.Prefix, q.name, suffix)
}

func (q *Queue) msgKey(id string) string      { return q.key("msg:" + id) }
func (q *Queue) dedupKey(id string) string    { return q.key("dedup:" + id) }
func (q *Queue) groupKey(group string) string { return q.key("group:" + group) }

func score(t time.Time) float64 { return float64(t.UnixMilli()) }

// Send 入队；去重窗口内相同 DedupID 的消息被静默丢弃
func (q *Queue) Send(ctx context.Context, msg *domain.Message) error {
	if msg.DedupID != "" {
		ok, err := q.client.SetNX(ctx, q.dedupKey(msg.DedupID), "1", q.cfg.DedupWindow).Result()
		if err != nil {
			return fmt.Errorf("dedup check failed: %w", err)
		}
		if !ok {
			return nil
		}
	}
	if msg.ID == "" {
		msg.ID = idgen.NewID("msg-")
	}

	body, err := json.Marshal(msg.Body)
	if err != nil {
		return fmt.Errorf("failed to marshal message body: %w", err)
	}

	now := q.now()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.msgKey(msg.ID), map[string]any{
			"body":          body,
			"group_id":      msg.GroupID,
			"dedup_id":      msg.DedupID,
			"receive_count": 0,
			"sent_at":       now.UnixMilli(),
		})
		if msg.Delay > 0 {
			pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: score(now.Add(msg.Delay)), Member: msg.ID})
		} else {
			pipe.RPush(ctx, q.key("ready"), msg.ID)
		}
		return nil
	})
	if err != nil {
		if msg.DedupID != "" {
			q.client.Del(ctx, q.dedupKey(msg.DedupID))
		}
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

// Receive 长轮询接收；max 为 0 时只做连通性检查
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]*domain.Message, error) {
	if max <= 0 {
		return nil, q.client.Ping(ctx).Err()
	}

	deadline := time.Now().Add(wait)
	for {
		if err := q.promote(ctx); err != nil {
			return nil, err
		}
		msgs, err := q.take(ctx, max)
		if err != nil || len(msgs) > 0 {
			return msgs, err
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
		case <-timer.C:
		}
	}
}

// promote 将到期的延迟消息与可见性超时的 in-flight 消息移回 ready
func (q *Queue) promote(ctx context.Context) error {
	upTo := strconv.FormatFloat(score(q.now()), 'f', 0, 64)
	if err := promoteScript.Run(ctx, q.client, []string{q.key("delayed"), q.key("ready")}, upTo, q.key(""), 0).Err(); err != nil {
		return fmt.Errorf("failed to promote delayed messages: %w", err)
	}
	// 重新投递的消息排在队首，并释放其组锁
	if err := promoteScript.Run(ctx, q.client, []string{q.key("inflight"), q.key("ready")}, upTo, q.key(""), 1).Err(); err != nil {
		return fmt.Errorf("failed to requeue expired messages: %w", err)
	}
	return nil
}

// take 原子地认领消息后再读取内容；读取失败的消息留在 in-flight，超时后重新投递
func (q *Queue) take(ctx context.Context, limit int) ([]*domain.Message, error) {
	visibleAt := strconv.FormatFloat(score(q.now().Add(q.cfg.VisibilityTimeout)), 'f', 0, 64)
	ids, err := claimScript.Run(ctx, q.client,
		[]string{q.key("ready"), q.key("inflight")},
		q.key(""), limit, visibleAt, max(q.cfg.VisibilityTimeout.Milliseconds(), 1), claimScanLimit,
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to claim messages: %w", err)
	}

	out := make([]*domain.Message, 0, len(ids))
	for _, id := range ids {
		fields, err := q.client.HGetAll(ctx, q.msgKey(id)).Result()
		if err != nil {
			return out, fmt.Errorf("failed to load message %s: %w", id, err)
		}
		if len(fields) == 0 {
			continue
		}
		count, _ := strconv.Atoi(fields["receive_count"])

		var body domain.Body
		if err := json.Unmarshal([]byte(fields["body"]), &body); err != nil {
			// 无法解码的消息交给消费者按未知类型处理
			body = domain.Body{Type: "", Payload: json.RawMessage(fields["body"])}
		}
		out = append(out, &domain.Message{
			ID:           id,
			Body:         body,
			GroupID:      fields["group_id"],
			DedupID:      fields["dedup_id"],
			ReceiveCount: count,
		})
	}
	return out, nil
}

// Delete 删除消息并释放组锁
func (q *Queue) Delete(ctx context.Context, id string) error {
	group, err := q.client.HGet(ctx, q.msgKey(id), "group_id").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, q.msgKey(id))
		pipe.ZRem(ctx, q.key("inflight"), id)
		pipe.ZRem(ctx, q.key("delayed"), id)
		pipe.LRem(ctx, q.key("ready"), 0, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}
	if group != "" {
		return q.releaseGroup(ctx, group, id)
	}
	return nil
}

func (q *Queue) releaseGroup(ctx context.Context, group, id string) error {
	return releaseGroupScript.Run(ctx, q.client, []string{q.groupKey(group)}, id).Err()
}
