// Package dispatch 把每日推进中的回收批次与外部批处理写入持久化队列
package dispatch

import (
	"context"
	"fmt"
	"strconv"

	qdomain "github.com/wyfcoding/economyengine/internal/queue/domain"
	"github.com/wyfcoding/economyengine/internal/simulation/domain"
)

// recyclingGroup 回收消息的 FIFO 组
const recyclingGroup = "recycling"

// RecycleScheduler 实现 domain.RecycleScheduler，写入业务队列
type RecycleScheduler struct {
	queue qdomain.Queue
}

// NewRecycleScheduler 创建回收批次入队器
func NewRecycleScheduler(business qdomain.Queue) *RecycleScheduler {
	return &RecycleScheduler{queue: business}
}

// ScheduleRecycle 同一模拟日的批次使用相同去重键，失败后重试推进不会重复回收
func (s *RecycleScheduler) ScheduleRecycle(ctx context.Context, batch domain.RecycleBatch) error {
	msg, err := qdomain.NewMessage(qdomain.TypePhoneRecycle, qdomain.PhoneRecyclePayload{
		SimulationID:  batch.SimulationID,
		SimulatedDate: batch.SimulatedDate,
		TotalQuantity: batch.TotalQuantity,
		UpToID:        batch.UpToID,
	})
	if err != nil {
		return err
	}
	msg.GroupID = recyclingGroup
	msg.DedupID = batch.DedupKey()
	if err := s.queue.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to enqueue recycling batch %s: %w", batch.DedupKey(), err)
	}
	return nil
}

// QueuePass 以队列消息触发的每日批处理，实际逻辑由消费该消息类型的协作方完成
type QueuePass struct {
	name    string
	msgType string
	queue   qdomain.Queue
}

// NewEquipmentFailurePass 每日设备故障批处理，写入通知队列
func NewEquipmentFailurePass(notification qdomain.Queue) *QueuePass {
	return &QueuePass{name: "equipment_failure", msgType: qdomain.TypeEquipmentFailure, queue: notification}
}

// NewPhonePurchasePass 每日机会性采购批处理，写入业务队列
func NewPhonePurchasePass(business qdomain.Queue) *QueuePass {
	return &QueuePass{name: "phone_purchase", msgType: qdomain.TypePhonePurchase, queue: business}
}

func (p *QueuePass) Name() string { return p.name }

// Run 实现 domain.DailyPass
func (p *QueuePass) Run(ctx context.Context, simulationID string, day int) error {
	msg, err := qdomain.NewMessage(p.msgType, qdomain.SimulationDayPayload{SimulationID: simulationID, Day: day})
	if err != nil {
		return err
	}
	msg.DedupID = p.msgType + "-" + simulationID + "-" + strconv.Itoa(day)
	return p.queue.Send(ctx, msg)
}
