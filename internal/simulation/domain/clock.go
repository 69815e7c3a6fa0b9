// Package domain 模拟时钟与模拟会话的领域模型
package domain

import (
	"fmt"
	"math/bits"
	"time"

	"github.com/wyfcoding/economyengine/pkg/apperr"
)

// ClockStatus 时钟状态
type ClockStatus string

const (
	ClockNotStarted ClockStatus = "not_started"
	ClockRunning    ClockStatus = "running"
	ClockCompleted  ClockStatus = "completed"
)

// simulatedDay 一个模拟日的长度
const simulatedDay = 24 * time.Hour

// Clock 模拟时钟，将真实流逝时间映射到加速的模拟日历
type Clock struct {
	SimulationID string
	Status       ClockStatus
	// CurrentDay 只在 running 状态下单调递增
	CurrentDay int
	// StartInstant 模拟日历起点
	StartInstant time.Time
	// EpochStartInstant 真实时间基准，用于计算日内时间
	EpochStartInstant time.Time
	// DayDuration 一个模拟日对应的真实时长
	DayDuration time.Duration
	EndedAt     time.Time
}

// NewClock 创建未启动的时钟
func NewClock(simulationID string, startInstant time.Time, dayDuration time.Duration) *Clock {
	return &Clock{
		SimulationID: simulationID,
		Status:       ClockNotStarted,
		StartInstant: startInstant.UTC(),
		DayDuration:  dayDuration,
	}
}

// NotRunningError 时钟未处于运行状态
func NotRunningError(simulationID string, status ClockStatus) error {
	return apperr.WithMetadata(apperr.CodeClockNotRunning,
		fmt.Sprintf("simulation clock is not running (status=%s)", status),
		map[string]string{"simulation_id": simulationID, "status": string(status)})
}

// Start 启动时钟，只允许从 not_started 调用
func (c *Clock) Start(now time.Time) error {
	if c.Status != ClockNotStarted {
		return apperr.WithMetadata(apperr.CodeClockAlreadyStarted, "simulation clock already started",
			map[string]string{"simulation_id": c.SimulationID, "status": string(c.Status)})
	}
	c.Status = ClockRunning
	c.CurrentDay = 1
	c.EpochStartInstant = now.UTC()
	return nil
}

// AdvanceDay 推进一个模拟日
func (c *Clock) AdvanceDay() error {
	if c.Status != ClockRunning {
		return NotRunningError(c.SimulationID, c.Status)
	}
	c.CurrentDay++
	return nil
}

// End 结束模拟，之后不允许再推进
func (c *Clock) End(now time.Time) error {
	if c.Status == ClockCompleted {
		return NotRunningError(c.SimulationID, c.Status)
	}
	c.Status = ClockCompleted
	c.EndedAt = now.UTC()
	return nil
}

// Resync 重置真实时间基准
func (c *Clock) Resync(epoch time.Time) error {
	if c.Status != ClockRunning {
		return NotRunningError(c.SimulationID, c.Status)
	}
	c.EpochStartInstant = epoch.UTC()
	return nil
}

// IsRunning 是否运行中
func (c *Clock) IsRunning() bool {
	return c.Status == ClockRunning
}

// CurrentSimulatedDate 起点加上已经过的整模拟日
func (c *Clock) CurrentSimulatedDate() time.Time {
	return c.StartInstant.AddDate(0, 0, c.CurrentDay)
}

// TimeOfDay 按 DayDuration 缩放的日内时间，格式 HH:MM:SS
func (c *Clock) TimeOfDay(now time.Time) string {
	return ScaledTimeOfDay(now, c.EpochStartInstant, c.DayDuration)
}

// ScaledTimeOfDay 将 (now - epoch) mod dayDuration 缩放到 24 小时
func ScaledTimeOfDay(now, epoch time.Time, dayDuration time.Duration) string {
	elapsed := now.Sub(epoch)
	if elapsed <= 0 || dayDuration <= 0 {
		return "00:00:00"
	}
	// 128 位中间结果，避免长 DayDuration 溢出
	hi, lo := bits.Mul64(uint64(elapsed%dayDuration), uint64(simulatedDay/time.Second))
	q, _ := bits.Div64(hi, lo, uint64(dayDuration))
	secs := int(q)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

// Clone 复制时钟，用于暂存修改
func (c *Clock) Clone() *Clock {
	cp := *c
	return &cp
}
