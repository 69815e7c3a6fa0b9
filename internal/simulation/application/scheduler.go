package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/wyfcoding/economyengine/internal/simulation/domain"
)

// Advancer 推进一个模拟日，*Orchestrator 满足该接口
type Advancer interface {
	Advance(ctx context.Context, simulationID string) (*AdvanceResult, error)
}

// Scheduler 每隔 interval 推进所有运行中的模拟
type Scheduler struct {
	clocks   domain.ClockRepository
	advancer Advancer
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler interval 通常等于配置的 DayDuration
func NewScheduler(clocks domain.ClockRepository, advancer Advancer, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		clocks:   clocks,
		advancer: advancer,
		interval: interval,
		logger:   logger.With("module", "scheduler"),
	}
}

// Run 阻塞直到 ctx 取消
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "day scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "day scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick 推进一次所有运行中的模拟，单个失败不影响其它模拟
func (s *Scheduler) Tick(ctx context.Context) {
	ids, err := s.clocks.ListRunning(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list running simulations", "error", err)
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.advancer.Advance(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "scheduled advancement failed", "simulation_id", id, "error", err)
		}
	}
}
