package application

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	market "github.com/wyfcoding/economyengine/internal/market/domain"
	"github.com/wyfcoding/economyengine/internal/simulation/domain"
	"github.com/wyfcoding/economyengine/pkg/apperr"
	"github.com/wyfcoding/economyengine/pkg/logger"
	"github.com/wyfcoding/economyengine/pkg/metrics"
)

// AdvanceResult 一次每日推进的结果
type AdvanceResult struct {
	SimulationID  string `json:"simulation_id"`
	Day           int    `json:"day"`
	SimulatedDate string `json:"simulated_date"`
	Recycled      bool   `json:"recycled"`
}

// lockedRand 多个模拟可并发推进，*rand.Rand 需要加锁
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// NewRandomSource seed 为 0 时使用随机种子
func NewRandomSource(seed uint64) market.RandomSource {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &lockedRand{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Orchestrator 每日推进编排：回收批次、时钟推进、市场漂移、每日批处理与持久化
type Orchestrator struct {
	sessions         domain.Sessions
	clocks           domain.ClockRepository
	markets          market.MarketRepository
	backlog          domain.RecyclingBacklog
	recycler         domain.RecycleScheduler
	passes           []domain.DailyPass
	tx               Transactor
	publisher        domain.EventPublisher
	rng              market.RandomSource
	recycleEveryDays int
	metrics          *metrics.Metrics
	now              func() time.Time
	logger           *slog.Logger
}

// NewOrchestrator 构造函数。
func NewOrchestrator(sessions domain.Sessions, clocks domain.ClockRepository, markets market.MarketRepository,
	tx Transactor, rng market.RandomSource, logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		sessions:         sessions,
		clocks:           clocks,
		markets:          markets,
		tx:               tx,
		rng:              rng,
		recycleEveryDays: 7,
		now:              time.Now,
		logger:           logger.With("module", "orchestrator"),
	}
}

// SetRecycling 设置回收积压与批次入队
func (o *Orchestrator) SetRecycling(backlog domain.RecyclingBacklog, recycler domain.RecycleScheduler, everyDays int) {
	o.backlog = backlog
	o.recycler = recycler
	if everyDays > 0 {
		o.recycleEveryDays = everyDays
	}
}

// AddPass 追加每日批处理，按添加顺序执行
func (o *Orchestrator) AddPass(p domain.DailyPass) {
	o.passes = append(o.passes, p)
}

func (o *Orchestrator) SetEventPublisher(p domain.EventPublisher) {
	o.publisher = p
}

func (o *Orchestrator) SetMetrics(m *metrics.Metrics) {
	o.metrics = m
}

// Advance 推进一个模拟日。所有修改先作用于副本，事务提交后才替换会话状态，
// 失败的推进可以直接重试
func (o *Orchestrator) Advance(ctx context.Context, simulationID string) (*AdvanceResult, error) {
	defer logger.LogDuration(ctx, "daily advancement finished", "simulation_id", simulationID)()

	res, err := o.advance(ctx, simulationID)
	if err != nil {
		o.metrics.AdvanceFailed(string(apperr.KindOf(err)))
		o.logger.ErrorContext(ctx, "daily advancement failed", "simulation_id", simulationID, "error", err)
		return nil, err
	}

	o.metrics.DayAdvanced(simulationID)
	o.logger.InfoContext(ctx, "simulated day advanced", "simulation_id", simulationID,
		"day", res.Day, "simulated_date", res.SimulatedDate, "recycled", res.Recycled)

	if o.publisher != nil {
		event := domain.DayAdvancedEvent{
			SimulationID:  simulationID,
			Day:           res.Day,
			SimulatedDate: res.SimulatedDate,
			Recycled:      res.Recycled,
			OccurredAt:    o.now(),
		}
		if err := o.publisher.PublishDayAdvanced(ctx, event); err != nil {
			o.logger.WarnContext(ctx, "failed to publish day advanced event", "simulation_id", simulationID, "error", err)
		}
	}
	return res, nil
}

func (o *Orchestrator) advance(ctx context.Context, simulationID string) (*AdvanceResult, error) {
	session, err := o.sessions.Get(ctx, simulationID)
	if err != nil {
		return nil, err
	}
	session.Lock()
	defer session.Unlock()

	current := session.Clock()
	if !current.IsRunning() {
		return nil, domain.NotRunningError(simulationID, current.Status)
	}

	clock := current.Clone()
	staged := make(map[market.Kind]*market.Market, len(market.Kinds))
	for _, kind := range market.Kinds {
		m, err := session.Market(kind)
		if err != nil {
			return nil, err
		}
		staged[kind] = m.Clone()
	}

	recycled, err := o.scheduleRecycle(ctx, clock)
	if err != nil {
		return nil, err
	}

	if err := clock.AdvanceDay(); err != nil {
		return nil, err
	}
	for _, kind := range market.Kinds {
		if err := staged[kind].ApplyDailyRandomness(clock.CurrentDay, o.rng); err != nil {
			return nil, err
		}
	}

	for _, p := range o.passes {
		if err := p.Run(ctx, simulationID, clock.CurrentDay); err != nil {
			o.logger.WarnContext(ctx, "daily pass failed", "simulation_id", simulationID, "pass", p.Name(), "error", err)
		}
	}

	err = o.tx.WithTx(ctx, func(txCtx context.Context) error {
		if err := o.clocks.Save(txCtx, clock); err != nil {
			return err
		}
		for _, kind := range market.Kinds {
			if err := o.markets.Save(txCtx, staged[kind]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, m := range staged {
		m.ClearDirty()
	}
	session.Commit(clock, staged)

	return &AdvanceResult{
		SimulationID:  simulationID,
		Day:           clock.CurrentDay,
		SimulatedDate: clock.CurrentSimulatedDate().Format("2006-01-02"),
		Recycled:      recycled,
	}, nil
}

// scheduleRecycle 每 recycleEveryDays 天把非空积压作为一个批次送入业务队列
func (o *Orchestrator) scheduleRecycle(ctx context.Context, clock *domain.Clock) (bool, error) {
	if o.backlog == nil || o.recycler == nil || clock.CurrentDay%o.recycleEveryDays != 0 {
		return false, nil
	}

	snapshot, err := o.backlog.Recyclable(ctx, clock.SimulationID)
	if err != nil {
		return false, err
	}
	total := snapshot.Total()
	if total == 0 {
		return false, nil
	}

	batch := domain.RecycleBatch{
		SimulationID:  clock.SimulationID,
		SimulatedDate: clock.CurrentSimulatedDate().Format("2006-01-02"),
		TotalQuantity: total,
		Groups:        snapshot.Groups,
		UpToID:        snapshot.UpToID,
	}
	if err := o.recycler.ScheduleRecycle(ctx, batch); err != nil {
		return false, err
	}
	o.metrics.RecycleBatchEnqueued()
	o.logger.InfoContext(ctx, "recycling batch enqueued", "simulation_id", clock.SimulationID,
		"simulated_date", batch.SimulatedDate, "total", total, "dedup_key", batch.DedupKey())
	return true, nil
}
