package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	market "github.com/wyfcoding/economyengine/internal/market/domain"
	"github.com/wyfcoding/economyengine/internal/simulation/domain"
	"github.com/wyfcoding/economyengine/pkg/apperr"
	"github.com/wyfcoding/economyengine/pkg/idgen"
)

// Transactor 在单个数据库事务内执行 fn，*db.TxManager 满足该接口
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SimulationConfig 模拟默认参数
type SimulationConfig struct {
	StartDate   time.Time
	DayDuration time.Duration
	PriceFloor  decimal.Decimal
}

// StartSimulationCommand 启动模拟
type StartSimulationCommand struct {
	SimulationID string `json:"simulation_id"`
	// StartDate YYYY-MM-DD，为空时使用配置
	StartDate string `json:"start_date"`
	// DayDuration 例如 "2m"，为空时使用配置
	DayDuration string `json:"day_duration"`
	// Catalog 为空时使用标准初始库存
	Catalog Catalog `json:"catalog,omitempty"`
}

// ClockDTO 时钟视图
type ClockDTO struct {
	SimulationID  string `json:"simulation_id"`
	Status        string `json:"status"`
	CurrentDay    int    `json:"current_day"`
	SimulatedDate string `json:"simulated_date"`
	TimeOfDay     string `json:"time_of_day"`
	DayDuration   string `json:"day_duration"`
}

// SimulationService 模拟生命周期：启动、结束、查询、时钟基准重置
type SimulationService struct {
	clocks    domain.ClockRepository
	markets   market.MarketRepository
	store     *SessionStore
	tx        Transactor
	publisher domain.EventPublisher
	backlog   domain.RecyclingBacklog
	cfg       SimulationConfig
	now       func() time.Time
	logger    *slog.Logger
}

// NewSimulationService 构造函数。
func NewSimulationService(clocks domain.ClockRepository, markets market.MarketRepository, store *SessionStore,
	tx Transactor, cfg SimulationConfig, logger *slog.Logger,
) *SimulationService {
	return &SimulationService{
		clocks:  clocks,
		markets: markets,
		store:   store,
		tx:      tx,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With("module", "simulation_service"),
	}
}

func (s *SimulationService) SetEventPublisher(p domain.EventPublisher) {
	s.publisher = p
}

func (s *SimulationService) SetRecyclingBacklog(b domain.RecyclingBacklog) {
	s.backlog = b
}

// StartSimulation 创建并启动时钟，按目录初始化三个市场
func (s *SimulationService) StartSimulation(ctx context.Context, cmd StartSimulationCommand) (*ClockDTO, error) {
	simulationID := cmd.SimulationID
	if simulationID == "" {
		simulationID = idgen.NewID("SIM-")
	}

	start := s.cfg.StartDate
	if cmd.StartDate != "" {
		t, err := time.Parse("2006-01-02", cmd.StartDate)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInvalidInput, "start_date must be YYYY-MM-DD", err)
		}
		start = t
	}
	dayDuration := s.cfg.DayDuration
	if cmd.DayDuration != "" {
		d, err := time.ParseDuration(cmd.DayDuration)
		if err != nil || d <= 0 {
			return nil, apperr.New(apperr.CodeInvalidInput, "day_duration must be a positive duration")
		}
		dayDuration = d
	}
	catalog := cmd.Catalog
	if len(catalog) == 0 {
		catalog = DefaultCatalog()
	}

	existing, err := s.clocks.Get(ctx, simulationID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.WithMetadata(apperr.CodeSimulationExists, "simulation already exists",
			map[string]string{"simulation_id": simulationID})
	}

	clock := domain.NewClock(simulationID, start, dayDuration)
	if err := clock.Start(s.now()); err != nil {
		return nil, err
	}
	markets := make(map[market.Kind]*market.Market, len(market.Kinds))
	for _, kind := range market.Kinds {
		lines, err := catalog.Lines(kind)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInvalidInput, "invalid catalog", err)
		}
		markets[kind] = market.NewMarket(simulationID, kind, s.cfg.PriceFloor, lines)
	}

	err = s.tx.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.clocks.Save(txCtx, clock); err != nil {
			return err
		}
		for _, m := range markets {
			if err := s.markets.Save(txCtx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist new simulation: %w", err)
	}
	for _, m := range markets {
		m.ClearDirty()
	}

	s.store.Put(domain.NewSession(clock, markets))
	s.logger.InfoContext(ctx, "simulation started", "simulation_id", simulationID,
		"start_date", clock.StartInstant.Format("2006-01-02"), "day_duration", dayDuration)
	return s.toDTO(clock), nil
}

// StopSimulation 结束模拟
func (s *SimulationService) StopSimulation(ctx context.Context, simulationID string) (*ClockDTO, error) {
	session, err := s.store.Get(ctx, simulationID)
	if err != nil {
		return nil, err
	}
	session.Lock()
	defer session.Unlock()

	staged := session.Clock().Clone()
	if err := staged.End(s.now()); err != nil {
		return nil, err
	}
	if err := s.clocks.Save(ctx, staged); err != nil {
		return nil, err
	}
	session.Commit(staged, nil)

	s.logger.InfoContext(ctx, "simulation stopped", "simulation_id", simulationID, "final_day", staged.CurrentDay)
	if s.publisher != nil {
		event := domain.SimulationStoppedEvent{SimulationID: simulationID, FinalDay: staged.CurrentDay, OccurredAt: s.now()}
		if err := s.publisher.PublishSimulationStopped(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "failed to publish simulation stopped event", "simulation_id", simulationID, "error", err)
		}
	}
	return s.toDTO(staged), nil
}

// Clock 查询当前模拟日期与日内时间
func (s *SimulationService) Clock(ctx context.Context, simulationID string) (*ClockDTO, error) {
	session, err := s.store.Get(ctx, simulationID)
	if err != nil {
		return nil, err
	}
	session.Lock()
	defer session.Unlock()
	return s.toDTO(session.Clock()), nil
}

// ResyncEpoch 重置真实时间基准，实现队列处理器的 EpochResyncer
func (s *SimulationService) ResyncEpoch(ctx context.Context, simulationID string, epoch time.Time) error {
	session, err := s.store.Get(ctx, simulationID)
	if err != nil {
		return err
	}
	session.Lock()
	defer session.Unlock()

	staged := session.Clock().Clone()
	if err := staged.Resync(epoch); err != nil {
		return err
	}
	if err := s.clocks.Save(ctx, staged); err != nil {
		return err
	}
	session.Commit(staged, nil)

	s.logger.InfoContext(ctx, "simulation epoch resynced", "simulation_id", simulationID, "epoch", epoch)
	return nil
}

// ReportRecyclable 登记报废手机，下一个回收日统一入队
func (s *SimulationService) ReportRecyclable(ctx context.Context, simulationID string, group domain.RecyclableGroup) error {
	if group.Model == "" || group.Quantity <= 0 {
		return apperr.New(apperr.CodeInvalidInput, "model and a positive quantity are required")
	}
	if s.backlog == nil {
		return apperr.New(apperr.CodeInternal, "recycling backlog not configured")
	}
	session, err := s.store.Get(ctx, simulationID)
	if err != nil {
		return err
	}
	// 与每日推进的积压快照串行，登记 ID 与批次边界一致
	session.Lock()
	defer session.Unlock()
	if clock := session.Clock(); !clock.IsRunning() {
		return domain.NotRunningError(simulationID, clock.Status)
	}
	return s.backlog.Add(ctx, simulationID, group)
}

func (s *SimulationService) toDTO(c *domain.Clock) *ClockDTO {
	dto := &ClockDTO{
		SimulationID:  c.SimulationID,
		Status:        string(c.Status),
		CurrentDay:    c.CurrentDay,
		SimulatedDate: c.CurrentSimulatedDate().Format("2006-01-02"),
		TimeOfDay:     "00:00:00",
		DayDuration:   c.DayDuration.String(),
	}
	if c.IsRunning() {
		dto.TimeOfDay = c.TimeOfDay(s.now())
	}
	return dto
}
