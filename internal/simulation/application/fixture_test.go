package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	market "github.com/wyfcoding/economyengine/internal/market/domain"
	marketmysql "github.com/wyfcoding/economyengine/internal/market/infrastructure/persistence/mysql"
	"github.com/wyfcoding/economyengine/internal/queue/infrastructure/memory"
	"github.com/wyfcoding/economyengine/internal/simulation/domain"
	"github.com/wyfcoding/economyengine/internal/simulation/infrastructure/dispatch"
	simmysql "github.com/wyfcoding/economyengine/internal/simulation/infrastructure/persistence/mysql"
	"github.com/wyfcoding/economyengine/pkg/db"
	"github.com/wyfcoding/economyengine/pkg/logger"
	"github.com/wyfcoding/economyengine/pkg/metrics"
)

// fixedRand 固定值随机源，0.5 时漂移因子恰为 1
type fixedRand float64

func (r fixedRand) Float64() float64 { return float64(r) }

// flakyClocks Save 可按需失败
type flakyClocks struct {
	domain.ClockRepository
	fail atomic.Bool
}

func (f *flakyClocks) Save(ctx context.Context, c *domain.Clock) error {
	if f.fail.Load() {
		return errors.New("database unavailable")
	}
	return f.ClockRepository.Save(ctx, c)
}

type recordingEvents struct {
	mu      sync.Mutex
	days    []domain.DayAdvancedEvent
	stopped []domain.SimulationStoppedEvent
}

func (r *recordingEvents) PublishDayAdvanced(_ context.Context, e domain.DayAdvancedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.days = append(r.days, e)
	return nil
}

func (r *recordingEvents) PublishSimulationStopped(_ context.Context, e domain.SimulationStoppedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, e)
	return nil
}

type simFixture struct {
	clocks       *flakyClocks
	markets      market.MarketRepository
	backlog      domain.RecyclingBacklog
	store        *SessionStore
	service      *SimulationService
	orchestrator *Orchestrator
	business     *memory.Queue
	events       *recordingEvents
	metrics      *metrics.Metrics
}

func newSimFixture(t *testing.T) *simFixture {
	t.Helper()
	database, err := db.Init(db.Config{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	gdb := database.DB
	require.NoError(t, simmysql.AutoMigrate(gdb))
	require.NoError(t, marketmysql.AutoMigrate(gdb))

	clocks := &flakyClocks{ClockRepository: simmysql.NewClockRepository(gdb)}
	markets := marketmysql.NewMarketRepository(gdb)
	backlog := simmysql.NewRecyclingBacklog(gdb)
	tx := db.NewTxManager(gdb)
	store := NewSessionStore(clocks, markets, logger.Discard())
	events := &recordingEvents{}

	service := NewSimulationService(clocks, markets, store, tx, SimulationConfig{
		StartDate:   time.Date(2050, 1, 1, 0, 0, 0, 0, time.UTC),
		DayDuration: 2 * time.Minute,
		PriceFloor:  decimal.RequireFromString("0.01"),
	}, logger.Discard())
	service.SetEventPublisher(events)
	service.SetRecyclingBacklog(backlog)

	m := metrics.New("test")
	require.NoError(t, m.Register(prometheus.NewRegistry()))

	business := memory.New("business", time.Minute, time.Hour)
	orchestrator := NewOrchestrator(store, clocks, markets, tx, fixedRand(0.5), logger.Discard())
	orchestrator.SetRecycling(backlog, dispatch.NewRecycleScheduler(business), 7)
	orchestrator.SetEventPublisher(events)
	orchestrator.SetMetrics(m)

	return &simFixture{
		clocks:       clocks,
		markets:      markets,
		backlog:      backlog,
		store:        store,
		service:      service,
		orchestrator: orchestrator,
		business:     business,
		events:       events,
		metrics:      m,
	}
}

func (f *simFixture) start(t *testing.T, id string) {
	t.Helper()
	_, err := f.service.StartSimulation(context.Background(), StartSimulationCommand{SimulationID: id})
	require.NoError(t, err)
}
