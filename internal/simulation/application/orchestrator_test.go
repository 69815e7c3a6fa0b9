package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	market "github.com/wyfcoding/economyengine/internal/market/domain"
	qdomain "github.com/wyfcoding/economyengine/internal/queue/domain"
	"github.com/wyfcoding/economyengine/internal/simulation/domain"
	"github.com/wyfcoding/economyengine/pkg/apperr"
)

type recordingPass struct {
	mu   sync.Mutex
	name string
	days []int
	err  error
}

func (p *recordingPass) Name() string { return p.name }

func (p *recordingPass) Run(_ context.Context, _ string, day int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.days = append(p.days, day)
	return p.err
}

func TestAdvanceMovesClockAndMarkets(t *testing.T) {
	f := newSimFixture(t)
	ctx := context.Background()
	f.start(t, "sim-1")

	res, err := f.orchestrator.Advance(ctx, "sim-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Day)
	assert.Equal(t, "2050-01-03", res.SimulatedDate)
	assert.False(t, res.Recycled)

	stored, err := f.clocks.Get(ctx, "sim-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CurrentDay)

	for _, kind := range market.Kinds {
		m, err := f.markets.Get(ctx, "sim-1", kind)
		require.NoError(t, err)
		assert.Equal(t, 2, m.LastDriftDay, kind)
	}

	require.Len(t, f.events.days, 1)
	assert.Equal(t, 2, f.events.days[0].Day)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DaysAdvanced.WithLabelValues("sim-1")))
}

func TestAdvanceAppliesDriftToStagedMarkets(t *testing.T) {
	f := newSimFixture(t)
	ctx := context.Background()
	f.start(t, "sim-1")
	// 因子 0.9 + 0.2*1.0 = 1.1
	f.orchestrator.rng = fixedRand(1.0)

	_, err := f.orchestrator.Advance(ctx, "sim-1")
	require.NoError(t, err)

	session, err := f.store.Get(ctx, "sim-1")
	require.NoError(t, err)
	vehicles, err := session.Market(market.KindVehicle)
	require.NoError(t, err)
	cost, err := vehicles.UnitCost("small_truck")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("495000").Equal(cost), cost.String())
	assert.Empty(t, vehicles.DirtyLines())
}

func TestAdvanceRejectsStoppedSimulation(t *testing.T) {
	f := newSimFixture(t)
	ctx := context.Background()
	f.start(t, "sim-1")
	_, err := f.service.StopSimulation(ctx, "sim-1")
	require.NoError(t, err)

	_, err = f.orchestrator.Advance(ctx, "sim-1")
	assert.Equal(t, apperr.CodeClockNotRunning, apperr.CodeOf(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AdvanceFailures.WithLabelValues(string(apperr.KindInvalidState))))
}

func TestAdvanceUnknownSimulation(t *testing.T) {
	f := newSimFixture(t)
	_, err := f.orchestrator.Advance(context.Background(), "missing")
	assert.Equal(t, apperr.CodePreconditionFailed, apperr.CodeOf(err))
}

func TestAdvanceEnqueuesRecyclingEverySeventhDay(t *testing.T) {
	f := newSimFixture(t)
	ctx := context.Background()
	f.start(t, "sim-1")
	require.NoError(t, f.backlog.Add(ctx, "sim-1", domain.RecyclableGroup{Model: "ePhone", Quantity: 4}))
	require.NoError(t, f.backlog.Add(ctx, "sim-1", domain.RecyclableGroup{Model: "Cosmos", Quantity: 1}))

	for day := 1; day < 7; day++ {
		res, err := f.orchestrator.Advance(ctx, "sim-1")
		require.NoError(t, err)
		assert.False(t, res.Recycled, "day %d", day)
	}
	assert.Zero(t, f.business.Len())

	res, err := f.orchestrator.Advance(ctx, "sim-1")
	require.NoError(t, err)
	assert.True(t, res.Recycled)
	assert.Equal(t, 8, res.Day)

	msgs, err := f.business.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, qdomain.TypePhoneRecycle, msgs[0].Body.Type)
	assert.Equal(t, "recycle-sim-1-2050-01-08", msgs[0].DedupID)

	var p qdomain.PhoneRecyclePayload
	require.NoError(t, msgs[0].Decode(&p))
	assert.Equal(t, int64(5), p.TotalQuantity)
	assert.Positive(t, p.UpToID)

	// 第 8 天不再入队，即便回收积压仍未消费
	res, err = f.orchestrator.Advance(ctx, "sim-1")
	require.NoError(t, err)
	assert.Equal(t, 9, res.Day)
	assert.False(t, res.Recycled)
	assert.Equal(t, 1, f.business.Len())
}

func TestAdvanceSkipsRecyclingWithEmptyBacklog(t *testing.T) {
	f := newSimFixture(t)
	ctx := context.Background()
	f.start(t, "sim-1")

	for i := 0; i < 7; i++ {
		_, err := f.orchestrator.Advance(ctx, "sim-1")
		require.NoError(t, err)
	}
	assert.Zero(t, f.business.Len())
}

func TestFailedAdvanceLeavesSessionUntouchedAndIsRetriable(t *testing.T) {
	f := newSimFixture(t)
	ctx := context.Background()
	f.start(t, "sim-1")

	f.clocks.fail.Store(true)
	_, err := f.orchestrator.Advance(ctx, "sim-1")
	require.Error(t, err)

	session, err := f.store.Get(ctx, "sim-1")
	require.NoError(t, err)
	session.Lock()
	assert.Equal(t, 1, session.Clock().CurrentDay)
	for _, kind := range market.Kinds {
		m, err := session.Market(kind)
		require.NoError(t, err)
		assert.Equal(t, 0, m.LastDriftDay, kind)
	}
	session.Unlock()
	assert.Empty(t, f.events.days)

	f.clocks.fail.Store(false)
	res, err := f.orchestrator.Advance(ctx, "sim-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Day)
}

func TestFailedRecyclingAdvanceDoesNotDuplicateBatch(t *testing.T) {
	f := newSimFixture(t)
	ctx := context.Background()
	f.start(t, "sim-1")
	require.NoError(t, f.backlog.Add(ctx, "sim-1", domain.RecyclableGroup{Model: "ePhone", Quantity: 2}))
	for i := 0; i < 6; i++ {
		_, err := f.orchestrator.Advance(ctx, "sim-1")
		require.NoError(t, err)
	}

	f.clocks.fail.Store(true)
	_, err := f.orchestrator.Advance(ctx, "sim-1")
	require.Error(t, err)
	f.clocks.fail.Store(false)
	_, err = f.orchestrator.Advance(ctx, "sim-1")
	require.NoError(t, err)

	assert.Equal(t, 1, f.business.Len())
}

func TestDailyPassFailureDoesNotAbortAdvance(t *testing.T) {
	f := newSimFixture(t)
	ctx := context.Background()
	f.start(t, "sim-1")

	broken := &recordingPass{name: "equipment_failure", err: errors.New("collaborator offline")}
	purchases := &recordingPass{name: "phone_purchase"}
	f.orchestrator.AddPass(broken)
	f.orchestrator.AddPass(purchases)

	_, err := f.orchestrator.Advance(ctx, "sim-1")
	require.NoError(t, err)
	_, err = f.orchestrator.Advance(ctx, "sim-1")
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3}, broken.days)
	assert.Equal(t, []int{2, 3}, purchases.days)
}

func TestConcurrentAdvancesAreSerialized(t *testing.T) {
	f := newSimFixture(t)
	ctx := context.Background()
	f.start(t, "sim-1")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orchestrator.Advance(ctx, "sim-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := f.clocks.Get(ctx, "sim-1")
	require.NoError(t, err)
	assert.Equal(t, 6, stored.CurrentDay)
}
