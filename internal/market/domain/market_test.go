package domain

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/economyengine/pkg/apperr"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixedRand struct{ vals []float64 }

func (f *fixedRand) Float64() float64 {
	v := f.vals[0]
	if len(f.vals) > 1 {
		f.vals = f.vals[1:]
	}
	return v
}

func bulkMarket() *Market {
	return NewMarket("sim-1", KindBulkMaterial, d("1"), []InventoryLine{
		{ItemID: "m-copper", ItemName: "copper", UnitCost: d("10"), Quantity: d("10"), Weight: d("1")},
		{ItemID: "m-sand", ItemName: "sand", UnitCost: d("2"), Quantity: d("500"), Weight: d("1")},
	})
}

func equipmentMarket() *Market {
	return NewMarket("sim-1", KindEquipment, d("1"), []InventoryLine{
		{ItemID: "e-1", ItemName: "press", UnitCost: d("1000"), Quantity: d("1"), Weight: d("120"), OperatingCost: d("15")},
		{ItemID: "e-2", ItemName: "press", UnitCost: d("1000"), Quantity: d("1"), Weight: d("120"), OperatingCost: d("15")},
		{ItemID: "e-3", ItemName: "lathe", UnitCost: d("800"), Quantity: d("1"), Weight: d("90"), OperatingCost: d("9")},
	})
}

func TestReserveThenInsufficient(t *testing.T) {
	m := bulkMarket()

	ids, err := m.Reserve("copper", d("8"))
	require.NoError(t, err)
	assert.Equal(t, []string{"m-copper"}, ids)
	assert.True(t, d("2").Equal(m.AvailableQuantity("copper")))

	_, err = m.Reserve("copper", d("5"))
	var insufficient *InsufficientInventoryError
	require.True(t, errors.As(err, &insufficient))
	assert.True(t, d("2").Equal(insufficient.Available))
	assert.Equal(t, apperr.KindInsufficientInventory, apperr.KindOf(err))
	assert.True(t, d("2").Equal(m.AvailableQuantity("copper")))
}

func TestReserveUnknownItemReportsZero(t *testing.T) {
	m := bulkMarket()
	_, err := m.Reserve("gold", d("1"))
	var insufficient *InsufficientInventoryError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Available.IsZero())
}

func TestReserveRejectsNonPositive(t *testing.T) {
	m := bulkMarket()
	for _, q := range []string{"0", "-1"} {
		_, err := m.Reserve("copper", d(q))
		assert.Equal(t, apperr.CodeInvalidQuantity, apperr.CodeOf(err))
	}
}

func TestReserveDiscreteUnits(t *testing.T) {
	m := equipmentMarket()

	ids, err := m.Reserve("press", d("2"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"e-1", "e-2"}, ids)
	assert.True(t, m.AvailableQuantity("press").IsZero())

	_, err = m.Reserve("press", d("1"))
	assert.True(t, apperr.IsKind(err, apperr.KindInsufficientInventory))

	_, err = m.Reserve("lathe", d("0.5"))
	assert.Equal(t, apperr.CodeInvalidQuantity, apperr.CodeOf(err))

	assert.Len(t, m.Available(), 1)
}

func TestReleaseRestoresReservation(t *testing.T) {
	bulk := bulkMarket()
	ids, err := bulk.Reserve("copper", d("4"))
	require.NoError(t, err)
	bulk.Release("copper", d("4"), ids)
	assert.True(t, d("10").Equal(bulk.AvailableQuantity("copper")))

	eq := equipmentMarket()
	ids, err = eq.Reserve("press", d("1"))
	require.NoError(t, err)
	eq.Release("press", d("1"), ids)
	assert.True(t, d("2").Equal(eq.AvailableQuantity("press")))
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	m := NewMarket("sim-1", KindBulkMaterial, d("1"), []InventoryLine{
		{ItemID: "m-1", ItemName: "copper", UnitCost: d("5"), Quantity: d("100")},
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Reserve("copper", d("3")); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 33, succeeded)
	assert.True(t, d("1").Equal(m.AvailableQuantity("copper")))
}

func TestUpdatePrice(t *testing.T) {
	m := equipmentMarket()

	require.NoError(t, m.UpdatePrice("press", d("1500")))
	cost, err := m.UnitCost("press")
	require.NoError(t, err)
	assert.True(t, d("1500").Equal(cost))

	err = m.UpdatePrice("press", d("-1"))
	assert.Equal(t, apperr.CodeInvalidPrice, apperr.CodeOf(err))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	err = m.UpdatePrice("drill", d("5"))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDailyRandomnessBoundsAndFloor(t *testing.T) {
	m := NewMarket("sim-1", KindBulkMaterial, d("1"), []InventoryLine{
		{ItemID: "m-1", ItemName: "copper", UnitCost: d("100"), Quantity: d("1000")},
		{ItemID: "m-2", ItemName: "dust", UnitCost: d("1"), Quantity: d("10")},
	})
	rng := rand.New(rand.NewPCG(1, 2))

	prev := m.Lines()
	for day := 1; day <= 200; day++ {
		require.NoError(t, m.ApplyDailyRandomness(day, rng))
		for i, line := range m.Lines() {
			assert.True(t, line.UnitCost.GreaterThanOrEqual(d("1")), "floor violated on day %d", day)
			assert.False(t, line.Quantity.IsNegative())
			lo := prev[i].UnitCost.Mul(d("0.9")).Round(2)
			hi := prev[i].UnitCost.Mul(d("1.1")).Round(2)
			if lo.GreaterThanOrEqual(d("1")) {
				assert.True(t, line.UnitCost.GreaterThanOrEqual(lo) && line.UnitCost.LessThanOrEqual(hi))
			}
		}
		prev = m.Lines()
	}
}

func TestDailyRandomnessOncePerDay(t *testing.T) {
	m := bulkMarket()
	rng := &fixedRand{vals: []float64{0.5}}
	require.NoError(t, m.ApplyDailyRandomness(3, rng))

	err := m.ApplyDailyRandomness(3, rng)
	assert.Equal(t, apperr.CodeDriftAlreadyApplied, apperr.CodeOf(err))
	err = m.ApplyDailyRandomness(2, rng)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	assert.NoError(t, m.ApplyDailyRandomness(4, rng))
}

func TestDailyRandomnessMidpointIsIdentity(t *testing.T) {
	m := bulkMarket()
	require.NoError(t, m.ApplyDailyRandomness(1, &fixedRand{vals: []float64{0.5}}))

	cost, _ := m.UnitCost("copper")
	assert.True(t, d("10").Equal(cost))
	assert.True(t, d("10").Equal(m.AvailableQuantity("copper")))
}

func TestDailyRandomnessNaNAbortsWithoutChange(t *testing.T) {
	m := bulkMarket()
	before := m.Lines()

	err := m.ApplyDailyRandomness(1, &fixedRand{vals: []float64{0.5, 0.5, math.NaN()}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindFatalInvariant, apperr.KindOf(err))
	assert.Equal(t, before, m.Lines())
	assert.Equal(t, 0, m.LastDriftDay)
}

func TestDailyRandomnessNegativeWeightIsFatal(t *testing.T) {
	m := NewMarket("sim-1", KindVehicle, d("1"), []InventoryLine{
		{ItemID: "v-1", ItemName: "truck", UnitCost: d("5000"), Quantity: d("1"), Weight: d("-1")},
	})
	err := m.ApplyDailyRandomness(1, &fixedRand{vals: []float64{0.5}})
	assert.Equal(t, apperr.CodeDriftInvariant, apperr.CodeOf(err))
}

func TestDiscreteDriftLeavesQuantity(t *testing.T) {
	m := equipmentMarket()
	require.NoError(t, m.ApplyDailyRandomness(1, &fixedRand{vals: []float64{1}}))
	for _, line := range m.Lines() {
		assert.True(t, d("1").Equal(line.Quantity))
	}
	cost, _ := m.UnitCost("press")
	assert.True(t, d("1100").Equal(cost))
}

func TestCloneIsDeep(t *testing.T) {
	m := bulkMarket()
	cp := m.Clone()
	_, err := cp.Reserve("copper", d("10"))
	require.NoError(t, err)

	assert.True(t, d("10").Equal(m.AvailableQuantity("copper")))
	assert.True(t, cp.AvailableQuantity("copper").IsZero())
}

func TestDirtyTracking(t *testing.T) {
	m := bulkMarket()
	assert.Len(t, m.DirtyLines(), 2)
	m.ClearDirty()
	assert.Empty(t, m.DirtyLines())

	_, err := m.Reserve("sand", d("1"))
	require.NoError(t, err)
	dirty := m.DirtyLines()
	require.Len(t, dirty, 1)
	assert.Equal(t, "m-sand", dirty[0].ItemID)
}

func TestOffersSkipSoldOut(t *testing.T) {
	m := equipmentMarket()
	_, err := m.Reserve("lathe", d("1"))
	require.NoError(t, err)

	offers := m.Offers()
	require.Len(t, offers, 1)
	assert.Equal(t, "press", offers[0].ItemName)
	assert.True(t, d("2").Equal(offers[0].Available))
}

func TestQuotesFollowUnsoldUnits(t *testing.T) {
	m := NewMarket("sim-1", KindEquipment, d("1"), []InventoryLine{
		{ItemID: "eq-1", ItemName: "drill", UnitCost: d("100"), Quantity: d("1"), Weight: d("10")},
		{ItemID: "eq-2", ItemName: "drill", UnitCost: d("100"), Quantity: d("1"), Weight: d("10")},
	})
	ids, err := m.Reserve("drill", d("1"))
	require.NoError(t, err)
	require.Equal(t, []string{"eq-1"}, ids)

	for day := 1; day <= 3; day++ {
		require.NoError(t, m.ApplyDailyRandomness(day, &fixedRand{vals: []float64{1}}))
	}

	unsold, ok := m.Line("eq-2")
	require.True(t, ok)
	assert.True(t, d("133.1").Equal(unsold.UnitCost))

	cost, err := m.UnitCost("drill")
	require.NoError(t, err)
	assert.True(t, d("133.1").Equal(cost))

	offers := m.Offers()
	require.Len(t, offers, 1)
	assert.True(t, d("133.1").Equal(offers[0].UnitCost))
	assert.True(t, d("1").Equal(offers[0].Available))
}

func TestSoldOutDiscreteItemHasNoQuote(t *testing.T) {
	m := equipmentMarket()
	_, err := m.Reserve("lathe", d("1"))
	require.NoError(t, err)

	_, err = m.UnitCost("lathe")
	var short *InsufficientInventoryError
	require.True(t, errors.As(err, &short))
	assert.True(t, short.Available.IsZero())
	assert.Equal(t, apperr.KindInsufficientInventory, apperr.KindOf(err))

	_, err = m.UnitCost("drill")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
