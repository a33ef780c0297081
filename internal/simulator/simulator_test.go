package simulator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cambistlabs/cambist/internal/broker"
	"github.com/cambistlabs/cambist/internal/pricegraph"
	"github.com/cambistlabs/cambist/pkg/quant"
)

func day(d int) time.Time {
	return time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC)
}

// constantSeries builds EUR/USD at 1.25 and USD/EUR at 0.8 over the given
// days.
func constantSeries(t *testing.T, days ...int) *MapSeriesStore {
	t.Helper()
	var eurusd, usdeur []quant.Observation
	for _, d := range days {
		eurusd = append(eurusd, quant.Observation{Time: day(d), Value: 1.25})
		usdeur = append(usdeur, quant.Observation{Time: day(d), Value: 0.8})
	}
	store, err := NewMapSeriesStore(map[pricegraph.Edge][]quant.Observation{
		{Num0: "EUR", Num1: "USD"}: eurusd,
		{Num0: "USD", Num1: "EUR"}: usdeur,
	})
	require.NoError(t, err)
	return store
}

func newSim(t *testing.T, store SeriesStore, filters ...Filter) *Simulator {
	t.Helper()
	sim, err := New(store, Config{
		DefaultNumeraire: "EUR",
		Filters:          filters,
		Logger:           zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return sim
}

func newState(t *testing.T, accounts map[string]quant.Amount) *broker.State {
	t.Helper()
	s, err := broker.NewState("EUR", accounts, nil, nil)
	require.NoError(t, err)
	return s
}

func TestGridIsSortedUnion(t *testing.T) {
	store, err := NewMapSeriesStore(map[pricegraph.Edge][]quant.Observation{
		{Num0: "EUR", Num1: "USD"}: {{Time: day(3), Value: 1.25}, {Time: day(1), Value: 1.2}},
		{Num0: "USD", Num1: "JPY"}: {{Time: day(2), Value: 110}, {Time: day(3), Value: 111}},
	})
	require.NoError(t, err)
	sim := newSim(t, store)
	assert.Equal(t, []time.Time{day(1), day(2), day(3)}, sim.Grid())
}

func TestNextAdvancesThroughGrid(t *testing.T) {
	sim := newSim(t, constantSeries(t, 1, 2, 3))
	st := newState(t, nil)

	// The initial position is the first grid point; the first tick moves past
	// it.
	now, err := sim.Next(st)
	require.NoError(t, err)
	assert.True(t, now.Equal(day(2)))
	assert.Equal(t, 1, st.TimeIndex)

	now, err = sim.Next(st)
	require.NoError(t, err)
	assert.True(t, now.Equal(day(3)))
	assert.Equal(t, 2, st.TimeIndex)

	_, err = sim.Next(st)
	assert.ErrorIs(t, err, broker.ErrNoMoreTime)

	// Calling past the sentinel is fatal.
	_, err = sim.Next(st)
	assert.ErrorIs(t, err, broker.ErrEndOfBacktest)
}

func TestStartTimePositionsGrid(t *testing.T) {
	store := constantSeries(t, 1, 2, 3, 4)
	sim, err := New(store, Config{DefaultNumeraire: "EUR", StartTime: day(3)})
	require.NoError(t, err)
	st := newState(t, nil)
	now, err := sim.Next(st)
	require.NoError(t, err)
	assert.True(t, now.Equal(day(4)))
}

func TestCurrentPricesRebuiltEachTick(t *testing.T) {
	store, err := NewMapSeriesStore(map[pricegraph.Edge][]quant.Observation{
		{Num0: "EUR", Num1: "USD"}: {{Time: day(1), Value: 1.25}, {Time: day(2), Value: 1.30}},
		{Num0: "USD", Num1: "JPY"}: {{Time: day(1), Value: 110}},
	})
	require.NoError(t, err)
	sim := newSim(t, store)
	st := newState(t, nil)

	_, err = sim.Next(st)
	require.NoError(t, err)
	// Day 2 has only the EUR/USD observation; the JPY edge is not tradeable.
	p, ok := st.CurrentPrices.Price("EUR", "USD")
	require.True(t, ok)
	assert.Equal(t, 1.30, p)
	_, ok = st.CurrentPrices.Price("USD", "JPY")
	assert.False(t, ok)
}

func TestOrdersExecuteOnTick(t *testing.T) {
	sim := newSim(t, constantSeries(t, 1, 2, 3))
	st := newState(t, map[string]quant.Amount{
		"EUR": {Value: 100, Num: "EUR"},
		"USD": {Value: 0, Num: "USD"},
	})
	o, err := broker.NewForwardTransferOrder("EUR", "USD", quant.Amount{Value: 10, Num: "EUR"})
	require.NoError(t, err)
	require.NoError(t, sim.FillOrder(o, st))

	_, err = sim.Next(st)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Active.Len())
	assert.Equal(t, 1, st.Executed.Len())
	assert.InDelta(t, 90.0, st.Accounts["EUR"].Value, 1e-9)
	assert.InDelta(t, 12.5, st.Accounts["USD"].Value, 1e-9)
}

func TestPostponedOrdersAgeAndRetry(t *testing.T) {
	// JPY is never priced on day 2, only on day 3.
	store, err := NewMapSeriesStore(map[pricegraph.Edge][]quant.Observation{
		{Num0: "EUR", Num1: "USD"}: {{Time: day(1), Value: 1.25}, {Time: day(2), Value: 1.25}, {Time: day(3), Value: 1.25}},
		{Num0: "EUR", Num1: "JPY"}: {{Time: day(1), Value: 130}, {Time: day(3), Value: 130}},
	})
	require.NoError(t, err)
	sim := newSim(t, store)
	st := newState(t, map[string]quant.Amount{
		"EUR": {Value: 100, Num: "EUR"},
		"JPY": {Value: 0, Num: "JPY"},
	})
	o, err := broker.NewForwardTransferOrder("EUR", "JPY", quant.Amount{Value: 10, Num: "EUR"})
	require.NoError(t, err)
	require.NoError(t, sim.FillOrder(o, st))

	_, err = sim.Next(st)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Active.Len())
	assert.Equal(t, 1, o.Meta().Age)

	_, err = sim.Next(st)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Active.Len())
	assert.InDelta(t, 90.0, st.Accounts["EUR"].Value, 1e-9)
	assert.InDelta(t, 1300.0, st.Accounts["JPY"].Value, 1e-9)
}

func TestOldestOrdersExecuteFirst(t *testing.T) {
	sim := newSim(t, constantSeries(t, 1, 2, 3))
	st := newState(t, map[string]quant.Amount{
		"EUR": {Value: 100, Num: "EUR"},
	})
	young, err := broker.NewDeleteAccountOrder("EUR")
	require.NoError(t, err)
	old, err := broker.NewAddToAccountBalanceOrder("EUR", -100)
	require.NoError(t, err)
	old.Meta().Age = 5
	st.Active.Push(young)
	st.Active.Push(old)

	_, err = sim.Next(st)
	require.NoError(t, err)
	// The aged defunding ran first, so the delete went through in the same
	// tick.
	assert.Equal(t, 2, st.Executed.Len())
	_, exists := st.Accounts["EUR"]
	assert.False(t, exists)
}

func TestOrderErrorAbortsTick(t *testing.T) {
	store, err := NewMapSeriesStore(map[pricegraph.Edge][]quant.Observation{
		{Num0: "EUR", Num1: "USD"}: {{Time: day(1), Value: 1.25}, {Time: day(2), Value: 1.25}},
	})
	require.NoError(t, err)
	sim := newSim(t, store)
	st := newState(t, nil)
	st.Variables["v"] = "a string"
	o, err := broker.NewAddToVariableOrder("v", 1)
	require.NoError(t, err)
	st.Active.Push(o)

	_, err = sim.Next(st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "T1")
}

func TestFillOrderAssignsGroupIDs(t *testing.T) {
	sim := newSim(t, constantSeries(t, 1, 2))
	st := newState(t, nil)
	a, err := broker.NewAddToVariableOrder("x", 1)
	require.NoError(t, err)
	b, err := broker.NewAddToVariableOrder("x", 2)
	require.NoError(t, err)
	require.NoError(t, sim.FillOrder(a, st))
	require.NoError(t, sim.FillOrder(b, st))
	assert.Equal(t, int64(1), a.Meta().GID)
	assert.Equal(t, int64(2), b.Meta().GID)
}

func TestFilterPipelineStages(t *testing.T) {
	sim := newSim(t, constantSeries(t, 1, 2),
		&TransactionCostFilter{CostAccount: "EUR", Cost: 1, CostVar: "tc"})
	st := newState(t, map[string]quant.Amount{
		"EUR": {Value: 100, Num: "EUR"},
		"USD": {Value: 0, Num: "USD"},
	})
	o, err := broker.NewBackwardTransferOrder("EUR", "USD", quant.Amount{Value: 10, Num: "EUR"})
	require.NoError(t, err)
	require.NoError(t, sim.FillOrder(o, st))

	all := st.Active.All()
	require.Len(t, all, 3)
	assert.Same(t, o, all[0])
	// Derived orders inherit the submitted order's group id.
	for _, derived := range all[1:] {
		assert.Equal(t, o.Meta().GID, derived.Meta().GID)
	}

	_, err = sim.Next(st)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, st.Variables["tc"].(float64), 1e-9)
	assert.InDelta(t, 100.0-10.0-1.0, st.Accounts["EUR"].Value, 1e-9)
}

func TestNewRejectsEmptyNumeraire(t *testing.T) {
	_, err := New(constantSeries(t, 1), Config{})
	assert.Error(t, err)
}

// crossRateSeries builds EUR/USD at 10 and USD/JPY at 20 over ten days, with
// the reverse legs derived. EUR and JPY are only connected through USD, so no
// direct EUR/JPY edge ever exists.
func crossRateSeries(t *testing.T) *MapSeriesStore {
	t.Helper()
	var eurusd, usdjpy []quant.Observation
	for d := 1; d <= 10; d++ {
		eurusd = append(eurusd, quant.Observation{Time: day(d), Value: 10.0})
		usdjpy = append(usdjpy, quant.Observation{Time: day(d), Value: 20.0})
	}
	store, err := NewMapSeriesStore(map[pricegraph.Edge][]quant.Observation{
		{Num0: "EUR", Num1: "USD"}: eurusd,
		{Num0: "USD", Num1: "JPY"}: usdjpy,
	})
	require.NoError(t, err)
	store.AddInverseSeries()
	return store
}

func cashAccountOrders(t *testing.T) []broker.Order {
	t.Helper()
	var orders []broker.Order
	for name, amount := range map[string]quant.Amount{
		"EUR_CASH": {Value: 100, Num: "EUR"},
		"JPY_CASH": {Value: 0, Num: "JPY"},
		"USD_CASH": {Value: 0, Num: "USD"},
	} {
		o, err := broker.NewCreateAccountOrder(name, amount)
		require.NoError(t, err)
		orders = append(orders, o)
	}
	return orders
}

func TestUnpriceableTransferStallsAcrossFullRun(t *testing.T) {
	sim := newSim(t, crossRateSeries(t))
	b, err := broker.New(sim, cashAccountOrders(t), broker.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	// Transfers price against direct current rates only, so the EUR->JPY
	// order below can never execute and must ride the active queue through
	// the whole run.
	stalled, err := broker.NewBackwardTransferOrder("EUR_CASH", "JPY_CASH", quant.Amount{Value: 100, Num: "EUR"})
	require.NoError(t, err)
	require.NoError(t, b.FillOrder(stalled))
	funded, err := broker.NewBackwardTransferOrder("EUR_CASH", "USD_CASH", quant.Amount{Value: 10, Num: "EUR"})
	require.NoError(t, err)
	require.NoError(t, b.FillOrder(funded))

	for {
		if _, err := b.Next(); err != nil {
			require.ErrorIs(t, err, broker.ErrNoMoreTime)
			break
		}
	}

	accounts := b.Accounts()
	require.Len(t, accounts, 3)
	assert.InDelta(t, 90.0, accounts["EUR_CASH"].Value, 1e-9)
	assert.InDelta(t, 100.0, accounts["USD_CASH"].Value, 1e-9)
	assert.InDelta(t, 0.0, accounts["JPY_CASH"].Value, 1e-9)

	assert.Equal(t, broker.StatusExecuted, funded.Meta().Status)
	require.Len(t, b.ActiveOrders(), 1)
	assert.Same(t, stalled, b.ActiveOrders()[0])
	assert.Equal(t, broker.StatusActive, stalled.Meta().Status)
	// Filled on the tick after account creation; postponed on the eight
	// remaining ticks.
	assert.Equal(t, 8, stalled.Meta().Age)
}

func TestTransactionCostsChargePerTransfer(t *testing.T) {
	sim := newSim(t, crossRateSeries(t), &TransactionCostFilter{
		CostAccount:      "EUR_CASH",
		Cost:             5,
		CostVar:          "tc",
		ExcludedAccounts: []string{"EUR_CASH", "USD_CASH"},
	})
	b, err := broker.New(sim, cashAccountOrders(t), broker.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	// Two JPY-bound transfers are charged; the third stays within the
	// excluded accounts.
	for _, acc1 := range []string{"JPY_CASH", "JPY_CASH", "USD_CASH"} {
		o, err := broker.NewBackwardTransferOrder("EUR_CASH", acc1, quant.Amount{Value: 5, Num: "EUR"})
		require.NoError(t, err)
		require.NoError(t, b.FillOrder(o))
	}
	_, err = b.Next()
	require.NoError(t, err)

	tc, ok := b.Variables()["tc"]
	require.True(t, ok)
	assert.InDelta(t, 10.0, tc.(float64), 1e-9)
	// Both cost debits executed even though the charged transfers themselves
	// are still stalled on the missing EUR/JPY rate.
	assert.Len(t, b.ActiveOrders(), 2)
	assert.InDelta(t, 100.0-5.0-10.0, b.Accounts()["EUR_CASH"].Value, 1e-9)
}
