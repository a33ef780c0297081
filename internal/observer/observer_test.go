package observer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cambistlabs/cambist/internal/broker"
	"github.com/cambistlabs/cambist/internal/pricegraph"
	"github.com/cambistlabs/cambist/internal/recorder"
	"github.com/cambistlabs/cambist/internal/simulator"
	"github.com/cambistlabs/cambist/pkg/quant"
)

func day(d int) time.Time {
	return time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC)
}

// observedBroker builds a broker over a constant EUR/USD history with a
// funded EUR account and an empty USD account.
func observedBroker(t *testing.T, days ...int) *broker.Broker {
	t.Helper()
	series := make(map[pricegraph.Edge][]quant.Observation)
	for _, d := range days {
		series[pricegraph.Edge{Num0: "EUR", Num1: "USD"}] = append(
			series[pricegraph.Edge{Num0: "EUR", Num1: "USD"}],
			quant.Observation{Time: day(d), Value: 1.25})
		series[pricegraph.Edge{Num0: "USD", Num1: "EUR"}] = append(
			series[pricegraph.Edge{Num0: "USD", Num1: "EUR"}],
			quant.Observation{Time: day(d), Value: 0.8})
	}
	store, err := simulator.NewMapSeriesStore(series)
	require.NoError(t, err)
	sim, err := simulator.New(store, simulator.Config{DefaultNumeraire: "EUR", Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	eur, err := broker.NewCreateAccountOrder("EUR", quant.Amount{Value: 100, Num: "EUR"})
	require.NoError(t, err)
	usd, err := broker.NewCreateAccountOrder("USD", quant.Amount{Value: 0, Num: "USD"})
	require.NoError(t, err)
	b, err := broker.New(sim, []broker.Order{eur, usd}, broker.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return b
}

func TestUpdateRecordsPricesAndNAV(t *testing.T) {
	b := observedBroker(t, 1, 2, 3)
	obs := New(b, DefaultConfig())
	require.NoError(t, obs.Update())

	assert.True(t, obs.Now().Equal(b.Now()))

	nav := obs.NAVHistory()
	require.Len(t, nav, 1)
	assert.InDelta(t, 100.0, nav[0].Value, 1e-9)

	prices := obs.Series(recorder.K("EUR", "USD"))
	require.Len(t, prices, 1)
	assert.Equal(t, 1.25, prices[0].Value)

	weights := obs.Series(recorder.K("account", "EUR", "weight"))
	require.Len(t, weights, 1)
	assert.InDelta(t, 1.0, weights[0].Value, 1e-9)

	navs := obs.Series(recorder.K("account", "USD", "nav"))
	require.Len(t, navs, 1)
	assert.InDelta(t, 0.0, navs[0].Value, 1e-9)
}

func TestUpdateOncePerTick(t *testing.T) {
	b := observedBroker(t, 1, 2, 3)
	obs := New(b, DefaultConfig())
	require.NoError(t, obs.Update())
	require.NoError(t, obs.Update())
	assert.Len(t, obs.NAVHistory(), 1)

	_, err := b.Next()
	require.NoError(t, err)
	require.NoError(t, obs.Update())
	assert.Len(t, obs.NAVHistory(), 2)
}

func TestTotalReturnNeedsHistory(t *testing.T) {
	b := observedBroker(t, 1, 2, 3, 4, 5)
	obs := New(b, DefaultConfig())

	for {
		require.NoError(t, obs.Update())
		if _, err := b.Next(); err != nil {
			break
		}
	}
	// Constant prices, no trades: the return is identically zero once more
	// than two NAV observations exist.
	returns := obs.TotalReturnHistory()
	require.NotEmpty(t, returns)
	assert.Len(t, returns, len(obs.NAVHistory())-2)
	for _, r := range returns {
		assert.InDelta(t, 0.0, r.Value, 1e-9)
	}
}

func TestSaveBeforeFirstUpdateIsNoOp(t *testing.T) {
	b := observedBroker(t, 1, 2)
	obs := New(b, DefaultConfig())
	require.NoError(t, obs.Save(KeyReallocationMass, 1.0))
	assert.Empty(t, obs.Keys())

	require.NoError(t, obs.Update())
	require.NoError(t, obs.Save(KeyReallocationMass, 1.0))
	assert.Len(t, obs.Series(KeyReallocationMass), 1)
}

func TestEvaluators(t *testing.T) {
	b := observedBroker(t, 1, 2, 3)
	obs := New(b, DefaultConfig())
	obs.AddEvaluator("custom_answer", func(b *broker.Broker) (float64, bool) {
		return 42, true
	})
	obs.AddEvaluator("custom_undefined", func(b *broker.Broker) (float64, bool) {
		return 0, false
	})
	require.NoError(t, obs.Update())

	series := obs.Series("custom_answer")
	require.Len(t, series, 1)
	assert.Equal(t, 42.0, series[0].Value)
	assert.Nil(t, obs.Series("custom_undefined"))
}

func TestConfigTogglesGroups(t *testing.T) {
	b := observedBroker(t, 1, 2, 3)
	obs := New(b, Config{})
	require.NoError(t, obs.Update())
	assert.Nil(t, obs.Series(recorder.K("account", "EUR", "weight")))
	assert.Nil(t, obs.Series(recorder.K("account", "EUR", "nav")))
	// NAV and prices are always recorded.
	assert.Len(t, obs.NAVHistory(), 1)
}
