package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cambistlabs/cambist/internal/recorder"
)

func day(d int) time.Time {
	return time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Driver: "sqlite", DSN: ":memory:", Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
}

func TestSaveRunAssignsID(t *testing.T) {
	s := openTestStore(t)
	run := &Run{DefaultNumeraire: "EUR", StartTime: day(1), EndTime: day(5), Label: "smoke"}
	require.NoError(t, s.SaveRun(run))
	assert.NotEqual(t, uuid.Nil, run.ID)

	runs, err := s.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, "smoke", runs[0].Label)
}

func TestSaveAndLoadSeries(t *testing.T) {
	s := openTestStore(t)
	runID := uuid.New()
	require.NoError(t, s.SaveRun(&Run{ID: runID, DefaultNumeraire: "EUR"}))

	rec := recorder.New(nil)
	require.NoError(t, rec.Save(day(1), "portfolio_nav", 100))
	require.NoError(t, rec.Save(day(2), "portfolio_nav", 101))
	require.NoError(t, rec.Save(day(1), recorder.K("EUR", "USD"), 1.25))
	require.NoError(t, s.SaveSeries(runID, rec))

	series, err := s.LoadSeries(runID)
	require.NoError(t, err)
	require.Len(t, series, 2)

	nav := series["portfolio_nav"]
	require.Len(t, nav, 2)
	assert.True(t, nav[0].Time.Equal(day(1)))
	assert.Equal(t, 100.0, nav[0].Value)
	assert.Equal(t, 101.0, nav[1].Value)

	prices := series["EUR_USD"]
	require.Len(t, prices, 1)
	assert.Equal(t, 1.25, prices[0].Value)
}

func TestSaveSeriesEmptyRecorder(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveSeries(uuid.New(), recorder.New(nil)))
}

func TestLoadSeriesUnknownRun(t *testing.T) {
	s := openTestStore(t)
	series, err := s.LoadSeries(uuid.New())
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestRunsIsolatedByID(t *testing.T) {
	s := openTestStore(t)
	runA, runB := uuid.New(), uuid.New()

	rec := recorder.New(nil)
	require.NoError(t, rec.Save(day(1), "portfolio_nav", 100))
	require.NoError(t, s.SaveSeries(runA, rec))

	other := recorder.New(nil)
	require.NoError(t, other.Save(day(1), "portfolio_nav", 200))
	require.NoError(t, s.SaveSeries(runB, other))

	series, err := s.LoadSeries(runA)
	require.NoError(t, err)
	require.Len(t, series["portfolio_nav"], 1)
	assert.Equal(t, 100.0, series["portfolio_nav"][0].Value)
}
