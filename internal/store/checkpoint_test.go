package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCheckpoints(t *testing.T) *CheckpointStore {
	t.Helper()
	c, err := OpenCheckpoints(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCheckpointSaveAndLatest(t *testing.T) {
	c := openTestCheckpoints(t)
	runID := uuid.New()

	require.NoError(t, c.Save(runID, 3, []byte("state at 3")))
	require.NoError(t, c.Save(runID, 10, []byte("state at 10")))
	require.NoError(t, c.Save(runID, 7, []byte("state at 7")))

	blob, timeIndex, err := c.Latest(runID)
	require.NoError(t, err)
	assert.Equal(t, 10, timeIndex)
	assert.Equal(t, []byte("state at 10"), blob)
}

func TestCheckpointOverwriteSameIndex(t *testing.T) {
	c := openTestCheckpoints(t)
	runID := uuid.New()
	require.NoError(t, c.Save(runID, 5, []byte("first")))
	require.NoError(t, c.Save(runID, 5, []byte("second")))

	blob, timeIndex, err := c.Latest(runID)
	require.NoError(t, err)
	assert.Equal(t, 5, timeIndex)
	assert.Equal(t, []byte("second"), blob)
}

func TestCheckpointRunsIsolated(t *testing.T) {
	c := openTestCheckpoints(t)
	runA, runB := uuid.New(), uuid.New()
	require.NoError(t, c.Save(runA, 1, []byte("a")))
	require.NoError(t, c.Save(runB, 99, []byte("b")))

	blob, timeIndex, err := c.Latest(runA)
	require.NoError(t, err)
	assert.Equal(t, 1, timeIndex)
	assert.Equal(t, []byte("a"), blob)
}

func TestCheckpointMissingRun(t *testing.T) {
	c := openTestCheckpoints(t)
	_, _, err := c.Latest(uuid.New())
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestCheckpointRejectsNegativeIndex(t *testing.T) {
	c := openTestCheckpoints(t)
	assert.Error(t, c.Save(uuid.New(), -1, []byte("x")))
}
