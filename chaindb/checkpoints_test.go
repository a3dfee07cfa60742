package chaindb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStageCheckpointRoundTrip(t *testing.T) {
	tx := newTestTx(t)

	n, err := GetStageCheckpoint(tx, StageExecution)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, PutStageCheckpoint(tx, StageExecution, 1234))
	n, err = GetStageCheckpoint(tx, StageExecution)
	require.NoError(t, err)
	require.Equal(t, uint64(1234), n)
}

func TestUpdatePipelineStages(t *testing.T) {
	tx := newTestTx(t)
	require.NoError(t, PutStageCheckpoint(tx, StageHeaders, 500))
	require.NoError(t, PutStageCheckpoint(tx, StageBodies, 80))

	require.NoError(t, UpdatePipelineStages(tx, 100, false))
	n, err := GetStageCheckpoint(tx, StageHeaders)
	require.NoError(t, err)
	require.Equal(t, uint64(500), n) // already ahead, preserved
	n, err = GetStageCheckpoint(tx, StageBodies)
	require.NoError(t, err)
	require.Equal(t, uint64(100), n)

	require.NoError(t, UpdatePipelineStages(tx, 100, true))
	for _, stage := range AllStageIDs {
		n, err := GetStageCheckpoint(tx, stage)
		require.NoError(t, err)
		require.Equal(t, uint64(100), n, stage)
	}
}

func TestPruneCheckpointRoundTrip(t *testing.T) {
	tx := newTestTx(t)
	require.NoError(t, PutPruneCheckpoint(tx, PruneReceipts, 42))
	n, err := GetPruneCheckpoint(tx, PruneReceipts)
	require.NoError(t, err)
	require.Equal(t, uint64(42), n)

	n, err = GetPruneCheckpoint(tx, PruneHeaders)
	require.NoError(t, err)
	require.Zero(t, n)
}
