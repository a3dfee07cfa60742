package chaindb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransactionHashesByRange(t *testing.T) {
	tx := newTestTx(t)

	block := makeTestBlock(1, 64)
	_, err := InsertBlock(tx, block, PruneModeHints{})
	require.NoError(t, err)

	p := &DatabaseProvider{tx: tx, rwTx: tx}
	got, err := p.TransactionHashesByRange(context.Background(), 0, 64)
	require.NoError(t, err)
	require.Len(t, got, 64)

	// Unordered results must equal the serially computed set.
	want := make(map[[32]byte]uint64, 64)
	for i, txn := range block.Transactions {
		h, err := txn.Transaction.Hash()
		require.NoError(t, err)
		want[h] = uint64(i)
	}
	for _, r := range got {
		n, ok := want[r.Hash]
		require.True(t, ok)
		require.Equal(t, n, r.TxNum)
		delete(want, r.Hash)
	}
	require.Empty(t, want)
}

func TestTransactionHashesByRangeEmpty(t *testing.T) {
	tx := newTestTx(t)
	p := &DatabaseProvider{tx: tx}
	got, err := p.TransactionHashesByRange(context.Background(), 5, 5)
	require.NoError(t, err)
	require.Nil(t, got)
}
