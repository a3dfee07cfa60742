package chaindb

import (
	"testing"

	"github.com/stretchr/testify/require"

	ctypes "github.com/erigontech/chaindb/chain/types"
	"github.com/erigontech/chaindb/kv"
)

func TestReconcileSendersAllStored(t *testing.T) {
	txs := make([]ctypes.Transaction, 3)
	for i := range txs {
		txs[i] = makeTestTransaction(uint64(i)).Transaction
	}
	stored := []storedSender{
		{txNum: 10, addr: ctypes.Address{0x01}},
		{txNum: 11, addr: ctypes.Address{0x02}},
		{txNum: 12, addr: ctypes.Address{0x03}},
	}

	senders, err := reconcileSenders(txs, 10, stored)
	require.NoError(t, err)
	require.Equal(t, []ctypes.Address{{0x01}, {0x02}, {0x03}}, senders)
}

// Orphaned sender rows — before and past the transaction
// range — are skipped without disturbing the positional merge.
func TestReconcileSendersSkipsOrphanRows(t *testing.T) {
	txs := make([]ctypes.Transaction, 2)
	for i := range txs {
		txs[i] = makeTestTransaction(uint64(i)).Transaction
	}
	stored := []storedSender{
		{txNum: 4, addr: ctypes.Address{0xee}}, // before the range
		{txNum: 5, addr: ctypes.Address{0x01}},
		{txNum: 6, addr: ctypes.Address{0x02}},
		{txNum: 9, addr: ctypes.Address{0xff}}, // past the range
	}

	senders, err := reconcileSenders(txs, 5, stored)
	require.NoError(t, err)
	require.Equal(t, []ctypes.Address{{0x01}, {0x02}}, senders)
}

func TestReadSenderRowsBoundsRange(t *testing.T) {
	tx := newTestTx(t)
	for txNum := uint64(0); txNum < 6; txNum++ {
		addr := ctypes.Address{byte(txNum + 1)}
		require.NoError(t, tx.Put(kv.TransactionSenders, encodeBlockNumber(txNum), addr[:]))
	}

	stored, err := readSenderRows(tx, 2, 5)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	require.Equal(t, uint64(2), stored[0].txNum)
	require.Equal(t, ctypes.Address{0x03}, stored[0].addr)
	require.Equal(t, uint64(4), stored[2].txNum)
}
