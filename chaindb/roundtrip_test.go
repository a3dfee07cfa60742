package chaindb

import (
	"testing"

	"github.com/stretchr/testify/require"

	ctypes "github.com/erigontech/chaindb/chain/types"
	"github.com/erigontech/chaindb/kv"
)

type tableDump map[string][][2]string

func dumpAllTables(t *testing.T, tx kv.Tx) tableDump {
	t.Helper()
	out := make(tableDump, len(kv.ChaindataTables))
	for _, table := range kv.ChaindataTables {
		cursor, err := tx.Cursor(table)
		require.NoError(t, err)
		var rows [][2]string
		for k, v, err := cursor.First(); k != nil; k, v, err = cursor.Next() {
			require.NoError(t, err)
			rows = append(rows, [2]string{string(k), string(v)})
		}
		cursor.Close()
		out[table] = rows
	}
	return out
}

// Appending a range and then unwinding it must leave every table
// bit-identical to its pre-append state.
func TestAppendThenUnwindRestoresEveryTable(t *testing.T) {
	tx := newTestTx(t)
	addrA := [20]byte{0x11}
	addrB := [20]byte{0x22}
	var slot [32]byte
	slot[31] = 0x05

	// Base chain: blocks 1..2.
	var baseBlocks []*ctypes.Block
	var baseChanges []*BlockChanges
	for n := uint64(1); n <= 2; n++ {
		bc := NewBlockChanges(n)
		var old *ctypes.Account
		if n > 1 {
			old = testAccount(n - 1)
		}
		bc.SetAccount(addrA, old, testAccount(n))
		bc.Receipts = append(bc.Receipts, &ctypes.Receipt{Status: 1, CumulativeGasUsed: 21000})
		baseChanges = append(baseChanges, bc)
		block := makeTestBlock(n, 1)
		block.Header.Root = rootAfterChanges(t, nil, baseChanges)
		baseBlocks = append(baseBlocks, block)
	}
	require.NoError(t, AppendBlocksWithState(tx, baseBlocks, baseChanges, PruneModeHints{}, baseBlocks[1].Header.Root))

	before := dumpAllTables(t, tx)

	// Extension: blocks 3..4 touch an existing account, create a new
	// one, and toggle a storage slot on and off.
	bc3 := NewBlockChanges(3)
	bc3.SetAccount(addrA, testAccount(2), testAccount(30))
	bc3.SetAccount(addrB, nil, testAccount(7))
	bc3.SetStorage(addrB, slot, nil, []byte{0x0f})
	bc3.Receipts = append(bc3.Receipts, &ctypes.Receipt{Status: 1, CumulativeGasUsed: 21000})
	bc4 := NewBlockChanges(4)
	bc4.SetStorage(addrB, slot, []byte{0x0f}, nil)
	bc4.Receipts = append(bc4.Receipts, &ctypes.Receipt{Status: 0, CumulativeGasUsed: 42000})

	extChanges := append(append([]*BlockChanges{}, baseChanges...), bc3, bc4)
	block3 := makeTestBlock(3, 1)
	block3.Header.Root = rootAfterChanges(t, nil, extChanges[:3])
	block4 := makeTestBlock(4, 1)
	block4.Header.Root = rootAfterChanges(t, nil, extChanges)
	require.NoError(t, AppendBlocksWithState(tx,
		[]*ctypes.Block{block3, block4},
		[]*BlockChanges{bc3, bc4},
		PruneModeHints{}, block4.Header.Root))

	require.NotEqual(t, before, dumpAllTables(t, tx))

	parentHash, err := baseBlocks[1].Header.Hash()
	require.NoError(t, err)
	_, err = GetOrTakeBlockAndExecutionRange(tx, 3, 4, baseBlocks[1].Header.Root, parentHash, true)
	require.NoError(t, err)

	after := dumpAllTables(t, tx)
	for _, table := range kv.ChaindataTables {
		require.Equal(t, before[table], after[table], table)
	}
}

// The get (non-take) path observes without modifying.
func TestPeekLeavesEveryTableUntouched(t *testing.T) {
	tx := newTestTx(t)
	addr := [20]byte{0x77}

	var blocks []*ctypes.Block
	var changes []*BlockChanges
	for n := uint64(1); n <= 3; n++ {
		bc := NewBlockChanges(n)
		var old *ctypes.Account
		if n > 1 {
			old = testAccount(n)
		}
		bc.SetAccount(addr, old, testAccount(n+1))
		bc.Receipts = append(bc.Receipts, &ctypes.Receipt{Status: 1})
		changes = append(changes, bc)
		block := makeTestBlock(n, 1)
		block.Header.Root = rootAfterChanges(t, nil, changes)
		blocks = append(blocks, block)
	}
	require.NoError(t, AppendBlocksWithState(tx, blocks, changes, PruneModeHints{}, blocks[2].Header.Root))

	before := dumpAllTables(t, tx)
	chain, err := GetOrTakeBlockAndExecutionRange(tx, 2, 3, [32]byte{}, [32]byte{}, false)
	require.NoError(t, err)
	require.Len(t, chain.Blocks, 2)
	require.Len(t, chain.State.Receipts, 2)
	require.Equal(t, before, dumpAllTables(t, tx))

	// The aggregate records the oldest pre-range value.
	change, ok := chain.State.Accounts[addr]
	require.True(t, ok)
	require.NotNil(t, change.Old)
	require.Equal(t, uint64(2), change.Old.Balance.Uint64())
	require.NotNil(t, change.New)
	require.Equal(t, uint64(4), change.New.Balance.Uint64())
}
