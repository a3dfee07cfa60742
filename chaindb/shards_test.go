package chaindb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/chaindb/kv"
)

func readShard(t *testing.T, cursor kv.Cursor, key []byte) []uint64 {
	t.Helper()
	enc, err := cursor.SeekExact(key)
	require.NoError(t, err)
	if enc == nil {
		return nil
	}
	list, err := DecodeBlockNumberList(enc)
	require.NoError(t, err)
	return list.ToSlice()
}

func seq(from, to uint64) []uint64 {
	out := make([]uint64, 0, to-from+1)
	for b := from; b <= to; b++ {
		out = append(out, b)
	}
	return out
}

func TestShardSplitAtCapacity(t *testing.T) {
	tx := newTestTx(t)
	addr := [20]byte{0x01}
	cursor, err := tx.RwCursor(kv.AccountsHistory)
	require.NoError(t, err)
	defer cursor.Close()

	makeKey := func(highest uint64) []byte { return AccountShardedKey(addr, highest) }
	require.NoError(t, appendHistoryIndex(cursor, addr[:], seq(1, 4001), makeKey))

	require.Equal(t, seq(1, 2000), readShard(t, cursor, makeKey(2000)))
	require.Equal(t, seq(2001, 4000), readShard(t, cursor, makeKey(4000)))
	require.Equal(t, []uint64{4001}, readShard(t, cursor, makeKey(OpenShardSuffix)))
	require.Equal(t, 3, countRows(t, tx, kv.AccountsHistory))
}

func TestShardAppendMergesOpenShard(t *testing.T) {
	tx := newTestTx(t)
	addr := [20]byte{0x02}
	cursor, err := tx.RwCursor(kv.AccountsHistory)
	require.NoError(t, err)
	defer cursor.Close()

	makeKey := func(highest uint64) []byte { return AccountShardedKey(addr, highest) }
	require.NoError(t, appendHistoryIndex(cursor, addr[:], seq(1, 1500), makeKey))
	require.Equal(t, 1, countRows(t, tx, kv.AccountsHistory))
	require.NoError(t, appendHistoryIndex(cursor, addr[:], seq(1501, 2100), makeKey))

	require.Equal(t, seq(1, 2000), readShard(t, cursor, makeKey(2000)))
	require.Equal(t, seq(2001, 2100), readShard(t, cursor, makeKey(OpenShardSuffix)))
}

func TestUnwindHistoryShardsSplitsBoundary(t *testing.T) {
	tx := newTestTx(t)
	addr := [20]byte{0x03}
	require.NoError(t, insertAccountHistoryIndex(tx, AccountHistoryUpdates{addr: seq(1, 4001)}))

	require.NoError(t, unwindAccountHistoryIndices(tx, [][20]byte{addr}, 3000))

	cursor, err := tx.Cursor(kv.AccountsHistory)
	require.NoError(t, err)
	defer cursor.Close()
	require.Equal(t, seq(1, 2000), readShard(t, cursor, AccountShardedKey(addr, 2000)))
	// The boundary shard keeps entries strictly below the cut; 3000
	// itself is dropped.
	require.Equal(t, seq(2001, 2999), readShard(t, cursor, AccountShardedKey(addr, OpenShardSuffix)))
	require.Equal(t, 2, countRows(t, tx, kv.AccountsHistory))
}

func TestUnwindHistoryShardsFullWipe(t *testing.T) {
	tx := newTestTx(t)
	addr := [20]byte{0x04}
	require.NoError(t, insertAccountHistoryIndex(tx, AccountHistoryUpdates{addr: seq(10, 20)}))

	require.NoError(t, unwindAccountHistoryIndices(tx, [][20]byte{addr}, 5))
	require.Equal(t, 0, countRows(t, tx, kv.AccountsHistory))
}

func TestUnwindHistoryShardsLeavesOtherKeys(t *testing.T) {
	tx := newTestTx(t)
	a := [20]byte{0x05}
	b := [20]byte{0x06}
	require.NoError(t, insertAccountHistoryIndex(tx, AccountHistoryUpdates{a: seq(1, 10), b: seq(1, 10)}))

	require.NoError(t, unwindAccountHistoryIndices(tx, [][20]byte{a}, 6))

	cursor, err := tx.Cursor(kv.AccountsHistory)
	require.NoError(t, err)
	defer cursor.Close()
	require.Equal(t, seq(1, 5), readShard(t, cursor, AccountShardedKey(a, OpenShardSuffix)))
	require.Equal(t, seq(1, 10), readShard(t, cursor, AccountShardedKey(b, OpenShardSuffix)))
}

func TestShardConcatenationInvariant(t *testing.T) {
	tx := newTestTx(t)
	addr := [20]byte{0x07}
	cursor, err := tx.RwCursor(kv.AccountsHistory)
	require.NoError(t, err)
	defer cursor.Close()

	makeKey := func(highest uint64) []byte { return AccountShardedKey(addr, highest) }
	blocks := seq(1, 5321)
	require.NoError(t, appendHistoryIndex(cursor, addr[:], blocks, makeKey))

	// Walking shards in ascending highest_block_number order must
	// reproduce the full list, with every non-final shard exactly full.
	var all []uint64
	shardCount := 0
	for k, v, err := cursor.First(); k != nil; k, v, err = cursor.Next() {
		require.NoError(t, err)
		list, err := DecodeBlockNumberList(v)
		require.NoError(t, err)
		items := list.ToSlice()
		shardCount++
		if ShardHighestBlockNumber(k) != OpenShardSuffix {
			require.Len(t, items, NumOfIndicesInShard)
		}
		all = append(all, items...)
	}
	require.Equal(t, blocks, all)
	require.Equal(t, 3, shardCount)
}
