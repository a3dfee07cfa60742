package chaindb

import (
	"context"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	ctypes "github.com/erigontech/chaindb/chain/types"
	"github.com/erigontech/chaindb/kv"
	"github.com/erigontech/chaindb/kv/memdb"
)

func newTestTx(t *testing.T) kv.RwTx {
	t.Helper()
	db := memdb.New()
	tx, err := db.BeginRw(context.Background())
	require.NoError(t, err)
	t.Cleanup(tx.Rollback)
	return tx
}

func testAccount(balance uint64) *ctypes.Account {
	a := &ctypes.Account{Nonce: 1}
	a.Balance = *uint256.NewInt(balance)
	return a
}

func makeTestTransaction(nonce uint64) ctypes.TransactionSignedEcRecovered {
	to := ctypes.Address{0xbe, 0xef}
	return ctypes.TransactionSignedEcRecovered{
		Transaction: ctypes.Transaction{
			Nonce:    nonce,
			GasPrice: uint256.NewInt(1),
			Gas:      21000,
			To:       &to,
			Value:    uint256.NewInt(nonce + 1),
			V:        uint256.NewInt(27),
			R:        uint256.NewInt(nonce + 7),
			S:        uint256.NewInt(nonce + 11),
		},
		Sender: ctypes.Address{0xca, 0xfe},
	}
}

func makeTestBlock(number uint64, txCount int) *ctypes.Block {
	b := &ctypes.Block{
		Header: ctypes.Header{
			Number:     number,
			Difficulty: big.NewInt(1),
			GasLimit:   30_000_000,
			Time:       1_700_000_000 + number,
		},
	}
	for i := 0; i < txCount; i++ {
		b.Transactions = append(b.Transactions, makeTestTransaction(number*100+uint64(i)))
	}
	return b
}

// rootAfterChanges computes the state root a fresh database would hold
// after seeding and applying changes, rebuilt from scratch over the
// hashed tables — the reference the incremental recomputation must
// agree with.
func rootAfterChanges(t *testing.T, seed func(kv.RwTx), changes []*BlockChanges) [32]byte {
	t.Helper()
	db := memdb.New()
	tx, err := db.BeginRw(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	if seed != nil {
		seed(tx)
	}
	accounts, storage, _, _ := aggregateChanges(changes)
	_, err = writeHashedState(tx, accounts, storage)
	require.NoError(t, err)
	root, err := RootFromScratch(tx)
	require.NoError(t, err)
	return root
}

func countRows(t *testing.T, tx kv.Tx, table string) int {
	t.Helper()
	cursor, err := tx.Cursor(table)
	require.NoError(t, err)
	defer cursor.Close()
	n := 0
	for k, _, err := cursor.First(); k != nil; k, _, err = cursor.Next() {
		require.NoError(t, err)
		n++
	}
	return n
}

func TestInsertAndUnwindBlockRange(t *testing.T) {
	tx := newTestTx(t)
	addr := [20]byte{0xaa}

	var blocks []*ctypes.Block
	var changes []*BlockChanges
	for n := uint64(1); n <= 5; n++ {
		block := makeTestBlock(n, 3)
		bc := NewBlockChanges(n)
		var old *ctypes.Account
		if n > 1 {
			old = testAccount(n - 1)
		}
		bc.SetAccount(addr, old, testAccount(n))
		for i := 0; i < 3; i++ {
			bc.Receipts = append(bc.Receipts, &ctypes.Receipt{Status: 1, CumulativeGasUsed: uint64(i+1) * 21000})
		}
		changes = append(changes, bc)
		block.Header.Root = rootAfterChanges(t, nil, changes)
		blocks = append(blocks, block)
	}

	require.NoError(t, AppendBlocksWithState(tx, blocks, changes, PruneModeHints{}, blocks[4].Header.Root))

	// The incrementally maintained root must agree with a full rebuild.
	scratch, err := RootFromScratch(tx)
	require.NoError(t, err)
	require.Equal(t, blocks[4].Header.Root, scratch)

	indices, err := readBodyIndices(tx, 3)
	require.NoError(t, err)
	require.NotNil(t, indices)
	require.Equal(t, uint64(6), indices.FirstTxNum)
	require.Equal(t, uint64(3), indices.TxCount)

	anchor, err := tx.GetOne(kv.TransactionBlocks, encodeBlockNumber(14))
	require.NoError(t, err)
	require.Equal(t, uint64(5), decodeBlockNumber(anchor))

	require.Equal(t, 15, countRows(t, tx, kv.Transactions))
	require.Equal(t, 15, countRows(t, tx, kv.Receipts))

	parent := blocks[1] // block 2
	parentHash, err := parent.Header.Hash()
	require.NoError(t, err)
	chain, err := GetOrTakeBlockAndExecutionRange(tx, 3, 5, parent.Header.Root, parentHash, true)
	require.NoError(t, err)
	require.Len(t, chain.Blocks, 3)
	require.Len(t, chain.State.Receipts, 3)
	for _, rs := range chain.State.Receipts {
		require.Len(t, rs, 3)
	}

	last, err := (&DatabaseProvider{tx: tx}).LastBlockNumber()
	require.NoError(t, err)
	require.Equal(t, uint64(2), last)
	require.Equal(t, 6, countRows(t, tx, kv.Transactions))
	require.Equal(t, 6, countRows(t, tx, kv.Receipts))

	hashedAddr := ctypes.Keccak256(addr[:])
	enc, err := tx.GetOne(kv.HashedAccounts, hashedAddr[:])
	require.NoError(t, err)
	var reverted ctypes.Account
	require.NoError(t, reverted.DecodeForStorage(enc))
	require.Equal(t, uint64(2), reverted.Balance.Uint64())

	cursor, err := tx.Cursor(kv.AccountsHistory)
	require.NoError(t, err)
	defer cursor.Close()
	shardEnc, err := cursor.SeekExact(AccountShardedKey(addr, OpenShardSuffix))
	require.NoError(t, err)
	list, err := DecodeBlockNumberList(shardEnc)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, list.ToSlice())

	finish, err := GetStageCheckpoint(tx, StageFinish)
	require.NoError(t, err)
	require.Equal(t, uint64(2), finish)
}

func TestAccountChangesetsAndDestroyedAccounts(t *testing.T) {
	tx := newTestTx(t)
	addrA := [20]byte{0x01}
	addrB := [20]byte{0x02}

	seed := func(stx kv.RwTx) {
		require.NoError(t, stx.Put(kv.PlainAccountState, addrA[:], testAccount(10).EncodeForStorage()))
		hashedA := ctypes.Keccak256(addrA[:])
		require.NoError(t, stx.Put(kv.HashedAccounts, hashedA[:], testAccount(10).EncodeForStorage()))
	}
	seed(tx)
	parentRoot := rootAfterChanges(t, seed, nil)

	bc := NewBlockChanges(1)
	bc.SetAccount(addrA, testAccount(10), testAccount(20))
	bc.SetAccount(addrB, nil, testAccount(5))
	block := makeTestBlock(1, 0)
	block.Header.Root = rootAfterChanges(t, seed, []*BlockChanges{bc})

	require.NoError(t, AppendBlocksWithState(tx, []*ctypes.Block{block}, []*BlockChanges{bc}, PruneModeHints{}, block.Header.Root))

	rows := make(map[[20]byte][]byte)
	cursor, err := tx.CursorDupSort(kv.AccountChangeSets)
	require.NoError(t, err)
	v, err := cursor.SeekExact(encodeBlockNumber(1))
	require.NoError(t, err)
	for v != nil {
		var a [20]byte
		copy(a[:], v[:20])
		rows[a] = append([]byte{}, v[20:]...)
		_, v, err = cursor.NextDup()
		require.NoError(t, err)
	}
	cursor.Close()
	require.Equal(t, testAccount(10).EncodeForStorage(), rows[addrA])
	require.Empty(t, rows[addrB])

	chain, err := GetOrTakeBlockAndExecutionRange(tx, 1, 1, parentRoot, [32]byte{}, true)
	require.NoError(t, err)

	encA, err := tx.GetOne(kv.PlainAccountState, addrA[:])
	require.NoError(t, err)
	var a ctypes.Account
	require.NoError(t, a.DecodeForStorage(encA))
	require.Equal(t, uint64(10), a.Balance.Uint64())

	encB, err := tx.GetOne(kv.PlainAccountState, addrB[:])
	require.NoError(t, err)
	require.Empty(t, encB)
	hashedB := ctypes.Keccak256(addrB[:])
	encHashedB, err := tx.GetOne(kv.HashedAccounts, hashedB[:])
	require.NoError(t, err)
	require.Empty(t, encHashedB)

	destroyed := chain.State.DestroyedAccounts()
	require.Len(t, destroyed, 1)
	require.Equal(t, addrB, destroyed[0])
}

func TestStorageZeroToggleRoundTrip(t *testing.T) {
	tx := newTestTx(t)
	addr := [20]byte{0x0a}
	var slot [32]byte
	slot[31] = 0x01
	seven := []byte{7}

	bc10 := NewBlockChanges(10)
	bc10.SetAccount(addr, nil, testAccount(1))
	bc10.SetStorage(addr, slot, nil, seven)
	bc11 := NewBlockChanges(11)
	bc11.SetStorage(addr, slot, seven, nil)

	block10 := makeTestBlock(10, 0)
	block10.Header.Root = rootAfterChanges(t, nil, []*BlockChanges{bc10})
	block11 := makeTestBlock(11, 0)
	block11.Header.ParentHash, _ = block10.Header.Hash()
	block11.Header.Root = rootAfterChanges(t, nil, []*BlockChanges{bc10, bc11})

	require.NoError(t, AppendBlocksWithState(tx,
		[]*ctypes.Block{block10, block11},
		[]*BlockChanges{bc10, bc11},
		PruneModeHints{}, block11.Header.Root))

	// After block 11 the slot is zero: gone from both mirrors.
	storageCursor, err := tx.CursorDupSort(kv.PlainStorageState)
	require.NoError(t, err)
	val, err := seekStorageSlot(storageCursor, addr, slot)
	require.NoError(t, err)
	require.Empty(t, val)
	storageCursor.Close()

	hashedAddr := ctypes.Keccak256(addr[:])
	hashedSlot := ctypes.Keccak256(slot[:])
	hv, err := tx.GetOne(kv.HashedStorages, append(append([]byte{}, hashedAddr[:]...), hashedSlot[:]...))
	require.NoError(t, err)
	require.Empty(t, hv)

	parentHash, err := block10.Header.Hash()
	require.NoError(t, err)
	_, err = GetOrTakeBlockAndExecutionRange(tx, 11, 11, block10.Header.Root, parentHash, true)
	require.NoError(t, err)

	storageCursor, err = tx.CursorDupSort(kv.PlainStorageState)
	require.NoError(t, err)
	val, err = seekStorageSlot(storageCursor, addr, slot)
	require.NoError(t, err)
	require.Equal(t, seven, val)
	storageCursor.Close()

	hv, err = tx.GetOne(kv.HashedStorages, append(append([]byte{}, hashedAddr[:]...), hashedSlot[:]...))
	require.NoError(t, err)
	require.Equal(t, seven, hv)
}

func TestStateRootMismatchAbortsAppend(t *testing.T) {
	tx := newTestTx(t)
	addr := [20]byte{0x33}

	bc := NewBlockChanges(1)
	bc.SetAccount(addr, nil, testAccount(9))
	block := makeTestBlock(1, 0)
	block.Header.Root = [32]byte{0xde, 0xad}

	err := AppendBlocksWithState(tx, []*ctypes.Block{block}, []*BlockChanges{bc}, PruneModeHints{}, block.Header.Root)
	var mismatch *StateRootMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, uint64(1), mismatch.BlockNumber)
	expectedHash, err2 := block.Header.Hash()
	require.NoError(t, err2)
	require.Equal(t, expectedHash, mismatch.BlockHash)
	require.Equal(t, block.Header.Root, mismatch.Expected)

	// The trie flush never ran.
	require.Equal(t, 0, countRows(t, tx, kv.TrieOfAccounts))
}

func TestInsertBlockValidatesForkFields(t *testing.T) {
	tx := newTestTx(t)
	var shanghaiTime uint64 // active from genesis
	p := &DatabaseProvider{tx: tx, rwTx: tx, spec: &ChainSpec{ShanghaiTime: &shanghaiTime}}

	block := makeTestBlock(1, 0)
	_, err := p.InsertBlock(block)
	require.ErrorContains(t, err, "withdrawalsHash")

	withdrawalsHash := ctypes.Keccak256(nil)
	block.Header.WithdrawalsHash = &withdrawalsHash
	_, err = p.InsertBlock(block)
	require.NoError(t, err)
}

func TestHistoricalStateReader(t *testing.T) {
	tx := newTestTx(t)
	addr := [20]byte{0x44}

	var blocks []*ctypes.Block
	var changes []*BlockChanges
	for n := uint64(1); n <= 3; n++ {
		bc := NewBlockChanges(n)
		var old *ctypes.Account
		if n > 1 {
			old = testAccount((n - 1) * 100)
		}
		bc.SetAccount(addr, old, testAccount(n*100))
		changes = append(changes, bc)
		block := makeTestBlock(n, 0)
		block.Header.Root = rootAfterChanges(t, nil, changes)
		blocks = append(blocks, block)
	}
	require.NoError(t, AppendBlocksWithState(tx, blocks, changes, PruneModeHints{}, blocks[2].Header.Root))

	// State as of block 1 is answered by block 2's changeset.
	reader, err := NewHistoricalStateReader(tx, 2)
	require.NoError(t, err)
	acc, err := reader.ReadAccountData(addr)
	require.NoError(t, err)
	require.NotNil(t, acc)
	require.Equal(t, uint64(100), acc.Balance.Uint64())

	// State as of the tip falls through to plain state.
	reader, err = NewHistoricalStateReader(tx, 4)
	require.NoError(t, err)
	acc, err = reader.ReadAccountData(addr)
	require.NoError(t, err)
	require.NotNil(t, acc)
	require.Equal(t, uint64(300), acc.Balance.Uint64())
}
