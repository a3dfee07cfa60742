package chaindb

import (
	"encoding/binary"
	"fmt"

	ctypes "github.com/erigontech/chaindb/chain/types"
	"github.com/erigontech/chaindb/kv"
)

// AccountChange is one account's before/after pair over some span of
// blocks; nil means the account does not exist on that side.
type AccountChange struct {
	Old *ctypes.Account
	New *ctypes.Account
}

// StorageChange is the per-slot analogue; empty means the slot is zero
// (and therefore deleted from storage tables).
type StorageChange struct {
	Old []byte
	New []byte
}

// BlockChanges is the execution outcome of one block, the unit the
// append path writes: per-account and per-slot transitions plus the
// block's receipts in transaction order.
type BlockChanges struct {
	Number   uint64
	Accounts map[[20]byte]AccountChange
	Storage  map[[20]byte]map[[32]byte]StorageChange
	Receipts []*ctypes.Receipt
}

// NewBlockChanges returns an empty change record for block number.
func NewBlockChanges(number uint64) *BlockChanges {
	return &BlockChanges{
		Number:   number,
		Accounts: make(map[[20]byte]AccountChange),
		Storage:  make(map[[20]byte]map[[32]byte]StorageChange),
	}
}

// SetAccount records an account transition in the block.
func (b *BlockChanges) SetAccount(address [20]byte, old, new_ *ctypes.Account) {
	b.Accounts[address] = AccountChange{Old: old, New: new_}
}

// SetStorage records a slot transition in the block.
func (b *BlockChanges) SetStorage(address [20]byte, slot [32]byte, old, new_ []byte) {
	if b.Storage[address] == nil {
		b.Storage[address] = make(map[[32]byte]StorageChange)
	}
	b.Storage[address][slot] = StorageChange{Old: old, New: new_}
}

// BlockReverts is the pre-state of everything one block touched: the
// value each account/slot held immediately before the block.
type BlockReverts struct {
	Accounts map[[20]byte]*ctypes.Account
	Storage  map[[20]byte]map[[32]byte][]byte
}

// BundleStateWithReceipts is the changeset engine's output for a block
// range: the aggregate before/after state of every touched address and
// slot, per-block revert records, and the range's receipts grouped per
// block — ready either for inspection or for reverse application.
type BundleStateWithReceipts struct {
	StartBlock uint64
	Accounts   map[[20]byte]AccountChange
	Storage    map[[20]byte]map[[32]byte]StorageChange
	Reverts    []BlockReverts        // index = block - StartBlock
	Receipts   [][]*ctypes.Receipt   // index = block - StartBlock
}

func newBundleState(startBlock, endBlock uint64) *BundleStateWithReceipts {
	n := int(endBlock - startBlock + 1)
	s := &BundleStateWithReceipts{
		StartBlock: startBlock,
		Accounts:   make(map[[20]byte]AccountChange),
		Storage:    make(map[[20]byte]map[[32]byte]StorageChange),
		Reverts:    make([]BlockReverts, n),
		Receipts:   make([][]*ctypes.Receipt, n),
	}
	for i := range s.Reverts {
		s.Reverts[i] = BlockReverts{
			Accounts: make(map[[20]byte]*ctypes.Account),
			Storage:  make(map[[20]byte]map[[32]byte][]byte),
		}
	}
	return s
}

// DestroyedAccounts returns the addresses with no pre-range value:
// reverting the range removes them from state entirely.
func (s *BundleStateWithReceipts) DestroyedAccounts() [][20]byte {
	var out [][20]byte
	for addr, ch := range s.Accounts {
		if ch.Old == nil {
			out = append(out, addr)
		}
	}
	return out
}

// unwindOrPeekState walks AccountChangeSets/StorageChangeSets for
// [fromBlock, toBlock] in reverse block order, reconstructing the
// before/after state of every touched address and slot, and reads the
// range's receipts grouped per block. When unwind is true it
// additionally rewrites plain state back to the "old" values and
// consumes the changeset and receipt rows it visited.
//
// The "new" value recorded for an address or slot on its first
// encounter in the reverse walk is read from plain state as it stands
// right now, not as of toBlock. For a range ending at the chain tip
// these coincide; for a historical range they may not, because plain
// state already reflects later blocks. Known caveat, kept as is.
func unwindOrPeekState(tx kv.RwTx, fromBlock, toBlock uint64, unwind bool) (*BundleStateWithReceipts, error) {
	if fromBlock > toBlock {
		return newBundleState(fromBlock, fromBlock), nil
	}
	state := newBundleState(fromBlock, toBlock)

	plainAccounts, err := tx.RwCursor(kv.PlainAccountState)
	if err != nil {
		return nil, err
	}
	defer plainAccounts.Close()
	plainStorage, err := tx.RwCursorDupSort(kv.PlainStorageState)
	if err != nil {
		return nil, err
	}
	defer plainStorage.Close()

	accountChangesets, err := tx.RwCursorDupSort(kv.AccountChangeSets)
	if err != nil {
		return nil, err
	}
	defer accountChangesets.Close()
	storageChangesets, err := tx.RwCursorDupSort(kv.StorageChangeSets)
	if err != nil {
		return nil, err
	}
	defer storageChangesets.Close()

	for blockNumber := toBlock; ; blockNumber-- {
		blockKey := encodeBlockNumber(blockNumber)
		reverts := &state.Reverts[blockNumber-fromBlock]

		if err := walkAccountChangesetBlock(accountChangesets, blockKey, unwind, func(address [20]byte, oldEnc []byte) error {
			return applyAccountRevert(state, reverts, plainAccounts, address, oldEnc)
		}); err != nil {
			return nil, err
		}
		if err := walkStorageChangesetBlock(storageChangesets, blockKey, unwind, func(address [20]byte, slot [32]byte, oldVal []byte) error {
			return applyStorageRevert(state, reverts, plainStorage, address, slot, oldVal)
		}); err != nil {
			return nil, err
		}

		if blockNumber == fromBlock {
			break
		}
	}

	if err := collectReceipts(tx, state, fromBlock, toBlock, unwind); err != nil {
		return nil, err
	}

	if unwind {
		for address, rev := range state.Accounts {
			if err := writeAccountRevert(plainAccounts, address, rev); err != nil {
				return nil, err
			}
		}
		for address, slots := range state.Storage {
			for slot, rev := range slots {
				if err := writeStorageRevert(plainStorage, address, slot, rev); err != nil {
					return nil, err
				}
			}
		}
	}

	return state, nil
}

func applyAccountRevert(state *BundleStateWithReceipts, reverts *BlockReverts, plainAccounts kv.RwCursor, address [20]byte, oldEnc []byte) error {
	var oldAcc *ctypes.Account
	if len(oldEnc) > 0 {
		oldAcc = &ctypes.Account{}
		if err := oldAcc.DecodeForStorage(oldEnc); err != nil {
			return fmt.Errorf("decode old account %x: %w", address, err)
		}
	}
	reverts.Accounts[address] = oldAcc

	rev, seen := state.Accounts[address]
	if !seen {
		newEnc, err := plainAccounts.SeekExact(address[:])
		if err != nil {
			return err
		}
		var newAcc *ctypes.Account
		if len(newEnc) > 0 {
			newAcc = &ctypes.Account{}
			if err := newAcc.DecodeForStorage(newEnc); err != nil {
				return fmt.Errorf("decode new account %x: %w", address, err)
			}
		}
		state.Accounts[address] = AccountChange{Old: oldAcc, New: newAcc}
		return nil
	}
	// Subsequent (earlier-block) encounter: only the "old" side moves
	// further back in time; "new" was fixed on first encounter.
	rev.Old = oldAcc
	state.Accounts[address] = rev
	return nil
}

func applyStorageRevert(state *BundleStateWithReceipts, reverts *BlockReverts, plainStorage kv.RwCursorDupSort, address [20]byte, slot [32]byte, oldVal []byte) error {
	if reverts.Storage[address] == nil {
		reverts.Storage[address] = make(map[[32]byte][]byte)
	}
	reverts.Storage[address][slot] = oldVal

	if state.Storage[address] == nil {
		state.Storage[address] = make(map[[32]byte]StorageChange)
	}
	rev, seen := state.Storage[address][slot]
	if !seen {
		newVal, err := seekStorageSlot(plainStorage, address, slot)
		if err != nil {
			return err
		}
		state.Storage[address][slot] = StorageChange{Old: oldVal, New: newVal}
		return nil
	}
	rev.Old = oldVal
	state.Storage[address][slot] = rev
	return nil
}

// seekStorageSlot reads one slot's current value from the dup-sorted
// plain storage table, nil when the slot is zero.
func seekStorageSlot(plainStorage kv.CursorDupSort, address [20]byte, slot [32]byte) ([]byte, error) {
	key := storagePlainKey(address, 0)
	v, err := plainStorage.SeekBothRange(key, slot[:])
	if err != nil {
		return nil, err
	}
	if len(v) >= 32 && bytesHasPrefix(v, slot[:]) {
		return v[32:], nil
	}
	return nil, nil
}

func writeAccountRevert(plainAccounts kv.RwCursor, address [20]byte, rev AccountChange) error {
	if rev.Old == nil {
		cur, err := plainAccounts.SeekExact(address[:])
		if err != nil {
			return err
		}
		if cur != nil {
			return plainAccounts.DeleteCurrent()
		}
		return nil
	}
	return plainAccounts.Put(address[:], rev.Old.EncodeForStorage())
}

func writeStorageRevert(plainStorage kv.RwCursorDupSort, address [20]byte, slot [32]byte, rev StorageChange) error {
	key := storagePlainKey(address, 0)
	existing, err := plainStorage.SeekBothRange(key, slot[:])
	if err != nil {
		return err
	}
	if len(existing) >= 32 && bytesHasPrefix(existing, slot[:]) {
		if err := plainStorage.DeleteCurrent(); err != nil {
			return err
		}
	}
	if len(rev.Old) == 0 {
		return nil
	}
	v := make([]byte, 0, 32+len(rev.Old))
	v = append(v, slot[:]...)
	v = append(v, rev.Old...)
	return plainStorage.Put(key, v)
}

// collectReceipts reads the range's receipts grouped per block via
// BlockBodyIndices, deleting the rows when del is set.
func collectReceipts(tx kv.RwTx, state *BundleStateWithReceipts, fromBlock, toBlock uint64, del bool) error {
	for n := fromBlock; n <= toBlock; n++ {
		indices, err := readBodyIndices(tx, n)
		if err != nil {
			return err
		}
		if indices == nil {
			continue
		}
		first, end := indices.TxNumRange()
		receipts := make([]*ctypes.Receipt, 0, indices.TxCount)
		for txNum := first; txNum < end; txNum++ {
			key := encodeBlockNumber(txNum)
			enc, err := tx.GetOne(kv.Receipts, key)
			if err != nil {
				return err
			}
			if enc == nil {
				continue
			}
			var r ctypes.Receipt
			if err := r.DecodeRLP(enc); err != nil {
				return fmt.Errorf("decode receipt %d: %w", txNum, err)
			}
			receipts = append(receipts, &r)
			if del {
				if err := tx.Delete(kv.Receipts, key); err != nil {
					return err
				}
			}
		}
		state.Receipts[n-fromBlock] = receipts
	}
	return nil
}

// writeBlockChanges persists one block's execution outcome: changeset
// rows recording the previous values, the new values applied to plain
// state, and the block's receipts keyed by transaction number.
func writeBlockChanges(tx kv.RwTx, changes *BlockChanges, indices ctypes.StoredBlockBodyIndices) error {
	blockKey := encodeBlockNumber(changes.Number)

	accountChangesets, err := tx.RwCursorDupSort(kv.AccountChangeSets)
	if err != nil {
		return err
	}
	defer accountChangesets.Close()
	plainAccounts, err := tx.RwCursor(kv.PlainAccountState)
	if err != nil {
		return err
	}
	defer plainAccounts.Close()

	for _, address := range sortedChangeAddresses(changes.Accounts) {
		ch := changes.Accounts[address]
		row := make([]byte, 0, 20+64)
		row = append(row, address[:]...)
		if ch.Old != nil {
			row = append(row, ch.Old.EncodeForStorage()...)
		}
		if err := accountChangesets.Put(blockKey, row); err != nil {
			return err
		}
		if ch.New == nil {
			if cur, err := plainAccounts.SeekExact(address[:]); err != nil {
				return err
			} else if cur != nil {
				if err := plainAccounts.DeleteCurrent(); err != nil {
					return err
				}
			}
			continue
		}
		if err := plainAccounts.Put(address[:], ch.New.EncodeForStorage()); err != nil {
			return err
		}
	}

	storageChangesets, err := tx.RwCursorDupSort(kv.StorageChangeSets)
	if err != nil {
		return err
	}
	defer storageChangesets.Close()
	plainStorage, err := tx.RwCursorDupSort(kv.PlainStorageState)
	if err != nil {
		return err
	}
	defer plainStorage.Close()

	for _, address := range sortedStorageChangeAddresses(changes.Storage) {
		slots := changes.Storage[address]
		plainKey := storagePlainKey(address, 0)
		for _, slot := range sortedSlots(slots) {
			ch := slots[slot]
			row := make([]byte, 0, 20+8+32+32)
			row = append(row, address[:]...)
			row = append(row, encodeIncarnation(0)...)
			row = append(row, slot[:]...)
			row = append(row, ch.Old...)
			if err := storageChangesets.Put(blockKey, row); err != nil {
				return err
			}

			existing, err := plainStorage.SeekBothRange(plainKey, slot[:])
			if err != nil {
				return err
			}
			if len(existing) >= 32 && bytesHasPrefix(existing, slot[:]) {
				if err := plainStorage.DeleteCurrent(); err != nil {
					return err
				}
			}
			if len(ch.New) == 0 {
				continue
			}
			v := make([]byte, 0, 32+len(ch.New))
			v = append(v, slot[:]...)
			v = append(v, ch.New...)
			if err := plainStorage.Put(plainKey, v); err != nil {
				return err
			}
		}
	}

	for i, receipt := range changes.Receipts {
		enc, err := receipt.EncodeRLP()
		if err != nil {
			return err
		}
		if err := tx.Put(kv.Receipts, encodeBlockNumber(indices.FirstTxNum+uint64(i)), enc); err != nil {
			return err
		}
	}
	return nil
}

// walkAccountChangesetBlock iterates every (address, oldAccount) dup
// value stored under blockKey, deleting each row as it is consumed when
// del is set.
func walkAccountChangesetBlock(cursor kv.RwCursorDupSort, blockKey []byte, del bool, f func(address [20]byte, oldEnc []byte) error) error {
	v, err := cursor.SeekExact(blockKey)
	if err != nil {
		return err
	}
	for v != nil {
		if len(v) < 20 {
			break
		}
		var address [20]byte
		copy(address[:], v[:20])
		if err := f(address, v[20:]); err != nil {
			return err
		}
		if del {
			if err := cursor.DeleteCurrent(); err != nil {
				return err
			}
		}
		_, v, err = cursor.NextDup()
		if err != nil {
			return err
		}
	}
	return nil
}

// walkStorageChangesetBlock iterates every (address, incarnation, slot,
// oldValue) dup value stored under blockKey.
func walkStorageChangesetBlock(cursor kv.RwCursorDupSort, blockKey []byte, del bool, f func(address [20]byte, slot [32]byte, oldVal []byte) error) error {
	v, err := cursor.SeekExact(blockKey)
	if err != nil {
		return err
	}
	for v != nil {
		if len(v) < 20+8+32 {
			break
		}
		var address [20]byte
		var slot [32]byte
		copy(address[:], v[:20])
		copy(slot[:], v[28:60])
		if err := f(address, slot, v[60:]); err != nil {
			return err
		}
		if del {
			if err := cursor.DeleteCurrent(); err != nil {
				return err
			}
		}
		_, v, err = cursor.NextDup()
		if err != nil {
			return err
		}
	}
	return nil
}

func storagePlainKey(address [20]byte, incarnation uint64) []byte {
	key := make([]byte, 0, 28)
	key = append(key, address[:]...)
	key = append(key, encodeIncarnation(incarnation)...)
	return key
}

func encodeBlockNumber(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func bytesHasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	return bytesEqual(b[:len(prefix)], prefix)
}
