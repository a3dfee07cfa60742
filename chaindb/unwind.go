package chaindb

import (
	"bytes"
	"fmt"
	"sort"

	log "github.com/erigontech/erigon-lib/log/v3"

	ctypes "github.com/erigontech/chaindb/chain/types"
	"github.com/erigontech/chaindb/kv"
)

// AppendBlocksWithState inserts blocks and applies their execution
// effects atomically: block rows, changesets and plain state, the
// hashed mirror, a verified root recomputation, history indices, and a
// checkpoint bump — in that order. blocks and changes run in lockstep,
// one BlockChanges per block.
func AppendBlocksWithState(tx kv.RwTx, blocks []*ctypes.Block, changes []*BlockChanges, hints PruneModeHints, expectedStateRoot [32]byte) error {
	if len(blocks) == 0 {
		return fmt.Errorf("chaindb: append of empty block range")
	}
	if len(changes) != len(blocks) {
		return fmt.Errorf("chaindb: %d blocks with %d change records", len(blocks), len(changes))
	}
	firstNumber := blocks[0].Header.Number
	lastNumber := blocks[len(blocks)-1].Header.Number

	for i, block := range blocks {
		indices, err := InsertBlock(tx, block, hints)
		if err != nil {
			return fmt.Errorf("insert block %d: %w", block.Header.Number, err)
		}
		if err := writeBlockChanges(tx, changes[i], indices); err != nil {
			return fmt.Errorf("write changes for block %d: %w", block.Header.Number, err)
		}
	}

	accounts, storage, accountHistory, storageHistory := aggregateChanges(changes)

	prefixSets, err := writeHashedState(tx, accounts, storage)
	if err != nil {
		return fmt.Errorf("write hashed state: %w", err)
	}
	root, updates, err := recomputeRoot(tx, prefixSets)
	if err != nil {
		return fmt.Errorf("recompute state root: %w", err)
	}
	if root != expectedStateRoot {
		lastHash, _ := blocks[len(blocks)-1].Header.Hash()
		return &StateRootMismatchError{&RootMismatch{Got: root, Expected: expectedStateRoot, BlockNumber: lastNumber, BlockHash: lastHash}}
	}
	if err := flushTrieUpdates(tx, updates); err != nil {
		return err
	}

	if err := insertAccountHistoryIndex(tx, accountHistory); err != nil {
		return err
	}
	if err := insertStorageHistoryIndex(tx, storageHistory); err != nil {
		return err
	}

	if err := UpdatePipelineStages(tx, lastNumber, false); err != nil {
		return err
	}
	log.Debug("appended blocks with state", "from", firstNumber, "to", lastNumber)
	return nil
}

// aggregateChanges folds per-block change records into the range-wide
// view: oldest pre-range value and final value per account and slot,
// plus the per-key block lists the history indices record.
func aggregateChanges(changes []*BlockChanges) (
	accounts map[[20]byte]AccountChange,
	storage map[[20]byte]map[[32]byte]StorageChange,
	accountHistory AccountHistoryUpdates,
	storageHistory StorageHistoryUpdates,
) {
	accounts = make(map[[20]byte]AccountChange)
	storage = make(map[[20]byte]map[[32]byte]StorageChange)
	accountHistory = make(AccountHistoryUpdates)
	storageHistory = make(StorageHistoryUpdates)

	for _, bc := range changes {
		for address, ch := range bc.Accounts {
			agg, seen := accounts[address]
			if !seen {
				agg.Old = ch.Old
			}
			agg.New = ch.New
			accounts[address] = agg
			accountHistory[address] = append(accountHistory[address], bc.Number)
		}
		for address, slots := range bc.Storage {
			if storage[address] == nil {
				storage[address] = make(map[[32]byte]StorageChange)
			}
			for slot, ch := range slots {
				agg, seen := storage[address][slot]
				if !seen {
					agg.Old = ch.Old
				}
				agg.New = ch.New
				storage[address][slot] = agg
				k := storageUpdateKey(address, slot)
				storageHistory[k] = append(storageHistory[k], bc.Number)
			}
		}
	}
	return accounts, storage, accountHistory, storageHistory
}

// UnwoundChain is the result of unwinding an inclusive block range: the
// removed blocks in ascending order and the execution state to revert.
type UnwoundChain struct {
	Blocks []*ctypes.Block
	State  *BundleStateWithReceipts
}

// GetOrTakeBlockAndExecutionRange reads — and, when take is set,
// removes — blocks [fromBlock, tipBlock] together with their execution
// state. The take path restores the hashed mirror from the changesets,
// unwinds the history indices, recomputes the state root against the
// parent header's recorded root, reverts plain state through the
// changeset engine, deletes the block rows and body indices, and
// rewinds every stage checkpoint to fromBlock-1.
func GetOrTakeBlockAndExecutionRange(tx kv.RwTx, fromBlock, tipBlock uint64, parentStateRoot [32]byte, parentHash [32]byte, take bool) (*UnwoundChain, error) {
	if take {
		prefixSets, addresses, slots, err := unwindHashedState(tx, fromBlock, tipBlock)
		if err != nil {
			return nil, fmt.Errorf("unwind hashed state: %w", err)
		}
		if err := unwindAccountHistoryIndices(tx, addresses, fromBlock); err != nil {
			return nil, fmt.Errorf("unwind account history: %w", err)
		}
		if err := unwindStorageHistoryIndices(tx, slots, fromBlock); err != nil {
			return nil, fmt.Errorf("unwind storage history: %w", err)
		}

		newRoot, updates, err := recomputeRoot(tx, prefixSets)
		if err != nil {
			return nil, fmt.Errorf("recompute state root: %w", err)
		}
		if newRoot != parentStateRoot {
			parentNumber := uint64(0)
			if fromBlock > 0 {
				parentNumber = fromBlock - 1
			}
			return nil, &UnwindStateRootMismatchError{&RootMismatch{Got: newRoot, Expected: parentStateRoot, BlockNumber: parentNumber, BlockHash: parentHash}}
		}
		if err := flushTrieUpdates(tx, updates); err != nil {
			return nil, err
		}
	}

	blocks, err := getOrTakeBlocks(tx, fromBlock, tipBlock, take)
	if err != nil {
		return nil, fmt.Errorf("collect block range: %w", err)
	}

	state, err := unwindOrPeekState(tx, fromBlock, tipBlock, take)
	if err != nil {
		return nil, fmt.Errorf("collect execution state: %w", err)
	}

	if take {
		if err := deleteBlockBodyIndicesRange(tx, fromBlock, tipBlock); err != nil {
			return nil, err
		}
		unwindTo := uint64(0)
		if fromBlock > 0 {
			unwindTo = fromBlock - 1
		}
		if err := UpdatePipelineStages(tx, unwindTo, true); err != nil {
			return nil, err
		}
		log.Debug("unwound block range", "from", fromBlock, "to", tipBlock)
	}
	return &UnwoundChain{Blocks: blocks, State: state}, nil
}

// getOrTakeBlocks reassembles every canonical block in the range from
// its table rows; with take set it also deletes those rows (body
// indices excluded, removed by the caller afterwards).
func getOrTakeBlocks(tx kv.RwTx, fromBlock, tipBlock uint64, take bool) ([]*ctypes.Block, error) {
	var blocks []*ctypes.Block
	for n := fromBlock; n <= tipBlock; n++ {
		hash, err := canonicalHash(tx, n)
		if err != nil {
			return nil, err
		}
		if hash == ([32]byte{}) {
			continue
		}
		numKey := encodeBlockNumber(n)
		headerKey := append(append([]byte{}, numKey...), hash[:]...)

		headerEnc, err := tx.GetOne(kv.Headers, headerKey)
		if err != nil {
			return nil, err
		}
		if len(headerEnc) == 0 {
			continue
		}
		var h ctypes.Header
		if err := h.DecodeRLP(headerEnc); err != nil {
			return nil, err
		}
		block := &ctypes.Block{Header: h}

		indices, err := readBodyIndices(tx, n)
		if err != nil {
			return nil, err
		}
		if indices != nil {
			txs, err := readTransactionsWithSenders(tx, *indices, take)
			if err != nil {
				return nil, err
			}
			block.Transactions = txs
		}

		if enc, err := tx.GetOne(kv.BlockOmmers, headerKey); err != nil {
			return nil, err
		} else if len(enc) > 0 {
			ommers, err := decodeOmmers(enc)
			if err != nil {
				return nil, err
			}
			block.Ommers = ommers
		}
		if enc, err := tx.GetOne(kv.BlockWithdrawals, headerKey); err != nil {
			return nil, err
		} else if len(enc) > 0 {
			ws, err := decodeWithdrawals(enc)
			if err != nil {
				return nil, err
			}
			block.Withdrawals = ws
		}

		if take {
			for _, table := range []string{kv.Headers, kv.HeaderTerminalDifficulties, kv.BlockOmmers, kv.BlockWithdrawals} {
				if err := tx.Delete(table, headerKey); err != nil {
					return nil, err
				}
			}
			if err := tx.Delete(kv.CanonicalHeaders, numKey); err != nil {
				return nil, err
			}
			if err := tx.Delete(kv.HeaderNumbers, hash[:]); err != nil {
				return nil, err
			}
			if indices != nil && !indices.IsEmpty() {
				if err := tx.Delete(kv.TransactionBlocks, encodeBlockNumber(indices.LastTxNum())); err != nil {
					return nil, err
				}
			}
		}

		blocks = append(blocks, block)
	}
	return blocks, nil
}

// readTransactionsWithSenders loads a block's transactions and sender
// rows and reconciles the two sequences (see reconcileSenders). With
// take set the rows (including the hash lookup) are deleted.
func readTransactionsWithSenders(tx kv.RwTx, indices ctypes.StoredBlockBodyIndices, take bool) ([]ctypes.TransactionSignedEcRecovered, error) {
	first, end := indices.TxNumRange()
	txs := make([]ctypes.Transaction, 0, indices.TxCount)
	for txNum := first; txNum < end; txNum++ {
		enc, err := tx.GetOne(kv.Transactions, encodeBlockNumber(txNum))
		if err != nil {
			return nil, err
		}
		if enc == nil {
			return nil, fmt.Errorf("%w: tx %d", ErrBlockBodyTxCount, txNum)
		}
		var txn ctypes.Transaction
		if err := txn.DecodeRLP(enc); err != nil {
			return nil, err
		}
		txs = append(txs, txn)
	}

	stored, err := readSenderRows(tx, first, end)
	if err != nil {
		return nil, err
	}
	senders, err := reconcileSenders(txs, first, stored)
	if err != nil {
		return nil, err
	}

	out := make([]ctypes.TransactionSignedEcRecovered, len(txs))
	for i := range txs {
		out[i] = ctypes.TransactionSignedEcRecovered{Transaction: txs[i], Sender: senders[i]}
	}

	if take {
		for txNum := first; txNum < end; txNum++ {
			key := encodeBlockNumber(txNum)
			hash, err := txs[txNum-first].Hash()
			if err != nil {
				return nil, err
			}
			if err := tx.Delete(kv.Transactions, key); err != nil {
				return nil, err
			}
			if err := tx.Delete(kv.TransactionSenders, key); err != nil {
				return nil, err
			}
			if err := tx.Delete(kv.TransactionHashNumbers, hash[:]); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func canonicalHash(tx kv.Tx, number uint64) ([32]byte, error) {
	v, err := tx.GetOne(kv.CanonicalHeaders, encodeBlockNumber(number))
	if err != nil {
		return [32]byte{}, err
	}
	var hash [32]byte
	copy(hash[:], v)
	return hash, nil
}

func deleteBlockBodyIndicesRange(tx kv.RwTx, fromBlock, tipBlock uint64) error {
	cursor, err := tx.RwCursor(kv.BlockBodyIndices)
	if err != nil {
		return err
	}
	defer cursor.Close()
	start := encodeBlockNumber(fromBlock)
	endKey := encodeBlockNumber(tipBlock + 1)
	for k, _, err := cursor.Seek(start); k != nil; k, _, err = cursor.Next() {
		if err != nil {
			return err
		}
		if bytes.Compare(k[:8], endKey) >= 0 {
			break
		}
		if err := cursor.DeleteCurrent(); err != nil {
			return err
		}
	}
	return nil
}

func sortedChangeAddresses(m map[[20]byte]AccountChange) [][20]byte {
	out := make([][20]byte, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func sortedStorageChangeAddresses(m map[[20]byte]map[[32]byte]StorageChange) [][20]byte {
	out := make([][20]byte, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func sortedSlots(m map[[32]byte]StorageChange) [][32]byte {
	out := make([][32]byte, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
