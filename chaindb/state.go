package chaindb

import (
	"fmt"

	ctypes "github.com/erigontech/chaindb/chain/types"
	"github.com/erigontech/chaindb/kv"
)

// StateReader is the read-side interface every state view (latest or
// historical) implements.
type StateReader interface {
	ReadAccountData(address [20]byte) (*ctypes.Account, error)
	ReadAccountStorage(address [20]byte, incarnation uint64, key [32]byte) ([]byte, error)
}

// PlainStateReader reads the tip of plain state directly — the
// "latest" view, no history lookup involved.
type PlainStateReader struct {
	tx    kv.Tx
	trace bool

	composite []byte // reusable address+storageKey scratch buffer
}

func NewPlainStateReader(tx kv.Tx) *PlainStateReader {
	return &PlainStateReader{tx: tx, composite: make([]byte, 0, 20+8+32)}
}

func (r *PlainStateReader) SetTrace(trace bool) { r.trace = trace }

func (r *PlainStateReader) ReadAccountData(address [20]byte) (*ctypes.Account, error) {
	enc, err := r.tx.GetOne(kv.PlainAccountState, address[:])
	if err != nil || len(enc) == 0 {
		if r.trace {
			fmt.Printf("ReadAccountData [%x] => []\n", address)
		}
		return nil, err
	}
	var a ctypes.Account
	if err := a.DecodeForStorage(enc); err != nil {
		return nil, fmt.Errorf("ReadAccountData(%x): %w", address, err)
	}
	if r.trace {
		fmt.Printf("ReadAccountData [%x] => [nonce: %d, balance: %s]\n", address, a.Nonce, a.Balance.String())
	}
	return &a, nil
}

func (r *PlainStateReader) ReadAccountStorage(address [20]byte, incarnation uint64, key [32]byte) ([]byte, error) {
	cursor, err := r.tx.CursorDupSort(kv.PlainStorageState)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()
	r.composite = append(r.composite[:0], address[:]...)
	r.composite = append(r.composite, encodeIncarnation(incarnation)...)
	v, err := cursor.SeekBothRange(r.composite, key[:])
	if err != nil {
		return nil, err
	}
	if len(v) >= 32 && bytesHasPrefix(v, key[:]) {
		v = v[32:]
	} else {
		v = nil
	}
	if r.trace {
		fmt.Printf("ReadAccountStorage [%x] [%x] => [%x]\n", address, key, v)
	}
	return v, nil
}

// HistoricalStateReader answers state queries as of a past block by
// walking the sharded history index for the first change at or after
// its block number, then reading that block's changeset row — the value
// immediately before the change, which is the value as of the query
// point. A key with no later change falls through to plain state.
type HistoricalStateReader struct {
	tx          kv.Tx
	blockNumber uint64
	trace       bool
}

// NewHistoricalStateReader builds a reader answering queries as of
// blockNumber-1 (the changeset for a block records the values that
// block overwrote). The block number is clamped above the prune
// checkpoints of the history segments, since pruned history cannot
// answer below them.
func NewHistoricalStateReader(tx kv.Tx, blockNumber uint64) (*HistoricalStateReader, error) {
	for _, segment := range []string{PruneAccountHistory, PruneStorageHistory} {
		pruned, err := GetPruneCheckpoint(tx, segment)
		if err != nil {
			return nil, err
		}
		if pruned != 0 && blockNumber <= pruned {
			blockNumber = pruned + 1
		}
	}
	return &HistoricalStateReader{tx: tx, blockNumber: blockNumber}, nil
}

func (r *HistoricalStateReader) SetTrace(trace bool) { r.trace = trace }

func (r *HistoricalStateReader) ReadAccountData(address [20]byte) (*ctypes.Account, error) {
	changeBlock, found, err := r.firstAccountChangeAtOrAfter(address)
	if err != nil {
		return nil, err
	}
	var enc []byte
	if found {
		enc, err = readAccountChangesetRow(r.tx, changeBlock, address)
		if err != nil {
			return nil, err
		}
	} else {
		enc, err = r.tx.GetOne(kv.PlainAccountState, address[:])
		if err != nil {
			return nil, err
		}
	}
	if len(enc) == 0 {
		if r.trace {
			fmt.Printf("ReadAccountData(historical@%d) [%x] => []\n", r.blockNumber, address)
		}
		return nil, nil
	}
	var a ctypes.Account
	if err := a.DecodeForStorage(enc); err != nil {
		return nil, fmt.Errorf("ReadAccountData(historical, %x): %w", address, err)
	}
	return &a, nil
}

func (r *HistoricalStateReader) ReadAccountStorage(address [20]byte, incarnation uint64, key [32]byte) ([]byte, error) {
	changeBlock, found, err := r.firstStorageChangeAtOrAfter(address, key)
	if err != nil {
		return nil, err
	}
	if found {
		return readStorageChangesetRow(r.tx, changeBlock, address, key)
	}
	plain := NewPlainStateReader(r.tx)
	return plain.ReadAccountStorage(address, incarnation, key)
}

// firstAccountChangeAtOrAfter seeks the shard covering blockNumber and
// returns the first recorded change block >= blockNumber.
func (r *HistoricalStateReader) firstAccountChangeAtOrAfter(address [20]byte) (uint64, bool, error) {
	cursor, err := r.tx.Cursor(kv.AccountsHistory)
	if err != nil {
		return 0, false, err
	}
	defer cursor.Close()
	k, v, err := cursor.Seek(AccountShardedKey(address, r.blockNumber))
	if err != nil || k == nil || len(k) != 28 || !bytesHasPrefix(k, address[:]) {
		return 0, false, err
	}
	return firstIndexAtOrAfter(v, r.blockNumber)
}

func (r *HistoricalStateReader) firstStorageChangeAtOrAfter(address [20]byte, slot [32]byte) (uint64, bool, error) {
	cursor, err := r.tx.Cursor(kv.StoragesHistory)
	if err != nil {
		return 0, false, err
	}
	defer cursor.Close()
	prefix := make([]byte, 0, 52)
	prefix = append(prefix, address[:]...)
	prefix = append(prefix, slot[:]...)
	k, v, err := cursor.Seek(StorageShardedKey(address, slot, r.blockNumber))
	if err != nil || k == nil || len(k) != 60 || !bytesHasPrefix(k, prefix) {
		return 0, false, err
	}
	return firstIndexAtOrAfter(v, r.blockNumber)
}

func firstIndexAtOrAfter(shardEnc []byte, blockNumber uint64) (uint64, bool, error) {
	list, err := DecodeBlockNumberList(shardEnc)
	if err != nil {
		return 0, false, err
	}
	for _, b := range list.ToSlice() {
		if b >= blockNumber {
			return b, true, nil
		}
	}
	return 0, false, nil
}

// readAccountChangesetRow reads the previous account value recorded at
// changeBlock for address; empty means the account did not exist.
func readAccountChangesetRow(tx kv.Tx, changeBlock uint64, address [20]byte) ([]byte, error) {
	cursor, err := tx.CursorDupSort(kv.AccountChangeSets)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()
	v, err := cursor.SeekBothRange(encodeBlockNumber(changeBlock), address[:])
	if err != nil {
		return nil, err
	}
	if len(v) < 20 || !bytesHasPrefix(v, address[:]) {
		return nil, nil
	}
	return v[20:], nil
}

func readStorageChangesetRow(tx kv.Tx, changeBlock uint64, address [20]byte, slot [32]byte) ([]byte, error) {
	cursor, err := tx.CursorDupSort(kv.StorageChangeSets)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()
	sub := make([]byte, 0, 20+8+32)
	sub = append(sub, address[:]...)
	sub = append(sub, encodeIncarnation(0)...)
	sub = append(sub, slot[:]...)
	v, err := cursor.SeekBothRange(encodeBlockNumber(changeBlock), sub)
	if err != nil {
		return nil, err
	}
	if len(v) < 60 || !bytesHasPrefix(v, sub) {
		return nil, nil
	}
	return v[60:], nil
}

// StateProviderByBlockNumber returns the latest reader when n is both
// the pipeline best block and the canonical chain head, otherwise a
// historical reader keyed at n+1 — the changeset that answers queries
// at n was written by block n+1's application.
func (p *DatabaseProvider) StateProviderByBlockNumber(n uint64) (StateReader, error) {
	best, err := GetStageCheckpoint(p.tx, StageFinish)
	if err != nil {
		return nil, err
	}
	last, err := p.LastBlockNumber()
	if err != nil {
		return nil, err
	}
	if n == best && n == last {
		return NewPlainStateReader(p.tx), nil
	}
	return NewHistoricalStateReader(p.tx, n+1)
}

func encodeIncarnation(incarnation uint64) []byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(incarnation >> (56 - 8*i))
	}
	return b[:]
}
