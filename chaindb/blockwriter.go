package chaindb

import (
	"fmt"
	"math/big"
	"time"

	log "github.com/erigontech/erigon-lib/log/v3"

	ctypes "github.com/erigontech/chaindb/chain/types"
	"github.com/erigontech/chaindb/kv"
)

// PruneModeHints carries the "full" prune signals consulted on insert:
// when a segment is fully pruned, the block writer skips writing data
// that exists only to support reverse lookups nobody will query.
type PruneModeHints struct {
	SenderRecoveryFull    bool
	TransactionLookupFull bool
}

// InsertBlock writes one block atomically across the block tables:
// canonical pointer, header, header-number index, terminal difficulty,
// ommers, per-transaction rows, withdrawals, body indices, and the
// TransactionBlocks anchor. Transaction numbers continue the chain's
// monotonic sequence.
func InsertBlock(tx kv.RwTx, block *ctypes.Block, hints PruneModeHints) (ctypes.StoredBlockBodyIndices, error) {
	hash, err := block.Header.Hash()
	if err != nil {
		return ctypes.StoredBlockBodyIndices{}, fmt.Errorf("hash header %d: %w", block.Header.Number, err)
	}
	numKey := encodeBlockNumber(block.Header.Number)
	headerKey := append(append([]byte{}, numKey...), hash[:]...)

	if err := tx.Put(kv.CanonicalHeaders, numKey, hash[:]); err != nil {
		return ctypes.StoredBlockBodyIndices{}, err
	}
	headerEnc, err := block.Header.EncodeRLP()
	if err != nil {
		return ctypes.StoredBlockBodyIndices{}, err
	}
	if err := tx.Put(kv.Headers, headerKey, headerEnc); err != nil {
		return ctypes.StoredBlockBodyIndices{}, err
	}
	if err := tx.Put(kv.HeaderNumbers, hash[:], numKey); err != nil {
		return ctypes.StoredBlockBodyIndices{}, err
	}

	ttd, err := computeTTD(tx, block.Header.Number, block.Header.Difficulty)
	if err != nil {
		return ctypes.StoredBlockBodyIndices{}, err
	}
	if err := tx.Put(kv.HeaderTerminalDifficulties, headerKey, ttd.Bytes()); err != nil {
		return ctypes.StoredBlockBodyIndices{}, err
	}

	if len(block.Ommers) > 0 {
		enc, err := encodeOmmers(block.Ommers)
		if err != nil {
			return ctypes.StoredBlockBodyIndices{}, err
		}
		if err := tx.Put(kv.BlockOmmers, headerKey, enc); err != nil {
			return ctypes.StoredBlockBodyIndices{}, err
		}
	}

	nextTxNum, err := nextTransactionNumber(tx)
	if err != nil {
		return ctypes.StoredBlockBodyIndices{}, err
	}
	firstTxNum := nextTxNum

	txWriteStart := time.Now()
	for _, txn := range block.Transactions {
		txKey := encodeBlockNumber(nextTxNum)
		if !hints.SenderRecoveryFull {
			if err := tx.Put(kv.TransactionSenders, txKey, txn.Sender[:]); err != nil {
				return ctypes.StoredBlockBodyIndices{}, err
			}
		}
		enc, err := txn.Transaction.EncodeRLP()
		if err != nil {
			return ctypes.StoredBlockBodyIndices{}, err
		}
		if err := tx.Put(kv.Transactions, txKey, enc); err != nil {
			return ctypes.StoredBlockBodyIndices{}, err
		}
		if !hints.TransactionLookupFull {
			txHash, err := txn.Transaction.Hash()
			if err != nil {
				return ctypes.StoredBlockBodyIndices{}, err
			}
			if err := tx.Put(kv.TransactionHashNumbers, txHash[:], txKey); err != nil {
				return ctypes.StoredBlockBodyIndices{}, err
			}
		}
		nextTxNum++
	}
	if elapsed := time.Since(txWriteStart); elapsed > time.Second {
		log.Warn("slow transaction inserts", "block", block.Header.Number, "txs", len(block.Transactions), "elapsed", elapsed)
	}

	if len(block.Withdrawals) > 0 {
		enc, err := encodeWithdrawals(block.Withdrawals)
		if err != nil {
			return ctypes.StoredBlockBodyIndices{}, err
		}
		if err := tx.Put(kv.BlockWithdrawals, headerKey, enc); err != nil {
			return ctypes.StoredBlockBodyIndices{}, err
		}
	}

	indices := ctypes.StoredBlockBodyIndices{FirstTxNum: firstTxNum, TxCount: uint64(len(block.Transactions))}
	if err := tx.Put(kv.BlockBodyIndices, headerKey, encodeBodyIndices(indices)); err != nil {
		return ctypes.StoredBlockBodyIndices{}, err
	}
	if !indices.IsEmpty() {
		if err := tx.Put(kv.TransactionBlocks, encodeBlockNumber(indices.LastTxNum()), numKey); err != nil {
			return ctypes.StoredBlockBodyIndices{}, err
		}
	}

	log.Debug("inserted block", "number", block.Header.Number, "hash", hash, "txs", len(block.Transactions))
	return indices, nil
}

// computeTTD returns block 0's own difficulty, or parent TTD + this
// block's difficulty otherwise.
func computeTTD(tx kv.Tx, number uint64, difficulty *big.Int) (*big.Int, error) {
	if difficulty == nil {
		difficulty = new(big.Int)
	}
	if number == 0 {
		return new(big.Int).Set(difficulty), nil
	}
	parentTD, err := headerTDByNumber(tx, number-1)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(parentTD, difficulty), nil
}

func headerTDByNumber(tx kv.Tx, number uint64) (*big.Int, error) {
	hash, err := canonicalHash(tx, number)
	if err != nil {
		return nil, err
	}
	if hash == ([32]byte{}) {
		return big.NewInt(0), nil
	}
	key := append(encodeBlockNumber(number), hash[:]...)
	v, err := tx.GetOne(kv.HeaderTerminalDifficulties, key)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(v), nil
}

// nextTransactionNumber continues the monotonic sequence from the last
// TransactionBlocks anchor, the highest transaction number any block
// has claimed.
func nextTransactionNumber(tx kv.Tx) (uint64, error) {
	cursor, err := tx.Cursor(kv.TransactionBlocks)
	if err != nil {
		return 0, err
	}
	defer cursor.Close()
	k, _, err := cursor.Last()
	if err != nil {
		return 0, err
	}
	if k == nil {
		return 0, nil
	}
	return decodeBlockNumber(k) + 1, nil
}

func decodeBlockNumber(b []byte) uint64 {
	var n uint64
	for _, c := range b {
		n = n<<8 | uint64(c)
	}
	return n
}

func encodeBodyIndices(idx ctypes.StoredBlockBodyIndices) []byte {
	out := make([]byte, 16)
	copy(out[0:8], encodeBlockNumber(idx.FirstTxNum))
	copy(out[8:16], encodeBlockNumber(idx.TxCount))
	return out
}

func decodeBodyIndices(b []byte) (ctypes.StoredBlockBodyIndices, error) {
	if len(b) != 16 {
		return ctypes.StoredBlockBodyIndices{}, fmt.Errorf("decode body indices: want 16 bytes, got %d", len(b))
	}
	return ctypes.StoredBlockBodyIndices{
		FirstTxNum: decodeBlockNumber(b[0:8]),
		TxCount:    decodeBlockNumber(b[8:16]),
	}, nil
}

func encodeOmmers(ommers []ctypes.Header) ([]byte, error) {
	return encodeRLPList(len(ommers), func(i int) ([]byte, error) { return ommers[i].EncodeRLP() })
}

func decodeOmmers(b []byte) ([]ctypes.Header, error) {
	var out []ctypes.Header
	err := decodeRLPList(b, func(enc []byte) error {
		var h ctypes.Header
		if err := h.DecodeRLP(enc); err != nil {
			return err
		}
		out = append(out, h)
		return nil
	})
	return out, err
}

func encodeWithdrawals(ws []ctypes.Withdrawal) ([]byte, error) {
	return encodeRLPList(len(ws), func(i int) ([]byte, error) {
		return encodeWithdrawal(ws[i])
	})
}

func decodeWithdrawals(b []byte) ([]ctypes.Withdrawal, error) {
	var out []ctypes.Withdrawal
	err := decodeRLPList(b, func(enc []byte) error {
		w, err := decodeWithdrawal(enc)
		if err != nil {
			return err
		}
		out = append(out, w)
		return nil
	})
	return out, err
}
