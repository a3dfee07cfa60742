package chaindb

import (
	"fmt"

	log "github.com/erigontech/erigon-lib/log/v3"

	ctypes "github.com/erigontech/chaindb/chain/types"
	"github.com/erigontech/chaindb/kv"
)

// storedSender is one TransactionSenders row.
type storedSender struct {
	txNum uint64
	addr  ctypes.Address
}

// readSenderRows reads the sender rows for transaction numbers
// [first, end), in order.
func readSenderRows(tx kv.Tx, first, end uint64) ([]storedSender, error) {
	cursor, err := tx.Cursor(kv.TransactionSenders)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()
	var out []storedSender
	for k, v, err := cursor.Seek(encodeBlockNumber(first)); k != nil; k, v, err = cursor.Next() {
		if err != nil {
			return nil, err
		}
		txNum := decodeBlockNumber(k)
		if txNum >= end {
			break
		}
		var a ctypes.Address
		copy(a[:], v)
		out = append(out, storedSender{txNum: txNum, addr: a})
	}
	return out, nil
}

// reconcileSenders merges a block range's transactions with its stored
// sender rows, both ordered by transaction number, using two pointers:
// a matching row fills its position directly, transactions without a
// row are collected with their indices, batch-recovered from their
// signatures in one go, and the recovered addresses spliced back at the
// recorded positions. A sender row with no transaction is logged at
// error and skipped, never fatal; only a failed recovery errors.
func reconcileSenders(txs []ctypes.Transaction, firstTxNum uint64, stored []storedSender) ([]ctypes.Address, error) {
	out := make([]ctypes.Address, len(txs))
	var missingIdx []int
	var missingTxs []*ctypes.Transaction

	i := 0
	for j := range txs {
		txNum := firstTxNum + uint64(j)
		for i < len(stored) && stored[i].txNum < txNum {
			log.Error("sender row without matching transaction", "txNum", stored[i].txNum)
			i++
		}
		if i < len(stored) && stored[i].txNum == txNum {
			out[j] = stored[i].addr
			i++
			continue
		}
		missingIdx = append(missingIdx, j)
		missingTxs = append(missingTxs, &txs[j])
	}
	for ; i < len(stored); i++ {
		log.Error("sender row without matching transaction", "txNum", stored[i].txNum)
	}

	if len(missingIdx) == 0 {
		return out, nil
	}
	recovered, err := ctypes.RecoverSenders(missingTxs)
	if err != nil {
		return nil, fmt.Errorf("%w: txs from %d: %v", ErrSenderRecoveryFailed, firstTxNum+uint64(missingIdx[0]), err)
	}
	for k, j := range missingIdx {
		out[j] = recovered[k]
	}
	return out, nil
}
