package chaindb

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	ctypes "github.com/erigontech/chaindb/chain/types"
)

// TxHashNumber pairs a transaction hash with its ordinal.
type TxHashNumber struct {
	Hash  [32]byte
	TxNum uint64
}

// TransactionHashesByRange recomputes keccak256(rlp(tx)) for every
// transaction in [from, to), fanned out over a bounded worker pool.
// Results are unordered. Cancelling ctx stops the collection; workers
// finish their current chunk and exit.
func (p *DatabaseProvider) TransactionHashesByRange(ctx context.Context, from, to uint64) ([]TxHashNumber, error) {
	if from >= to {
		return nil, nil
	}
	txs, err := p.transactionsByIDRange(from, to)
	if err != nil {
		return nil, err
	}

	workers := runtime.GOMAXPROCS(-1)
	chunkSize := int(ctypes.CeilDiv(uint64(len(txs)), uint64(workers)))
	if chunkSize == 0 {
		chunkSize = 1
	}

	results := make(chan TxHashNumber, len(txs))
	var g errgroup.Group
	for start := 0; start < len(txs); start += chunkSize {
		chunk := txs[start:min(start+chunkSize, len(txs))]
		firstNum := from + uint64(start)
		g.Go(func() error {
			for i := range chunk {
				hash, err := chunk[i].Hash()
				if err != nil {
					return err
				}
				results <- TxHashNumber{Hash: hash, TxNum: firstNum + uint64(i)}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	close(results)

	out := make([]TxHashNumber, 0, len(txs))
	for r := range results {
		out = append(out, r)
	}
	return out, nil
}
