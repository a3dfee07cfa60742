package chaindb

import (
	"fmt"

	ctypes "github.com/erigontech/chaindb/chain/types"
	"github.com/erigontech/chaindb/staticfile"
)

// validateHeaderForks rejects a header whose optional field set does
// not match the forks active at its timestamp.
func (p *DatabaseProvider) validateHeaderForks(h *ctypes.Header) error {
	if p.spec == nil {
		return nil
	}
	return ctypes.ValidateHeaderForkFields(h, p.spec.IsShanghaiActive(h.Time), p.spec.IsCancunActive(h.Time))
}

// InsertBlock writes one block through this provider's transaction.
func (p *DatabaseProvider) InsertBlock(block *ctypes.Block) (ctypes.StoredBlockBodyIndices, error) {
	if p.rwTx == nil {
		return ctypes.StoredBlockBodyIndices{}, ErrUnsupportedProvider
	}
	if err := p.validateHeaderForks(&block.Header); err != nil {
		return ctypes.StoredBlockBodyIndices{}, fmt.Errorf("block %d: %w", block.Header.Number, err)
	}
	return InsertBlock(p.rwTx, block, p.prune)
}

// AppendBlocksWithState appends blocks and their execution effects; see
// the package-level function for the write order.
func (p *DatabaseProvider) AppendBlocksWithState(blocks []*ctypes.Block, changes []*BlockChanges, expectedStateRoot [32]byte) error {
	if p.rwTx == nil {
		return ErrUnsupportedProvider
	}
	for _, block := range blocks {
		if err := p.validateHeaderForks(&block.Header); err != nil {
			return fmt.Errorf("block %d: %w", block.Header.Number, err)
		}
	}
	return AppendBlocksWithState(p.rwTx, blocks, changes, p.prune, expectedStateRoot)
}

// PeekBlockRange reads blocks [fromBlock, tipBlock] and their execution
// state without modifying anything.
func (p *DatabaseProvider) PeekBlockRange(fromBlock, tipBlock uint64) (*UnwoundChain, error) {
	if p.rwTx == nil {
		return nil, ErrUnsupportedProvider
	}
	return GetOrTakeBlockAndExecutionRange(p.rwTx, fromBlock, tipBlock, [32]byte{}, [32]byte{}, false)
}

// UnwindBlockRange removes blocks [fromBlock, tipBlock], verifying the
// recomputed state root against the parent header, and shrinks the
// static-file segments back to the new tip.
func (p *DatabaseProvider) UnwindBlockRange(fromBlock, tipBlock uint64) (*UnwoundChain, error) {
	if p.rwTx == nil {
		return nil, ErrUnsupportedProvider
	}

	var parentRoot, parentHash [32]byte
	if fromBlock > 0 {
		parent, err := p.HeaderByNumber(fromBlock - 1)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, fmt.Errorf("%w: %d", ErrHeaderNotFound, fromBlock-1)
		}
		parentRoot = parent.Root
		parentHash, err = parent.Hash()
		if err != nil {
			return nil, err
		}
	}

	chain, err := GetOrTakeBlockAndExecutionRange(p.rwTx, fromBlock, tipBlock, parentRoot, parentHash, true)
	if err != nil {
		return nil, err
	}

	if p.static != nil {
		if fromBlock > 0 {
			if err := p.static.Truncate(staticfile.SegmentHeaders, fromBlock-1); err != nil {
				return nil, err
			}
		}
		nextTx, err := nextTransactionNumber(p.rwTx)
		if err != nil {
			return nil, err
		}
		if nextTx > 0 {
			for _, seg := range []staticfile.Segment{staticfile.SegmentTransactions, staticfile.SegmentReceipts} {
				if err := p.static.Truncate(seg, nextTx-1); err != nil {
					return nil, err
				}
			}
		}
	}
	return chain, nil
}

// AppendStaticHeader stages the canonical header at n into the headers
// segment; published at Commit.
func (p *DatabaseProvider) AppendStaticHeader(n uint64, header *ctypes.Header) error {
	if p.static == nil {
		return ErrUnsupportedProvider
	}
	enc, err := header.EncodeRLP()
	if err != nil {
		return err
	}
	return p.static.Append(staticfile.SegmentHeaders, n, enc)
}

// AppendStaticTransaction stages one transaction record.
func (p *DatabaseProvider) AppendStaticTransaction(txNum uint64, txn *ctypes.Transaction) error {
	if p.static == nil {
		return ErrUnsupportedProvider
	}
	enc, err := txn.EncodeRLP()
	if err != nil {
		return err
	}
	return p.static.Append(staticfile.SegmentTransactions, txNum, enc)
}

// AppendStaticReceipt stages one receipt record.
func (p *DatabaseProvider) AppendStaticReceipt(txNum uint64, receipt *ctypes.Receipt) error {
	if p.static == nil {
		return ErrUnsupportedProvider
	}
	enc, err := receipt.EncodeRLP()
	if err != nil {
		return err
	}
	return p.static.Append(staticfile.SegmentReceipts, txNum, enc)
}
