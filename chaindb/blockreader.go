package chaindb

import (
	"fmt"
	"math/big"

	ctypes "github.com/erigontech/chaindb/chain/types"
	"github.com/erigontech/chaindb/kv"
	"github.com/erigontech/chaindb/staticfile"
)

// BlockID addresses a block by number or hash.
type BlockID struct {
	Number *uint64
	Hash   *[32]byte
}

func BlockNumberID(n uint64) BlockID { return BlockID{Number: &n} }
func BlockHashID(h [32]byte) BlockID { return BlockID{Hash: &h} }

// TransactionMeta locates a transaction inside its enclosing block.
type TransactionMeta struct {
	TxHash      [32]byte
	Index       uint64
	BlockHash   [32]byte
	BlockNumber uint64
	BaseFee     *big.Int
	Timestamp   uint64
}

// resolveNumber turns a BlockID into a canonical block number.
func (p *DatabaseProvider) resolveNumber(id BlockID) (uint64, bool, error) {
	if id.Number != nil {
		return *id.Number, true, nil
	}
	if id.Hash == nil {
		return 0, false, nil
	}
	v, err := p.tx.GetOne(kv.HeaderNumbers, id.Hash[:])
	if err != nil || len(v) == 0 {
		return 0, false, err
	}
	return decodeBlockNumber(v), true, nil
}

// HeaderByNumber reads the canonical header at n, from the static
// headers segment when frozen, the store otherwise. Returns nil when
// the block is unknown.
func (p *DatabaseProvider) HeaderByNumber(n uint64) (*ctypes.Header, error) {
	enc, err := p.headerBytes(n)
	if err != nil || enc == nil {
		return nil, err
	}
	var h ctypes.Header
	if err := h.DecodeRLP(enc); err != nil {
		return nil, fmt.Errorf("decode header %d: %w", n, err)
	}
	return &h, nil
}

func (p *DatabaseProvider) headerBytes(n uint64) ([]byte, error) {
	dbRead := func(id uint64) ([]byte, error) {
		hash, err := canonicalHash(p.tx, id)
		if err != nil || hash == ([32]byte{}) {
			return nil, err
		}
		return p.tx.GetOne(kv.Headers, append(encodeBlockNumber(id), hash[:]...))
	}
	if p.static == nil {
		return dbRead(n)
	}
	return p.static.GetWithStaticFileOrDatabase(staticfile.SegmentHeaders, n, dbRead)
}

// HeaderByHash resolves hash to its number and reads the header.
func (p *DatabaseProvider) HeaderByHash(hash [32]byte) (*ctypes.Header, error) {
	n, found, err := p.resolveNumber(BlockHashID(hash))
	if err != nil || !found {
		return nil, err
	}
	return p.HeaderByNumber(n)
}

// HeaderTDByNumber returns the total difficulty at n. Once the chain
// has merged, the terminal total difficulty is a constant and blocks at
// or past the boundary short-circuit to it without touching storage.
func (p *DatabaseProvider) HeaderTDByNumber(n uint64) (*big.Int, error) {
	if p.spec != nil && p.spec.TerminalTotalDifficulty != nil && p.spec.IsPostMerge(n) {
		return new(big.Int).Set(p.spec.TerminalTotalDifficulty), nil
	}
	return headerTDByNumber(p.tx, n)
}

// Block assembles the full block at id. A missing header is reported
// as nil; a present header with missing body indices is also nil (the
// body is known to be absent or not yet indexed).
func (p *DatabaseProvider) Block(id BlockID) (*ctypes.Block, error) {
	n, found, err := p.resolveNumber(id)
	if err != nil || !found {
		return nil, err
	}
	header, err := p.HeaderByNumber(n)
	if err != nil || header == nil {
		return nil, err
	}
	indices, err := readBodyIndices(p.tx, n)
	if err != nil || indices == nil {
		return nil, err
	}

	block := &ctypes.Block{Header: *header}

	txs, err := p.transactionsByIDRange(indices.TxNumRange())
	if err != nil {
		return nil, err
	}
	for _, txn := range txs {
		block.Transactions = append(block.Transactions, ctypes.TransactionSignedEcRecovered{Transaction: txn})
	}

	if !p.spec.IsPostMerge(n) {
		ommers, err := p.OmmersByNumber(n)
		if err != nil {
			return nil, err
		}
		block.Ommers = ommers
	}
	if p.spec.IsShanghaiActive(header.Time) {
		ws, err := p.WithdrawalsByNumber(n)
		if err != nil {
			return nil, err
		}
		block.Withdrawals = ws
	}
	return block, nil
}

// BlockWithSenders is Block plus sender resolution: the stored sender
// rows and the block's transactions are reconciled with a two-pointer
// merge, the missing senders batch-recovered from their signatures and
// spliced back in position (see reconcileSenders). More stored senders
// than transactions is logged and ignored; a failed recovery is an
// error.
func (p *DatabaseProvider) BlockWithSenders(id BlockID) (*ctypes.Block, error) {
	block, err := p.Block(id)
	if err != nil || block == nil {
		return nil, err
	}
	indices, err := readBodyIndices(p.tx, block.Header.Number)
	if err != nil || indices == nil {
		return block, err
	}
	first, end := indices.TxNumRange()

	stored, err := readSenderRows(p.tx, first, end)
	if err != nil {
		return nil, err
	}
	txs := make([]ctypes.Transaction, len(block.Transactions))
	for i := range block.Transactions {
		txs[i] = block.Transactions[i].Transaction
	}
	senders, err := reconcileSenders(txs, first, stored)
	if err != nil {
		return nil, err
	}
	for i := range block.Transactions {
		block.Transactions[i].Sender = senders[i]
	}
	return block, nil
}

// transactionsByIDRange reads [from, to) from the transactions segment
// and store.
func (p *DatabaseProvider) transactionsByIDRange(from, to uint64) ([]ctypes.Transaction, error) {
	dbRead := func(lo, hi uint64) ([][]byte, error) {
		var out [][]byte
		for id := lo; id < hi; id++ {
			enc, err := p.tx.GetOne(kv.Transactions, encodeBlockNumber(id))
			if err != nil {
				return nil, err
			}
			if enc == nil {
				return nil, fmt.Errorf("%w: tx %d", ErrBlockBodyTxCount, id)
			}
			out = append(out, enc)
		}
		return out, nil
	}
	var raws [][]byte
	var err error
	if p.static != nil {
		raws, err = p.static.GetRangeWithStaticFileOrDatabase(staticfile.SegmentTransactions, from, to, nil, dbRead)
	} else {
		raws, err = dbRead(from, to)
	}
	if err != nil {
		return nil, err
	}
	out := make([]ctypes.Transaction, 0, len(raws))
	for i, enc := range raws {
		var txn ctypes.Transaction
		if err := txn.DecodeRLP(enc); err != nil {
			return nil, fmt.Errorf("decode tx %d: %w", from+uint64(i), err)
		}
		out = append(out, txn)
	}
	return out, nil
}

// TransactionByHash resolves hash through the lookup table.
func (p *DatabaseProvider) TransactionByHash(hash [32]byte) (*ctypes.Transaction, uint64, error) {
	v, err := p.tx.GetOne(kv.TransactionHashNumbers, hash[:])
	if err != nil || len(v) == 0 {
		return nil, 0, err
	}
	txNum := decodeBlockNumber(v)
	txs, err := p.transactionsByIDRange(txNum, txNum+1)
	if err != nil || len(txs) == 0 {
		return nil, 0, err
	}
	return &txs[0], txNum, nil
}

// TransactionByHashWithMeta additionally locates the enclosing block
// and derives the transaction's metadata from its header.
func (p *DatabaseProvider) TransactionByHashWithMeta(hash [32]byte) (*ctypes.Transaction, *TransactionMeta, error) {
	txn, txNum, err := p.TransactionByHash(hash)
	if err != nil || txn == nil {
		return nil, nil, err
	}
	blockNumber, found, err := p.blockNumberForTx(txNum)
	if err != nil || !found {
		return txn, nil, err
	}
	header, err := p.HeaderByNumber(blockNumber)
	if err != nil || header == nil {
		return txn, nil, err
	}
	indices, err := readBodyIndices(p.tx, blockNumber)
	if err != nil || indices == nil {
		return txn, nil, err
	}
	blockHash, err := header.Hash()
	if err != nil {
		return nil, nil, err
	}
	return txn, &TransactionMeta{
		TxHash:      hash,
		Index:       txNum - indices.FirstTxNum,
		BlockHash:   blockHash,
		BlockNumber: blockNumber,
		BaseFee:     header.BaseFee,
		Timestamp:   header.Time,
	}, nil
}

// blockNumberForTx finds the enclosing block through the sparse
// TransactionBlocks anchors: the anchor at the first key >= txNum names
// the block whose last transaction that anchor is.
func (p *DatabaseProvider) blockNumberForTx(txNum uint64) (uint64, bool, error) {
	cursor, err := p.tx.Cursor(kv.TransactionBlocks)
	if err != nil {
		return 0, false, err
	}
	defer cursor.Close()
	k, v, err := cursor.Seek(encodeBlockNumber(txNum))
	if err != nil || k == nil {
		return 0, false, err
	}
	return decodeBlockNumber(v), true, nil
}

// ReceiptsByBlock returns the receipts of the block at id, nil when the
// block or its body indices are unknown.
func (p *DatabaseProvider) ReceiptsByBlock(id BlockID) ([]*ctypes.Receipt, error) {
	n, found, err := p.resolveNumber(id)
	if err != nil || !found {
		return nil, err
	}
	indices, err := readBodyIndices(p.tx, n)
	if err != nil || indices == nil {
		return nil, err
	}
	from, to := indices.TxNumRange()

	dbRead := func(lo, hi uint64) ([][]byte, error) {
		var out [][]byte
		for id := lo; id < hi; id++ {
			enc, err := p.tx.GetOne(kv.Receipts, encodeBlockNumber(id))
			if err != nil {
				return nil, err
			}
			if enc == nil {
				break
			}
			out = append(out, enc)
		}
		return out, nil
	}
	var raws [][]byte
	if p.static != nil {
		raws, err = p.static.GetRangeWithStaticFileOrDatabase(staticfile.SegmentReceipts, from, to, nil, dbRead)
	} else {
		raws, err = dbRead(from, to)
	}
	if err != nil {
		return nil, err
	}
	out := make([]*ctypes.Receipt, 0, len(raws))
	for i, enc := range raws {
		var r ctypes.Receipt
		if err := r.DecodeRLP(enc); err != nil {
			return nil, fmt.Errorf("decode receipt %d: %w", from+uint64(i), err)
		}
		out = append(out, &r)
	}
	return out, nil
}

// OmmersByNumber returns the stored ommers for block n; empty for every
// post-merge block, which never stores an ommers row.
func (p *DatabaseProvider) OmmersByNumber(n uint64) ([]ctypes.Header, error) {
	hash, err := canonicalHash(p.tx, n)
	if err != nil || hash == ([32]byte{}) {
		return nil, err
	}
	enc, err := p.tx.GetOne(kv.BlockOmmers, append(encodeBlockNumber(n), hash[:]...))
	if err != nil || len(enc) == 0 {
		return nil, err
	}
	return decodeOmmers(enc)
}

// WithdrawalsByNumber returns the stored withdrawals for block n; a
// pre-Shanghai block has no row.
func (p *DatabaseProvider) WithdrawalsByNumber(n uint64) ([]ctypes.Withdrawal, error) {
	hash, err := canonicalHash(p.tx, n)
	if err != nil || hash == ([32]byte{}) {
		return nil, err
	}
	enc, err := p.tx.GetOne(kv.BlockWithdrawals, append(encodeBlockNumber(n), hash[:]...))
	if err != nil || len(enc) == 0 {
		return nil, err
	}
	return decodeWithdrawals(enc)
}

// LastBlockNumber returns the highest canonical block number, or 0 for
// an empty chain.
func (p *DatabaseProvider) LastBlockNumber() (uint64, error) {
	cursor, err := p.tx.Cursor(kv.CanonicalHeaders)
	if err != nil {
		return 0, err
	}
	defer cursor.Close()
	k, _, err := cursor.Last()
	if err != nil || k == nil {
		return 0, err
	}
	return decodeBlockNumber(k), nil
}

// readBodyIndices reads the canonical body indices row for block n, nil
// when absent.
func readBodyIndices(tx kv.Tx, n uint64) (*ctypes.StoredBlockBodyIndices, error) {
	hash, err := canonicalHash(tx, n)
	if err != nil || hash == ([32]byte{}) {
		return nil, err
	}
	enc, err := tx.GetOne(kv.BlockBodyIndices, append(encodeBlockNumber(n), hash[:]...))
	if err != nil || len(enc) == 0 {
		return nil, err
	}
	indices, err := decodeBodyIndices(enc)
	if err != nil {
		return nil, err
	}
	return &indices, nil
}
