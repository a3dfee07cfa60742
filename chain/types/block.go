package types

// TransactionSignedEcRecovered pairs a decoded transaction with its
// recovered sender, the unit the block writer and changeset engine
// operate on after sender recovery.
type TransactionSignedEcRecovered struct {
	Transaction Transaction
	Sender      Address
}

// Block is a full block: header plus body. Ommers/withdrawals are
// optional depending on fork.
type Block struct {
	Header       Header
	Transactions []TransactionSignedEcRecovered
	Ommers       []Header
	Withdrawals  []Withdrawal
}

// StoredBlockBodyIndices records the transaction-number range owned by
// one block within the monotonically increasing Transactions table,
// exactly as BlockBodyIndices stores it.
type StoredBlockBodyIndices struct {
	FirstTxNum uint64
	TxCount    uint64
}

func (b StoredBlockBodyIndices) IsEmpty() bool { return b.TxCount == 0 }

// LastTxNum returns the tx number of the last transaction in the block,
// used as the TransactionBlocks anchor key.
func (b StoredBlockBodyIndices) LastTxNum() uint64 {
	if b.TxCount == 0 {
		return b.FirstTxNum
	}
	return b.FirstTxNum + b.TxCount - 1
}

func (b StoredBlockBodyIndices) TxNumRange() (from, to uint64) {
	return b.FirstTxNum, b.FirstTxNum + b.TxCount
}
