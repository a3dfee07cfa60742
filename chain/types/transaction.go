package types

import (
	"github.com/erigontech/erigon-lib/rlp"
	"github.com/holiman/uint256"
)

// AccessTuple is one entry of an EIP-2930 access list.
type AccessTuple struct {
	Address     Address
	StorageKeys []Hash
}

// Transaction models the fields this provider persists and needs for
// sender recovery and hashing; blob fields are carried and hashed only,
// and it does not model execution semantics (no opcode interpretation
// happens in this repository).
type Transaction struct {
	Type     byte // 0 legacy, 1 access-list, 2 dynamic-fee, 3 blob
	ChainID  *uint256.Int
	Nonce    uint64
	GasTipCap *uint256.Int // nil for legacy (use GasPrice instead)
	GasFeeCap *uint256.Int
	GasPrice  *uint256.Int // legacy/access-list only
	Gas       uint64
	To        *Address // nil for contract creation
	Value     *uint256.Int
	Data      []byte
	AccessList []AccessTuple

	BlobFeeCap  *uint256.Int // EIP-4844
	BlobHashes  []Hash

	V, R, S *uint256.Int // signature
}

// rlpTransaction is the wire shape. Nil pointers encode as empty
// values, so absent fork-specific fields cost one byte each.
type rlpTransaction struct {
	Type       byte
	ChainID    *uint256.Int
	Nonce      uint64
	GasTipCap  *uint256.Int
	GasFeeCap  *uint256.Int
	GasPrice   *uint256.Int
	Gas        uint64
	To         *Address
	Value      *uint256.Int
	Data       []byte
	AccessList []AccessTuple
	BlobFeeCap *uint256.Int
	BlobHashes []Hash
	V, R, S    *uint256.Int
}

// EncodeRLP implements rlp.Encoder.
func (t *Transaction) EncodeRLP() ([]byte, error) {
	return rlp.EncodeToBytes(&rlpTransaction{
		Type: t.Type, ChainID: t.ChainID, Nonce: t.Nonce,
		GasTipCap: t.GasTipCap, GasFeeCap: t.GasFeeCap, GasPrice: t.GasPrice,
		Gas: t.Gas, To: t.To, Value: t.Value, Data: t.Data,
		AccessList: t.AccessList, BlobFeeCap: t.BlobFeeCap, BlobHashes: t.BlobHashes,
		V: t.V, R: t.R, S: t.S,
	})
}

// DecodeRLP implements rlp.Decoder.
func (t *Transaction) DecodeRLP(enc []byte) error {
	var w rlpTransaction
	if err := rlp.DecodeBytes(enc, &w); err != nil {
		return err
	}
	*t = Transaction{
		Type: w.Type, ChainID: w.ChainID, Nonce: w.Nonce,
		GasTipCap: w.GasTipCap, GasFeeCap: w.GasFeeCap, GasPrice: w.GasPrice,
		Gas: w.Gas, To: w.To, Value: w.Value, Data: w.Data,
		AccessList: w.AccessList, BlobFeeCap: w.BlobFeeCap, BlobHashes: w.BlobHashes,
		V: w.V, R: w.R, S: w.S,
	}
	return nil
}

// Hash returns the transaction hash used as the TransactionHashNumbers
// key and as the canonical identifier returned to callers.
func (t *Transaction) Hash() (Hash, error) {
	enc, err := t.EncodeRLP()
	if err != nil {
		return Hash{}, err
	}
	return Keccak256(enc), nil
}
