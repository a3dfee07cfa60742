package types

import (
	"errors"
	"fmt"

	"github.com/erigontech/erigon-lib/rlp"
	"github.com/erigontech/secp256k1"
	"github.com/holiman/uint256"
)

var ErrInvalidSignature = errors.New("types: invalid transaction signature")

// rlpUnsignedTransaction is the signing payload: every transaction
// field except the signature itself.
type rlpUnsignedTransaction struct {
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
}

// SigningHash returns the hash the sender signed.
func (t *Transaction) SigningHash() (Hash, error) {
	enc, err := rlp.EncodeToBytes(&rlpUnsignedTransaction{
		Type: t.Type, ChainID: t.ChainID, Nonce: t.Nonce,
		GasTipCap: t.GasTipCap, GasFeeCap: t.GasFeeCap, GasPrice: t.GasPrice,
		Gas: t.Gas, To: t.To, Value: t.Value, Data: t.Data,
		AccessList: t.AccessList, BlobFeeCap: t.BlobFeeCap, BlobHashes: t.BlobHashes,
	})
	if err != nil {
		return Hash{}, err
	}
	return Keccak256(enc), nil
}

// RecoverSenders derives the sending addresses of a batch of
// transactions, in input order. One bad signature fails the whole
// batch.
func RecoverSenders(txs []*Transaction) ([]Address, error) {
	out := make([]Address, len(txs))
	for i, txn := range txs {
		addr, err := RecoverSender(txn)
		if err != nil {
			return nil, fmt.Errorf("batch index %d: %w", i, err)
		}
		out[i] = addr
	}
	return out, nil
}

// RecoverSender derives the sending address from the transaction
// signature.
func RecoverSender(t *Transaction) (Address, error) {
	if t.R == nil || t.S == nil || t.V == nil {
		return Address{}, ErrInvalidSignature
	}
	hash, err := t.SigningHash()
	if err != nil {
		return Address{}, err
	}

	// Legacy signatures carry the recovery id as 27/28 (or the
	// EIP-155 chain-shifted form); typed transactions carry it raw.
	v := t.V.Uint64()
	switch {
	case v == 27 || v == 28:
		v -= 27
	case v >= 35:
		v = (v - 35) % 2
	}
	if v > 1 {
		return Address{}, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, v)
	}

	sig := make([]byte, 65)
	t.R.WriteToSlice(sig[0:32])
	t.S.WriteToSlice(sig[32:64])
	sig[64] = byte(v)

	pub, err := secp256k1.RecoverPubkey(hash[:], sig)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(pub) != 65 || pub[0] != 4 {
		return Address{}, ErrInvalidSignature
	}
	h := Keccak256(pub[1:])
	var addr Address
	copy(addr[:], h[12:])
	return addr, nil
}
