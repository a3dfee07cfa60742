package types

import (
	"math/big"

	"github.com/erigontech/erigon-lib/rlp"
)

// Address and Hash name the fixed-size identifiers used throughout the
// key space.
type (
	Address = [20]byte
	Hash    = [32]byte
)

// EmptyRootHash is the RLP hash of an empty list/trie, used to mark
// "no withdrawals"/"no transactions" the way go-ethereum-family headers
// do.
var EmptyRootHash = Keccak256([]byte{0x80})

// Header is the block header. Only the fields this provider persists
// and reasons about are modelled; execution-only fields the EVM would
// need (e.g. mix digest nonce for PoW) are intentionally absent, since
// this repository never executes a block, only stores its effects.
type Header struct {
	ParentHash      Hash
	UncleHash       Hash
	Coinbase        Address
	Root            Hash // state root
	TxHash          Hash
	ReceiptHash     Hash
	Difficulty      *big.Int
	Number          uint64
	GasLimit        uint64
	GasUsed         uint64
	Time            uint64
	Extra           []byte
	BaseFee         *big.Int // EIP-1559, nil before London
	WithdrawalsHash *Hash    // EIP-4895, nil before Shanghai

	BlobGasUsed           *uint64 // EIP-4844
	ExcessBlobGas         *uint64 // EIP-4844
	ParentBeaconBlockRoot *Hash   // EIP-4788
}

// rlpHeader is the wire shape: pointers become RLP-optional trailing
// fields, matching go-ethereum/erigon's header RLP evolution across
// hard forks (each fork appends fields, never reorders existing ones).
type rlpHeader struct {
	ParentHash      Hash
	UncleHash       Hash
	Coinbase        Address
	Root            Hash
	TxHash          Hash
	ReceiptHash     Hash
	Difficulty      *big.Int
	Number          uint64
	GasLimit        uint64
	GasUsed         uint64
	Time            uint64
	Extra           []byte
	BaseFee         *big.Int `rlp:"optional"`
	WithdrawalsHash *Hash    `rlp:"optional"`
	BlobGasUsed     *uint64  `rlp:"optional"`
	ExcessBlobGas   *uint64  `rlp:"optional"`
	ParentBeacon    *Hash    `rlp:"optional"`
}

// EncodeRLP implements rlp.Encoder.
func (h *Header) EncodeRLP() ([]byte, error) {
	return rlp.EncodeToBytes(&rlpHeader{
		ParentHash:    h.ParentHash,
		UncleHash:     h.UncleHash,
		Coinbase:      h.Coinbase,
		Root:          h.Root,
		TxHash:        h.TxHash,
		ReceiptHash:   h.ReceiptHash,
		Difficulty:    h.Difficulty,
		Number:        h.Number,
		GasLimit:      h.GasLimit,
		GasUsed:       h.GasUsed,
		Time:          h.Time,
		Extra:         h.Extra,
		BaseFee:       h.BaseFee,
		WithdrawalsHash: h.WithdrawalsHash,
		BlobGasUsed:   h.BlobGasUsed,
		ExcessBlobGas: h.ExcessBlobGas,
		ParentBeacon:  h.ParentBeaconBlockRoot,
	})
}

// DecodeRLP implements rlp.Decoder.
func (h *Header) DecodeRLP(enc []byte) error {
	var w rlpHeader
	if err := rlp.DecodeBytes(enc, &w); err != nil {
		return err
	}
	*h = Header{
		ParentHash:            w.ParentHash,
		UncleHash:             w.UncleHash,
		Coinbase:              w.Coinbase,
		Root:                  w.Root,
		TxHash:                w.TxHash,
		ReceiptHash:           w.ReceiptHash,
		Difficulty:            w.Difficulty,
		Number:                w.Number,
		GasLimit:              w.GasLimit,
		GasUsed:               w.GasUsed,
		Time:                  w.Time,
		Extra:                 w.Extra,
		BaseFee:               w.BaseFee,
		WithdrawalsHash:       w.WithdrawalsHash,
		BlobGasUsed:           w.BlobGasUsed,
		ExcessBlobGas:         w.ExcessBlobGas,
		ParentBeaconBlockRoot: w.ParentBeacon,
	}
	return nil
}

// Hash returns the Keccak256 hash of the RLP-encoded header.
func (h *Header) Hash() (Hash, error) {
	enc, err := h.EncodeRLP()
	if err != nil {
		return Hash{}, err
	}
	return Keccak256(enc), nil
}

// Withdrawal is an EIP-4895 validator withdrawal.
type Withdrawal struct {
	Index          uint64
	ValidatorIndex uint64
	Address        Address
	Amount         uint64 // in Gwei
}
