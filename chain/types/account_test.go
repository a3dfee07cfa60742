package types

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestAccountCompactEncoding(t *testing.T) {
	a := Account{Nonce: 7, Incarnation: 2}
	a.Balance = *uint256.NewInt(1_000_000)
	a.SetCodeHash(Keccak256([]byte("code")))

	var back Account
	require.NoError(t, back.DecodeForStorage(a.EncodeForStorage()))
	require.Equal(t, a.Nonce, back.Nonce)
	require.Equal(t, a.Balance, back.Balance)
	require.Equal(t, a.Incarnation, back.Incarnation)
	require.Equal(t, a.CodeHash, back.CodeHash)
}

func TestEmptyAccountEncodesToFieldSetOnly(t *testing.T) {
	var a Account
	enc := a.EncodeForStorage()
	require.Equal(t, []byte{0}, enc)

	var back Account
	require.NoError(t, back.DecodeForStorage(enc))
	require.Zero(t, back.Nonce)
	require.True(t, back.Balance.IsZero())
	require.Equal(t, emptyCodeHash, back.CodeHash)
}

func TestAccountDecodeShortInput(t *testing.T) {
	var a Account
	// Field-set byte claims a nonce but the bytes are missing.
	require.Error(t, a.DecodeForStorage([]byte{1, 4, 0}))
}

func TestHeaderRLPRoundTrip(t *testing.T) {
	baseFee := big.NewInt(7)
	shanghaiHash := Keccak256([]byte("w"))
	h := Header{
		ParentHash:      Keccak256([]byte("parent")),
		Coinbase:        Address{0x01},
		Root:            Keccak256([]byte("root")),
		Difficulty:      big.NewInt(131072),
		Number:          1234,
		GasLimit:        30_000_000,
		GasUsed:         21_000,
		Time:            1_700_000_000,
		Extra:           []byte("test"),
		BaseFee:         baseFee,
		WithdrawalsHash: &shanghaiHash,
	}
	enc, err := h.EncodeRLP()
	require.NoError(t, err)

	var back Header
	require.NoError(t, back.DecodeRLP(enc))
	require.Equal(t, h.Number, back.Number)
	require.Equal(t, h.Root, back.Root)
	require.Equal(t, 0, h.Difficulty.Cmp(back.Difficulty))
	require.Equal(t, h.BaseFee.Int64(), back.BaseFee.Int64())
	require.NotNil(t, back.WithdrawalsHash)
	require.Equal(t, shanghaiHash, *back.WithdrawalsHash)
	require.Nil(t, back.BlobGasUsed)

	h1, err := h.Hash()
	require.NoError(t, err)
	h2, err := back.Hash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestTransactionHashIsStable(t *testing.T) {
	to := Address{0x99}
	txn := Transaction{
		Nonce:    3,
		GasPrice: uint256.NewInt(1),
		Gas:      21000,
		To:       &to,
		Value:    uint256.NewInt(100),
		V:        uint256.NewInt(27),
		R:        uint256.NewInt(1),
		S:        uint256.NewInt(2),
	}
	h1, err := txn.Hash()
	require.NoError(t, err)

	enc, err := txn.EncodeRLP()
	require.NoError(t, err)
	var back Transaction
	require.NoError(t, back.DecodeRLP(enc))
	h2, err := back.Hash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	txn.Nonce = 4
	h3, err := txn.Hash()
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}
