package types

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"
)

// Account is the plain/hashed state account record. The storage
// encoding is compact: a leading field-set byte selects which of
// Nonce/Balance/Incarnation/CodeHash are present and how many bytes
// each occupies, rather than always writing fixed 8/32/8/32-byte slots.
type Account struct {
	Nonce       uint64
	Balance     uint256.Int
	Incarnation uint64
	CodeHash    [32]byte // empty hash when the account has no code
	codeHashSet bool
}

func (a *Account) SetCodeHash(h [32]byte) {
	a.CodeHash = h
	a.codeHashSet = true
}

// EncodeForStorage writes the compact representation used by
// PlainAccountState/HashedAccounts.
func (a *Account) EncodeForStorage() []byte {
	var fieldSet byte
	var buf [8]byte

	nonceBytes := trimmedBE(a.Nonce, buf[:])
	if a.Nonce != 0 {
		fieldSet |= 1
	}
	balanceBytes := a.Balance.Bytes()
	if !a.Balance.IsZero() {
		fieldSet |= 2
	}
	var incBuf [8]byte
	incBytes := trimmedBE(a.Incarnation, incBuf[:])
	if a.Incarnation != 0 {
		fieldSet |= 4
	}
	hasCode := a.codeHashSet && a.CodeHash != emptyCodeHash
	if hasCode {
		fieldSet |= 8
	}

	out := make([]byte, 0, 1+1+len(nonceBytes)+1+len(balanceBytes)+1+len(incBytes)+32)
	out = append(out, fieldSet)
	if fieldSet&1 != 0 {
		out = append(out, byte(len(nonceBytes)))
		out = append(out, nonceBytes...)
	}
	if fieldSet&2 != 0 {
		out = append(out, byte(len(balanceBytes)))
		out = append(out, balanceBytes...)
	}
	if fieldSet&4 != 0 {
		out = append(out, byte(len(incBytes)))
		out = append(out, incBytes...)
	}
	if fieldSet&8 != 0 {
		out = append(out, a.CodeHash[:]...)
	}
	return out
}

// DecodeForStorage parses the compact representation written by
// EncodeForStorage.
func (a *Account) DecodeForStorage(enc []byte) error {
	*a = Account{}
	if len(enc) == 0 {
		return nil
	}
	fieldSet := enc[0]
	pos := 1

	if fieldSet&1 != 0 {
		n, np, err := readTrimmed(enc, pos)
		if err != nil {
			return fmt.Errorf("account nonce: %w", err)
		}
		a.Nonce = beToUint64(n)
		pos = np
	}
	if fieldSet&2 != 0 {
		n, np, err := readTrimmed(enc, pos)
		if err != nil {
			return fmt.Errorf("account balance: %w", err)
		}
		a.Balance.SetBytes(n)
		pos = np
	}
	if fieldSet&4 != 0 {
		n, np, err := readTrimmed(enc, pos)
		if err != nil {
			return fmt.Errorf("account incarnation: %w", err)
		}
		a.Incarnation = beToUint64(n)
		pos = np
	}
	if fieldSet&8 != 0 {
		if pos+32 > len(enc) {
			return fmt.Errorf("account code hash: short input")
		}
		copy(a.CodeHash[:], enc[pos:pos+32])
		a.codeHashSet = true
		pos += 32
	}
	if !a.codeHashSet {
		a.CodeHash = emptyCodeHash
	}
	return nil
}

var emptyCodeHash = Keccak256(nil)

func trimmedBE(v uint64, buf []byte) []byte {
	binary.BigEndian.PutUint64(buf, v)
	i := 0
	for i < 8 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}

func beToUint64(b []byte) uint64 {
	var buf [8]byte
	copy(buf[8-len(b):], b)
	return binary.BigEndian.Uint64(buf[:])
}

func readTrimmed(enc []byte, pos int) ([]byte, int, error) {
	if pos >= len(enc) {
		return nil, pos, fmt.Errorf("short input reading length")
	}
	n := int(enc[pos])
	pos++
	if pos+n > len(enc) {
		return nil, pos, fmt.Errorf("short input reading %d bytes", n)
	}
	return enc[pos : pos+n], pos + n, nil
}
