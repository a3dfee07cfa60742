package types

import "golang.org/x/crypto/sha3"

// Keccak256 hashes data with Keccak-256, the hash function used
// throughout the chain's key space (hashed-state mirror, header/tx
// hashes).
func Keccak256(data ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}
