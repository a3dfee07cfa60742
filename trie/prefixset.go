// Package trie computes the incremental state-root Merkle trie from the
// hashed-state mirror (HashedAccounts/HashedStorages), restricted to the
// nibble prefixes a block range actually touched.
package trie

import "sort"

// Nibbles is an unpacked (one nibble per byte) key, the unit prefix
// sets operate on.
type Nibbles []byte

// Unpack expands a byte string into nibbles, high nibble first.
func Unpack(b []byte) Nibbles {
	out := make(Nibbles, len(b)*2)
	for i, c := range b {
		out[i*2] = c >> 4
		out[i*2+1] = c & 0x0f
	}
	return out
}

// Pack is the inverse of Unpack for even-length nibble strings.
func Pack(n Nibbles) []byte {
	out := make([]byte, len(n)/2)
	for i := range out {
		out[i] = n[i*2]<<4 | n[i*2+1]
	}
	return out
}

// PrefixSet accumulates touched key prefixes so the trie walk can skip
// untouched subtrees entirely.
type PrefixSet struct {
	keys   []Nibbles
	sorted bool
}

func (s *PrefixSet) Insert(key Nibbles) {
	s.keys = append(s.keys, key)
	s.sorted = false
}

func (s *PrefixSet) ensureSorted() {
	if s.sorted {
		return
	}
	sort.Slice(s.keys, func(i, j int) bool {
		return lessNibbles(s.keys[i], s.keys[j])
	})
	s.sorted = true
}

// Contains reports whether prefix is a prefix of, or is prefixed by,
// any inserted key — i.e. whether the subtree rooted at prefix needs
// walking.
func (s *PrefixSet) Contains(prefix Nibbles) bool {
	s.ensureSorted()
	i := sort.Search(len(s.keys), func(i int) bool { return !lessNibbles(s.keys[i], prefix) })
	if i < len(s.keys) && hasPrefix(s.keys[i], prefix) {
		return true
	}
	if i > 0 && hasPrefix(prefix, s.keys[i-1]) {
		return true
	}
	return false
}

func (s *PrefixSet) Len() int { return len(s.keys) }

// Keys returns every inserted key, sorted; entries may repeat when the
// same key was inserted more than once.
func (s *PrefixSet) Keys() []Nibbles {
	s.ensureSorted()
	return s.keys
}

func lessNibbles(a, b Nibbles) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func hasPrefix(key, prefix Nibbles) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i, n := range prefix {
		if key[i] != n {
			return false
		}
	}
	return true
}

// TriePrefixSets bundles the three prefix sets one block-range trie
// recomputation needs: touched accounts, touched storage slots per
// account (hashed address -> that account's storage prefix set), and
// accounts that were destroyed (self-destructed or newly created empty)
// during the range, whose whole storage subtree must be dropped rather
// than updated.
type TriePrefixSets struct {
	AccountPrefixSet  *PrefixSet
	StoragePrefixSets map[[32]byte]*PrefixSet
	DestroyedAccounts map[[32]byte]bool
}

func NewTriePrefixSets() *TriePrefixSets {
	return &TriePrefixSets{
		AccountPrefixSet:  &PrefixSet{},
		StoragePrefixSets: make(map[[32]byte]*PrefixSet),
		DestroyedAccounts: make(map[[32]byte]bool),
	}
}

func (p *TriePrefixSets) StorageSet(hashedAddress [32]byte) *PrefixSet {
	s, ok := p.StoragePrefixSets[hashedAddress]
	if !ok {
		s = &PrefixSet{}
		p.StoragePrefixSets[hashedAddress] = s
	}
	return s
}
