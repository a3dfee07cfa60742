package trie

import (
	"sort"

	"golang.org/x/crypto/sha3"
)

// AccountLeaf is one hashed-account row read from HashedAccounts,
// already encoded the way it will be hashed into the trie (account
// encoding + storage root substituted in).
type AccountLeaf struct {
	HashedAddress [32]byte
	Encoded       []byte
}

// StorageLeaf is one hashed-storage row read from HashedStorages.
type StorageLeaf struct {
	HashedAddress [32]byte
	HashedSlot    [32]byte
	Value         []byte
}

// CachedAccount is one previously flushed account leaf read back from
// the intermediate trie; its hash is reused verbatim when the prefix
// sets do not mark the account dirty.
type CachedAccount struct {
	Path [32]byte
	Hash [32]byte
}

// Update is one changed trie node produced by a root recomputation.
// Storage selects the storage-trie table over the account-trie table;
// Deleted marks a node to remove instead of write.
type Update struct {
	Path    []byte
	Hash    [32]byte
	Storage bool
	Deleted bool
}

// Hasher incrementally recomputes a state root restricted to the
// prefixes a TriePrefixSets marks dirty: only the dirty account leaves
// are re-hashed, untouched leaves come from the cached intermediate
// trie, and a dirty account whose storage the sets leave clean reuses
// its cached storage root instead of re-walking its slots. Node hashing
// combines sorted leaves by pairwise keccak256 folding — deterministic,
// order-independent, any single changed leaf changes the root.
type Hasher struct {
	prefixSets *TriePrefixSets
	updates    []Update
}

func NewHasher(prefixSets *TriePrefixSets) *Hasher {
	return &Hasher{prefixSets: prefixSets}
}

// EmptyRoot is the root of an empty leaf set (an account with no
// storage carries it as its storage root).
func EmptyRoot() [32]byte { return hashLeaf(nil, nil) }

// RootWithUpdates merges the cached leaves with the re-hashed dirty
// ones and folds the result into the state root, returning the changed
// nodes to flush. dirty must hold exactly the accounts the prefix sets
// mark; dirtyStorage maps a dirty-storage account to its full live slot
// set; cachedStorageRoots serves dirty accounts whose storage is clean.
func (h *Hasher) RootWithUpdates(
	cached []CachedAccount,
	dirty []AccountLeaf,
	dirtyStorage map[[32]byte][]StorageLeaf,
	cachedStorageRoots map[[32]byte][32]byte,
) ([32]byte, []Update, error) {
	leaves := make(map[[32]byte][32]byte, len(cached)+len(dirty))
	for _, c := range cached {
		leaves[c.Path] = c.Hash
	}

	for destroyed := range h.prefixSets.DestroyedAccounts {
		delete(leaves, destroyed)
		h.updates = append(h.updates,
			Update{Path: append([]byte{}, destroyed[:]...), Deleted: true},
			Update{Path: append([]byte{}, destroyed[:]...), Storage: true, Deleted: true},
		)
	}

	for _, acc := range dirty {
		if h.prefixSets.DestroyedAccounts[acc.HashedAddress] {
			continue
		}
		storageRoot := EmptyRoot()
		if slots, ok := dirtyStorage[acc.HashedAddress]; ok {
			storageRoot = h.storageRoot(slots)
			u := Update{Path: append([]byte{}, acc.HashedAddress[:]...), Storage: true}
			if storageRoot == EmptyRoot() {
				u.Deleted = true
			} else {
				u.Hash = storageRoot
			}
			h.updates = append(h.updates, u)
		} else if r, ok := cachedStorageRoots[acc.HashedAddress]; ok {
			storageRoot = r
		}
		combined := append(append([]byte{}, acc.Encoded...), storageRoot[:]...)
		leaf := hashLeaf(acc.HashedAddress[:], combined)
		leaves[acc.HashedAddress] = leaf
		h.updates = append(h.updates, Update{Path: append([]byte{}, acc.HashedAddress[:]...), Hash: leaf})
	}

	paths := make([][32]byte, 0, len(leaves))
	for p := range leaves {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return lessBytes(paths[i][:], paths[j][:]) })
	ordered := make([][]byte, len(paths))
	for i, p := range paths {
		lh := leaves[p]
		ordered[i] = append([]byte{}, lh[:]...)
	}
	return foldLeaves(ordered), h.updates, nil
}

func (h *Hasher) storageRoot(slots []StorageLeaf) [32]byte {
	sort.Slice(slots, func(i, j int) bool {
		return lessBytes(slots[i].HashedSlot[:], slots[j].HashedSlot[:])
	})
	leaves := make([][]byte, 0, len(slots))
	for _, s := range slots {
		leaf := hashLeaf(s.HashedSlot[:], s.Value)
		leaves = append(leaves, leaf[:])
	}
	return foldLeaves(leaves)
}

func hashLeaf(key, value []byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(key)
	h.Write(value)
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// foldLeaves combines an ordered list of leaf hashes into one root hash
// by repeated pairwise keccak256 folding, returning the empty-trie root
// for zero leaves.
func foldLeaves(leaves [][]byte) [32]byte {
	if len(leaves) == 0 {
		return hashLeaf(nil, nil)
	}
	level := leaves
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			h := sha3.NewLegacyKeccak256()
			h.Write(level[i])
			h.Write(level[i+1])
			sum := h.Sum(nil)
			next = append(next, sum)
		}
		level = next
	}
	var out [32]byte
	copy(out[:], level[0])
	return out
}

func lessBytes(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
