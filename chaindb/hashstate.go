package chaindb

import (
	ctypes "github.com/erigontech/chaindb/chain/types"
	"github.com/erigontech/chaindb/kv"
	"github.com/erigontech/chaindb/trie"
)

// writeHashedState mirrors a range's final account/slot values into
// HashedAccounts/HashedStorages and returns the prefix sets the trie
// hasher needs to recompute only the affected subtrees. An account with
// a dirty slot is itself marked dirty: its leaf embeds the storage
// root.
func writeHashedState(tx kv.RwTx, accounts map[[20]byte]AccountChange, storage map[[20]byte]map[[32]byte]StorageChange) (*trie.TriePrefixSets, error) {
	prefixSets := trie.NewTriePrefixSets()

	for address, ch := range accounts {
		hashedAddr := ctypes.Keccak256(address[:])
		prefixSets.AccountPrefixSet.Insert(trie.Unpack(hashedAddr[:]))
		if ch.New == nil {
			prefixSets.DestroyedAccounts[hashedAddr] = true
			if err := tx.Delete(kv.HashedAccounts, hashedAddr[:]); err != nil {
				return nil, err
			}
			continue
		}
		if err := tx.Put(kv.HashedAccounts, hashedAddr[:], ch.New.EncodeForStorage()); err != nil {
			return nil, err
		}
	}

	for address, slots := range storage {
		hashedAddr := ctypes.Keccak256(address[:])
		prefixSets.AccountPrefixSet.Insert(trie.Unpack(hashedAddr[:]))
		storageSet := prefixSets.StorageSet(hashedAddr)
		for slot, ch := range slots {
			hashedSlot := ctypes.Keccak256(slot[:])
			storageSet.Insert(trie.Unpack(hashedSlot[:]))
			if err := putHashedSlot(tx, hashedAddr, hashedSlot, ch.New); err != nil {
				return nil, err
			}
		}
	}

	return prefixSets, nil
}

// unwindHashedState restores the hashed mirror to its pre-range state
// by walking the range's changesets newest to oldest: the last value
// observed for an address or slot is its pre-range value. Returns the
// prefix sets for the root recomputation plus the touched addresses and
// (address, slot) pairs, which the history-index unwind needs.
func unwindHashedState(tx kv.RwTx, fromBlock, tipBlock uint64) (*trie.TriePrefixSets, [][20]byte, [][52]byte, error) {
	accountChangesets, err := tx.RwCursorDupSort(kv.AccountChangeSets)
	if err != nil {
		return nil, nil, nil, err
	}
	defer accountChangesets.Close()
	storageChangesets, err := tx.RwCursorDupSort(kv.StorageChangeSets)
	if err != nil {
		return nil, nil, nil, err
	}
	defer storageChangesets.Close()

	oldAccounts := make(map[[20]byte][]byte)
	oldSlots := make(map[[52]byte][]byte)
	for blockNumber := tipBlock; ; blockNumber-- {
		blockKey := encodeBlockNumber(blockNumber)
		if err := walkAccountChangesetBlock(accountChangesets, blockKey, false, func(address [20]byte, oldEnc []byte) error {
			oldAccounts[address] = oldEnc
			return nil
		}); err != nil {
			return nil, nil, nil, err
		}
		if err := walkStorageChangesetBlock(storageChangesets, blockKey, false, func(address [20]byte, slot [32]byte, oldVal []byte) error {
			oldSlots[storageUpdateKey(address, slot)] = oldVal
			return nil
		}); err != nil {
			return nil, nil, nil, err
		}
		if blockNumber == fromBlock {
			break
		}
	}

	prefixSets := trie.NewTriePrefixSets()
	addresses := make([][20]byte, 0, len(oldAccounts))
	for address, oldEnc := range oldAccounts {
		addresses = append(addresses, address)
		hashedAddr := ctypes.Keccak256(address[:])
		prefixSets.AccountPrefixSet.Insert(trie.Unpack(hashedAddr[:]))
		if len(oldEnc) == 0 {
			prefixSets.DestroyedAccounts[hashedAddr] = true
			if err := tx.Delete(kv.HashedAccounts, hashedAddr[:]); err != nil {
				return nil, nil, nil, err
			}
			continue
		}
		if err := tx.Put(kv.HashedAccounts, hashedAddr[:], oldEnc); err != nil {
			return nil, nil, nil, err
		}
	}

	slots := make([][52]byte, 0, len(oldSlots))
	for key, oldVal := range oldSlots {
		slots = append(slots, key)
		var address [20]byte
		var slot [32]byte
		copy(address[:], key[:20])
		copy(slot[:], key[20:])
		hashedAddr := ctypes.Keccak256(address[:])
		hashedSlot := ctypes.Keccak256(slot[:])
		prefixSets.AccountPrefixSet.Insert(trie.Unpack(hashedAddr[:]))
		prefixSets.StorageSet(hashedAddr).Insert(trie.Unpack(hashedSlot[:]))
		if err := putHashedSlot(tx, hashedAddr, hashedSlot, oldVal); err != nil {
			return nil, nil, nil, err
		}
	}

	return prefixSets, addresses, slots, nil
}

// putHashedSlot upserts one hashed-storage row, deleting it when the
// value is zero.
func putHashedSlot(tx kv.RwTx, hashedAddr, hashedSlot [32]byte, value []byte) error {
	key := make([]byte, 0, 64)
	key = append(key, hashedAddr[:]...)
	key = append(key, hashedSlot[:]...)
	if len(value) == 0 {
		return tx.Delete(kv.HashedStorages, key)
	}
	return tx.Put(kv.HashedStorages, key, value)
}

// recomputeRoot runs the trie hasher restricted to prefixSets: only the
// accounts the sets mark dirty are read back from HashedAccounts, only
// the accounts with dirty storage have their slots re-walked, and
// everything else comes from the cached intermediate trie
// (TrieOfAccounts leaf hashes, TrieOfStorage per-account storage
// roots).
func recomputeRoot(tx kv.Tx, prefixSets *trie.TriePrefixSets) ([32]byte, []trie.Update, error) {
	cached, err := readCachedAccountLeaves(tx)
	if err != nil {
		return [32]byte{}, nil, err
	}

	dirtyPaths := packedPrefixKeys(prefixSets.AccountPrefixSet)
	dirty := make([]trie.AccountLeaf, 0, len(dirtyPaths))
	cachedStorageRoots := make(map[[32]byte][32]byte)
	for _, path := range dirtyPaths {
		enc, err := tx.GetOne(kv.HashedAccounts, path[:])
		if err != nil {
			return [32]byte{}, nil, err
		}
		if len(enc) == 0 {
			continue // destroyed, or never existed
		}
		dirty = append(dirty, trie.AccountLeaf{HashedAddress: path, Encoded: append([]byte{}, enc...)})
		if _, storageDirty := prefixSets.StoragePrefixSets[path]; !storageDirty {
			if v, err := tx.GetOne(kv.TrieOfStorage, path[:]); err != nil {
				return [32]byte{}, nil, err
			} else if len(v) == 32 {
				var r [32]byte
				copy(r[:], v)
				cachedStorageRoots[path] = r
			}
		}
	}

	dirtyStorage := make(map[[32]byte][]trie.StorageLeaf, len(prefixSets.StoragePrefixSets))
	for hashedAddr := range prefixSets.StoragePrefixSets {
		slots, err := readAccountStorageLeaves(tx, hashedAddr)
		if err != nil {
			return [32]byte{}, nil, err
		}
		dirtyStorage[hashedAddr] = slots
	}

	h := trie.NewHasher(prefixSets)
	return h.RootWithUpdates(cached, dirty, dirtyStorage, cachedStorageRoots)
}

// RootFromScratch rebuilds the state root from every hashed-state row,
// ignoring the cached intermediate trie entirely. It is the reference
// the incremental recomputation must agree with.
func RootFromScratch(tx kv.Tx) ([32]byte, error) {
	prefixSets := trie.NewTriePrefixSets()

	accountCursor, err := tx.Cursor(kv.HashedAccounts)
	if err != nil {
		return [32]byte{}, err
	}
	defer accountCursor.Close()
	var dirty []trie.AccountLeaf
	for k, v, err := accountCursor.First(); k != nil; k, v, err = accountCursor.Next() {
		if err != nil {
			return [32]byte{}, err
		}
		var path [32]byte
		copy(path[:], k)
		prefixSets.AccountPrefixSet.Insert(trie.Unpack(path[:]))
		dirty = append(dirty, trie.AccountLeaf{HashedAddress: path, Encoded: append([]byte{}, v...)})
	}

	storageCursor, err := tx.Cursor(kv.HashedStorages)
	if err != nil {
		return [32]byte{}, err
	}
	defer storageCursor.Close()
	dirtyStorage := make(map[[32]byte][]trie.StorageLeaf)
	for k, v, err := storageCursor.First(); k != nil; k, v, err = storageCursor.Next() {
		if err != nil {
			return [32]byte{}, err
		}
		if len(k) < 64 {
			continue
		}
		var addr, slot [32]byte
		copy(addr[:], k[:32])
		copy(slot[:], k[32:64])
		prefixSets.AccountPrefixSet.Insert(trie.Unpack(addr[:]))
		prefixSets.StorageSet(addr).Insert(trie.Unpack(slot[:]))
		dirtyStorage[addr] = append(dirtyStorage[addr], trie.StorageLeaf{HashedAddress: addr, HashedSlot: slot, Value: append([]byte{}, v...)})
	}

	h := trie.NewHasher(prefixSets)
	root, _, err := h.RootWithUpdates(nil, dirty, dirtyStorage, nil)
	return root, err
}

func readCachedAccountLeaves(tx kv.Tx) ([]trie.CachedAccount, error) {
	cursor, err := tx.Cursor(kv.TrieOfAccounts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()
	var out []trie.CachedAccount
	for k, v, err := cursor.First(); k != nil; k, v, err = cursor.Next() {
		if err != nil {
			return nil, err
		}
		if len(k) != 32 || len(v) != 32 {
			continue
		}
		var c trie.CachedAccount
		copy(c.Path[:], k)
		copy(c.Hash[:], v)
		out = append(out, c)
	}
	return out, nil
}

// readAccountStorageLeaves reads the full live slot set of one hashed
// account, bounded to its 32-byte key prefix.
func readAccountStorageLeaves(tx kv.Tx, hashedAddr [32]byte) ([]trie.StorageLeaf, error) {
	cursor, err := tx.Cursor(kv.HashedStorages)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()
	var out []trie.StorageLeaf
	for k, v, err := cursor.Seek(hashedAddr[:]); k != nil; k, v, err = cursor.Next() {
		if err != nil {
			return nil, err
		}
		if len(k) < 64 || !bytesHasPrefix(k, hashedAddr[:]) {
			break
		}
		var slot [32]byte
		copy(slot[:], k[32:64])
		out = append(out, trie.StorageLeaf{HashedAddress: hashedAddr, HashedSlot: slot, Value: append([]byte{}, v...)})
	}
	return out, nil
}

// packedPrefixKeys converts a prefix set's full-depth nibble keys back
// into their 32-byte paths, deduplicated.
func packedPrefixKeys(s *trie.PrefixSet) [][32]byte {
	seen := make(map[[32]byte]bool, s.Len())
	out := make([][32]byte, 0, s.Len())
	for _, k := range s.Keys() {
		b := trie.Pack(k)
		if len(b) != 32 {
			continue
		}
		var p [32]byte
		copy(p[:], b)
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// flushTrieUpdates persists the changed nodes a root recomputation
// produced: account leaf hashes into TrieOfAccounts, per-account
// storage roots into TrieOfStorage, with destroyed accounts' rows
// removed from both.
func flushTrieUpdates(tx kv.RwTx, updates []trie.Update) error {
	for _, u := range updates {
		table := kv.TrieOfAccounts
		if u.Storage {
			table = kv.TrieOfStorage
		}
		if u.Deleted {
			if err := tx.Delete(table, u.Path); err != nil {
				return err
			}
			continue
		}
		if err := tx.Put(table, u.Path, u.Hash[:]); err != nil {
			return err
		}
	}
	return nil
}
