package chaindb

import (
	"bytes"
	"sort"

	"github.com/erigontech/chaindb/kv"
)

// AccountHistoryUpdates accumulates, per address, the set of block
// numbers at which that address's account changed — the input to
// insertAccountHistoryIndex, assembled by the block writer/unwind
// coordinator while walking a range's AccountChangeSets.
type AccountHistoryUpdates map[[20]byte][]uint64

// StorageHistoryUpdates is the storage-slot analogue, keyed by
// (address, storage key).
type StorageHistoryUpdates map[[52]byte][]uint64

func storageUpdateKey(address [20]byte, slot [32]byte) [52]byte {
	var k [52]byte
	copy(k[:20], address[:])
	copy(k[20:], slot[:])
	return k
}

// insertAccountHistoryIndex writes updates into AccountsHistory,
// splitting/merging shards via appendHistoryIndex.
func insertAccountHistoryIndex(tx kv.RwTx, updates AccountHistoryUpdates) error {
	cursor, err := tx.RwCursor(kv.AccountsHistory)
	if err != nil {
		return err
	}
	defer cursor.Close()

	addrs := sortedAddressKeys(updates)
	for _, addr := range addrs {
		indices := updates[addr]
		sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
		if err := appendHistoryIndex(cursor, addr[:], indices, func(highest uint64) []byte {
			return AccountShardedKey(addr, highest)
		}); err != nil {
			return err
		}
	}
	return nil
}

// insertStorageHistoryIndex is the storage-slot analogue.
func insertStorageHistoryIndex(tx kv.RwTx, updates StorageHistoryUpdates) error {
	cursor, err := tx.RwCursor(kv.StoragesHistory)
	if err != nil {
		return err
	}
	defer cursor.Close()

	keys := sortedStorageKeys(updates)
	for _, k := range keys {
		var addr [20]byte
		var slot [32]byte
		copy(addr[:], k[:20])
		copy(slot[:], k[20:])
		indices := updates[k]
		sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
		if err := appendHistoryIndex(cursor, k[:], indices, func(highest uint64) []byte {
			return StorageShardedKey(addr, slot, highest)
		}); err != nil {
			return err
		}
	}
	return nil
}

// unwindAccountHistoryIndices removes every index entry for block
// numbers >= fromBlock (inclusive), address by address, re-inserting
// each address's surviving remainder as its new open shard.
func unwindAccountHistoryIndices(tx kv.RwTx, addresses [][20]byte, fromBlock uint64) error {
	cursor, err := tx.RwCursor(kv.AccountsHistory)
	if err != nil {
		return err
	}
	defer cursor.Close()

	for _, addr := range addresses {
		startKey := AccountShardedKey(addr, OpenShardSuffix)
		remainder, err := unwindHistoryShards(cursor, startKey, fromBlock, func(key []byte) bool {
			return bytes.Equal(key[:20], addr[:])
		})
		if err != nil {
			return err
		}
		if len(remainder) == 0 {
			continue
		}
		list := NewBlockNumberListFromSorted(remainder)
		enc, err := list.Encode()
		if err != nil {
			return err
		}
		if err := cursor.Put(AccountShardedKey(addr, OpenShardSuffix), enc); err != nil {
			return err
		}
	}
	return nil
}

// unwindStorageHistoryIndices is the storage-slot analogue.
func unwindStorageHistoryIndices(tx kv.RwTx, slots [][52]byte, fromBlock uint64) error {
	cursor, err := tx.RwCursor(kv.StoragesHistory)
	if err != nil {
		return err
	}
	defer cursor.Close()

	for _, k := range slots {
		var addr [20]byte
		var slot [32]byte
		copy(addr[:], k[:20])
		copy(slot[:], k[20:])
		startKey := StorageShardedKey(addr, slot, OpenShardSuffix)
		remainder, err := unwindHistoryShards(cursor, startKey, fromBlock, func(key []byte) bool {
			return bytes.Equal(key[:52], k[:])
		})
		if err != nil {
			return err
		}
		if len(remainder) == 0 {
			continue
		}
		list := NewBlockNumberListFromSorted(remainder)
		enc, err := list.Encode()
		if err != nil {
			return err
		}
		if err := cursor.Put(StorageShardedKey(addr, slot, OpenShardSuffix), enc); err != nil {
			return err
		}
	}
	return nil
}

func sortedAddressKeys(m AccountHistoryUpdates) [][20]byte {
	out := make([][20]byte, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func sortedStorageKeys(m StorageHistoryUpdates) [][52]byte {
	out := make([][52]byte, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
