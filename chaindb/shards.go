package chaindb

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/erigontech/chaindb/kv"
)

// NumOfIndicesInShard bounds how many block numbers one history-index
// shard holds before it is split into a new shard.
const NumOfIndicesInShard = 2000

// OpenShardSuffix is the highest_block_number sentinel marking the
// still-growing ("open") shard of a sharded history index.
const OpenShardSuffix = math.MaxUint64

// BlockNumberList is a RoaringBitmap-encoded, strictly increasing list
// of block numbers, the value type stored in every history-index shard.
type BlockNumberList struct {
	bm *roaring.Bitmap
}

// NewBlockNumberListFromSorted builds a list from an already ascending,
// deduplicated slice; callers must pre-sort.
func NewBlockNumberListFromSorted(sorted []uint64) BlockNumberList {
	bm := roaring.New()
	for _, v := range sorted {
		bm.Add(uint32(v))
	}
	return BlockNumberList{bm: bm}
}

func (l BlockNumberList) ToSlice() []uint64 {
	if l.bm == nil {
		return nil
	}
	u32 := l.bm.ToArray()
	out := make([]uint64, len(u32))
	for i, v := range u32 {
		out[i] = uint64(v)
	}
	return out
}

func (l BlockNumberList) Encode() ([]byte, error) {
	if l.bm == nil {
		l.bm = roaring.New()
	}
	return l.bm.ToBytes()
}

func DecodeBlockNumberList(b []byte) (BlockNumberList, error) {
	bm := roaring.New()
	if len(b) > 0 {
		if _, err := bm.FromBuffer(b); err != nil {
			return BlockNumberList{}, fmt.Errorf("decode BlockNumberList: %w", err)
		}
	}
	return BlockNumberList{bm: bm}, nil
}

// AccountShardedKey builds an AccountsHistory key: address + shard
// suffix. highestBlockNumber == OpenShardSuffix addresses the open
// shard.
func AccountShardedKey(address [20]byte, highestBlockNumber uint64) []byte {
	key := make([]byte, 20+8)
	copy(key, address[:])
	binary.BigEndian.PutUint64(key[20:], highestBlockNumber)
	return key
}

// StorageShardedKey builds a StoragesHistory key: address + storage key
// + shard suffix.
func StorageShardedKey(address [20]byte, storageKey [32]byte, highestBlockNumber uint64) []byte {
	key := make([]byte, 20+32+8)
	copy(key, address[:])
	copy(key[20:], storageKey[:])
	binary.BigEndian.PutUint64(key[52:], highestBlockNumber)
	return key
}

// ShardHighestBlockNumber extracts the trailing 8-byte shard suffix
// from any sharded-history key.
func ShardHighestBlockNumber(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}

// takeShard deletes and returns the shard stored exactly under key, or
// (nil, nil) if no such shard exists. The delete is unconditional, even
// when the caller immediately reinserts a modified version of the list.
func takeShard(cursor kv.RwCursor, key []byte) ([]uint64, error) {
	v, err := cursor.SeekExact(key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	list, err := DecodeBlockNumberList(v)
	if err != nil {
		return nil, err
	}
	if err := cursor.DeleteCurrent(); err != nil {
		return nil, err
	}
	return list.ToSlice(), nil
}

// appendHistoryIndex merges newIndices (already ascending, all greater
// than anything previously recorded for partialKey) into the existing
// open shard, splitting into NumOfIndicesInShard-sized closed shards as
// needed and leaving the remainder as the new open shard. makeKey binds
// partialKey + a shard's highest block number into a full table key.
func appendHistoryIndex(cursor kv.RwCursor, partialKey []byte, newIndices []uint64, makeKey func(highestBlockNumber uint64) []byte) error {
	if len(newIndices) == 0 {
		return nil
	}
	lastShard, err := takeShard(cursor, makeKey(OpenShardSuffix))
	if err != nil {
		return err
	}
	indices := append(lastShard, newIndices...)

	for len(indices) > 0 {
		chunk := indices
		isLast := true
		if len(indices) > NumOfIndicesInShard {
			chunk = indices[:NumOfIndicesInShard]
			isLast = false
		}
		var highestBlockNumber uint64
		if isLast {
			highestBlockNumber = OpenShardSuffix
		} else {
			highestBlockNumber = chunk[len(chunk)-1]
		}
		list := NewBlockNumberListFromSorted(chunk)
		enc, err := list.Encode()
		if err != nil {
			return err
		}
		if err := cursor.Put(makeKey(highestBlockNumber), enc); err != nil {
			return err
		}
		if isLast {
			break
		}
		indices = indices[NumOfIndicesInShard:]
	}
	return nil
}

// unwindHistoryShards walks shards for one key backward from startKey,
// deleting every shard whose highest recorded block is >= blockNumber,
// and returns the block numbers below blockNumber that survive from the
// boundary shard (the last deleted shard, or a shard lying wholly below
// the cut), for the caller to reinsert as the open shard.
//
// The boundary comparison is strictly "<": a shard's first entry >=
// blockNumber means the whole shard is cut; otherwise entries strictly
// less than blockNumber are kept (re-inserted by the caller) and the
// rest dropped. An entry exactly at blockNumber counts as above the
// cut.
func unwindHistoryShards(cursor kv.RwCursor, startKey []byte, blockNumber uint64, shardBelongsToKey func(key []byte) bool) ([]uint64, error) {
	v, err := cursor.SeekExact(startKey)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	k := startKey
	for {
		if !shardBelongsToKey(k) {
			return nil, nil
		}
		list, err := DecodeBlockNumberList(v)
		if err != nil {
			return nil, err
		}
		items := list.ToSlice()
		highest := ShardHighestBlockNumber(k)

		// Delete the shard unconditionally first: every branch below
		// either leaves it gone (fully unwound) or has the caller
		// re-write its surviving remainder, exactly as take_shard does.
		if err := cursor.DeleteCurrent(); err != nil {
			return nil, err
		}

		var first uint64
		if len(items) > 0 {
			first = items[0]
		}
		if len(items) > 0 && first >= blockNumber {
			pk, pv, perr := cursor.Prev()
			if perr != nil {
				return nil, perr
			}
			if pk == nil {
				return nil, nil
			}
			k, v = pk, pv
			continue
		}
		if blockNumber <= highest {
			// Boundary shard: keep only entries strictly below the cut.
			kept := items[:0:0]
			for _, it := range items {
				if it < blockNumber {
					kept = append(kept, it)
				}
			}
			return kept, nil
		}
		// Shard lies entirely below the cut: nothing to unwind here,
		// but it was deleted above, so the caller must write it back
		// (it becomes the new open shard, since everything above it
		// was just removed).
		return items, nil
	}
}
