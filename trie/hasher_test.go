package trie

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func leaf(tag byte, enc string) AccountLeaf {
	var addr [32]byte
	addr[0] = tag
	return AccountLeaf{HashedAddress: addr, Encoded: []byte(enc)}
}

func path(tag byte) [32]byte {
	var p [32]byte
	p[0] = tag
	return p
}

func fullRoot(t *testing.T, accounts []AccountLeaf, storage map[[32]byte][]StorageLeaf) ([32]byte, []Update) {
	t.Helper()
	ps := NewTriePrefixSets()
	for _, a := range accounts {
		ps.AccountPrefixSet.Insert(Unpack(a.HashedAddress[:]))
	}
	for addr, slots := range storage {
		ps.AccountPrefixSet.Insert(Unpack(addr[:]))
		for _, s := range slots {
			ps.StorageSet(addr).Insert(Unpack(s.HashedSlot[:]))
		}
	}
	root, updates, err := NewHasher(ps).RootWithUpdates(nil, accounts, storage, nil)
	require.NoError(t, err)
	return root, updates
}

func TestRootIsDeterministic(t *testing.T) {
	r1, _ := fullRoot(t, []AccountLeaf{leaf(2, "b"), leaf(1, "a"), leaf(3, "c")}, nil)
	r2, _ := fullRoot(t, []AccountLeaf{leaf(3, "c"), leaf(1, "a"), leaf(2, "b")}, nil)
	require.Equal(t, r1, r2)
}

func TestRootChangesWithAnyLeaf(t *testing.T) {
	root, _ := fullRoot(t, []AccountLeaf{leaf(1, "a"), leaf(2, "b")}, nil)

	changedValue, _ := fullRoot(t, []AccountLeaf{leaf(1, "a"), leaf(2, "B")}, nil)
	require.NotEqual(t, root, changedValue)

	extraLeaf, _ := fullRoot(t, []AccountLeaf{leaf(1, "a"), leaf(2, "b"), leaf(3, "c")}, nil)
	require.NotEqual(t, root, extraLeaf)
}

func TestStorageAffectsRoot(t *testing.T) {
	accounts := []AccountLeaf{leaf(1, "a")}
	var slot [32]byte
	slot[31] = 9

	empty, _ := fullRoot(t, accounts, nil)
	withStorage, _ := fullRoot(t, accounts, map[[32]byte][]StorageLeaf{
		path(1): {{HashedAddress: path(1), HashedSlot: slot, Value: []byte{7}}},
	})
	require.NotEqual(t, empty, withStorage)
}

// An account the prefix sets leave untouched contributes its cached
// leaf hash; the incremental root over {cached a, dirty b} must equal
// the full root over {a, b}.
func TestUntouchedAccountsComeFromCache(t *testing.T) {
	full, updates := fullRoot(t, []AccountLeaf{leaf(1, "a"), leaf(2, "b")}, nil)

	var cachedA CachedAccount
	found := false
	for _, u := range updates {
		if !u.Storage && !u.Deleted && u.Path[0] == 1 {
			copy(cachedA.Path[:], u.Path)
			cachedA.Hash = u.Hash
			found = true
		}
	}
	require.True(t, found)

	ps := NewTriePrefixSets()
	p2 := path(2)
	ps.AccountPrefixSet.Insert(Unpack(p2[:]))
	incremental, incUpdates, err := NewHasher(ps).RootWithUpdates(
		[]CachedAccount{cachedA}, []AccountLeaf{leaf(2, "b")}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, full, incremental)

	// Only the dirty leaf is re-emitted.
	require.Len(t, incUpdates, 1)
	require.Equal(t, byte(2), incUpdates[0].Path[0])
}

// A dirty account with clean storage reuses its cached storage root
// instead of re-walking slots.
func TestCachedStorageRootMatchesRecomputed(t *testing.T) {
	var slot [32]byte
	slot[31] = 3
	storage := map[[32]byte][]StorageLeaf{
		path(1): {{HashedAddress: path(1), HashedSlot: slot, Value: []byte{5}}},
	}
	full, updates := fullRoot(t, []AccountLeaf{leaf(1, "a")}, storage)

	var storageRoot [32]byte
	found := false
	for _, u := range updates {
		if u.Storage && !u.Deleted {
			storageRoot = u.Hash
			found = true
		}
	}
	require.True(t, found)

	ps := NewTriePrefixSets()
	p1 := path(1)
	ps.AccountPrefixSet.Insert(Unpack(p1[:]))
	incremental, _, err := NewHasher(ps).RootWithUpdates(
		nil, []AccountLeaf{leaf(1, "a")}, nil,
		map[[32]byte][32]byte{path(1): storageRoot})
	require.NoError(t, err)
	require.Equal(t, full, incremental)
}

func TestDestroyedAccountsAreDropped(t *testing.T) {
	_, updates := fullRoot(t, []AccountLeaf{leaf(1, "a"), leaf(2, "b")}, nil)
	cached := make([]CachedAccount, 0, 2)
	for _, u := range updates {
		if u.Storage || u.Deleted {
			continue
		}
		var c CachedAccount
		copy(c.Path[:], u.Path)
		c.Hash = u.Hash
		cached = append(cached, c)
	}
	require.Len(t, cached, 2)

	ps := NewTriePrefixSets()
	p2 := path(2)
	ps.AccountPrefixSet.Insert(Unpack(p2[:]))
	ps.DestroyedAccounts[path(2)] = true
	withDestroyed, destUpdates, err := NewHasher(ps).RootWithUpdates(cached, nil, nil, nil)
	require.NoError(t, err)

	only, _ := fullRoot(t, []AccountLeaf{leaf(1, "a")}, nil)
	require.Equal(t, only, withDestroyed)

	// Both trie tables get a deletion for the destroyed account.
	var accountDel, storageDel bool
	for _, u := range destUpdates {
		if u.Deleted && u.Path[0] == 2 {
			if u.Storage {
				storageDel = true
			} else {
				accountDel = true
			}
		}
	}
	require.True(t, accountDel)
	require.True(t, storageDel)
}

func TestPackUnpackRoundTrip(t *testing.T) {
	key := []byte{0xab, 0xcd, 0x01, 0xf0}
	require.Equal(t, key, Pack(Unpack(key)))
}

func TestPrefixSetContains(t *testing.T) {
	var s PrefixSet
	s.Insert(Unpack([]byte{0xab, 0xcd}))

	require.True(t, s.Contains(Unpack([]byte{0xab})))
	require.True(t, s.Contains(Unpack([]byte{0xab, 0xcd})))
	require.False(t, s.Contains(Unpack([]byte{0xba})))
	require.Equal(t, 1, s.Len())
}
