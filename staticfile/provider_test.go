package staticfile

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func payload(i uint64) []byte { return []byte(fmt.Sprintf("record-%d", i)) }

func TestAppendCommitReopen(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(dir)
	require.NoError(t, err)

	for i := uint64(0); i < 5; i++ {
		require.NoError(t, p.Append(SegmentHeaders, i, payload(i)))
	}
	require.NoError(t, p.Commit())
	require.NoError(t, p.Close())

	p, err = Open(dir)
	require.NoError(t, err)
	defer p.Close()

	head, ok := p.HighestBlock(SegmentHeaders)
	require.True(t, ok)
	require.Equal(t, uint64(4), head)
	require.Equal(t, uint64(5), p.CountEntries(SegmentHeaders))

	for i := uint64(0); i < 5; i++ {
		v, found, err := p.Get(SegmentHeaders, i)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, payload(i), v)
	}
	_, found, err := p.Get(SegmentHeaders, 5)
	require.NoError(t, err)
	require.False(t, found)
}

func TestUncommittedAppendsAreDiscarded(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, p.Append(SegmentReceipts, 0, payload(0)))

	// Staged records are visible through the same provider.
	v, found, err := p.Get(SegmentReceipts, 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, payload(0), v)

	require.NoError(t, p.Close())

	p, err = Open(dir)
	require.NoError(t, err)
	defer p.Close()
	require.Equal(t, uint64(0), p.CountEntries(SegmentReceipts))
}

func TestAppendRejectsGaps(t *testing.T) {
	p, err := Open(t.TempDir())
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Append(SegmentTransactions, 10, payload(10)))
	require.NoError(t, p.Append(SegmentTransactions, 11, payload(11)))
	err = p.Append(SegmentTransactions, 13, payload(13))
	require.ErrorIs(t, err, ErrOutOfOrderAppend)
}

func TestTruncateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(dir)
	require.NoError(t, err)

	for i := uint64(0); i <= 9; i++ {
		require.NoError(t, p.Append(SegmentHeaders, i, payload(i)))
	}
	require.NoError(t, p.Commit())
	require.NoError(t, p.Truncate(SegmentHeaders, 6))

	head, ok := p.HighestBlock(SegmentHeaders)
	require.True(t, ok)
	require.Equal(t, uint64(6), head)
	require.NoError(t, p.Close())

	p, err = Open(dir)
	require.NoError(t, err)
	defer p.Close()
	head, ok = p.HighestBlock(SegmentHeaders)
	require.True(t, ok)
	require.Equal(t, uint64(6), head)
	v, found, err := p.Get(SegmentHeaders, 6)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, payload(6), v)
	_, found, err = p.Get(SegmentHeaders, 7)
	require.NoError(t, err)
	require.False(t, found)
}

func TestPruneTail(t *testing.T) {
	p, err := Open(t.TempDir())
	require.NoError(t, err)
	defer p.Close()

	for i := uint64(0); i <= 9; i++ {
		require.NoError(t, p.Append(SegmentHeaders, i, payload(i)))
	}
	require.NoError(t, p.Commit())

	require.NoError(t, p.PruneHeaders(3))
	head, ok := p.HighestBlock(SegmentHeaders)
	require.True(t, ok)
	require.Equal(t, uint64(6), head)

	// Pruning more than the segment holds empties it.
	require.NoError(t, p.PruneHeaders(100))
	_, ok = p.HighestBlock(SegmentHeaders)
	require.False(t, ok)
}

func TestRouterSplicesRange(t *testing.T) {
	p, err := Open(t.TempDir())
	require.NoError(t, err)
	defer p.Close()

	for i := uint64(0); i < 3; i++ {
		require.NoError(t, p.Append(SegmentTransactions, i, payload(i)))
	}
	require.NoError(t, p.Commit())

	dbRead := func(from, to uint64) ([][]byte, error) {
		var out [][]byte
		for i := from; i < to; i++ {
			out = append(out, []byte(fmt.Sprintf("db-%d", i)))
		}
		return out, nil
	}

	got, err := p.GetRangeWithStaticFileOrDatabase(SegmentTransactions, 1, 6, nil, dbRead)
	require.NoError(t, err)
	require.Equal(t, [][]byte{payload(1), payload(2), []byte("db-3"), []byte("db-4"), []byte("db-5")}, got)

	// The predicate stops the walk identically on either side of the
	// splice point.
	stopAt := func(limit uint64) func(uint64, []byte) bool {
		return func(id uint64, _ []byte) bool { return id < limit }
	}
	got, err = p.GetRangeWithStaticFileOrDatabase(SegmentTransactions, 0, 6, stopAt(2), dbRead)
	require.NoError(t, err)
	require.Len(t, got, 2)
	got, err = p.GetRangeWithStaticFileOrDatabase(SegmentTransactions, 0, 6, stopAt(4), dbRead)
	require.NoError(t, err)
	require.Len(t, got, 4)
}

func TestRouterScalarFallback(t *testing.T) {
	p, err := Open(t.TempDir())
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Append(SegmentReceipts, 0, payload(0)))
	require.NoError(t, p.Commit())

	calls := 0
	dbRead := func(id uint64) ([]byte, error) {
		calls++
		if id == 7 {
			return []byte("db-7"), nil
		}
		return nil, nil
	}

	v, err := p.GetWithStaticFileOrDatabase(SegmentReceipts, 0, dbRead)
	require.NoError(t, err)
	require.Equal(t, payload(0), v)
	require.Zero(t, calls)

	v, err = p.GetWithStaticFileOrDatabase(SegmentReceipts, 7, dbRead)
	require.NoError(t, err)
	require.Equal(t, []byte("db-7"), v)

	// Present in neither backend: absence, not an error.
	v, err = p.GetWithStaticFileOrDatabase(SegmentReceipts, 9, dbRead)
	require.NoError(t, err)
	require.Nil(t, v)
}
