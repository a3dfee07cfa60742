// Package memdb is an in-process, btree-ordered RwDB used by tests and
// tooling: no durability, no real transaction isolation beyond a single
// global lock, but the same cursor semantics kv.Tx callers rely on
// (ordered iteration, dup-sorted subkeys, relative Next/Prev after a
// DeleteCurrent).
package memdb

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/erigontech/chaindb/kv"
)

type entry struct {
	key, val []byte
}

// table is one named table's ordered key space. Dup-sort tables keep
// one btree item per (key, value) pair, ordered by key then value, the
// same logical layout MDBX gives MDBX_DUPSORT databases; plain tables
// order by key alone and replace on Put.
type table struct {
	dupSort bool
	tree    *btree.BTreeG[entry]
}

func newTable(dupSort bool) *table {
	less := func(a, b entry) bool {
		if c := bytes.Compare(a.key, b.key); c != 0 {
			return c < 0
		}
		if !dupSort {
			return false
		}
		return bytes.Compare(a.val, b.val) < 0
	}
	return &table{dupSort: dupSort, tree: btree.NewG[entry](32, less)}
}

func (t *table) equal(a, b entry) bool {
	if !bytes.Equal(a.key, b.key) {
		return false
	}
	if !t.dupSort {
		return true
	}
	return bytes.Equal(a.val, b.val)
}

// DB is an in-process kv.RwDB. A single RWMutex serializes writers;
// readers share the lock for their whole transaction lifetime, so every
// transaction observes a consistent snapshot.
type DB struct {
	mu     sync.RWMutex
	tables map[string]*table
}

func New() *DB {
	db := &DB{tables: make(map[string]*table)}
	for name, cfg := range kv.ChaindataTablesCfg {
		db.tables[name] = newTable(cfg.Flags&kv.DupSort != 0)
	}
	return db
}

func (db *DB) table(name string) *table {
	t, ok := db.tables[name]
	if !ok {
		t = newTable(false)
		db.tables[name] = t
	}
	return t
}

func (db *DB) View(ctx context.Context, f func(kv.Tx) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return f(&tx{db: db})
}

func (db *DB) Update(ctx context.Context, f func(kv.RwTx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return f(&tx{db: db, writable: true})
}

func (db *DB) BeginRo(ctx context.Context) (kv.Tx, error) {
	db.mu.RLock()
	return &tx{db: db, unlock: db.mu.RUnlock}, nil
}

func (db *DB) BeginRw(ctx context.Context) (kv.RwTx, error) {
	db.mu.Lock()
	return &tx{db: db, writable: true, unlock: db.mu.Unlock}, nil
}

func (db *DB) Close() {}

type tx struct {
	db       *DB
	writable bool
	unlock   func()
	done     bool
}

func (t *tx) Commit() error {
	if t.unlock != nil && !t.done {
		t.done = true
		t.unlock()
	}
	return nil
}

func (t *tx) Rollback() {
	if t.unlock != nil && !t.done {
		t.done = true
		t.unlock()
	}
}

func (t *tx) GetOne(name string, key []byte) ([]byte, error) {
	tb := t.db.table(name)
	if !tb.dupSort {
		e, ok := tb.tree.Get(entry{key: key})
		if !ok {
			return nil, nil
		}
		return cp(e.val), nil
	}
	var found *entry
	tb.tree.AscendGreaterOrEqual(entry{key: key}, func(e entry) bool {
		if bytes.Equal(e.key, key) {
			found = &e
		}
		return false
	})
	if found == nil {
		return nil, nil
	}
	return cp(found.val), nil
}

func (t *tx) Put(name string, key, value []byte) error {
	tb := t.db.table(name)
	tb.tree.ReplaceOrInsert(entry{key: cp(key), val: cp(value)})
	return nil
}

// Delete removes the row under key; for a dup-sort table it removes
// every duplicate stored under key, like a keyed MDBX_DEL with no data.
func (t *tx) Delete(name string, key []byte) error {
	tb := t.db.table(name)
	if !tb.dupSort {
		tb.tree.Delete(entry{key: key})
		return nil
	}
	var doomed []entry
	tb.tree.AscendGreaterOrEqual(entry{key: key}, func(e entry) bool {
		if !bytes.Equal(e.key, key) {
			return false
		}
		doomed = append(doomed, e)
		return true
	})
	for _, e := range doomed {
		tb.tree.Delete(e)
	}
	return nil
}

func (t *tx) Cursor(name string) (kv.Cursor, error) {
	return &cursor{tb: t.db.table(name)}, nil
}

func (t *tx) RwCursor(name string) (kv.RwCursor, error) {
	return &cursor{tb: t.db.table(name)}, nil
}

func (t *tx) CursorDupSort(name string) (kv.CursorDupSort, error) {
	return &cursor{tb: t.db.table(name)}, nil
}

func (t *tx) RwCursorDupSort(name string) (kv.RwCursorDupSort, error) {
	return &cursor{tb: t.db.table(name)}, nil
}

// cursor walks one table's btree. cur anchors the position; it stays
// valid after DeleteCurrent so relative Next/Prev keep working, which
// the shard-unwind walk depends on.
type cursor struct {
	tb      *table
	cur     entry
	ok      bool
	started bool
}

func (c *cursor) First() ([]byte, []byte, error) {
	var found *entry
	c.tb.tree.Ascend(func(e entry) bool { found = &e; return false })
	return c.setCurrent(found)
}

func (c *cursor) Last() ([]byte, []byte, error) {
	var found *entry
	c.tb.tree.Descend(func(e entry) bool { found = &e; return false })
	return c.setCurrent(found)
}

func (c *cursor) Seek(seek []byte) ([]byte, []byte, error) {
	var found *entry
	c.tb.tree.AscendGreaterOrEqual(entry{key: seek}, func(e entry) bool { found = &e; return false })
	return c.setCurrent(found)
}

// SeekExact positions at key (for dup-sort, its first duplicate) and
// returns the value, or nil if the key is absent.
func (c *cursor) SeekExact(key []byte) ([]byte, error) {
	var found *entry
	c.tb.tree.AscendGreaterOrEqual(entry{key: key}, func(e entry) bool {
		if bytes.Equal(e.key, key) {
			found = &e
		}
		return false
	})
	c.started = true
	if found == nil {
		c.ok = false
		return nil, nil
	}
	c.cur, c.ok = *found, true
	return cp(found.val), nil
}

func (c *cursor) Next() ([]byte, []byte, error) {
	if !c.started {
		return c.First()
	}
	if !c.ok {
		return nil, nil, nil
	}
	var found *entry
	c.tb.tree.AscendGreaterOrEqual(c.cur, func(e entry) bool {
		if c.tb.equal(e, c.cur) {
			return true
		}
		found = &e
		return false
	})
	return c.setCurrent(found)
}

func (c *cursor) Prev() ([]byte, []byte, error) {
	if !c.started {
		return c.Last()
	}
	if !c.ok {
		return nil, nil, nil
	}
	var found *entry
	c.tb.tree.DescendLessOrEqual(c.cur, func(e entry) bool {
		if c.tb.equal(e, c.cur) {
			return true
		}
		found = &e
		return false
	})
	return c.setCurrent(found)
}

func (c *cursor) Current() ([]byte, []byte, error) {
	if !c.ok {
		return nil, nil, nil
	}
	return cp(c.cur.key), cp(c.cur.val), nil
}

func (c *cursor) Close() {}

func (c *cursor) setCurrent(found *entry) ([]byte, []byte, error) {
	c.started = true
	if found == nil {
		c.ok = false
		return nil, nil, nil
	}
	c.cur, c.ok = *found, true
	return cp(found.key), cp(found.val), nil
}

func (c *cursor) Put(k, v []byte) error {
	e := entry{key: cp(k), val: cp(v)}
	c.tb.tree.ReplaceOrInsert(e)
	c.cur, c.ok, c.started = e, true, true
	return nil
}

func (c *cursor) Append(k, v []byte) error { return c.Put(k, v) }

// DeleteCurrent removes the positioned row but keeps the position as a
// navigation anchor: a following Next/Prev moves relative to the
// deleted row, matching MDBX cursor behavior.
func (c *cursor) DeleteCurrent() error {
	if !c.ok {
		return nil
	}
	c.tb.tree.Delete(c.cur)
	return nil
}

// SeekBothRange positions at the first duplicate >= subkey under key
// and returns it, or nil when key has no such duplicate.
func (c *cursor) SeekBothRange(key, subkey []byte) ([]byte, error) {
	var found *entry
	c.tb.tree.AscendGreaterOrEqual(entry{key: key, val: subkey}, func(e entry) bool {
		if bytes.Equal(e.key, key) {
			found = &e
		}
		return false
	})
	c.started = true
	if found == nil {
		c.ok = false
		return nil, nil
	}
	c.cur, c.ok = *found, true
	return cp(found.val), nil
}

func (c *cursor) FirstDup() ([]byte, error) {
	if !c.ok {
		return nil, nil
	}
	return c.SeekExact(c.cur.key)
}

func (c *cursor) NextDup() ([]byte, []byte, error) {
	if !c.ok {
		return nil, nil, nil
	}
	anchor := c.cur
	k, v, err := c.Next()
	if err != nil || k == nil || !bytes.Equal(k, anchor.key) {
		c.cur, c.ok = anchor, true
		return nil, nil, err
	}
	return k, v, nil
}

func (c *cursor) LastDup() ([]byte, error) {
	if !c.ok {
		return nil, nil
	}
	key := c.cur.key
	var found *entry
	c.tb.tree.DescendLessOrEqual(entry{key: key, val: maxVal}, func(e entry) bool {
		if bytes.Equal(e.key, key) {
			found = &e
		}
		return false
	})
	if found == nil {
		return nil, nil
	}
	c.cur, c.ok = *found, true
	return cp(found.val), nil
}

func (c *cursor) CountDuplicates() (uint64, error) {
	if !c.ok {
		return 0, nil
	}
	var n uint64
	c.tb.tree.AscendGreaterOrEqual(entry{key: c.cur.key}, func(e entry) bool {
		if !bytes.Equal(e.key, c.cur.key) {
			return false
		}
		n++
		return true
	})
	return n, nil
}

func (c *cursor) PutNoDupData(k, v []byte) error {
	if _, ok := c.tb.tree.Get(entry{key: k, val: v}); ok {
		return nil
	}
	return c.Put(k, v)
}

func (c *cursor) DeleteCurrentDuplicates() error {
	if !c.ok {
		return nil
	}
	key := cp(c.cur.key)
	var doomed []entry
	c.tb.tree.AscendGreaterOrEqual(entry{key: key}, func(e entry) bool {
		if !bytes.Equal(e.key, key) {
			return false
		}
		doomed = append(doomed, e)
		return true
	})
	for _, e := range doomed {
		c.tb.tree.Delete(e)
	}
	return nil
}

func (c *cursor) DeleteExact(k, v []byte) error {
	c.tb.tree.Delete(entry{key: k, val: v})
	return nil
}

// maxVal sorts after any real value in LastDup's descend; values in this
// database never reach 256 bytes of 0xff.
var maxVal = bytes.Repeat([]byte{0xff}, 256)

func cp(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
