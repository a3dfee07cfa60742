// Package kv defines the storage-backend abstraction: cursor-oriented
// transactional access to a set of named, typed tables. Two concrete
// backends implement it: kv/mdbxkv (production, MDBX) and kv/memdb
// (in-process, used by tests and tooling).
package kv

import "context"

// Tx is a read-only transaction snapshot.
type Tx interface {
	// Cursor opens a forward/backward iterator over table.
	Cursor(table string) (Cursor, error)
	// CursorDupSort opens a cursor over a dup-sorted table.
	CursorDupSort(table string) (CursorDupSort, error)
	// GetOne returns the value stored under key, or nil if absent.
	GetOne(table string, key []byte) ([]byte, error)
	// Commit releases read resources (no-op for pure readers in memdb,
	// required for mdbx to release the reader slot).
	Commit() error
	Rollback()
}

// RwTx is a read-write transaction.
type RwTx interface {
	Tx
	RwCursor(table string) (RwCursor, error)
	RwCursorDupSort(table string) (RwCursorDupSort, error)
	Put(table string, key, value []byte) error
	Delete(table string, key []byte) error
}

// Cursor walks a table in key order.
type Cursor interface {
	First() (k, v []byte, err error)
	Seek(seek []byte) (k, v []byte, err error)
	SeekExact(key []byte) (v []byte, err error)
	Next() (k, v []byte, err error)
	Prev() (k, v []byte, err error)
	Last() (k, v []byte, err error)
	Current() (k, v []byte, err error)
	Close()
}

// RwCursor additionally mutates the table it walks.
type RwCursor interface {
	Cursor
	Put(k, v []byte) error
	Append(k, v []byte) error
	DeleteCurrent() error
}

// CursorDupSort is a cursor over a table whose values are themselves
// ordered per key (multiple values share one key, sorted by value).
type CursorDupSort interface {
	Cursor
	// SeekBothRange seeks to key, returns the first value >= subkey
	// under that key (MDBX's mdbx_cursor_get MDBX_GET_BOTH_RANGE).
	SeekBothRange(key, subkey []byte) (v []byte, err error)
	FirstDup() (v []byte, err error)
	NextDup() (k, v []byte, err error)
	LastDup() (v []byte, err error)
	CountDuplicates() (uint64, error)
}

// RwCursorDupSort is the mutable counterpart of CursorDupSort.
type RwCursorDupSort interface {
	CursorDupSort
	RwCursor
	// PutNoDupData inserts k/v asserting v is not already present under k.
	PutNoDupData(k, v []byte) error
	DeleteCurrentDuplicates() error
	DeleteExact(k, v []byte) error
}

// RwDB is a durable key-value store that hands out transactions.
type RwDB interface {
	View(ctx context.Context, f func(tx Tx) error) error
	Update(ctx context.Context, f func(tx RwTx) error) error
	BeginRo(ctx context.Context) (Tx, error)
	BeginRw(ctx context.Context) (RwTx, error)
	Close()
}

// ErrKeyNotFound is the sentinel error for a key with no stored value.
// No function in this repository returns it.
var ErrKeyNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "kv: key not found" }
