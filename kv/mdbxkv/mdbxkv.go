// Package mdbxkv implements kv.RwDB over MDBX, the storage engine the
// chain database runs on in production. One environment holds every
// table; table layout flags come from kv.ChaindataTablesCfg.
package mdbxkv

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/c2h5oh/datasize"
	"github.com/erigontech/mdbx-go/mdbx"
	log "github.com/erigontech/erigon-lib/log/v3"

	"github.com/erigontech/chaindb/kv"
)

const (
	defaultMapSize    = 2 * datasize.TB
	defaultGrowthStep = 2 * datasize.GB
)

// DB wraps an MDBX environment with the named-table registry resolved
// to DBI handles.
type DB struct {
	env  *mdbx.Env
	dbis map[string]mdbx.DBI

	// unsafeReaders records that the DB was opened with
	// WithUnsafeLongReaders. Nothing in this package reads it; there is
	// no long-lived read transaction guard for it to disable.
	unsafeReaders bool
}

// Option mutates open-time settings.
type Option func(*DB)

// WithUnsafeLongReaders marks the DB as opened by offline tooling that
// holds read transactions open. It only sets unsafeReaders; this package
// has no reader-leak guard for it to suppress.
func WithUnsafeLongReaders() Option {
	return func(db *DB) { db.unsafeReaders = true }
}

// Open creates or opens the database directory and all chaindata
// tables.
func Open(path string, opts ...Option) (*DB, error) {
	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("mdbxkv: create env: %w", err)
	}
	if err := env.SetOption(mdbx.OptMaxDB, uint64(len(kv.ChaindataTables)+8)); err != nil {
		return nil, fmt.Errorf("mdbxkv: set max dbs: %w", err)
	}
	if err := env.SetOption(mdbx.OptMaxReaders, uint64(32+runtime.GOMAXPROCS(-1))); err != nil {
		return nil, fmt.Errorf("mdbxkv: set max readers: %w", err)
	}
	if err := env.SetGeometry(-1, -1, int(defaultMapSize), int(defaultGrowthStep), -1, 4096); err != nil {
		return nil, fmt.Errorf("mdbxkv: set geometry: %w", err)
	}
	if err := os.MkdirAll(path, 0o744); err != nil {
		return nil, err
	}
	if err := env.Open(path, mdbx.NoReadahead|mdbx.Coalesce, 0o644); err != nil {
		return nil, fmt.Errorf("mdbxkv: open %s: %w", path, err)
	}

	db := &DB{env: env, dbis: make(map[string]mdbx.DBI, len(kv.ChaindataTables))}
	for _, o := range opts {
		o(db)
	}
	if err := env.Update(func(txn *mdbx.Txn) error {
		for _, name := range kv.ChaindataTables {
			dbi, err := txn.OpenDBISimple(name, dbiFlags(kv.ChaindataTablesCfg[name].Flags)|mdbx.Create)
			if err != nil {
				return fmt.Errorf("open table %s: %w", name, err)
			}
			db.dbis[name] = dbi
		}
		return nil
	}); err != nil {
		env.Close()
		return nil, err
	}
	log.Info("opened chaindata", "path", path, "tables", len(db.dbis))
	return db, nil
}

func dbiFlags(f kv.TableFlags) uint {
	var out uint
	if f&kv.DupSort != 0 {
		out |= mdbx.DupSort
	}
	if f&kv.IntegerKey != 0 {
		out |= mdbx.IntegerKey
	}
	if f&kv.ReverseKey != 0 {
		out |= mdbx.ReverseKey
	}
	return out
}

func (db *DB) Close() { db.env.Close() }

func (db *DB) View(ctx context.Context, f func(kv.Tx) error) error {
	t, err := db.BeginRo(ctx)
	if err != nil {
		return err
	}
	defer t.Rollback()
	return f(t)
}

func (db *DB) Update(ctx context.Context, f func(kv.RwTx) error) error {
	t, err := db.BeginRw(ctx)
	if err != nil {
		return err
	}
	defer t.Rollback()
	if err := f(t); err != nil {
		return err
	}
	return t.Commit()
}

func (db *DB) BeginRo(ctx context.Context) (kv.Tx, error) {
	runtime.LockOSThread()
	txn, err := db.env.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, wrapErr(err)
	}
	return &tx{db: db, txn: txn, readOnly: true}, nil
}

func (db *DB) BeginRw(ctx context.Context) (kv.RwTx, error) {
	runtime.LockOSThread()
	txn, err := db.env.BeginTxn(nil, 0)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, wrapErr(err)
	}
	return &tx{db: db, txn: txn}, nil
}

type tx struct {
	db       *DB
	txn      *mdbx.Txn
	readOnly bool
	done     bool
}

func (t *tx) dbi(table string) mdbx.DBI { return t.db.dbis[table] }

func (t *tx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	defer runtime.UnlockOSThread()
	_, err := t.txn.Commit()
	return wrapErr(err)
}

func (t *tx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	defer runtime.UnlockOSThread()
	t.txn.Abort()
}

func (t *tx) GetOne(table string, key []byte) ([]byte, error) {
	v, err := t.txn.Get(t.dbi(table), key)
	if mdbx.IsNotFound(err) {
		return nil, nil
	}
	return v, wrapErr(err)
}

func (t *tx) Put(table string, key, value []byte) error {
	return wrapErr(t.txn.Put(t.dbi(table), key, value, 0))
}

func (t *tx) Delete(table string, key []byte) error {
	err := t.txn.Del(t.dbi(table), key, nil)
	if mdbx.IsNotFound(err) {
		return nil
	}
	return wrapErr(err)
}

func (t *tx) Cursor(table string) (kv.Cursor, error)         { return t.openCursor(table) }
func (t *tx) RwCursor(table string) (kv.RwCursor, error)     { return t.openCursor(table) }
func (t *tx) CursorDupSort(table string) (kv.CursorDupSort, error) {
	return t.openCursor(table)
}
func (t *tx) RwCursorDupSort(table string) (kv.RwCursorDupSort, error) {
	return t.openCursor(table)
}

func (t *tx) openCursor(table string) (*cursor, error) {
	c, err := t.txn.OpenCursor(t.dbi(table))
	if err != nil {
		return nil, wrapErr(err)
	}
	return &cursor{c: c}, nil
}

type cursor struct {
	c *mdbx.Cursor
}

func (c *cursor) get(setKey, setVal []byte, op uint) ([]byte, []byte, error) {
	k, v, err := c.c.Get(setKey, setVal, op)
	if mdbx.IsNotFound(err) {
		return nil, nil, nil
	}
	return k, v, wrapErr(err)
}

func (c *cursor) First() ([]byte, []byte, error) { return c.get(nil, nil, mdbx.First) }
func (c *cursor) Last() ([]byte, []byte, error)  { return c.get(nil, nil, mdbx.Last) }
func (c *cursor) Next() ([]byte, []byte, error)  { return c.get(nil, nil, mdbx.Next) }
func (c *cursor) Prev() ([]byte, []byte, error)  { return c.get(nil, nil, mdbx.Prev) }

func (c *cursor) Seek(seek []byte) ([]byte, []byte, error) {
	if len(seek) == 0 {
		return c.First()
	}
	return c.get(seek, nil, mdbx.SetRange)
}

func (c *cursor) SeekExact(key []byte) ([]byte, error) {
	_, v, err := c.get(key, nil, mdbx.SetKey)
	return v, err
}

func (c *cursor) Current() ([]byte, []byte, error) { return c.get(nil, nil, mdbx.GetCurrent) }

func (c *cursor) Close() { c.c.Close() }

func (c *cursor) Put(k, v []byte) error    { return wrapErr(c.c.Put(k, v, 0)) }
func (c *cursor) Append(k, v []byte) error { return wrapErr(c.c.Put(k, v, mdbx.Append)) }

func (c *cursor) DeleteCurrent() error { return wrapErr(c.c.Del(0)) }

func (c *cursor) SeekBothRange(key, subkey []byte) ([]byte, error) {
	_, v, err := c.get(key, subkey, mdbx.GetBothRange)
	return v, err
}

func (c *cursor) FirstDup() ([]byte, error) {
	_, v, err := c.get(nil, nil, mdbx.FirstDup)
	return v, err
}

func (c *cursor) NextDup() ([]byte, []byte, error) { return c.get(nil, nil, mdbx.NextDup) }

func (c *cursor) LastDup() ([]byte, error) {
	_, v, err := c.get(nil, nil, mdbx.LastDup)
	return v, err
}

func (c *cursor) CountDuplicates() (uint64, error) {
	n, err := c.c.Count()
	return n, wrapErr(err)
}

func (c *cursor) PutNoDupData(k, v []byte) error {
	err := c.c.Put(k, v, mdbx.NoDupData)
	if mdbx.IsErrno(err, mdbx.KeyExist) {
		return nil
	}
	return wrapErr(err)
}

func (c *cursor) DeleteCurrentDuplicates() error { return wrapErr(c.c.Del(mdbx.AllDups)) }

func (c *cursor) DeleteExact(k, v []byte) error {
	fk, _, err := c.get(k, v, mdbx.GetBoth)
	if err != nil || fk == nil {
		return err
	}
	return c.DeleteCurrent()
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("mdbxkv: %w", err)
}
