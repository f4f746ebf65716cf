// Package kv wraps the embedded ordered key/value store used to persist
// bitmap offsets, storage offsets, aux data and attribute value mappings.
//
// Keys are compared as raw bytes; the layouts in package keys are chosen so
// that byte order equals logical order. Read transactions are short-lived
// snapshots wrapping a single cursor scan; writes go through synced batches.
package kv

import (
	"errors"
	"fmt"
	"io"

	"github.com/cockroachdb/pebble"
)

// Error wraps an underlying store error with the environment path and the
// operation that failed.
type Error struct {
	Path string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("kv %s: %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Env is one key/value environment (one directory on disk).
type Env struct {
	db   *pebble.DB
	path string
}

// Open opens or creates the environment at path. A read-only environment
// rejects writes at the store level.
func Open(path string, readOnly bool) (*Env, error) {
	opts := &pebble.Options{
		ReadOnly: readOnly,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, &Error{Path: path, Op: "open", Err: err}
	}
	return &Env{db: db, path: path}, nil
}

// Path returns the on-disk location of the environment.
func (e *Env) Path() string { return e.path }

// Close closes the environment.
func (e *Env) Close() error {
	if err := e.db.Close(); err != nil {
		return &Error{Path: e.path, Op: "close", Err: err}
	}
	return nil
}

// Get returns a copy of the value stored under key. ok is false when the
// key is absent.
func (e *Env) Get(key []byte) (value []byte, ok bool, err error) {
	v, closer, err := e.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &Error{Path: e.path, Op: "get", Err: err}
	}
	value = append([]byte(nil), v...)
	if cerr := closer.Close(); cerr != nil {
		return nil, false, &Error{Path: e.path, Op: "get", Err: cerr}
	}
	return value, true, nil
}

// Entry is one key/value pair for PutBatch.
type Entry struct {
	Key   []byte
	Value []byte
}

// Put writes a single entry, synced.
func (e *Env) Put(key, value []byte) error {
	if err := e.db.Set(key, value, pebble.Sync); err != nil {
		return &Error{Path: e.path, Op: "put", Err: err}
	}
	return nil
}

// PutBatch writes all entries in one atomic, synced batch.
func (e *Env) PutBatch(entries []Entry) error {
	b := e.db.NewBatch()
	for _, ent := range entries {
		if err := b.Set(ent.Key, ent.Value, nil); err != nil {
			b.Close()
			return &Error{Path: e.path, Op: "batch-set", Err: err}
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return &Error{Path: e.path, Op: "batch-commit", Err: err}
	}
	return nil
}

// Txn is a read-only snapshot transaction. It exists for the lifetime of
// one cursor scan and must be closed.
type Txn struct {
	env  *Env
	snap *pebble.Snapshot
}

// NewTxn opens a read snapshot.
func (e *Env) NewTxn() *Txn {
	return &Txn{env: e, snap: e.db.NewSnapshot()}
}

// Close releases the snapshot.
func (t *Txn) Close() error {
	if err := t.snap.Close(); err != nil {
		return &Error{Path: t.env.path, Op: "txn-close", Err: err}
	}
	return nil
}

// Get reads through the snapshot.
func (t *Txn) Get(key []byte) (value []byte, ok bool, err error) {
	v, closer, err := t.snap.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &Error{Path: t.env.path, Op: "txn-get", Err: err}
	}
	value = append([]byte(nil), v...)
	if cerr := closer.Close(); cerr != nil {
		return nil, false, &Error{Path: t.env.path, Op: "txn-get", Err: cerr}
	}
	return value, true, nil
}

// Cursor iterates keys in byte order within [lower, upper). A nil bound
// leaves that side open.
type Cursor struct {
	env  *Env
	iter *pebble.Iterator
}

// NewCursor opens a cursor over the snapshot.
func (t *Txn) NewCursor(lower, upper []byte) (*Cursor, error) {
	iter, err := t.snap.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, &Error{Path: t.env.path, Op: "cursor", Err: err}
	}
	return &Cursor{env: t.env, iter: iter}, nil
}

// Close releases the cursor.
func (c *Cursor) Close() error {
	if err := c.iter.Close(); err != nil {
		return &Error{Path: c.env.path, Op: "cursor-close", Err: err}
	}
	return nil
}

// First positions at the smallest key in bounds.
func (c *Cursor) First() bool { return c.iter.First() }

// SeekGE positions at the first key >= key (lower_bound semantics).
func (c *Cursor) SeekGE(key []byte) bool { return c.iter.SeekGE(key) }

// SeekGT positions at the first key > key (upper_bound semantics).
func (c *Cursor) SeekGT(key []byte) bool {
	if !c.iter.SeekGE(key) {
		return false
	}
	if string(c.iter.Key()) == string(key) {
		return c.iter.Next()
	}
	return true
}

// Next advances; Prev steps back.
func (c *Cursor) Next() bool { return c.iter.Next() }
func (c *Cursor) Prev() bool { return c.iter.Prev() }

// Valid reports whether the cursor is positioned on an entry.
func (c *Cursor) Valid() bool { return c.iter.Valid() }

// Key returns the current key. Valid until the next positioning call.
func (c *Cursor) Key() []byte { return c.iter.Key() }

// Value returns the current value. Valid until the next positioning call.
func (c *Cursor) Value() []byte { return c.iter.Value() }

// Err surfaces an iteration error, if any.
func (c *Cursor) Err() error {
	if err := c.iter.Error(); err != nil {
		return &Error{Path: c.env.path, Op: "cursor-scan", Err: err}
	}
	return nil
}

var _ io.Closer = (*Cursor)(nil)
