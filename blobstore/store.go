// Package blobstore abstracts the object storage a finished batch can be
// archived to. Batches are immutable once their offsets are committed, so
// stores only need whole-object put, get, delete and list.
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when an object does not exist.
//
// Implementations return an error satisfying errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// Store is an object store for archived batch artifacts.
type Store interface {
	// Put writes an object. size may be -1 when unknown.
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	// Open opens an object for reading.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Delete removes an object; deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the object names under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
