package blobstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	body := "hello blob"
	require.NoError(t, store.Put(ctx, "a/b/c.bin", strings.NewReader(body), int64(len(body))))

	rc, err := store.Open(ctx, "a/b/c.bin")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, body, string(got))

	names, err := store.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/c.bin"}, names)
}

func TestLocalStoreMissing(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing object is fine.
	assert.NoError(t, store.Delete(ctx, "nope"))
}

func TestLocalStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "obj", strings.NewReader("one"), 3))
	require.NoError(t, store.Put(ctx, "obj", strings.NewReader("two"), 3))

	rc, err := store.Open(ctx, "obj")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))
}
