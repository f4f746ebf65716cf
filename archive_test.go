package bitmapindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martun/bitmap-index/blobstore"
	"github.com/martun/bitmap-index/model"
)

func buildArchivableBatch(t *testing.T, dir string) (*model.BatchInfo, BatchPaths, model.ColumnReference) {
	t.Helper()
	ctx := context.Background()
	batch := testBatch(1, 200)
	paths := DefaultBatchPaths(dir)
	col := model.ColumnReference{DottedPath: "payload.kind", Type: model.TypeUint32}

	values := make([]model.Entry[uint32], 200)
	for i := range values {
		values[i] = model.Entry[uint32]{Doc: uint32(i), Value: uint32(i % 11)}
	}
	b, err := NewBatchBuilder(ctx, batch, paths)
	require.NoError(t, err)
	require.NoError(t, AddIndex(b, batch.RowGroups[0], col, values))
	require.NoError(t, b.SaveAll(ctx))
	require.NoError(t, b.Close())
	return batch, paths, col
}

func TestArchiveRestoreRoundTrip(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(map[Compression]string{
			CompressionNone: "none",
			CompressionZstd: "zstd",
			CompressionLZ4:  "lz4",
		}[compression], func(t *testing.T) {
			ctx := context.Background()
			batch, paths, col := buildArchivableBatch(t, t.TempDir())

			store, err := blobstore.NewLocalStore(t.TempDir())
			require.NoError(t, err)
			archiver := NewBatchArchiver(store, WithCompression(compression))

			manifest, err := archiver.Archive(ctx, batch, paths)
			require.NoError(t, err)
			assert.NotEmpty(t, manifest.Files)
			assert.Equal(t, batch.ID, manifest.BatchID)

			// A fresh archiver on the same store must find the manifest.
			reloaded, err := NewBatchArchiver(store).LoadManifest(ctx, manifest.ID)
			require.NoError(t, err)
			assert.Equal(t, manifest.ID, reloaded.ID)
			assert.Equal(t, compression, reloaded.Compression)

			dest := t.TempDir()
			require.NoError(t, archiver.Restore(ctx, reloaded, dest))

			// The restored directory serves queries like the original.
			r, err := NewBatchReader(batch, DefaultBatchPaths(dest))
			require.NoError(t, err)
			defer r.Close()
			idx, ok, err := r.Open(ctx, 0, col)
			require.NoError(t, err)
			require.True(t, ok)
			res, err := idx.FindCandidateDocuments(ctx, &model.Predicate{
				Kind: model.KindBinaryConst, Op: model.OpEqual, Column: col, Value: uint32(3),
			})
			require.NoError(t, err)
			var want []uint32
			for i := uint32(0); i < 200; i++ {
				if i%11 == 3 {
					want = append(want, i)
				}
			}
			assert.Equal(t, want, res.Values.ToArray())
		})
	}
}

func TestArchiveWithUploadLimit(t *testing.T) {
	ctx := context.Background()
	batch, paths, _ := buildArchivableBatch(t, t.TempDir())

	store, err := blobstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	// Generous limit: the test only checks the throttled path works.
	archiver := NewBatchArchiver(store, WithUploadLimit(64<<20))

	manifest, err := archiver.Archive(ctx, batch, paths)
	require.NoError(t, err)
	require.NoError(t, archiver.Restore(ctx, manifest, t.TempDir()))
}

func TestLocalStoreList(t *testing.T) {
	ctx := context.Background()
	batch, paths, _ := buildArchivableBatch(t, t.TempDir())

	store, err := blobstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	archiver := NewBatchArchiver(store)
	manifest, err := archiver.Archive(ctx, batch, paths)
	require.NoError(t, err)

	names, err := store.List(ctx, manifest.ID.String())
	require.NoError(t, err)
	// Every archived object plus the manifest.
	assert.Len(t, names, len(manifest.Files)+1)
}
