package bitmapindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/martun/bitmap-index/index"
	"github.com/martun/bitmap-index/iopool"
	"github.com/martun/bitmap-index/keys"
	"github.com/martun/bitmap-index/kv"
	"github.com/martun/bitmap-index/model"
	"github.com/martun/bitmap-index/storage"
)

// BatchPaths locates the artifacts of one batch: the shared bitmaps file
// and the four key/value environments.
type BatchPaths struct {
	Bitmaps          string
	AttributeMapping string
	AuxData          string
	BitmapOffsets    string
	StorageOffsets   string
}

// DefaultBatchPaths lays the artifacts out under dir with the canonical
// names.
func DefaultBatchPaths(dir string) BatchPaths {
	return BatchPaths{
		Bitmaps:          filepath.Join(dir, "bitmaps"),
		AttributeMapping: filepath.Join(dir, "lmdb_attribute_mapping"),
		AuxData:          filepath.Join(dir, "lmdb_bitmap_aux_data"),
		BitmapOffsets:    filepath.Join(dir, "lmdb_bitmap_offsets"),
		StorageOffsets:   filepath.Join(dir, "lmdb_bitmap_storage_offsets"),
	}
}

// list returns the artifact paths in a stable order.
func (p BatchPaths) list() []string {
	return []string{p.Bitmaps, p.AttributeMapping, p.AuxData, p.BitmapOffsets, p.StorageOffsets}
}

// BaseIndex is the type-erased view of a built index the builder works
// with while saving.
type BaseIndex interface {
	Storage() *storage.Storage
	AuxData() *keys.AuxData
	Column() model.ColumnReference
	RowGroup() model.RowGroupInfo
}

// BatchBuilder constructs all bitmap indexes of one batch. Index builds
// fan out onto a bounded worker set; SaveAll serializes their storages
// into the shared bitmaps file and commits the offset map last.
//
// The file is scratch until SaveAll commits the storage offsets: a build
// that dies earlier leaves nothing a reader can open.
type BatchBuilder struct {
	batch *model.BatchInfo
	paths BatchPaths
	opts  options

	file *os.File
	pool *iopool.Pool

	attrKV           *kv.Env
	auxKV            *kv.Env
	bitmapOffsetsKV  *kv.Env
	storageOffsetsKV *kv.Env

	group *errgroup.Group
	gctx  context.Context
	sem   *semaphore.Weighted

	mu     sync.Mutex
	built  []BaseIndex
	cursor uint32
	closed bool
}

// NewBatchBuilder opens the bitmaps file for writing (truncating any
// previous content) and the four key/value environments.
func NewBatchBuilder(ctx context.Context, batch *model.BatchInfo, paths BatchPaths, opts ...Option) (*BatchBuilder, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	file, err := os.OpenFile(paths.Bitmaps, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening bitmaps file: %w", err)
	}

	b := &BatchBuilder{
		batch: batch,
		paths: paths,
		opts:  o,
		file:  file,
		pool:  iopool.New(o.ioWorkers, o.queueDepth),
		sem:   semaphore.NewWeighted(int64(o.maxParallel)),
	}
	b.group, b.gctx = errgroup.WithContext(ctx)

	for _, open := range []struct {
		env  **kv.Env
		path string
	}{
		{&b.attrKV, paths.AttributeMapping},
		{&b.auxKV, paths.AuxData},
		{&b.bitmapOffsetsKV, paths.BitmapOffsets},
		{&b.storageOffsetsKV, paths.StorageOffsets},
	} {
		env, err := kv.Open(open.path, false)
		if err != nil {
			b.Close()
			return nil, err
		}
		*open.env = env
	}
	return b, nil
}

// AddIndex spawns an independent build task for one (row group, column).
// Tasks run concurrently, bounded by WithMaxParallel; there is no ordering
// between them. The defaults are Interval encoding over a Bitsliced basis.
func AddIndex[T index.Value](b *BatchBuilder, rg model.RowGroupInfo, col model.ColumnReference,
	values []model.Entry[T], opts ...IndexOption) error {

	iopts := indexOptions{encoding: EncodingInterval, indexType: IndexTypeBitsliced}
	for _, opt := range opts {
		opt(&iopts)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBuilderClosed
	}
	b.mu.Unlock()

	b.group.Go(func() error {
		if err := b.sem.Acquire(b.gctx, 1); err != nil {
			return err
		}
		defer b.sem.Release(1)

		start := time.Now()
		aux := index.Configure(values, iopts.encoding, iopts.indexType)
		st := storage.Create(rg, col, b.file, b.pool, aux.BitmapCounts, b.bitmapOffsetsKV)
		idx, err := index.Create(b.gctx, rg, col, st, b.attrKV, b.auxKV, aux, values)
		if err != nil {
			return fmt.Errorf("building index rg=%d column=%q: %w", rg.ID, col.DottedPath, err)
		}

		b.opts.metrics.indexBuilt(time.Since(start).Seconds())
		b.opts.logger.Debug("index built",
			"rg", rg.ID,
			"column", col.DottedPath,
			"rows", len(values),
			"cardinality", aux.Cardinality,
			"encoding", aux.Encoding.String(),
			"mapped", aux.UseValueMapping,
		)

		b.mu.Lock()
		b.built = append(b.built, idx)
		b.mu.Unlock()
		return nil
	})
	return nil
}

// SaveAll waits for every pending build, appends each storage to the
// bitmaps file at a sequentially assigned offset, and finally commits the
// storage offset map in one bulk put. The offset commit is the durability
// point: writes happen in parallel over disjoint ranges, and a failure
// anywhere aborts before the commit, leaving the file as scratch.
func (b *BatchBuilder) SaveAll(ctx context.Context) error {
	if err := b.group.Wait(); err != nil {
		return err
	}

	b.mu.Lock()
	indexes := b.built
	b.built = nil
	offset := b.cursor
	b.mu.Unlock()

	// Offsets are assigned in completion order, single-threaded.
	type pending struct {
		idx    BaseIndex
		offset uint32
		size   uint32
	}
	plan := make([]pending, 0, len(indexes))
	entries := make([]kv.Entry, 0, len(indexes))
	for _, idx := range indexes {
		size, err := idx.Storage().TotalByteSize(ctx)
		if err != nil {
			return err
		}
		st := idx.Storage()
		entries = append(entries, kv.Entry{
			Key: keys.StorageKey{
				RGID:       st.RowGroup().ID,
				DottedPath: st.Column().DottedPath,
			}.Encode(),
			Value: keys.OffsetRange{Start: offset, End: offset + size}.Encode(),
		})
		plan = append(plan, pending{idx: idx, offset: offset, size: size})
		offset += size
	}

	// The writes themselves proceed in parallel: each storage owns a
	// disjoint pre-assigned range.
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range plan {
		g.Go(func() error {
			n, err := p.idx.Storage().Save(gctx, p.offset)
			if err != nil {
				return err
			}
			if uint32(n) != p.size {
				return fmt.Errorf("%w: wrote %d bytes, expected %d (rg=%d column=%q)",
					ErrWriteSizeMismatch, n, p.size,
					p.idx.RowGroup().ID, p.idx.Column().DottedPath)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Durability point: the offsets become visible only now.
	if err := b.storageOffsetsKV.PutBatch(entries); err != nil {
		return err
	}

	for _, p := range plan {
		p.idx.Storage().ResetUsageFrequencies()
	}

	b.mu.Lock()
	written := int(offset - b.cursor)
	b.cursor = offset
	b.mu.Unlock()

	b.opts.metrics.batchSaved(written)
	b.opts.logger.Info("batch indexes saved",
		"batch", b.batch.ID,
		"indexes", len(plan),
		"bytes", written,
	)
	b.group, b.gctx = errgroup.WithContext(ctx)
	return nil
}

// Close releases the file, the I/O pool and the key/value environments.
func (b *BatchBuilder) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	var firstErr error
	if b.pool != nil {
		b.pool.Close()
	}
	if err := b.file.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := b.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, env := range []*kv.Env{b.attrKV, b.auxKV, b.bitmapOffsetsKV, b.storageOffsetsKV} {
		if env == nil {
			continue
		}
		if err := env.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
