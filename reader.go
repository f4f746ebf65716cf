package bitmapindex

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/martun/bitmap-index/index"
	"github.com/martun/bitmap-index/iopool"
	"github.com/martun/bitmap-index/keys"
	"github.com/martun/bitmap-index/kv"
	"github.com/martun/bitmap-index/model"
	"github.com/martun/bitmap-index/storage"
)

// BatchReader opens a previously built batch for read-only query. Open
// materializes a typed index facade per (row group, column) on demand;
// readers are fully concurrent.
type BatchReader struct {
	batch *model.BatchInfo
	paths BatchPaths
	opts  options

	file *os.File
	pool *iopool.Pool

	attrKV           *kv.Env
	auxKV            *kv.Env
	bitmapOffsetsKV  *kv.Env
	storageOffsetsKV *kv.Env
}

// NewBatchReader opens the batch artifacts read-only.
func NewBatchReader(batch *model.BatchInfo, paths BatchPaths, opts ...Option) (*BatchReader, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	file, err := os.Open(paths.Bitmaps)
	if err != nil {
		return nil, fmt.Errorf("opening bitmaps file: %w", err)
	}
	r := &BatchReader{
		batch: batch,
		paths: paths,
		opts:  o,
		file:  file,
		pool:  iopool.New(o.ioWorkers, o.queueDepth),
	}
	for _, open := range []struct {
		env  **kv.Env
		path string
	}{
		{&r.attrKV, paths.AttributeMapping},
		{&r.auxKV, paths.AuxData},
		{&r.bitmapOffsetsKV, paths.BitmapOffsets},
		{&r.storageOffsetsKV, paths.StorageOffsets},
	} {
		env, err := kv.Open(open.path, true)
		if err != nil {
			r.Close()
			return nil, err
		}
		*open.env = env
	}
	return r, nil
}

// Open materializes the index for (rgID, col). ok is false when no index
// was built for that column — missing storage offsets or aux data — which
// is not an error. The whole storage blob is fetched with one read.
func (r *BatchReader) Open(ctx context.Context, rgID uint32, col model.ColumnReference) (DocumentIndex, bool, error) {
	rg, err := r.rowGroup(rgID)
	if err != nil {
		return nil, false, err
	}

	raw, ok, err := r.storageOffsetsKV.Get(keys.StorageKey{RGID: rgID, DottedPath: col.DottedPath}.Encode())
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	offsets, err := keys.DecodeOffsetRange(raw)
	if err != nil {
		return nil, false, err
	}

	aux, err := index.GetAuxData(rg, col, r.auxKV)
	if errors.Is(err, ErrIndexNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	st, err := storage.Load(ctx, rg, col, r.file, r.pool, offsets,
		aux.BitmapCounts, r.bitmapOffsetsKV, r.opts.cacheSize, true)
	if err != nil {
		return nil, false, err
	}

	switch col.Type {
	case model.TypeBool:
		return openTyped[bool](r, rg, col, st)
	case model.TypeInt8:
		return openTyped[int8](r, rg, col, st)
	case model.TypeInt16:
		return openTyped[int16](r, rg, col, st)
	case model.TypeInt32:
		return openTyped[int32](r, rg, col, st)
	case model.TypeInt64:
		return openTyped[int64](r, rg, col, st)
	case model.TypeUint8:
		return openTyped[uint8](r, rg, col, st)
	case model.TypeUint16:
		return openTyped[uint16](r, rg, col, st)
	case model.TypeUint32:
		return openTyped[uint32](r, rg, col, st)
	case model.TypeUint64:
		return openTyped[uint64](r, rg, col, st)
	case model.TypeFloat32:
		return openTyped[float32](r, rg, col, st)
	case model.TypeFloat64:
		return openTyped[float64](r, rg, col, st)
	case model.TypeString:
		return openTyped[string](r, rg, col, st)
	default:
		return nil, false, fmt.Errorf("%w: %s", ErrUnsupportedType, col.Type)
	}
}

func openTyped[T index.Value](r *BatchReader, rg model.RowGroupInfo,
	col model.ColumnReference, st *storage.Storage) (DocumentIndex, bool, error) {
	idx, err := index.Load[T](rg, col, st, r.attrKV, r.auxKV)
	if err != nil {
		return nil, false, err
	}
	return &documentIndex[T]{idx: idx, metrics: r.opts.metrics}, true, nil
}

func (r *BatchReader) rowGroup(rgID uint32) (model.RowGroupInfo, error) {
	for _, rg := range r.batch.RowGroups {
		if rg.ID == rgID {
			return rg, nil
		}
	}
	return model.RowGroupInfo{}, fmt.Errorf("%w: row group %d not in batch %d",
		ErrInvalidArgument, rgID, r.batch.ID)
}

// Close releases the file, the I/O pool and the key/value environments.
func (r *BatchReader) Close() error {
	var firstErr error
	if r.pool != nil {
		r.pool.Close()
	}
	if err := r.file.Close(); err != nil {
		firstErr = err
	}
	for _, env := range []*kv.Env{r.attrKV, r.auxKV, r.bitmapOffsetsKV, r.storageOffsetsKV} {
		if env == nil {
			continue
		}
		if err := env.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
