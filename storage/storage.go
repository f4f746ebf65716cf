// Package storage owns the bitmap set of one (row group, column) index:
// the per-component bitmaps plus the all-values bitmap, their byte ranges
// inside the shared bitmaps file, and the frequency-based cache that
// decides which of them stay resident.
package storage

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/martun/bitmap-index/iopool"
	"github.com/martun/bitmap-index/keys"
	"github.com/martun/bitmap-index/kv"
	"github.com/martun/bitmap-index/model"
)

// Storage holds the bitmaps of one index. A storage created with Create is
// mutable until Save; one obtained through Load is read-only and serves
// concurrent queries.
type Storage struct {
	rg   model.RowGroupInfo
	col  model.ColumnReference
	file *os.File
	pool *iopool.Pool

	offsetsKV *kv.Env

	counts []uint32

	mu            sync.Mutex
	bitmaps       [][]*roaring.Bitmap // nil slot = evicted / not yet loaded
	allValues     *roaring.Bitmap
	bitmapOffsets [][]keys.OffsetRange
	allOffsets    keys.OffsetRange
	fileRange     keys.OffsetRange

	frequencies [][]uint32
	threshold   uint32
	cacheSize   int
}

// Create returns an empty storage for index construction. Every bitmap is
// resident and the cache never evicts.
func Create(rg model.RowGroupInfo, col model.ColumnReference, file *os.File,
	pool *iopool.Pool, counts []uint32, offsetsKV *kv.Env) *Storage {
	s := newStorage(rg, col, file, pool, counts, offsetsKV, math.MaxInt)
	for i := range s.bitmaps {
		for j := range s.bitmaps[i] {
			s.bitmaps[i][j] = roaring.New()
		}
	}
	s.allValues = roaring.New()
	return s
}

// Load opens a persisted storage. Per-bitmap offsets are resolved from the
// offsets table by one bounded cursor scan over the consecutive
// (rg, column, ordinal) block. With eager set, the whole storage blob is
// fetched in a single pool read and every bitmap deserialized up front;
// otherwise bitmaps load lazily on first access.
func Load(ctx context.Context, rg model.RowGroupInfo, col model.ColumnReference,
	file *os.File, pool *iopool.Pool, fileRange keys.OffsetRange,
	counts []uint32, offsetsKV *kv.Env, cacheSize int, eager bool) (*Storage, error) {

	s := newStorage(rg, col, file, pool, counts, offsetsKV, cacheSize)
	s.fileRange = fileRange
	if err := s.loadOffsets(); err != nil {
		return nil, err
	}
	if !eager {
		return s, nil
	}

	fut, err := pool.SubmitRead(file, int64(fileRange.Start), int(fileRange.Len()))
	if err != nil {
		return nil, err
	}
	n, err := fut.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if uint32(n) != fileRange.Len() {
		return nil, fmt.Errorf("storage read returned %d of %d bytes", n, fileRange.Len())
	}
	buf := fut.Bytes()

	slice := func(r keys.OffsetRange) []byte {
		return buf[r.Start-fileRange.Start : r.End-fileRange.Start]
	}
	s.allValues = roaring.New()
	if _, err := s.allValues.FromBuffer(slice(s.allOffsets)); err != nil {
		return nil, fmt.Errorf("deserializing all-values bitmap: %w", err)
	}
	for i := range s.bitmaps {
		for j := range s.bitmaps[i] {
			bm := roaring.New()
			if _, err := bm.FromBuffer(slice(s.bitmapOffsets[i][j])); err != nil {
				return nil, fmt.Errorf("deserializing bitmap %d/%d: %w", i, j, err)
			}
			s.bitmaps[i][j] = bm
		}
	}
	return s, nil
}

func newStorage(rg model.RowGroupInfo, col model.ColumnReference, file *os.File,
	pool *iopool.Pool, counts []uint32, offsetsKV *kv.Env, cacheSize int) *Storage {
	s := &Storage{
		rg:        rg,
		col:       col,
		file:      file,
		pool:      pool,
		offsetsKV: offsetsKV,
		counts:    append([]uint32(nil), counts...),
		cacheSize: cacheSize,
	}
	s.bitmaps = make([][]*roaring.Bitmap, len(counts))
	s.frequencies = make([][]uint32, len(counts))
	s.bitmapOffsets = make([][]keys.OffsetRange, len(counts))
	for i, c := range counts {
		s.bitmaps[i] = make([]*roaring.Bitmap, c)
		s.frequencies[i] = make([]uint32, c)
		s.bitmapOffsets[i] = make([]keys.OffsetRange, c)
	}
	s.recomputeThreshold()
	return s
}

// RowGroup returns the owning row group.
func (s *Storage) RowGroup() model.RowGroupInfo { return s.rg }

// Column returns the indexed column.
func (s *Storage) Column() model.ColumnReference { return s.col }

// BitmapCounts returns the per-component bitmap counts.
func (s *Storage) BitmapCounts() []uint32 { return s.counts }

// loadOffsets scans the consecutive key block (rg, column, 0..N) and fills
// the per-bitmap offset table. Ordinal 0 is the all-values bitmap.
func (s *Storage) loadOffsets() error {
	prefix := keys.ColumnPrefix(s.rg.ID, s.col.DottedPath)
	txn := s.offsetsKV.NewTxn()
	defer txn.Close()
	cur, err := txn.NewCursor(prefix, keys.PrefixSuccessor(prefix))
	if err != nil {
		return err
	}
	defer cur.Close()

	ordinal := uint16(0)
	next := func() (keys.OffsetRange, error) {
		want := keys.BitmapKey{RGID: s.rg.ID, DottedPath: s.col.DottedPath, Ordinal: ordinal}
		if !cur.Valid() {
			return keys.OffsetRange{}, fmt.Errorf("bitmap offsets block ends before ordinal %d", ordinal)
		}
		if string(cur.Key()) != string(want.Encode()) {
			return keys.OffsetRange{}, fmt.Errorf("bitmap offsets block misses ordinal %d", ordinal)
		}
		r, err := keys.DecodeOffsetRange(cur.Value())
		if err != nil {
			return keys.OffsetRange{}, err
		}
		ordinal++
		cur.Next()
		return r, nil
	}

	if !cur.First() {
		return fmt.Errorf("no bitmap offsets recorded for rg %d column %q", s.rg.ID, s.col.DottedPath)
	}
	if s.allOffsets, err = next(); err != nil {
		return err
	}
	for i := range s.counts {
		for j := uint32(0); j < s.counts[i]; j++ {
			if s.bitmapOffsets[i][j], err = next(); err != nil {
				return err
			}
		}
	}
	return cur.Err()
}

// increaseFrequency bumps the access counter of one bitmap, recomputing
// the threshold when the counter is about to cross it.
func (s *Storage) increaseFrequency(comp, i int) {
	if s.frequencies[comp][i] == s.threshold {
		s.recomputeThreshold()
	}
	s.frequencies[comp][i]++
}

// checkUnload evicts the bitmap when its access frequency is below the
// cache threshold.
func (s *Storage) checkUnload(comp, i int) {
	if s.frequencies[comp][i] < s.threshold {
		s.bitmaps[comp][i] = nil
	}
}

// recomputeThreshold sets threshold to the cacheSize-th largest access
// frequency, so that the cacheSize hottest bitmaps stay resident. With a
// cache at least as large as the bitmap count the threshold drops to zero
// and nothing is ever evicted.
func (s *Storage) recomputeThreshold() {
	total := 0
	for _, c := range s.counts {
		total += int(c)
	}
	if s.cacheSize >= total {
		s.threshold = 0
		return
	}
	if s.cacheSize <= 0 {
		s.threshold = math.MaxUint32
		return
	}
	freqs := make([]uint32, 0, total)
	for i := range s.frequencies {
		freqs = append(freqs, s.frequencies[i]...)
	}
	// k-th largest == (total-cacheSize)-th smallest.
	s.threshold = quickselect(freqs, total-s.cacheSize)
}

// quickselect returns the k-th smallest element (0-based) of a, mutating a.
func quickselect(a []uint32, k int) uint32 {
	lo, hi := 0, len(a)-1
	for lo < hi {
		pivot := a[(lo+hi)/2]
		i, j := lo, hi
		for i <= j {
			for a[i] < pivot {
				i++
			}
			for a[j] > pivot {
				j--
			}
			if i <= j {
				a[i], a[j] = a[j], a[i]
				i++
				j--
			}
		}
		if k <= j {
			hi = j
		} else if k >= i {
			lo = i
		} else {
			break
		}
	}
	return a[k]
}

// ResetUsageFrequencies zeroes every access counter. The builder calls it
// after save_all so build-time access patterns do not skew query caching.
func (s *Storage) ResetUsageFrequencies() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.frequencies {
		for j := range s.frequencies[i] {
			s.frequencies[i][j] = 0
		}
	}
}

// loadLocked returns the resident bitmap, fetching it from the file when
// evicted. pin keeps the bitmap resident regardless of its frequency.
func (s *Storage) loadLocked(ctx context.Context, comp, i int, pin bool) (*roaring.Bitmap, error) {
	s.increaseFrequency(comp, i)
	if bm := s.bitmaps[comp][i]; bm != nil {
		if !pin {
			s.checkUnload(comp, i)
			if s.bitmaps[comp][i] == nil {
				// Still hand the loaded instance to the caller.
				return bm, nil
			}
		}
		return bm, nil
	}

	r := s.bitmapOffsets[comp][i]
	bm, err := s.readBitmap(ctx, r)
	if err != nil {
		return nil, err
	}
	s.bitmaps[comp][i] = bm
	if !pin {
		s.checkUnload(comp, i)
	}
	return bm, nil
}

func (s *Storage) readBitmap(ctx context.Context, r keys.OffsetRange) (*roaring.Bitmap, error) {
	fut, err := s.pool.SubmitRead(s.file, int64(r.Start), int(r.Len()))
	if err != nil {
		return nil, err
	}
	if _, err := fut.Wait(ctx); err != nil {
		return nil, err
	}
	bm := roaring.New()
	if _, err := bm.FromBuffer(fut.Bytes()); err != nil {
		return nil, fmt.Errorf("deserializing bitmap at %d: %w", r.Start, err)
	}
	return bm, nil
}

// LoadBitmap returns an owned copy of component bitmap (comp, i).
func (s *Storage) LoadBitmap(ctx context.Context, comp, i int) (*roaring.Bitmap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bm, err := s.loadLocked(ctx, comp, i, false)
	if err != nil {
		return nil, err
	}
	return bm.Clone(), nil
}

// LoadConstBitmap returns a shared immutable view of (comp, i). The caller
// must not modify it.
func (s *Storage) LoadConstBitmap(ctx context.Context, comp, i int) (*roaring.Bitmap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx, comp, i, false)
}

// LoadAllValuesBitmap returns an owned copy of the all-values bitmap.
func (s *Storage) LoadAllValuesBitmap(ctx context.Context) (*roaring.Bitmap, error) {
	bm, err := s.LoadAllValuesBitmapConst(ctx)
	if err != nil {
		return nil, err
	}
	return bm.Clone(), nil
}

// LoadAllValuesBitmapConst returns the shared all-values bitmap. It is
// always kept resident: complements and null checks hit it constantly.
func (s *Storage) LoadAllValuesBitmapConst(ctx context.Context) (*roaring.Bitmap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allValues != nil {
		return s.allValues, nil
	}
	bm, err := s.readBitmap(ctx, s.allOffsets)
	if err != nil {
		return nil, err
	}
	s.allValues = bm
	return bm, nil
}

// AddToBitmap sets doc in component bitmap (comp, i). Build path only.
func (s *Storage) AddToBitmap(ctx context.Context, comp, i int, doc model.DocumentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bm, err := s.loadLocked(ctx, comp, i, true)
	if err != nil {
		return err
	}
	bm.Add(doc)
	s.checkUnload(comp, i)
	return nil
}

// AddManyToBitmap sets docs in component bitmap (comp, i) in one call and
// re-packs its containers.
func (s *Storage) AddManyToBitmap(ctx context.Context, comp, i int, docs []model.DocumentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bm, err := s.loadLocked(ctx, comp, i, true)
	if err != nil {
		return err
	}
	bm.AddMany(docs)
	bm.RunOptimize()
	s.checkUnload(comp, i)
	return nil
}

// AddToAllValuesBitmap marks docs as present (non-null).
func (s *Storage) AddToAllValuesBitmap(ctx context.Context, docs ...model.DocumentID) error {
	if _, err := s.LoadAllValuesBitmapConst(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allValues.AddMany(docs)
	return nil
}

// TotalByteSize returns the serialized size of every bitmap (all-values
// first), rounded up to the next disk block.
func (s *Storage) TotalByteSize(ctx context.Context) (uint32, error) {
	all, err := s.LoadAllValuesBitmapConst(ctx)
	if err != nil {
		return 0, err
	}
	total := all.GetSerializedSizeInBytes()
	for i := range s.counts {
		for j := uint32(0); j < s.counts[i]; j++ {
			bm, err := s.LoadConstBitmap(ctx, i, int(j))
			if err != nil {
				return 0, err
			}
			total += bm.GetSerializedSizeInBytes()
		}
	}
	return roundToBlockSize(uint32(total)), nil
}

// Save serializes the all-values bitmap followed by every component bitmap
// into one block-aligned buffer, records each sub-range in the offsets
// table with a single bulk put, and submits one aligned write at offset.
// Returns the number of bytes written.
func (s *Storage) Save(ctx context.Context, offset uint32) (int, error) {
	all, err := s.LoadAllValuesBitmapConst(ctx)
	if err != nil {
		return 0, err
	}
	type slot struct {
		bm      *roaring.Bitmap
		ordinal uint16
	}
	slots := []slot{{bm: all, ordinal: 0}}
	ordinal := uint16(1)
	for i := range s.counts {
		for j := uint32(0); j < s.counts[i]; j++ {
			bm, err := s.LoadConstBitmap(ctx, i, int(j))
			if err != nil {
				return 0, err
			}
			slots = append(slots, slot{bm: bm, ordinal: ordinal})
			ordinal++
		}
	}

	var raw uint32
	for _, sl := range slots {
		raw += uint32(sl.bm.GetSerializedSizeInBytes())
	}
	total := roundToBlockSize(raw)
	buf := iopool.AlignedBuffer(int(total))

	entries := make([]kv.Entry, 0, len(slots))
	cursor := uint32(0)
	for _, sl := range slots {
		data, err := sl.bm.ToBytes()
		if err != nil {
			return 0, fmt.Errorf("serializing bitmap %d: %w", sl.ordinal, err)
		}
		want := uint32(sl.bm.GetSerializedSizeInBytes())
		if uint32(len(data)) != want {
			return 0, fmt.Errorf("bitmap %d serialized to %d bytes, expected %d",
				sl.ordinal, len(data), want)
		}
		copy(buf[cursor:], data)
		r := keys.OffsetRange{Start: offset + cursor, End: offset + cursor + want}
		entries = append(entries, kv.Entry{
			Key: keys.BitmapKey{
				RGID:       s.rg.ID,
				DottedPath: s.col.DottedPath,
				Ordinal:    sl.ordinal,
			}.Encode(),
			Value: r.Encode(),
		})
		cursor += want
	}
	if err := s.offsetsKV.PutBatch(entries); err != nil {
		return 0, err
	}

	// Remember our own ranges so the instance can serve lazy reloads.
	s.mu.Lock()
	s.fileRange = keys.OffsetRange{Start: offset, End: offset + total}
	ord := 1
	s.allOffsets = keys.OffsetRange{Start: offset, End: offset + uint32(all.GetSerializedSizeInBytes())}
	pos := uint32(all.GetSerializedSizeInBytes())
	for i := range s.counts {
		for j := uint32(0); j < s.counts[i]; j++ {
			size := uint32(slots[ord].bm.GetSerializedSizeInBytes())
			s.bitmapOffsets[i][j] = keys.OffsetRange{Start: offset + pos, End: offset + pos + size}
			pos += size
			ord++
		}
	}
	s.mu.Unlock()

	fut, err := s.pool.SubmitWrite(s.file, int64(offset), buf)
	if err != nil {
		return 0, err
	}
	return fut.Wait(ctx)
}

func roundToBlockSize(n uint32) uint32 {
	blocks := n / iopool.BlockSize
	if n%iopool.BlockSize != 0 {
		blocks++
	}
	return blocks * iopool.BlockSize
}
