// Package index implements the typed bitmap index for one
// (row group, column): value decomposition over a mixed-radix basis,
// equality/interval/range bitmap encodings, and the query algebra that
// recovers result sets from a handful of bitmap combinations.
//
// The interval decoders follow Chan/Ioannidis, "An Efficient Bitmap
// Encoding Scheme for Selection Queries" (SIGMOD '99).
package index

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/martun/bitmap-index/decompose"
	"github.com/martun/bitmap-index/keys"
	"github.com/martun/bitmap-index/kv"
	"github.com/martun/bitmap-index/model"
	"github.com/martun/bitmap-index/storage"
)

// IntervalFlags selects which endpoints of a range query are inclusive.
type IntervalFlags uint8

const (
	// Open excludes both endpoints.
	Open IntervalFlags = iota
	// IncludeLeft includes the lower endpoint only.
	IncludeLeft
	// IncludeRight includes the upper endpoint only.
	IncludeRight
	// Closed includes both endpoints.
	Closed
)

// ordinalCacheSize bounds the per-index value→ordinal lookup cache.
const ordinalCacheSize = 4096

// Index is the bitmap index of one (row group, column), typed by the
// column's attribute type. Mutable only between Create and the owning
// builder's save; read-only afterwards.
type Index[T Value] struct {
	rg  model.RowGroupInfo
	col model.ColumnReference

	storage *storage.Storage
	attrKV  *kv.Env
	aux     *keys.AuxData

	// ordinals caches encoded-value → ordinal on the mapped query path.
	ordinals *lru.Cache[string, int64]

	modified bool
}

// Create builds a fresh index over values and persists its aux data. The
// storage must have been created with aux.BitmapCounts.
func Create[T Value](ctx context.Context, rg model.RowGroupInfo, col model.ColumnReference,
	st *storage.Storage, attrKV, auxKV *kv.Env, aux *keys.AuxData,
	values []model.Entry[T]) (*Index[T], error) {

	idx, err := newIndex[T](rg, col, st, attrKV, aux)
	if err != nil {
		return nil, err
	}
	if err := idx.insertAll(ctx, values); err != nil {
		return nil, err
	}
	if err := auxKV.Put(keys.StorageKey{RGID: rg.ID, DottedPath: col.DottedPath}.Encode(), aux.Encode()); err != nil {
		return nil, err
	}
	return idx, nil
}

// Load reopens a persisted index: aux data from auxKV, bitmaps served by
// the given storage.
func Load[T Value](rg model.RowGroupInfo, col model.ColumnReference,
	st *storage.Storage, attrKV, auxKV *kv.Env) (*Index[T], error) {

	aux, err := GetAuxData(rg, col, auxKV)
	if err != nil {
		return nil, err
	}
	return newIndex[T](rg, col, st, attrKV, aux)
}

// GetAuxData fetches and decodes the index descriptor for (rg, col).
// Returns ErrIndexNotFound when none was persisted.
func GetAuxData(rg model.RowGroupInfo, col model.ColumnReference, auxKV *kv.Env) (*keys.AuxData, error) {
	raw, ok, err := auxKV.Get(keys.StorageKey{RGID: rg.ID, DottedPath: col.DottedPath}.Encode())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrIndexNotFound
	}
	return keys.DecodeAuxData(raw)
}

func newIndex[T Value](rg model.RowGroupInfo, col model.ColumnReference,
	st *storage.Storage, attrKV *kv.Env, aux *keys.AuxData) (*Index[T], error) {
	ordinals, err := lru.New[string, int64](ordinalCacheSize)
	if err != nil {
		return nil, err
	}
	return &Index[T]{
		rg:       rg,
		col:      col,
		storage:  st,
		attrKV:   attrKV,
		aux:      aux,
		ordinals: ordinals,
	}, nil
}

// Storage exposes the owned bitmap storage to the builder.
func (idx *Index[T]) Storage() *storage.Storage { return idx.storage }

// AuxData exposes the index descriptor.
func (idx *Index[T]) AuxData() *keys.AuxData { return idx.aux }

// Column returns the indexed column.
func (idx *Index[T]) Column() model.ColumnReference { return idx.col }

// RowGroup returns the owning row group.
func (idx *Index[T]) RowGroup() model.RowGroupInfo { return idx.rg }

// ---------------------------------------------------------------------------
// Insert path

// insertAll maps all values (assigning ordinals in sorted order when the
// mapping table is in use), decomposes them, and fills the component
// bitmaps with one bulk add per bitmap.
func (idx *Index[T]) insertAll(ctx context.Context, values []model.Entry[T]) error {
	idx.modified = true

	var mapping map[T]uint32
	if idx.aux.UseValueMapping {
		var err error
		if mapping, err = idx.insertValueMapping(values); err != nil {
			return err
		}
	}

	mapped := make([]uint64, len(values))
	for i, e := range values {
		if idx.aux.UseValueMapping {
			ord, ok := mapping[e.Value]
			if !ok {
				return fmt.Errorf("no ordinal assigned for value of document %d", e.Doc)
			}
			mapped[i] = uint64(ord)
		} else {
			mapped[i] = uint64(asInt64(e.Value) - idx.aux.MinMapped)
		}
	}

	d := idx.aux.Decomposer
	counts := idx.aux.BitmapCounts
	// Per-bitmap row id accumulators, flushed with one AddMany each.
	fill := make([][][]model.DocumentID, len(counts))
	for i, c := range counts {
		fill[i] = make([][]model.DocumentID, c)
	}
	allDocs := make([]model.DocumentID, 0, len(values))

	digits := make([]uint32, d.Components())
	for k, e := range values {
		if !d.DecomposeInto(digits, mapped[k]) {
			return fmt.Errorf("%w: mapped value %d", ErrValueOutOfRange, mapped[k])
		}
		allDocs = append(allDocs, e.Doc)

		switch idx.aux.Encoding {
		case decompose.Equality:
			for i, digit := range digits {
				fill[i][digit] = append(fill[i][digit], e.Doc)
			}
		case decompose.Interval:
			for i, digit := range digits {
				m := int(d.Base(i))/2 - 1
				start := 0
				if int(digit) > m {
					start = int(digit) - m
				}
				end := int(digit)
				if last := int(counts[i]) - 1; end > last {
					end = last
				}
				for j := start; j <= end; j++ {
					fill[i][j] = append(fill[i][j], e.Doc)
				}
			}
		case decompose.Range:
			for i, digit := range digits {
				for j := int(digit); j+2 <= int(d.Base(i)); j++ {
					fill[i][j] = append(fill[i][j], e.Doc)
				}
			}
		}
	}

	if err := idx.storage.AddToAllValuesBitmap(ctx, allDocs...); err != nil {
		return err
	}
	for i := range fill {
		for j := range fill[i] {
			if len(fill[i][j]) == 0 {
				continue
			}
			if err := idx.storage.AddManyToBitmap(ctx, i, j, fill[i][j]); err != nil {
				return err
			}
		}
	}
	return nil
}

// insertValueMapping sorts the distinct values, assigns ordinals in sorted
// order, and bulk-inserts the (rg, column, value) → ordinal entries.
func (idx *Index[T]) insertValueMapping(values []model.Entry[T]) (map[T]uint32, error) {
	type encoded struct {
		value T
		key   []byte
	}
	seen := make(map[T]struct{}, len(values))
	distinct := make([]encoded, 0, len(values))
	for _, e := range values {
		if _, ok := seen[e.Value]; ok {
			continue
		}
		seen[e.Value] = struct{}{}
		distinct = append(distinct, encoded{value: e.Value, key: encodeOrdered(e.Value)})
	}
	// Ordinals follow the byte order of the encoded values, which is the
	// order the attribute table iterates in.
	sort.Slice(distinct, func(i, j int) bool {
		return bytes.Compare(distinct[i].key, distinct[j].key) < 0
	})

	mapping := make(map[T]uint32, len(distinct))
	entries := make([]kv.Entry, len(distinct))
	for i, ev := range distinct {
		mapping[ev.value] = uint32(i)
		entries[i] = kv.Entry{
			Key:   keys.AttributeKey(idx.rg.ID, idx.col.DottedPath, ev.key),
			Value: keys.EncodeOrdinal(uint32(i)),
		}
	}
	if err := idx.attrKV.PutBatch(entries); err != nil {
		return nil, err
	}
	return mapping, nil
}

// Insert adds a single (document, value) pair to a mutable index. With the
// mapping table in use the value must already have an ordinal.
func (idx *Index[T]) Insert(ctx context.Context, doc model.DocumentID, value T) error {
	mapped, found, err := idx.mappedValue(value)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: value has no mapping entry", ErrInvalidArgument)
	}
	return idx.insertMappedValue(ctx, doc, uint64(mapped))
}

func (idx *Index[T]) insertMappedValue(ctx context.Context, doc model.DocumentID, mapped uint64) error {
	idx.modified = true
	d := idx.aux.Decomposer
	digits, ok := d.Decompose(mapped)
	if !ok {
		return fmt.Errorf("%w: mapped value %d", ErrValueOutOfRange, mapped)
	}
	if err := idx.storage.AddToAllValuesBitmap(ctx, doc); err != nil {
		return err
	}
	counts := idx.aux.BitmapCounts
	switch idx.aux.Encoding {
	case decompose.Equality:
		for i, digit := range digits {
			if err := idx.storage.AddToBitmap(ctx, i, int(digit), doc); err != nil {
				return err
			}
		}
	case decompose.Interval:
		for i, digit := range digits {
			m := int(d.Base(i))/2 - 1
			start := 0
			if int(digit) > m {
				start = int(digit) - m
			}
			end := int(digit)
			if last := int(counts[i]) - 1; end > last {
				end = last
			}
			for j := start; j <= end; j++ {
				if err := idx.storage.AddToBitmap(ctx, i, j, doc); err != nil {
					return err
				}
			}
		}
	case decompose.Range:
		for i, digit := range digits {
			for j := int(digit); j+2 <= int(d.Base(i)); j++ {
				if err := idx.storage.AddToBitmap(ctx, i, j, doc); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Value mapping lookups

// mappedValue resolves an attribute value to its ordinal. found is false
// when the mapping table has no entry for the value.
func (idx *Index[T]) mappedValue(value T) (mapped int64, found bool, err error) {
	if !idx.aux.UseValueMapping {
		return asInt64(value) - idx.aux.MinMapped, true, nil
	}
	enc := encodeOrdered(value)
	if ord, ok := idx.ordinals.Get(string(enc)); ok {
		return ord, true, nil
	}
	raw, ok, err := idx.attrKV.Get(keys.AttributeKey(idx.rg.ID, idx.col.DottedPath, enc))
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	ord, err := keys.DecodeOrdinal(raw)
	if err != nil {
		return 0, false, err
	}
	idx.ordinals.Add(string(enc), int64(ord))
	return int64(ord), true, nil
}

// mapMin resolves the lower bound of a range to a mapped ordinal. For a
// mapped index it returns the sentinel cardinality when every stored value
// is below the bound.
func (idx *Index[T]) mapMin(min T, flags IntervalFlags) (int64, error) {
	if idx.aux.UseValueMapping {
		return idx.seekMin(min, flags)
	}
	v := asInt64(min)
	if flags == IncludeRight || flags == Open {
		// Left bound is exclusive: start one past it.
		v++
	}
	if v < idx.aux.MinMapped {
		return 0, nil
	}
	return v - idx.aux.MinMapped, nil
}

func (idx *Index[T]) seekMin(min T, flags IntervalFlags) (int64, error) {
	prefix := keys.ColumnPrefix(idx.rg.ID, idx.col.DottedPath)
	txn := idx.attrKV.NewTxn()
	defer txn.Close()
	cur, err := txn.NewCursor(prefix, keys.PrefixSuccessor(prefix))
	if err != nil {
		return 0, err
	}
	defer cur.Close()

	key := keys.AttributeKey(idx.rg.ID, idx.col.DottedPath, encodeOrdered(min))
	var valid bool
	if flags == IncludeLeft || flags == Closed {
		valid = cur.SeekGE(key)
	} else {
		valid = cur.SeekGT(key)
	}
	if !valid {
		if err := cur.Err(); err != nil {
			return 0, err
		}
		// Everything stored is below min.
		return idx.aux.MaxMapped, nil
	}
	ord, err := keys.DecodeOrdinal(cur.Value())
	if err != nil {
		return 0, err
	}
	return int64(ord), nil
}

// mapMax resolves the upper bound of a range. For a mapped index it
// returns -1 when every stored value is above the bound.
func (idx *Index[T]) mapMax(max T, flags IntervalFlags) (int64, error) {
	if idx.aux.UseValueMapping {
		return idx.seekMax(max, flags)
	}
	v := asInt64(max)
	if flags == IncludeLeft || flags == Open {
		// Right bound is exclusive: stop one short of it.
		v--
	}
	if v > idx.aux.MaxMapped {
		v = idx.aux.MaxMapped
	}
	return v - idx.aux.MinMapped, nil
}

func (idx *Index[T]) seekMax(max T, flags IntervalFlags) (int64, error) {
	prefix := keys.ColumnPrefix(idx.rg.ID, idx.col.DottedPath)
	txn := idx.attrKV.NewTxn()
	defer txn.Close()
	cur, err := txn.NewCursor(prefix, keys.PrefixSuccessor(prefix))
	if err != nil {
		return 0, err
	}
	defer cur.Close()

	key := keys.AttributeKey(idx.rg.ID, idx.col.DottedPath, encodeOrdered(max))
	if !cur.SeekGE(key) {
		if err := cur.Err(); err != nil {
			return 0, err
		}
		// Everything stored is below max: the maximum ordinal wins.
		return int64(idx.aux.Cardinality) - 1, nil
	}
	exact := bytes.Equal(cur.Key(), key)
	if !exact || flags == IncludeLeft || flags == Open {
		// Step back to the last value strictly below the bound.
		if !cur.Prev() {
			if err := cur.Err(); err != nil {
				return 0, err
			}
			return -1, nil
		}
	}
	ord, err := keys.DecodeOrdinal(cur.Value())
	if err != nil {
		return 0, err
	}
	return int64(ord), nil
}

// ---------------------------------------------------------------------------
// Queries

// Lookup returns the documents whose attribute equals value. An unknown
// value yields an empty bitmap, not an error.
func (idx *Index[T]) Lookup(ctx context.Context, value T) (*roaring.Bitmap, error) {
	mapped, found, err := idx.mappedValue(value)
	if err != nil {
		return nil, err
	}
	if !found {
		return roaring.New(), nil
	}
	return idx.lookupMapped(ctx, mapped)
}

// NotEquals returns all documents whose attribute differs from value
// (null documents excluded).
func (idx *Index[T]) NotEquals(ctx context.Context, value T) (*roaring.Bitmap, error) {
	eq, err := idx.Lookup(ctx, value)
	if err != nil {
		return nil, err
	}
	all, err := idx.storage.LoadAllValuesBitmapConst(ctx)
	if err != nil {
		return nil, err
	}
	res := all.Clone()
	res.AndNot(eq)
	return res, nil
}

// NotNull returns every document with a value in the index.
func (idx *Index[T]) NotNull(ctx context.Context) (*roaring.Bitmap, error) {
	return idx.storage.LoadAllValuesBitmap(ctx)
}

// lookupMapped intersects the per-component equality bitmaps of one
// mapped value.
func (idx *Index[T]) lookupMapped(ctx context.Context, mapped int64) (*roaring.Bitmap, error) {
	if mapped < 0 || mapped > idx.aux.MappedRange() {
		return roaring.New(), nil
	}
	digits, ok := idx.aux.Decomposer.Decompose(uint64(mapped))
	if !ok {
		return nil, fmt.Errorf("%w: mapped value %d", ErrValueOutOfRange, mapped)
	}
	result, err := idx.equalityBitmap(ctx, 0, digits[0])
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(digits); i++ {
		eq, err := idx.equalityBitmap(ctx, i, digits[i])
		if err != nil {
			return nil, err
		}
		result.And(eq)
	}
	return result, nil
}

// RangeSearch returns the documents whose attribute lies between min and
// max under the given endpoint flags.
func (idx *Index[T]) RangeSearch(ctx context.Context, min, max T, flags IntervalFlags) (*roaring.Bitmap, error) {
	if bytes.Compare(encodeOrdered(min), encodeOrdered(max)) > 0 {
		return nil, fmt.Errorf("%w: range minimum exceeds maximum", ErrInvalidArgument)
	}
	if idx.aux.Encoding == decompose.Equality {
		return nil, fmt.Errorf("%w: range over equality encoding", ErrUnsupportedEncoding)
	}
	v1, err := idx.mapMin(min, flags)
	if err != nil {
		return nil, err
	}
	if idx.aux.UseValueMapping && v1 == int64(idx.aux.Cardinality) {
		return roaring.New(), nil
	}
	v2, err := idx.mapMax(max, flags)
	if err != nil {
		return nil, err
	}
	if idx.aux.UseValueMapping && v2 == -1 {
		return roaring.New(), nil
	}

	switch {
	case v1 > v2:
		return roaring.New(), nil
	case v1 == v2:
		return idx.lookupMapped(ctx, v1)
	default:
		return idx.rangeSearchInternal(ctx, v1, v2)
	}
}

// Lesser returns documents with attribute below max (or equal, with
// IncludeRight/Closed).
func (idx *Index[T]) Lesser(ctx context.Context, max T, flags IntervalFlags) (*roaring.Bitmap, error) {
	if idx.aux.Encoding == decompose.Equality {
		return nil, fmt.Errorf("%w: lesser over equality encoding", ErrUnsupportedEncoding)
	}
	v2, err := idx.mapMax(max, flags)
	if err != nil {
		return nil, err
	}
	if idx.aux.UseValueMapping && v2 == -1 {
		return roaring.New(), nil
	}
	return idx.lessOrEqual(ctx, v2)
}

// Greater returns documents with attribute above min (or equal, with
// IncludeLeft/Closed).
func (idx *Index[T]) Greater(ctx context.Context, min T, flags IntervalFlags) (*roaring.Bitmap, error) {
	if idx.aux.Encoding == decompose.Equality {
		return nil, fmt.Errorf("%w: greater over equality encoding", ErrUnsupportedEncoding)
	}
	v1, err := idx.mapMin(min, flags)
	if err != nil {
		return nil, err
	}
	if idx.aux.UseValueMapping && v1 == int64(idx.aux.Cardinality) {
		return roaring.New(), nil
	}

	var below *roaring.Bitmap
	if v1 == 0 {
		below = roaring.New()
	} else {
		if below, err = idx.lessOrEqual(ctx, v1-1); err != nil {
			return nil, err
		}
	}
	all, err := idx.storage.LoadAllValuesBitmapConst(ctx)
	if err != nil {
		return nil, err
	}
	res := all.Clone()
	res.AndNot(below)
	return res, nil
}

// rangeSearchInternal answers [v1, v2] as
// less_or_equal(v2) − less_or_equal(v1−1).
func (idx *Index[T]) rangeSearchInternal(ctx context.Context, v1, v2 int64) (*roaring.Bitmap, error) {
	upTo, err := idx.lessOrEqual(ctx, v2)
	if err != nil {
		return nil, err
	}
	if v1 == 0 {
		return upTo, nil
	}
	below, err := idx.lessOrEqual(ctx, v1-1)
	if err != nil {
		return nil, err
	}
	upTo.AndNot(below)
	return upTo, nil
}

// lessOrEqual computes the documents with mapped value <= u by combining
// the per-component lesser and equality bitmaps digit by digit, most
// significant first: rows smaller at some digit while equal on every
// earlier one, plus the rows equal everywhere.
func (idx *Index[T]) lessOrEqual(ctx context.Context, u int64) (*roaring.Bitmap, error) {
	if u < 0 {
		return roaring.New(), nil
	}
	if u >= idx.aux.MappedRange() {
		return idx.storage.LoadAllValuesBitmap(ctx)
	}
	digits, ok := idx.aux.Decomposer.Decompose(uint64(u))
	if !ok {
		return nil, fmt.Errorf("%w: mapped value %d", ErrValueOutOfRange, u)
	}

	result, err := idx.lesserBitmap(ctx, 0, digits[0])
	if err != nil {
		return nil, err
	}
	equalPrefix, err := idx.equalityBitmap(ctx, 0, digits[0])
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(digits); i++ {
		lesser, err := idx.lesserBitmap(ctx, i, digits[i])
		if err != nil {
			return nil, err
		}
		lesser.And(equalPrefix)
		result.Or(lesser)

		eq, err := idx.equalityBitmap(ctx, i, digits[i])
		if err != nil {
			return nil, err
		}
		equalPrefix.And(eq)
	}
	result.Or(equalPrefix)
	return result, nil
}

// equalityBitmap returns an owned bitmap of the rows whose digit i equals
// a, decoded per the index encoding.
func (idx *Index[T]) equalityBitmap(ctx context.Context, i int, a uint32) (*roaring.Bitmap, error) {
	switch idx.aux.Encoding {
	case decompose.Equality:
		return idx.storage.LoadBitmap(ctx, i, int(a))
	case decompose.Interval:
		return idx.equalityBitmapInterval(ctx, i, a)
	case decompose.Range:
		return idx.equalityBitmapRange(ctx, i, a)
	default:
		return nil, fmt.Errorf("%w: encoding %d", ErrUnsupportedEncoding, idx.aux.Encoding)
	}
}

func (idx *Index[T]) equalityBitmapRange(ctx context.Context, i int, a uint32) (*roaring.Bitmap, error) {
	base := idx.aux.Decomposer.Base(i)
	switch {
	case base == 1 && a == 0:
		// Single-value domain: every row matches.
		return idx.storage.LoadAllValuesBitmap(ctx)
	case a == base-1:
		// The top digit has no bitmap of its own.
		last, err := idx.storage.LoadConstBitmap(ctx, i, int(base-2))
		if err != nil {
			return nil, err
		}
		all, err := idx.storage.LoadAllValuesBitmapConst(ctx)
		if err != nil {
			return nil, err
		}
		res := all.Clone()
		res.AndNot(last)
		return res, nil
	case a == 0:
		return idx.storage.LoadBitmap(ctx, i, 0)
	default:
		cur, err := idx.storage.LoadBitmap(ctx, i, int(a))
		if err != nil {
			return nil, err
		}
		prev, err := idx.storage.LoadConstBitmap(ctx, i, int(a-1))
		if err != nil {
			return nil, err
		}
		cur.AndNot(prev)
		return cur, nil
	}
}

// equalityBitmapInterval decodes digit equality under interval encoding.
// The rule order matters: the early branches fix the tie-breaks for bases
// 1 through 3, where m degenerates to zero.
func (idx *Index[T]) equalityBitmapInterval(ctx context.Context, i int, a uint32) (*roaring.Bitmap, error) {
	base := int(idx.aux.Decomposer.Base(i))
	m := base/2 - 1

	if base == 1 {
		if a == 0 {
			return idx.storage.LoadAllValuesBitmap(ctx)
		}
		return roaring.New(), nil
	}
	switch {
	case a == 0 && m == 0:
		return idx.storage.LoadBitmap(ctx, i, 0)

	case base == 2 && a == 1:
		first, err := idx.storage.LoadConstBitmap(ctx, i, 0)
		if err != nil {
			return nil, err
		}
		all, err := idx.storage.LoadAllValuesBitmapConst(ctx)
		if err != nil {
			return nil, err
		}
		res := all.Clone()
		res.AndNot(first)
		return res, nil

	case base == 3 && a == 1:
		return idx.storage.LoadBitmap(ctx, i, 1)

	case int(a) < m:
		cur, err := idx.storage.LoadBitmap(ctx, i, int(a))
		if err != nil {
			return nil, err
		}
		next, err := idx.storage.LoadConstBitmap(ctx, i, int(a)+1)
		if err != nil {
			return nil, err
		}
		cur.AndNot(next)
		return cur, nil

	case int(a) == m && m > 0:
		cur, err := idx.storage.LoadBitmap(ctx, i, int(a))
		if err != nil {
			return nil, err
		}
		first, err := idx.storage.LoadConstBitmap(ctx, i, 0)
		if err != nil {
			return nil, err
		}
		cur.And(first)
		return cur, nil

	case int(a) > m && int(a) < base-1 && m > 0:
		cur, err := idx.storage.LoadBitmap(ctx, i, int(a)-m)
		if err != nil {
			return nil, err
		}
		prev, err := idx.storage.LoadConstBitmap(ctx, i, int(a)-m-1)
		if err != nil {
			return nil, err
		}
		cur.AndNot(prev)
		return cur, nil

	case int(a) == base-1:
		top, err := idx.storage.LoadBitmap(ctx, i, base/2+base%2-1)
		if err != nil {
			return nil, err
		}
		first, err := idx.storage.LoadConstBitmap(ctx, i, 0)
		if err != nil {
			return nil, err
		}
		top.Or(first)
		all, err := idx.storage.LoadAllValuesBitmapConst(ctx)
		if err != nil {
			return nil, err
		}
		res := all.Clone()
		res.AndNot(top)
		return res, nil
	}
	return nil, fmt.Errorf("interval equality decoder: unreachable digit %d for base %d", a, base)
}

// lesserBitmap returns an owned bitmap of the rows whose digit i is
// strictly less than a.
func (idx *Index[T]) lesserBitmap(ctx context.Context, i int, a uint32) (*roaring.Bitmap, error) {
	if a == 0 {
		return roaring.New(), nil
	}
	// Shift to the equivalent digit <= a-1 form.
	a--

	switch idx.aux.Encoding {
	case decompose.Range:
		if int(a) >= int(idx.aux.Decomposer.Base(i))-1 {
			// Every digit is below a+1.
			return idx.storage.LoadAllValuesBitmap(ctx)
		}
		return idx.storage.LoadBitmap(ctx, i, int(a))

	case decompose.Interval:
		base := int(idx.aux.Decomposer.Base(i))
		m := base/2 - 1
		switch {
		case a == 0:
			return idx.equalityBitmap(ctx, i, 0)

		case int(a) < m:
			first, err := idx.storage.LoadBitmap(ctx, i, 0)
			if err != nil {
				return nil, err
			}
			next, err := idx.storage.LoadConstBitmap(ctx, i, int(a)+1)
			if err != nil {
				return nil, err
			}
			first.AndNot(next)
			return first, nil

		case int(a) == m:
			return idx.storage.LoadBitmap(ctx, i, 0)

		case int(a) > m && int(a) < base-1:
			first, err := idx.storage.LoadBitmap(ctx, i, 0)
			if err != nil {
				return nil, err
			}
			other, err := idx.storage.LoadConstBitmap(ctx, i, int(a)-m)
			if err != nil {
				return nil, err
			}
			first.Or(other)
			return first, nil

		default: // a >= base-1
			return idx.storage.LoadAllValuesBitmap(ctx)
		}

	default:
		return nil, fmt.Errorf("%w: lesser bitmap over encoding %d", ErrUnsupportedEncoding, idx.aux.Encoding)
	}
}
