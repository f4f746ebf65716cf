package bitmapindex

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martun/bitmap-index/model"
)

func testBatch(rowGroups, numDocs int) *model.BatchInfo {
	batch := &model.BatchInfo{ID: 1, BatchSize: uint32(rowGroups * numDocs)}
	for rg := 0; rg < rowGroups; rg++ {
		batch.RowGroups = append(batch.RowGroups, model.RowGroupInfo{
			ID:      uint32(rg),
			NumDocs: uint32(numDocs),
		})
	}
	return batch
}

// Scenario: 9 row groups of 16,000 rows, row j of group i holds 10*j+i.
// Exercises the parallel build fan-out, per-row-group key segregation and
// the full reader pipeline.
func TestBatchParallelBuildAndQuery(t *testing.T) {
	ctx := context.Background()
	batch := testBatch(9, 16000)
	paths := DefaultBatchPaths(t.TempDir())
	col := model.ColumnReference{DottedPath: "some.test.dotted.path", Type: model.TypeUint32}

	b, err := NewBatchBuilder(ctx, batch, paths, WithMaxParallel(4))
	require.NoError(t, err)

	for _, rg := range batch.RowGroups {
		values := make([]model.Entry[uint32], 0, rg.NumDocs)
		for j := uint32(0); j < rg.NumDocs; j++ {
			values = append(values, model.Entry[uint32]{Doc: j, Value: 10*j + rg.ID})
		}
		require.NoError(t, AddIndex(b, rg, col, values))
	}
	require.NoError(t, b.SaveAll(ctx))
	require.NoError(t, b.Close())

	r, err := NewBatchReader(batch, paths)
	require.NoError(t, err)
	defer r.Close()

	idx, ok, err := r.Open(ctx, 0, col)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := idx.FindCandidateDocuments(ctx, &model.Predicate{
		Kind:   model.KindBinaryConst,
		Op:     model.OpGreaterEqual,
		Column: col,
		Value:  uint32(159990),
	})
	require.NoError(t, err)
	assert.Equal(t, model.AccuracyExact, res.Accuracy)
	assert.Equal(t, []uint32{15999}, res.Values.ToArray())

	// Row-group keys must not bleed into each other: group 3 holds
	// 10*j+3, so 159990 itself is absent there and >= starts at 159993.
	idx3, ok, err := r.Open(ctx, 3, col)
	require.NoError(t, err)
	require.True(t, ok)
	res, err = idx3.FindCandidateDocuments(ctx, &model.Predicate{
		Kind:   model.KindBinaryConst,
		Op:     model.OpGreaterEqual,
		Column: col,
		Value:  uint32(159990),
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{15999}, res.Values.ToArray())

	res, err = idx3.FindCandidateDocuments(ctx, &model.Predicate{
		Kind:   model.KindBinaryConst,
		Op:     model.OpEqual,
		Column: col,
		Value:  uint32(159990),
	})
	require.NoError(t, err)
	assert.True(t, res.Values == nil || res.Values.IsEmpty())
}

func TestBatchMultipleColumnsAndEncodings(t *testing.T) {
	ctx := context.Background()
	batch := testBatch(1, 100)
	paths := DefaultBatchPaths(t.TempDir())
	rg := batch.RowGroups[0]

	intCol := model.ColumnReference{DottedPath: "metrics.count", Type: model.TypeInt64}
	strCol := model.ColumnReference{DottedPath: "geo.country", Type: model.TypeString}

	countries := []string{"armenia", "india", "japan", "korea"}
	var intValues []model.Entry[int64]
	var strValues []model.Entry[string]
	for i := uint32(0); i < 100; i++ {
		intValues = append(intValues, model.Entry[int64]{Doc: i, Value: int64(i % 17)})
		strValues = append(strValues, model.Entry[string]{Doc: i, Value: countries[i%4]})
	}

	b, err := NewBatchBuilder(ctx, batch, paths)
	require.NoError(t, err)
	require.NoError(t, AddIndex(b, rg, intCol, intValues, WithEncoding(EncodingRange), WithIndexType(IndexTypeBitmap)))
	require.NoError(t, AddIndex(b, rg, strCol, strValues))
	require.NoError(t, b.SaveAll(ctx))
	require.NoError(t, b.Close())

	r, err := NewBatchReader(batch, paths)
	require.NoError(t, err)
	defer r.Close()

	intIdx, ok, err := r.Open(ctx, 0, intCol)
	require.NoError(t, err)
	require.True(t, ok)
	res, err := intIdx.FindCandidateDocuments(ctx, &model.Predicate{
		Kind: model.KindBinaryConst, Op: model.OpLess, Column: intCol, Value: int64(2),
	})
	require.NoError(t, err)
	expected := 0
	for i := 0; i < 100; i++ {
		if i%17 < 2 {
			expected++
		}
	}
	assert.Equal(t, uint64(expected), res.Values.GetCardinality())

	strIdx, ok, err := r.Open(ctx, 0, strCol)
	require.NoError(t, err)
	require.True(t, ok)
	res, err = strIdx.FindCandidateDocuments(ctx, &model.Predicate{
		Kind: model.KindBinaryConst, Op: model.OpEqual, Column: strCol, Value: "india",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(25), res.Values.GetCardinality())
}

// Property: a build that never commits its storage offsets is invisible
// to readers — no partial index can be opened.
func TestPersistenceAtomicity(t *testing.T) {
	ctx := context.Background()
	batch := testBatch(1, 100)
	dir := t.TempDir()
	paths := DefaultBatchPaths(dir)
	rg := batch.RowGroups[0]
	col := model.ColumnReference{DottedPath: "col", Type: model.TypeUint32}

	values := make([]model.Entry[uint32], 100)
	for i := range values {
		values[i] = model.Entry[uint32]{Doc: uint32(i), Value: uint32(i % 5)}
	}

	b, err := NewBatchBuilder(ctx, batch, paths)
	require.NoError(t, err)
	require.NoError(t, AddIndex(b, rg, col, values))
	// Wait for the build itself, then abandon the batch before SaveAll:
	// aux data and attribute mappings may exist, but no storage offsets.
	require.NoError(t, b.group.Wait())
	require.NoError(t, b.Close())

	r, err := NewBatchReader(batch, paths)
	require.NoError(t, err)
	defer r.Close()

	idx, ok, err := r.Open(ctx, 0, col)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, idx)
}

func TestOpenMissingColumn(t *testing.T) {
	ctx := context.Background()
	batch := testBatch(1, 10)
	paths := DefaultBatchPaths(t.TempDir())
	col := model.ColumnReference{DottedPath: "built", Type: model.TypeUint32}

	b, err := NewBatchBuilder(ctx, batch, paths)
	require.NoError(t, err)
	require.NoError(t, AddIndex(b, batch.RowGroups[0], col,
		[]model.Entry[uint32]{{Doc: 0, Value: 1}, {Doc: 1, Value: 2}}))
	require.NoError(t, b.SaveAll(ctx))
	require.NoError(t, b.Close())

	r, err := NewBatchReader(batch, paths)
	require.NoError(t, err)
	defer r.Close()

	_, ok, err := r.Open(ctx, 0, model.ColumnReference{DottedPath: "never.built", Type: model.TypeUint32})
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = r.Open(ctx, 0, model.ColumnReference{DottedPath: "built", Type: model.ValueType(99)})
	assert.Error(t, err)
}

func TestIncrementalSaveAll(t *testing.T) {
	// Two save_all rounds must append, not overwrite.
	ctx := context.Background()
	batch := testBatch(2, 50)
	paths := DefaultBatchPaths(t.TempDir())
	col := model.ColumnReference{DottedPath: "col", Type: model.TypeUint16}

	makeValues := func(offset uint32) []model.Entry[uint16] {
		values := make([]model.Entry[uint16], 50)
		for i := range values {
			values[i] = model.Entry[uint16]{Doc: uint32(i), Value: uint16(offset + uint32(i)%7)}
		}
		return values
	}

	b, err := NewBatchBuilder(ctx, batch, paths)
	require.NoError(t, err)
	require.NoError(t, AddIndex(b, batch.RowGroups[0], col, makeValues(0)))
	require.NoError(t, b.SaveAll(ctx))
	require.NoError(t, AddIndex(b, batch.RowGroups[1], col, makeValues(100)))
	require.NoError(t, b.SaveAll(ctx))
	require.NoError(t, b.Close())

	r, err := NewBatchReader(batch, paths)
	require.NoError(t, err)
	defer r.Close()

	for rgID, base := range map[uint32]uint16{0: 0, 1: 100} {
		idx, ok, err := r.Open(ctx, rgID, col)
		require.NoError(t, err)
		require.True(t, ok, "rg %d", rgID)
		res, err := idx.FindCandidateDocuments(ctx, &model.Predicate{
			Kind: model.KindBinaryConst, Op: model.OpEqual, Column: col, Value: base + 3,
		})
		require.NoError(t, err)
		assert.Positive(t, res.Values.GetCardinality(), "rg %d", rgID)
	}
}

func TestAdapterRouting(t *testing.T) {
	ctx := context.Background()
	batch := testBatch(1, 7)
	paths := DefaultBatchPaths(t.TempDir())
	col := model.ColumnReference{DottedPath: "col", Type: model.TypeUint32}

	b, err := NewBatchBuilder(ctx, batch, paths)
	require.NoError(t, err)
	require.NoError(t, AddIndex(b, batch.RowGroups[0], col, []model.Entry[uint32]{
		{Doc: 15, Value: 4}, {Doc: 16, Value: 5}, {Doc: 17, Value: 4},
		{Doc: 19, Value: 5}, {Doc: 25, Value: 7}, {Doc: 30, Value: 4},
		{Doc: 40, Value: 8},
	}))
	require.NoError(t, b.SaveAll(ctx))
	require.NoError(t, b.Close())

	r, err := NewBatchReader(batch, paths)
	require.NoError(t, err)
	defer r.Close()
	idx, ok, err := r.Open(ctx, 0, col)
	require.NoError(t, err)
	require.True(t, ok)

	binary := func(op model.Operator, v uint32) *model.Predicate {
		return &model.Predicate{Kind: model.KindBinaryConst, Op: op, Column: col, Value: v}
	}
	tests := []struct {
		name string
		p    *model.Predicate
		want []uint32
	}{
		{"eq", binary(model.OpEqual, 4), []uint32{15, 17, 30}},
		{"ne", binary(model.OpNotEqual, 4), []uint32{16, 19, 25, 40}},
		{"gt", binary(model.OpGreater, 5), []uint32{25, 40}},
		{"gte", binary(model.OpGreaterEqual, 7), []uint32{25, 40}},
		{"lt", binary(model.OpLess, 5), []uint32{15, 17, 30}},
		{"lte", binary(model.OpLessEqual, 5), []uint32{15, 16, 17, 19, 30}},
		{"not_null", &model.Predicate{Kind: model.KindUnary, Op: model.OpIsNotNull, Column: col},
			[]uint32{15, 16, 17, 19, 25, 30, 40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := idx.FindCandidateDocuments(ctx, tt.p)
			require.NoError(t, err)
			assert.Equal(t, model.AccuracyExact, res.Accuracy)
			assert.Equal(t, tt.want, res.Values.ToArray())
		})
	}

	// IS_NULL and unknown shapes are unanswerable: the caller scans.
	res, err := idx.FindCandidateDocuments(ctx, &model.Predicate{
		Kind: model.KindUnary, Op: model.OpIsNull, Column: col,
	})
	require.NoError(t, err)
	assert.Equal(t, model.AccuracyNone, res.Accuracy)
	assert.Nil(t, res.Values)

	res, err = idx.FindCandidateDocuments(ctx, &model.Predicate{
		Kind: model.KindBinaryConst, Op: model.Operator(200), Column: col, Value: uint32(1),
	})
	require.NoError(t, err)
	assert.Equal(t, model.AccuracyNone, res.Accuracy)

	// A predicate constant of the wrong type is an argument error.
	_, err = idx.FindCandidateDocuments(ctx, &model.Predicate{
		Kind: model.KindBinaryConst, Op: model.OpEqual, Column: col, Value: "four",
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAdapterMetrics(t *testing.T) {
	ctx := context.Background()
	batch := testBatch(1, 4)
	paths := DefaultBatchPaths(t.TempDir())
	col := model.ColumnReference{DottedPath: "col", Type: model.TypeUint32}
	m := NewMetrics(nil)

	b, err := NewBatchBuilder(ctx, batch, paths, WithMetrics(m))
	require.NoError(t, err)
	require.NoError(t, AddIndex(b, batch.RowGroups[0], col,
		[]model.Entry[uint32]{{Doc: 0, Value: 1}, {Doc: 1, Value: 2}}))
	require.NoError(t, b.SaveAll(ctx))
	require.NoError(t, b.Close())

	r, err := NewBatchReader(batch, paths, WithMetrics(m))
	require.NoError(t, err)
	defer r.Close()
	idx, ok, err := r.Open(ctx, 0, col)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = idx.FindCandidateDocuments(ctx, &model.Predicate{
		Kind: model.KindBinaryConst, Op: model.OpEqual, Column: col, Value: uint32(1),
	})
	require.NoError(t, err)
}

func TestAllColumnTypesOpen(t *testing.T) {
	ctx := context.Background()
	batch := testBatch(1, 20)
	paths := DefaultBatchPaths(t.TempDir())
	rg := batch.RowGroups[0]

	cols := make(map[model.ValueType]model.ColumnReference)
	for _, vt := range []model.ValueType{
		model.TypeBool, model.TypeInt8, model.TypeInt16, model.TypeInt32,
		model.TypeInt64, model.TypeUint8, model.TypeUint16, model.TypeUint32,
		model.TypeUint64, model.TypeFloat32, model.TypeFloat64, model.TypeString,
	} {
		cols[vt] = model.ColumnReference{DottedPath: fmt.Sprintf("col.%s", vt), Type: vt}
	}

	b, err := NewBatchBuilder(ctx, batch, paths)
	require.NoError(t, err)
	addAll(t, b, rg, cols)
	require.NoError(t, b.SaveAll(ctx))
	require.NoError(t, b.Close())

	r, err := NewBatchReader(batch, paths)
	require.NoError(t, err)
	defer r.Close()
	for vt, col := range cols {
		idx, ok, err := r.Open(ctx, 0, col)
		require.NoError(t, err, "type %s", vt)
		require.True(t, ok, "type %s", vt)
		res, err := idx.FindCandidateDocuments(ctx, &model.Predicate{
			Kind: model.KindUnary, Op: model.OpIsNotNull, Column: col,
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(20), res.Values.GetCardinality(), "type %s", vt)
	}
}

func addAll(t *testing.T, b *BatchBuilder, rg model.RowGroupInfo, cols map[model.ValueType]model.ColumnReference) {
	t.Helper()
	n := 20
	boolVals := make([]model.Entry[bool], n)
	i8 := make([]model.Entry[int8], n)
	i16 := make([]model.Entry[int16], n)
	i32 := make([]model.Entry[int32], n)
	i64 := make([]model.Entry[int64], n)
	u8 := make([]model.Entry[uint8], n)
	u16 := make([]model.Entry[uint16], n)
	u32 := make([]model.Entry[uint32], n)
	u64 := make([]model.Entry[uint64], n)
	f32 := make([]model.Entry[float32], n)
	f64 := make([]model.Entry[float64], n)
	str := make([]model.Entry[string], n)
	for i := 0; i < n; i++ {
		doc := uint32(i)
		boolVals[i] = model.Entry[bool]{Doc: doc, Value: i%2 == 0}
		i8[i] = model.Entry[int8]{Doc: doc, Value: int8(i - 10)}
		i16[i] = model.Entry[int16]{Doc: doc, Value: int16(i * 100)}
		i32[i] = model.Entry[int32]{Doc: doc, Value: int32(-i)}
		i64[i] = model.Entry[int64]{Doc: doc, Value: int64(i) * 1_000_000}
		u8[i] = model.Entry[uint8]{Doc: doc, Value: uint8(i)}
		u16[i] = model.Entry[uint16]{Doc: doc, Value: uint16(i)}
		u32[i] = model.Entry[uint32]{Doc: doc, Value: uint32(i)}
		u64[i] = model.Entry[uint64]{Doc: doc, Value: uint64(i)}
		f32[i] = model.Entry[float32]{Doc: doc, Value: float32(i) / 4}
		f64[i] = model.Entry[float64]{Doc: doc, Value: float64(i) / 8}
		str[i] = model.Entry[string]{Doc: doc, Value: fmt.Sprintf("value-%02d", i%5)}
	}
	require.NoError(t, AddIndex(b, rg, cols[model.TypeBool], boolVals))
	require.NoError(t, AddIndex(b, rg, cols[model.TypeInt8], i8))
	require.NoError(t, AddIndex(b, rg, cols[model.TypeInt16], i16))
	require.NoError(t, AddIndex(b, rg, cols[model.TypeInt32], i32))
	require.NoError(t, AddIndex(b, rg, cols[model.TypeInt64], i64))
	require.NoError(t, AddIndex(b, rg, cols[model.TypeUint8], u8))
	require.NoError(t, AddIndex(b, rg, cols[model.TypeUint16], u16))
	require.NoError(t, AddIndex(b, rg, cols[model.TypeUint32], u32))
	require.NoError(t, AddIndex(b, rg, cols[model.TypeUint64], u64))
	require.NoError(t, AddIndex(b, rg, cols[model.TypeFloat32], f32))
	require.NoError(t, AddIndex(b, rg, cols[model.TypeFloat64], f64))
	require.NoError(t, AddIndex(b, rg, cols[model.TypeString], str))
}
