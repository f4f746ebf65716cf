// Package bitmapindex is a per-column bitmap indexing engine for an
// analytic column store. For each (batch, row group, column) it builds a
// compact on-disk index that answers set-membership and range predicates
// over document identifiers.
//
// # Build
//
//	batch := &model.BatchInfo{ID: 1, RowGroups: []model.RowGroupInfo{{ID: 0, NumDocs: 1000}}}
//	paths := bitmapindex.DefaultBatchPaths("./batch-1")
//	b, _ := bitmapindex.NewBatchBuilder(ctx, batch, paths)
//	bitmapindex.AddIndex(b, batch.RowGroups[0], column, values)
//	_ = b.SaveAll(ctx)
//	_ = b.Close()
//
// Index builds fan out in parallel; SaveAll appends every storage to the
// shared bitmaps file and commits the offset map last, which is the
// durability point of the batch.
//
// # Query
//
//	r, _ := bitmapindex.NewBatchReader(batch, paths)
//	idx, ok, _ := r.Open(ctx, 0, column)
//	if ok {
//	    res, _ := idx.FindCandidateDocuments(ctx, &model.Predicate{
//	        Kind: model.KindBinaryConst, Op: model.OpGreaterEqual,
//	        Column: column, Value: int64(42),
//	    })
//	    _ = res.Values // matching document ids
//	}
//
// Attribute values decompose over a mixed-radix basis into a family of
// compressed bitmaps (equality, interval or range encoded); queries
// recover result sets with a handful of bitmap combinations. Finished
// batches can be shipped to object storage with BatchArchiver.
package bitmapindex
