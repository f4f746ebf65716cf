package bitmapindex

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/martun/bitmap-index/index"
	"github.com/martun/bitmap-index/model"
)

// IndexResult is the answer of a predicate evaluation. Values is nil when
// Accuracy is AccuracyNone: the index could not answer and the caller must
// fall back to a scan.
type IndexResult struct {
	Accuracy model.Accuracy
	Values   *roaring.Bitmap
}

// DocumentIndex is the polymorphic facade a reader hands out per
// (row group, column).
type DocumentIndex interface {
	// FindCandidateDocuments translates a typed predicate into index
	// calls and returns the matching document bitmap with an accuracy tag.
	FindCandidateDocuments(ctx context.Context, p *model.Predicate) (IndexResult, error)
}

// documentIndex adapts a typed index to the DocumentIndex facade.
type documentIndex[T index.Value] struct {
	idx     *index.Index[T]
	metrics *Metrics
}

func (d *documentIndex[T]) FindCandidateDocuments(ctx context.Context, p *model.Predicate) (IndexResult, error) {
	bm, err := d.dispatch(ctx, p)
	d.metrics.query(p.Op.String(), err)
	if err != nil {
		return IndexResult{}, err
	}
	if bm == nil {
		return IndexResult{Accuracy: model.AccuracyNone}, nil
	}
	return IndexResult{Accuracy: model.AccuracyExact, Values: bm}, nil
}

// dispatch routes the predicate. A nil bitmap with nil error means the
// index cannot answer this predicate shape.
func (d *documentIndex[T]) dispatch(ctx context.Context, p *model.Predicate) (*roaring.Bitmap, error) {
	switch p.Kind {
	case model.KindBinaryConst:
		value, err := convertValue[T](p.Value)
		if err != nil {
			return nil, err
		}
		switch p.Op {
		case model.OpEqual:
			return d.idx.Lookup(ctx, value)
		case model.OpNotEqual:
			return d.idx.NotEquals(ctx, value)
		case model.OpGreater:
			return d.idx.Greater(ctx, value, index.Open)
		case model.OpGreaterEqual:
			return d.idx.Greater(ctx, value, index.IncludeLeft)
		case model.OpLess:
			return d.idx.Lesser(ctx, value, index.Open)
		case model.OpLessEqual:
			return d.idx.Lesser(ctx, value, index.IncludeRight)
		default:
			return nil, nil
		}
	case model.KindUnary:
		switch p.Op {
		case model.OpIsNotNull:
			return d.idx.NotNull(ctx)
		case model.OpIsNull:
			// Needs the per-row-group universe bitmap, which the index
			// does not materialize; the caller scans.
			return nil, nil
		default:
			return nil, nil
		}
	default:
		return nil, nil
	}
}

// convertValue coerces a predicate constant to the column type. Exact
// matches pass through; untyped integer constants arriving as int are
// converted to the numeric column type.
func convertValue[T index.Value](v any) (T, error) {
	var zero T
	if typed, ok := v.(T); ok {
		return typed, nil
	}
	if i, ok := v.(int); ok {
		switch any(zero).(type) {
		case int8:
			return any(int8(i)).(T), nil
		case int16:
			return any(int16(i)).(T), nil
		case int32:
			return any(int32(i)).(T), nil
		case int64:
			return any(int64(i)).(T), nil
		case uint8:
			return any(uint8(i)).(T), nil
		case uint16:
			return any(uint16(i)).(T), nil
		case uint32:
			return any(uint32(i)).(T), nil
		case uint64:
			return any(uint64(i)).(T), nil
		case float32:
			return any(float32(i)).(T), nil
		case float64:
			return any(float64(i)).(T), nil
		}
	}
	return zero, fmt.Errorf("%w: predicate value %T does not match column type", ErrInvalidArgument, v)
}
