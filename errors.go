package bitmapindex

import (
	"errors"

	"github.com/martun/bitmap-index/index"
	"github.com/martun/bitmap-index/iopool"
)

var (
	// ErrIndexNotFound means no index was built for a (row group, column).
	// BatchReader.Open surfaces this as ok=false rather than an error.
	ErrIndexNotFound = index.ErrIndexNotFound

	// ErrUnsupportedEncoding is returned for range, lesser and greater
	// queries against an equality-encoded index.
	ErrUnsupportedEncoding = index.ErrUnsupportedEncoding

	// ErrInvalidArgument is returned for malformed queries.
	ErrInvalidArgument = index.ErrInvalidArgument

	// ErrValueOutOfRange indicates a corrupt index: a persisted value does
	// not decompose within the persisted basis.
	ErrValueOutOfRange = index.ErrValueOutOfRange

	// ErrQueueFull is backpressure from the I/O executor; retriable.
	ErrQueueFull = iopool.ErrQueueFull

	// ErrWriteSizeMismatch means a storage write reported fewer or more
	// bytes than its computed size. Fatal to the batch build.
	ErrWriteSizeMismatch = errors.New("storage write size mismatch")

	// ErrUnsupportedType is returned when a reader is asked for a column
	// type outside the supported set.
	ErrUnsupportedType = errors.New("unsupported column type")

	// ErrBuilderClosed is returned when adding indexes to a closed builder.
	ErrBuilderClosed = errors.New("batch builder closed")
)
