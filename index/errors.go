package index

import "errors"

var (
	// ErrIndexNotFound is returned when no storage offsets or aux data
	// exist for a (row group, column).
	ErrIndexNotFound = errors.New("bitmap index not found")

	// ErrUnsupportedEncoding is returned by range, lesser and greater
	// queries on an equality-encoded index.
	ErrUnsupportedEncoding = errors.New("query not supported by index encoding")

	// ErrInvalidArgument is returned for malformed queries, e.g. a range
	// with min greater than max.
	ErrInvalidArgument = errors.New("invalid query argument")

	// ErrValueOutOfRange is returned when a mapped value does not
	// decompose within the index basis, which indicates corruption.
	ErrValueOutOfRange = errors.New("value outside index range")
)
