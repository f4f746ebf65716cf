package bitmapindex

import (
	"log/slog"
	"math"
	"runtime"

	"github.com/martun/bitmap-index/decompose"
	"github.com/martun/bitmap-index/iopool"
)

// Encoding selects how digit values spread across component bitmaps.
type Encoding = decompose.Encoding

// Index encodings. Interval gives the cheapest range queries; Equality the
// cheapest point lookups but no range support.
const (
	EncodingEquality = decompose.Equality
	EncodingInterval = decompose.Interval
	EncodingRange    = decompose.Range
)

// IndexType selects the basis construction strategy.
type IndexType = decompose.IndexType

// Basis strategies: two roughly-sqrt(C) bases versus log2(C) binary bases.
const (
	IndexTypeBitmap    = decompose.Bitmap
	IndexTypeBitsliced = decompose.Bitsliced
)

type options struct {
	cacheSize   int
	queueDepth  int
	ioWorkers   int
	maxParallel int
	logger      *slog.Logger
	metrics     *Metrics
}

func defaultOptions() options {
	return options{
		cacheSize:   math.MaxInt,
		queueDepth:  iopool.DefaultQueueDepth,
		ioWorkers:   0, // GOMAXPROCS
		maxParallel: runtime.GOMAXPROCS(0),
		logger:      slog.Default(),
	}
}

// Option configures a BatchBuilder or BatchReader.
type Option func(*options)

// WithCacheSize bounds how many component bitmaps one storage keeps
// resident on the query path. The default is unbounded.
func WithCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.cacheSize = n
		}
	}
}

// WithQueueDepth bounds the I/O executor's request queue. Submissions past
// the bound fail with ErrQueueFull.
func WithQueueDepth(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueDepth = n
		}
	}
}

// WithIOWorkers sets the number of I/O pool workers.
func WithIOWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.ioWorkers = n
		}
	}
}

// WithMaxParallel bounds how many index builds run concurrently.
func WithMaxParallel(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxParallel = n
		}
	}
}

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics attaches a Metrics set; nil disables instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

type indexOptions struct {
	encoding  Encoding
	indexType IndexType
}

// IndexOption configures one AddIndex call.
type IndexOption func(*indexOptions)

// WithEncoding overrides the default Interval encoding.
func WithEncoding(enc Encoding) IndexOption {
	return func(o *indexOptions) { o.encoding = enc }
}

// WithIndexType overrides the default Bitsliced basis.
func WithIndexType(t IndexType) IndexOption {
	return func(o *indexOptions) { o.indexType = t }
}
