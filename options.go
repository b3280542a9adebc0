package seqdb

import (
	"github.com/hupe1980/seqdb/persistence"
)

// CreateOptions represents the options for creating a database.
type CreateOptions struct {
	// SortBufferSize is the number of bytes of observation lines held
	// in memory before the sorter spills a run to disk. Zero keeps the
	// sorter's default.
	SortBufferSize int

	// SortParallelism bounds the workers compressing spilled sort runs.
	// Zero keeps the sorter's default.
	SortParallelism int

	// SortTempDir overrides the directory for spilled sort runs.
	SortTempDir string

	// BatchSize is the number of rows per import transaction.
	BatchSize int

	// NumTrees fixes the forest size per marker. Zero derives the count
	// from the number of sequences, one tree per ten and at least one.
	NumTrees int

	// Compression selects the codec for index artifacts.
	Compression persistence.Compression

	// Logger receives progress logs. Nil disables logging.
	Logger *Logger
}

// DefaultCreateOptions holds the default create configuration.
var DefaultCreateOptions = CreateOptions{
	BatchSize:   10000,
	Compression: persistence.CompressionZstd,
}

// AcquireOptions represents the options for opening a database.
type AcquireOptions struct {
	// Logger receives validation warnings. Nil disables logging.
	Logger *Logger
}

// DefaultAcquireOptions holds the default acquire configuration.
var DefaultAcquireOptions = AcquireOptions{}

// QueryOptions represents the per-call options for sequence queries.
type QueryOptions struct {
	// MaxDivergence drops hits whose divergence exceeds it. Negative
	// values disable the cut.
	MaxDivergence int

	// WithinTaxonomy restricts hits to observations inside the given
	// clade, one taxonomy level per element.
	WithinTaxonomy []string

	// Samples restricts hits to sequences observed in any of the given
	// samples.
	Samples []string

	// EF overrides the search breadth of the underlying index. Zero
	// keeps the index default.
	EF int
}

// DefaultQueryOptions holds the default query configuration.
var DefaultQueryOptions = QueryOptions{
	MaxDivergence: -1,
}
