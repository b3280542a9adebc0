package seqdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/hupe1980/seqdb/index"
	"github.com/hupe1980/seqdb/index/forest"
	"github.com/hupe1980/seqdb/index/hamming"
	"github.com/hupe1980/seqdb/otu"
	"github.com/hupe1980/seqdb/store"
)

// dumpBatchSize is the number of rows fetched per round while streaming
// the otus table.
const dumpBatchSize = 1000

// DB is an acquired database. Index artifacts are loaded lazily on first
// use; the handle is safe for concurrent queries.
type DB struct {
	base   string
	store  *store.Store
	logger *Logger

	nucleotides *index.Registry[*hamming.Index]
	proteins    *index.Registry[*hamming.Index]
	forests     *index.Registry[*forest.Index]
}

// Acquire opens the database directory at path, validating its version
// descriptor and registering the per-marker index artifacts. A database
// without nucleotide indexes is refused; missing protein indexes are
// only warned about.
func Acquire(path string, optFns ...func(o *AcquireOptions)) (*DB, error) {
	opts := DefaultAcquireOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = NoopLogger()
	}

	c, err := readContents(path)
	if err != nil {
		return nil, err
	}

	version, err := validateContents(c)
	if err != nil {
		return nil, fmt.Errorf("seqdb: %w", err)
	}

	logger.Debug("loading database", "version", version, "path", path)

	s, err := store.Open(filepath.Join(path, storeFileName))
	if err != nil {
		return nil, fmt.Errorf("seqdb: %w", err)
	}

	db := &DB{
		base:        path,
		store:       s,
		logger:      logger,
		nucleotides: index.NewRegistry(hamming.Load),
		proteins:    index.NewRegistry(hamming.Load),
		forests:     index.NewRegistry(forest.Load),
	}

	nucleotideCount, err := registerArtifacts(path, index.NucleotideDir, index.HammingSuffix, db.nucleotides)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if nucleotideCount == 0 {
		_ = s.Close()
		return nil, fmt.Errorf("seqdb: %w in %s", ErrNoIndexFiles, path)
	}

	proteinCount, err := registerArtifacts(path, index.ProteinDir, index.HammingSuffix, db.proteins)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if proteinCount == 0 {
		logger.Warn("no protein indices found", "path", path)
	}

	forestCount, err := registerArtifacts(path, index.ForestDir, index.ForestSuffix, db.forests)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	logger.Debug("registered index artifacts",
		"nucleotide", nucleotideCount,
		"protein", proteinCount,
		"forest", forestCount,
	)

	return db, nil
}

// registerArtifacts globs one index directory and registers every
// artifact under its marker name, the file stem.
func registerArtifacts[T any](base, dir, suffix string, reg *index.Registry[T]) (int, error) {
	paths, err := filepath.Glob(filepath.Join(base, dir, "*"+suffix))
	if err != nil {
		return 0, fmt.Errorf("seqdb: failed to list %s: %w", dir, err)
	}

	for _, p := range paths {
		marker := strings.TrimSuffix(filepath.Base(p), suffix)
		reg.Register(marker, p)
	}

	return len(paths), nil
}

// Markers returns the names of all markers with a nucleotide index, in
// sorted order.
func (db *DB) Markers() []string {
	return db.nucleotides.Markers()
}

// NucleotideIndex returns the nucleotide Hamming index of a marker,
// loading its artifact on first use. Markers without one yield
// ErrIndexNotFound.
func (db *DB) NucleotideIndex(marker string) (*hamming.Index, error) {
	idx, err := db.nucleotides.Get(marker)
	if err != nil {
		if errors.Is(err, ErrIndexNotFound) {
			db.logger.Warn("no nucleotide index found for marker", "marker", marker)
		}
		return nil, fmt.Errorf("seqdb: %w", err)
	}

	return idx, nil
}

// ProteinIndex returns the protein Hamming index of a marker, loading
// its artifact on first use.
func (db *DB) ProteinIndex(marker string) (*hamming.Index, error) {
	idx, err := db.proteins.Get(marker)
	if err != nil {
		if errors.Is(err, ErrIndexNotFound) {
			db.logger.Warn("no protein index found for marker", "marker", marker)
		}
		return nil, fmt.Errorf("seqdb: %w", err)
	}

	return idx, nil
}

// ForestIndex returns the random-split forest of a marker, loading its
// artifact on first use.
func (db *DB) ForestIndex(marker string) (*forest.Index, error) {
	idx, err := db.forests.Get(marker)
	if err != nil {
		if errors.Is(err, ErrIndexNotFound) {
			db.logger.Warn("no forest index found for marker", "marker", marker)
		}
		return nil, fmt.Errorf("seqdb: %w", err)
	}

	return idx, nil
}

// Dump streams the whole otu table to w in canonical column order,
// header first. The table is paged through in batches, never
// materialized.
func (db *DB) Dump(ctx context.Context, w io.Writer) error {
	writer := otu.NewWriter(w)

	for e, err := range db.store.DumpEntries(ctx, dumpBatchSize) {
		if err != nil {
			return fmt.Errorf("seqdb: %w", err)
		}
		if err := writer.Write(e); err != nil {
			return fmt.Errorf("seqdb: failed to write otu entry: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("seqdb: failed to flush otu table: %w", err)
	}

	return nil
}

// Close releases the store handle. Loaded indexes need no teardown.
func (db *DB) Close() error {
	return db.store.Close()
}
