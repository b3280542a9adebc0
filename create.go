package seqdb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hupe1980/seqdb/extsort"
	"github.com/hupe1980/seqdb/index"
	"github.com/hupe1980/seqdb/numbering"
	"github.com/hupe1980/seqdb/otu"
	"github.com/hupe1980/seqdb/store"
	"github.com/hupe1980/seqdb/translate"
)

// storeFileName is the SQLite file inside a database directory.
const storeFileName = "otus.sqlite3"

// Create builds a new database at path from a stream of OTU
// observations. The observations are sorted externally, deduplicated and
// numbered per marker, bulk loaded into SQLite, translated, and indexed.
// path must not exist yet; on failure the partially written directory is
// left behind for inspection.
func Create(ctx context.Context, path string, entries iter.Seq2[otu.Entry, error], optFns ...func(o *CreateOptions)) error {
	opts := DefaultCreateOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultCreateOptions.BatchSize
	}

	logger := opts.Logger
	if logger == nil {
		logger = NoopLogger()
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("seqdb: %w: %s", ErrDatabaseExists, path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("seqdb: failed to stat %s: %w", path, err)
	}

	logger.Info("creating database", "path", path)

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("seqdb: failed to create database directory: %w", err)
	}

	if err := writeContents(path); err != nil {
		return err
	}

	s, err := store.Create(filepath.Join(path, storeFileName))
	if err != nil {
		return fmt.Errorf("seqdb: %w", err)
	}
	defer s.Close()

	if err := importEntries(ctx, s, entries, opts, logger); err != nil {
		return err
	}

	if err := deriveProteins(ctx, s, opts, logger); err != nil {
		return err
	}

	builder := index.NewBuilder(s, path, func(o *index.BuildOptions) {
		o.NumTrees = opts.NumTrees
		o.Compression = opts.Compression
		o.Logger = logger.Logger
	})
	if err := builder.Run(ctx); err != nil {
		return fmt.Errorf("seqdb: %w", err)
	}

	logger.Info("finished database creation", "path", path)

	return nil
}

// importEntries sorts the observation stream and folds it into numbered
// marker, nucleotide and otu rows.
func importEntries(ctx context.Context, s *store.Store, entries iter.Seq2[otu.Entry, error], opts CreateOptions, logger *Logger) error {
	sorter := extsort.New(func(o *extsort.Options) {
		if opts.SortBufferSize > 0 {
			o.BufferSize = opts.SortBufferSize
		}
		if opts.SortParallelism > 0 {
			o.Parallelism = opts.SortParallelism
		}
		if opts.SortTempDir != "" {
			o.TempDir = opts.SortTempDir
		}
	})
	defer sorter.Close()

	count := 0
	for e, err := range entries {
		if err != nil {
			return fmt.Errorf("seqdb: failed to read otu table: %w", err)
		}
		if err := sorter.Append(sortLine(e)); err != nil {
			return fmt.Errorf("seqdb: failed to buffer otu entry: %w", err)
		}
		count++
	}

	logger.Info("sorting otu observations", "count", count)

	sorted, err := sorter.Sort(ctx)
	if err != nil {
		return fmt.Errorf("seqdb: failed to sort otu table: %w", err)
	}

	imp, err := s.NewImporter(ctx, opts.BatchSize)
	if err != nil {
		return fmt.Errorf("seqdb: %w", err)
	}

	logger.Info("importing otu table")

	assigner := numbering.NewAssigner(imp)
	for line, err := range sorted {
		if err != nil {
			return fmt.Errorf("seqdb: failed to merge sorted runs: %w", err)
		}

		e, err := parseSortLine(line)
		if err != nil {
			return err
		}

		if err := assigner.Add(e); err != nil {
			return fmt.Errorf("seqdb: failed to import otu entry: %w", err)
		}
	}

	if err := imp.Close(); err != nil {
		return fmt.Errorf("seqdb: %w", err)
	}

	logger.Info("imported otu table",
		"markers", assigner.Markers(),
		"sequences", assigner.Sequences(),
		"observations", assigner.Observations(),
	)

	logger.Info("creating sql indexes")

	if err := s.CreateOTUIndexes(ctx); err != nil {
		return fmt.Errorf("seqdb: %w", err)
	}

	return nil
}

// deriveProteins translates every nucleotide window and numbers the
// protein rows sequentially in nucleotide id order. Reads and writes
// alternate in batches so no scan stays open across an insert.
func deriveProteins(ctx context.Context, s *store.Store, opts CreateOptions, logger *Logger) error {
	logger.Info("creating protein sequences table")

	var proteinID, afterID int64

	for {
		batch, err := s.NucleotidesAfter(ctx, afterID, opts.BatchSize)
		if err != nil {
			return fmt.Errorf("seqdb: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		proteins := make([]store.Protein, 0, len(batch))
		for _, n := range batch {
			proteinID++
			proteins = append(proteins, store.Protein{
				ID:           proteinID,
				MarkerID:     n.MarkerID,
				NucleotideID: n.ID,
				Sequence:     translate.Nucleotides(n.Sequence),
			})
		}

		if err := s.PutProteins(ctx, proteins); err != nil {
			return fmt.Errorf("seqdb: %w", err)
		}

		afterID = batch[len(batch)-1].ID
	}

	logger.Info("creating sql indexes on proteins", "count", proteinID)

	if err := s.CreateProteinIndexes(ctx); err != nil {
		return fmt.Errorf("seqdb: %w", err)
	}

	return nil
}

// sortLine lays an entry out for byte-ordered sorting: marker first,
// then sequence, so the sorted stream groups markers and, within a
// marker, identical windows.
func sortLine(e otu.Entry) []byte {
	fields := []string{
		e.Marker,
		e.Sequence,
		e.SampleName,
		strconv.FormatInt(e.Count, 10),
		strconv.FormatFloat(e.Coverage, 'f', -1, 64),
		e.Taxonomy,
	}

	return []byte(strings.Join(fields, "\t"))
}

// parseSortLine is the inverse of sortLine.
func parseSortLine(line []byte) (otu.Entry, error) {
	fields := strings.Split(string(line), "\t")
	if len(fields) != 6 {
		return otu.Entry{}, fmt.Errorf("seqdb: malformed sorted line: %q", line)
	}

	count, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return otu.Entry{}, fmt.Errorf("seqdb: malformed count in sorted line: %w", err)
	}

	coverage, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return otu.Entry{}, fmt.Errorf("seqdb: malformed coverage in sorted line: %w", err)
	}

	return otu.Entry{
		Marker:     fields[0],
		Sequence:   fields[1],
		SampleName: fields[2],
		Count:      count,
		Coverage:   coverage,
		Taxonomy:   fields[5],
	}, nil
}
