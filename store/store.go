// Package store implements the relational half of the sequence database:
// a SQLite file holding the observations, markers, nucleotides and
// proteins tables, bulk-loaded once at build time and scanned read-only
// afterwards. All sequence ids handed to the ANN indexes resolve back to
// rows through this package.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/hupe1980/seqdb/numbering"
	"github.com/hupe1980/seqdb/otu"
)

var (
	// ErrExists is returned by Create when the destination file already
	// exists. A store is never silently overwritten.
	ErrExists = errors.New("store already exists")

	// ErrNotFound is returned by point lookups with no matching row.
	ErrNotFound = errors.New("not found")
)

// Protein is a translated nucleotide sequence row. NucleotideID points at
// the nucleotide the protein was derived from; rows are numbered in
// nucleotide id order.
type Protein struct {
	ID           int64
	MarkerID     int64
	NucleotideID int64
	Sequence     string
}

// Store is a handle on the SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// Create creates a new empty store at path, refusing to touch an
// existing file.
func Create(path string) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	ddl := []string{
		`CREATE TABLE otus (id INTEGER PRIMARY KEY AUTOINCREMENT,
			sample_name text, num_hits int, coverage float, taxonomy text, marker_id int, sequence_id int)`,
		`CREATE TABLE markers (id INTEGER PRIMARY KEY, marker text)`,
		`CREATE TABLE nucleotides (id INTEGER PRIMARY KEY, marker_id int, sequence text, marker_wise_id int)`,
		`CREATE TABLE proteins (id INTEGER PRIMARY KEY AUTOINCREMENT, marker_id int, nucleotide_id int, sequence text)`,
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &Store{db: db, path: path}, nil
}

// Open opens an existing store.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateOTUIndexes builds the secondary indexes on the otus, markers and
// nucleotides tables. Called once after bulk import, before any scan
// relies on indexed access.
func (s *Store) CreateOTUIndexes(ctx context.Context) error {
	stmts := []string{
		"CREATE INDEX otu_sample_name on otus (sample_name)",
		"CREATE INDEX otu_taxonomy on otus (taxonomy)",
		"CREATE INDEX otu_marker on otus (marker_id)",
		"CREATE INDEX otu_sequence on otus (sequence_id)",
		"CREATE INDEX markers_marker on markers (marker)",
		"CREATE INDEX nucleotides_marker_id on nucleotides (marker_id)",
		"CREATE INDEX nucleotides_sequence on nucleotides (sequence)",
	}

	return s.execAll(ctx, stmts)
}

// CreateProteinIndexes builds the secondary indexes on the proteins
// table. Called once after the protein derivation pass.
func (s *Store) CreateProteinIndexes(ctx context.Context) error {
	stmts := []string{
		"CREATE INDEX proteins_marker_id on proteins (marker_id)",
		"CREATE INDEX proteins_nucleotide_id on proteins (nucleotide_id)",
		"CREATE INDEX proteins_sequence on proteins (sequence)",
	}

	return s.execAll(ctx, stmts)
}

func (s *Store) execAll(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// Markers returns all marker rows in id order.
func (s *Store) Markers(ctx context.Context) ([]numbering.Marker, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, marker FROM markers ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to scan markers: %w", err)
	}
	defer rows.Close()

	var out []numbering.Marker
	for rows.Next() {
		var m numbering.Marker
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, fmt.Errorf("failed to scan marker row: %w", err)
		}
		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan markers: %w", err)
	}

	return out, nil
}

// MarkerByName looks up a marker row by name, returning ErrNotFound when
// the marker is absent.
func (s *Store) MarkerByName(ctx context.Context, name string) (numbering.Marker, error) {
	var m numbering.Marker

	err := s.db.QueryRowContext(ctx, "SELECT id, marker FROM markers WHERE marker = ?", name).Scan(&m.ID, &m.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return numbering.Marker{}, fmt.Errorf("%w: marker %q", ErrNotFound, name)
	}
	if err != nil {
		return numbering.Marker{}, fmt.Errorf("failed to look up marker: %w", err)
	}

	return m, nil
}

// Nucleotides streams every nucleotide row in id order.
func (s *Store) Nucleotides(ctx context.Context) iter.Seq2[numbering.Nucleotide, error] {
	return s.nucleotideScan(ctx, "SELECT id, marker_id, sequence, marker_wise_id FROM nucleotides ORDER BY id")
}

// NucleotidesByMarker streams the nucleotide rows of one marker in id
// order.
func (s *Store) NucleotidesByMarker(ctx context.Context, markerID int64) iter.Seq2[numbering.Nucleotide, error] {
	return s.nucleotideScan(ctx,
		"SELECT id, marker_id, sequence, marker_wise_id FROM nucleotides WHERE marker_id = ? ORDER BY id", markerID)
}

func (s *Store) nucleotideScan(ctx context.Context, query string, args ...any) iter.Seq2[numbering.Nucleotide, error] {
	return func(yield func(numbering.Nucleotide, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(numbering.Nucleotide{}, fmt.Errorf("failed to scan nucleotides: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var n numbering.Nucleotide
			if err := rows.Scan(&n.ID, &n.MarkerID, &n.Sequence, &n.MarkerWiseID); err != nil {
				yield(numbering.Nucleotide{}, fmt.Errorf("failed to scan nucleotide row: %w", err))
				return
			}
			if !yield(n, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(numbering.Nucleotide{}, fmt.Errorf("failed to scan nucleotides: %w", err))
		}
	}
}

// NucleotidesAfter returns up to limit nucleotide rows with id greater
// than afterID, in id order. Repeated calls with the last returned id
// page through the table without holding a scan open between calls.
func (s *Store) NucleotidesAfter(ctx context.Context, afterID int64, limit int) ([]numbering.Nucleotide, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, marker_id, sequence, marker_wise_id FROM nucleotides WHERE id > ? ORDER BY id LIMIT ?",
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan nucleotides: %w", err)
	}
	defer rows.Close()

	var out []numbering.Nucleotide
	for rows.Next() {
		var n numbering.Nucleotide
		if err := rows.Scan(&n.ID, &n.MarkerID, &n.Sequence, &n.MarkerWiseID); err != nil {
			return nil, fmt.Errorf("failed to scan nucleotide row: %w", err)
		}
		out = append(out, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan nucleotides: %w", err)
	}

	return out, nil
}

// PutProteins inserts a batch of protein rows in one transaction.
func (s *Store) PutProteins(ctx context.Context, proteins []Protein) error {
	if len(proteins) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO proteins (id, marker_id, nucleotide_id, sequence) VALUES (?, ?, ?, ?)")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare protein insert: %w", err)
	}

	for _, p := range proteins {
		if _, err := stmt.ExecContext(ctx, p.ID, p.MarkerID, p.NucleotideID, p.Sequence); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()

			return fmt.Errorf("failed to insert protein: %w", err)
		}
	}

	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to close protein insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit proteins: %w", err)
	}

	return nil
}

// RepresentativeNucleotide returns the lowest-id nucleotide row of a
// marker. Its sequence length fixes the dimensionality of that marker's
// forest index.
func (s *Store) RepresentativeNucleotide(ctx context.Context, markerID int64) (numbering.Nucleotide, error) {
	var n numbering.Nucleotide

	err := s.db.QueryRowContext(ctx,
		"SELECT id, marker_id, sequence, marker_wise_id FROM nucleotides WHERE marker_id = ? ORDER BY id LIMIT 1",
		markerID).Scan(&n.ID, &n.MarkerID, &n.Sequence, &n.MarkerWiseID)
	if errors.Is(err, sql.ErrNoRows) {
		return numbering.Nucleotide{}, fmt.Errorf("%w: no nucleotides for marker id %d", ErrNotFound, markerID)
	}
	if err != nil {
		return numbering.Nucleotide{}, fmt.Errorf("failed to look up representative nucleotide: %w", err)
	}

	return n, nil
}

// DistinctProteins streams one row per distinct protein sequence of a
// marker. Several nucleotides may translate to the same protein; the
// representative row keeps the minimum protein id, which belongs to the
// lowest-numbered nucleotide since protein ids are assigned in nucleotide
// id order.
func (s *Store) DistinctProteins(ctx context.Context, markerID int64) iter.Seq2[Protein, error] {
	return func(yield func(Protein, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT min(id) AS id, marker_id, min(nucleotide_id), sequence FROM proteins
				WHERE marker_id = ? GROUP BY sequence ORDER BY id`, markerID)
		if err != nil {
			yield(Protein{}, fmt.Errorf("failed to scan proteins: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var p Protein
			if err := rows.Scan(&p.ID, &p.MarkerID, &p.NucleotideID, &p.Sequence); err != nil {
				yield(Protein{}, fmt.Errorf("failed to scan protein row: %w", err))
				return
			}
			if !yield(p, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(Protein{}, fmt.Errorf("failed to scan proteins: %w", err))
		}
	}
}

// NucleotideIDsByProteinSequence returns the ids of every nucleotide of
// the marker whose translation equals the given protein sequence.
func (s *Store) NucleotideIDsByProteinSequence(ctx context.Context, markerID int64, sequence string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT nucleotide_id FROM proteins WHERE marker_id = ? AND sequence = ? ORDER BY nucleotide_id",
		markerID, sequence)
	if err != nil {
		return nil, fmt.Errorf("failed to scan proteins: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan nucleotide id: %w", err)
		}
		out = append(out, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan proteins: %w", err)
	}

	return out, nil
}

// ObservationsBySequenceID materializes the observation rows of one
// nucleotide, joined against marker and sequence text.
func (s *Store) ObservationsBySequenceID(ctx context.Context, sequenceID int64) ([]otu.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT markers.marker, otus.sample_name, nucleotides.sequence, otus.num_hits, otus.coverage, otus.taxonomy
			FROM otus
			JOIN markers ON otus.marker_id = markers.id
			JOIN nucleotides ON otus.sequence_id = nucleotides.id
			WHERE otus.sequence_id = ?
			ORDER BY otus.id`, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to scan observations: %w", err)
	}
	defer rows.Close()

	var out []otu.Entry
	for rows.Next() {
		var e otu.Entry
		if err := rows.Scan(&e.Marker, &e.SampleName, &e.Sequence, &e.Count, &e.Coverage, &e.Taxonomy); err != nil {
			return nil, fmt.Errorf("failed to scan observation row: %w", err)
		}
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan observations: %w", err)
	}

	return out, nil
}

// SequenceIDsBySamples streams the distinct sequence ids observed in any
// of the given samples.
func (s *Store) SequenceIDsBySamples(ctx context.Context, samples []string) iter.Seq2[int64, error] {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(samples)), ",")
	args := make([]any, len(samples))
	for i, sample := range samples {
		args[i] = sample
	}

	query := fmt.Sprintf("SELECT DISTINCT sequence_id FROM otus WHERE sample_name IN (%s)", placeholders)

	return func(yield func(int64, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(0, fmt.Errorf("failed to scan sample sequence ids: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				yield(0, fmt.Errorf("failed to scan sequence id: %w", err))
				return
			}
			if !yield(id, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(0, fmt.Errorf("failed to scan sample sequence ids: %w", err))
		}
	}
}

// SequenceIDsWithinTaxonomy streams the distinct sequence ids whose
// observation taxonomy lies within the target clade. The prefix match is
// level-wise, so "d__Bac" does not match "d__Bacteria".
func (s *Store) SequenceIDsWithinTaxonomy(ctx context.Context, target []string) iter.Seq2[int64, error] {
	return func(yield func(int64, error) bool) {
		rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT sequence_id, taxonomy FROM otus")
		if err != nil {
			yield(0, fmt.Errorf("failed to scan taxonomies: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id       int64
				taxonomy string
			)
			if err := rows.Scan(&id, &taxonomy); err != nil {
				yield(0, fmt.Errorf("failed to scan taxonomy row: %w", err))
				return
			}

			if !(otu.Entry{Taxonomy: taxonomy}).WithinTaxonomy(target) {
				continue
			}
			if !yield(id, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(0, fmt.Errorf("failed to scan taxonomies: %w", err))
		}
	}
}

// DumpEntries streams every observation row joined against marker and
// sequence text, in otus id order. Rows are fetched in fixed-size batches
// via keyset pagination so the full table is never materialized.
func (s *Store) DumpEntries(ctx context.Context, batchSize int) iter.Seq2[otu.Entry, error] {
	return func(yield func(otu.Entry, error) bool) {
		lastID := int64(0)

		for {
			batch, maxID, err := s.dumpBatch(ctx, lastID, batchSize)
			if err != nil {
				yield(otu.Entry{}, err)
				return
			}
			if len(batch) == 0 {
				return
			}

			for _, e := range batch {
				if !yield(e, nil) {
					return
				}
			}

			lastID = maxID
		}
	}
}

func (s *Store) dumpBatch(ctx context.Context, afterID int64, limit int) ([]otu.Entry, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT otus.id, markers.marker, otus.sample_name, nucleotides.sequence, otus.num_hits, otus.coverage, otus.taxonomy
			FROM otus
			JOIN markers ON otus.marker_id = markers.id
			JOIN nucleotides ON otus.sequence_id = nucleotides.id
			WHERE otus.id > ?
			ORDER BY otus.id
			LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan otus: %w", err)
	}
	defer rows.Close()

	var (
		out   []otu.Entry
		maxID int64
	)
	for rows.Next() {
		var e otu.Entry
		if err := rows.Scan(&maxID, &e.Marker, &e.SampleName, &e.Sequence, &e.Count, &e.Coverage, &e.Taxonomy); err != nil {
			return nil, 0, fmt.Errorf("failed to scan otu row: %w", err)
		}
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to scan otus: %w", err)
	}

	return out, maxID, nil
}
