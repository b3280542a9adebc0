package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hupe1980/seqdb/numbering"
)

// Compile time check to ensure Importer satisfies the numbering sink.
var _ numbering.Sink = (*Importer)(nil)

// Importer bulk-loads rows through prepared statements, committing a
// transaction every batchSize rows. It implements numbering.Sink so the
// numbering fold can emit straight into the store.
//
// An Importer is single-use and not safe for concurrent use. On failure
// the current transaction is lost; previously committed batches stay,
// leaving a half-built store behind (callers abandon the whole build).
type Importer struct {
	s         *Store
	ctx       context.Context
	batchSize int
	pending   int

	tx          *sql.Tx
	markerStmt  *sql.Stmt
	nucStmt     *sql.Stmt
	otuStmt     *sql.Stmt
	proteinStmt *sql.Stmt
}

// NewImporter starts a bulk import with the given rows-per-transaction
// batch size.
func (s *Store) NewImporter(ctx context.Context, batchSize int) (*Importer, error) {
	if batchSize <= 0 {
		batchSize = 10000
	}

	imp := &Importer{
		s:         s,
		ctx:       ctx,
		batchSize: batchSize,
	}

	if err := imp.begin(); err != nil {
		return nil, err
	}

	return imp, nil
}

func (imp *Importer) begin() error {
	tx, err := imp.s.db.BeginTx(imp.ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	prepare := func(query string) (*sql.Stmt, error) {
		stmt, err := tx.PrepareContext(imp.ctx, query)
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("failed to prepare statement: %w", err)
		}
		return stmt, nil
	}

	if imp.markerStmt, err = prepare("INSERT INTO markers (id, marker) VALUES (?, ?)"); err != nil {
		return err
	}
	if imp.nucStmt, err = prepare("INSERT INTO nucleotides (id, marker_id, sequence, marker_wise_id) VALUES (?, ?, ?, ?)"); err != nil {
		return err
	}
	if imp.otuStmt, err = prepare("INSERT INTO otus (id, sample_name, num_hits, coverage, taxonomy, marker_id, sequence_id) VALUES (?, ?, ?, ?, ?, ?, ?)"); err != nil {
		return err
	}
	if imp.proteinStmt, err = prepare("INSERT INTO proteins (id, marker_id, nucleotide_id, sequence) VALUES (?, ?, ?, ?)"); err != nil {
		return err
	}

	imp.tx = tx
	imp.pending = 0

	return nil
}

func (imp *Importer) commit() error {
	for _, stmt := range []*sql.Stmt{imp.markerStmt, imp.nucStmt, imp.otuStmt, imp.proteinStmt} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}

	if err := imp.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	imp.tx = nil

	return nil
}

func (imp *Importer) put(stmt *sql.Stmt, args ...any) error {
	if _, err := stmt.ExecContext(imp.ctx, args...); err != nil {
		return fmt.Errorf("failed to insert row: %w", err)
	}

	imp.pending++
	if imp.pending >= imp.batchSize {
		if err := imp.commit(); err != nil {
			return err
		}
		return imp.begin()
	}

	return nil
}

// PutMarker inserts one marker row.
func (imp *Importer) PutMarker(m numbering.Marker) error {
	return imp.put(imp.markerStmt, m.ID, m.Name)
}

// PutNucleotide inserts one nucleotide row.
func (imp *Importer) PutNucleotide(n numbering.Nucleotide) error {
	return imp.put(imp.nucStmt, n.ID, n.MarkerID, n.Sequence, n.MarkerWiseID)
}

// PutObservation inserts one observation row.
func (imp *Importer) PutObservation(o numbering.Observation) error {
	return imp.put(imp.otuStmt, o.ID, o.SampleName, o.Count, o.Coverage, o.Taxonomy, o.MarkerID, o.SequenceID)
}

// PutProtein inserts one protein row.
func (imp *Importer) PutProtein(p Protein) error {
	return imp.put(imp.proteinStmt, p.ID, p.MarkerID, p.NucleotideID, p.Sequence)
}

// Close commits any pending rows.
func (imp *Importer) Close() error {
	if imp.tx == nil {
		return nil
	}

	return imp.commit()
}
