package seqdb

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/seqdb/encoding"
	"github.com/hupe1980/seqdb/index/hamming"
	"github.com/hupe1980/seqdb/otu"
)

// QueryResult is one observation row hit by a sequence query.
type QueryResult struct {
	// Divergence is the number of differing characters between the
	// query and the hit sequence.
	Divergence int

	// Record is the observation behind the hit.
	Record otu.Entry
}

// QueryNucleotide searches a marker's nucleotide index for the k nearest
// windows and materializes their observation rows. Results arrive in
// ascending divergence order.
func (db *DB) QueryNucleotide(ctx context.Context, marker, sequence string, k int, optFns ...func(o *QueryOptions)) ([]QueryResult, error) {
	opts := DefaultQueryOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if k <= 0 {
		return nil, fmt.Errorf("seqdb: %w", ErrInvalidK)
	}

	idx, err := db.NucleotideIndex(marker)
	if err != nil {
		return nil, err
	}

	allowed, err := db.allowedSequenceIDs(ctx, opts)
	if err != nil {
		return nil, err
	}

	hits, err := idx.KNNQuery(encoding.Nucleotide(sequence), k, func(o *hamming.SearchOptions) {
		if opts.EF > 0 {
			o.EF = opts.EF
		}
		if allowed != nil {
			o.Filter = func(key int64) bool {
				return allowed.Contains(uint64(key))
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("seqdb: %w", err)
	}

	var results []QueryResult

	for _, hit := range hits {
		divergence := hit.Distance / 2
		if opts.MaxDivergence >= 0 && divergence > opts.MaxDivergence {
			// Hits ascend by distance.
			break
		}

		entries, err := db.store.ObservationsBySequenceID(ctx, hit.Key)
		if err != nil {
			return nil, fmt.Errorf("seqdb: %w", err)
		}

		for _, e := range entries {
			results = append(results, QueryResult{Divergence: divergence, Record: e})
		}
	}

	return results, nil
}

// QueryProtein searches a marker's protein index with an amino acid
// query. Hits are distinct translations; every nucleotide window sharing
// a hit's translation contributes its observation rows.
func (db *DB) QueryProtein(ctx context.Context, marker, sequence string, k int, optFns ...func(o *QueryOptions)) ([]QueryResult, error) {
	opts := DefaultQueryOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if k <= 0 {
		return nil, fmt.Errorf("seqdb: %w", ErrInvalidK)
	}

	vec, err := encoding.Protein(sequence)
	if err != nil {
		return nil, fmt.Errorf("seqdb: %w", err)
	}

	idx, err := db.ProteinIndex(marker)
	if err != nil {
		return nil, err
	}

	m, err := db.store.MarkerByName(ctx, marker)
	if err != nil {
		return nil, fmt.Errorf("seqdb: %w", err)
	}

	allowed, err := db.allowedSequenceIDs(ctx, opts)
	if err != nil {
		return nil, err
	}

	hits, err := idx.KNNQuery(vec, k, func(o *hamming.SearchOptions) {
		if opts.EF > 0 {
			o.EF = opts.EF
		}
	})
	if err != nil {
		return nil, fmt.Errorf("seqdb: %w", err)
	}

	var results []QueryResult

	for _, hit := range hits {
		divergence := hit.Distance / 2
		if opts.MaxDivergence >= 0 && divergence > opts.MaxDivergence {
			break
		}

		protein, ok := idx.Sequence(hit.Key)
		if !ok {
			return nil, fmt.Errorf("seqdb: no sequence payload for protein id %d", hit.Key)
		}

		nucleotideIDs, err := db.store.NucleotideIDsByProteinSequence(ctx, m.ID, protein)
		if err != nil {
			return nil, fmt.Errorf("seqdb: %w", err)
		}

		for _, id := range nucleotideIDs {
			if allowed != nil && !allowed.Contains(uint64(id)) {
				continue
			}

			entries, err := db.store.ObservationsBySequenceID(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("seqdb: %w", err)
			}

			for _, e := range entries {
				results = append(results, QueryResult{Divergence: divergence, Record: e})
			}
		}
	}

	return results, nil
}

// allowedSequenceIDs folds the sample and taxonomy restrictions into one
// bitmap of admissible sequence ids. A nil bitmap means unrestricted.
func (db *DB) allowedSequenceIDs(ctx context.Context, opts QueryOptions) (*roaring64.Bitmap, error) {
	var allowed *roaring64.Bitmap

	if len(opts.Samples) > 0 {
		bm := roaring64.New()
		for id, err := range db.store.SequenceIDsBySamples(ctx, opts.Samples) {
			if err != nil {
				return nil, fmt.Errorf("seqdb: %w", err)
			}
			bm.Add(uint64(id))
		}
		allowed = bm
	}

	if len(opts.WithinTaxonomy) > 0 {
		bm := roaring64.New()
		for id, err := range db.store.SequenceIDsWithinTaxonomy(ctx, opts.WithinTaxonomy) {
			if err != nil {
				return nil, fmt.Errorf("seqdb: %w", err)
			}
			bm.Add(uint64(id))
		}

		if allowed == nil {
			allowed = bm
		} else {
			allowed.And(bm)
		}
	}

	return allowed, nil
}
