// Package seqdb implements a marker gene sequence database: deduplicated
// OTU observations in SQLite plus per-marker nearest-neighbour indexes
// over one-hot encoded sequences in Hamming space.
//
// # Quick Start
//
// Create a database from an OTU table and query it:
//
//	ctx := context.Background()
//
//	f, _ := os.Open("otu_table.tsv")
//	defer f.Close()
//
//	err := seqdb.Create(ctx, "./my.sdb", otu.NewReader(f).Entries())
//	if err != nil {
//	    panic(err)
//	}
//
//	db, _ := seqdb.Acquire("./my.sdb")
//	defer db.Close()
//
//	results, _ := db.QueryNucleotide(ctx, "marker_1", window, 10, func(o *seqdb.QueryOptions) {
//	    o.MaxDivergence = 4
//	})
//
// # Layout
//
// A database is a directory:
//
//	CONTENTS.json               version descriptor
//	otus.sqlite3                observations, markers, sequences
//	nucleotide_indices/         per-marker Hamming graphs over windows
//	protein_indices/            per-marker Hamming graphs over translations
//	nucleotide_indices_annoy/   per-marker random-split forests
//
// Databases are built once and read-only afterwards: Create is the
// single writer, Acquire opens the finished directory for concurrent
// queries.
//
// # Key Aspects
//
//   - Observations deduplicate per (marker, sequence, sample) via an
//     external sort, so builds stay streaming at any input size
//   - Sequence ids are global, marker-local ids restart per marker
//   - Windows are indexed twice: as nucleotides and as their protein
//     translations, where one protein hit fans out to all windows
//     sharing the translation
//   - Divergence between sequences equals half the Hamming distance of
//     their one-hot encodings
package seqdb
