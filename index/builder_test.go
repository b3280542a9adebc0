package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/seqdb/encoding"
	"github.com/hupe1980/seqdb/index/forest"
	"github.com/hupe1980/seqdb/index/hamming"
	"github.com/hupe1980/seqdb/numbering"
	"github.com/hupe1980/seqdb/persistence"
	"github.com/hupe1980/seqdb/store"
)

// seedStore creates a database directory with two markers of two
// sequences each. Both mB windows translate to the same protein.
func seedStore(t *testing.T) (*store.Store, string) {
	t.Helper()

	base := t.TempDir()

	s, err := store.Create(filepath.Join(base, "otus.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()

	imp, err := s.NewImporter(ctx, 100)
	require.NoError(t, err)

	require.NoError(t, imp.PutMarker(numbering.Marker{ID: 1, Name: "mA"}))
	require.NoError(t, imp.PutMarker(numbering.Marker{ID: 2, Name: "mB"}))

	require.NoError(t, imp.PutNucleotide(numbering.Nucleotide{ID: 1, MarkerID: 1, Sequence: "AAAA", MarkerWiseID: 1}))
	require.NoError(t, imp.PutNucleotide(numbering.Nucleotide{ID: 2, MarkerID: 1, Sequence: "AAAT", MarkerWiseID: 2}))
	require.NoError(t, imp.PutNucleotide(numbering.Nucleotide{ID: 3, MarkerID: 2, Sequence: "GGGG", MarkerWiseID: 1}))
	require.NoError(t, imp.PutNucleotide(numbering.Nucleotide{ID: 4, MarkerID: 2, Sequence: "GGGA", MarkerWiseID: 2}))

	require.NoError(t, imp.PutProtein(store.Protein{ID: 1, MarkerID: 1, NucleotideID: 1, Sequence: "K"}))
	require.NoError(t, imp.PutProtein(store.Protein{ID: 2, MarkerID: 1, NucleotideID: 2, Sequence: "N"}))
	require.NoError(t, imp.PutProtein(store.Protein{ID: 3, MarkerID: 2, NucleotideID: 3, Sequence: "G"}))
	require.NoError(t, imp.PutProtein(store.Protein{ID: 4, MarkerID: 2, NucleotideID: 4, Sequence: "G"}))

	require.NoError(t, imp.Close())

	return s, base
}

func TestBuilderWritesAllArtifacts(t *testing.T) {
	s, base := seedStore(t)

	b := NewBuilder(s, base)
	require.NoError(t, b.Run(context.Background()))

	for _, dir := range []string{NucleotideDir, ProteinDir, ForestDir} {
		entries, err := os.ReadDir(filepath.Join(base, dir))
		require.NoError(t, err)
		assert.Len(t, entries, 2, dir)
	}

	t.Run("nucleotide index keyed by global id", func(t *testing.T) {
		idx, err := hamming.Load(filepath.Join(base, NucleotideDir, "mA"+HammingSuffix))
		require.NoError(t, err)
		require.Equal(t, 2, idx.Len())

		results, err := idx.KNNQuery(encoding.Nucleotide("AAAT"), 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, int64(2), results[0].Key)
		assert.Equal(t, 0, results[0].Distance)

		seq, ok := idx.Sequence(2)
		require.True(t, ok)
		assert.Equal(t, "AAAT", seq)
	})

	t.Run("protein index holds distinct sequences", func(t *testing.T) {
		idx, err := hamming.Load(filepath.Join(base, ProteinDir, "mB"+HammingSuffix))
		require.NoError(t, err)
		require.Equal(t, 1, idx.Len())

		vec, err := encoding.Protein("G")
		require.NoError(t, err)

		results, err := idx.KNNQuery(vec, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, int64(3), results[0].Key)
	})

	t.Run("forest keyed by marker-local id", func(t *testing.T) {
		idx, err := forest.Load(filepath.Join(base, ForestDir, "mB"+ForestSuffix))
		require.NoError(t, err)
		require.Equal(t, 2, idx.Len())

		results, err := idx.NNsByVector(encoding.Nucleotide("GGGA").BitList(), 1, idx.Len())
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, int64(2), results[0].Key)
		assert.Equal(t, 0, results[0].Distance)
	})
}

func TestBuilderCompressionOption(t *testing.T) {
	s, base := seedStore(t)

	b := NewBuilder(s, base, func(o *BuildOptions) {
		o.Compression = persistence.CompressionLZ4
	})
	require.NoError(t, b.Run(context.Background()))

	idx, err := hamming.Load(filepath.Join(base, NucleotideDir, "mA"+HammingSuffix))
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
}

func TestBuilderRejectsMixedWindowLengths(t *testing.T) {
	base := t.TempDir()

	s, err := store.Create(filepath.Join(base, "otus.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()

	imp, err := s.NewImporter(ctx, 100)
	require.NoError(t, err)
	require.NoError(t, imp.PutMarker(numbering.Marker{ID: 1, Name: "mC"}))
	require.NoError(t, imp.PutNucleotide(numbering.Nucleotide{ID: 1, MarkerID: 1, Sequence: "AAAA", MarkerWiseID: 1}))
	require.NoError(t, imp.PutNucleotide(numbering.Nucleotide{ID: 2, MarkerID: 1, Sequence: "AAAAAA", MarkerWiseID: 2}))
	require.NoError(t, imp.PutProtein(store.Protein{ID: 1, MarkerID: 1, NucleotideID: 1, Sequence: "K"}))
	require.NoError(t, imp.PutProtein(store.Protein{ID: 2, MarkerID: 1, NucleotideID: 2, Sequence: "KX"}))
	require.NoError(t, imp.Close())

	err = NewBuilder(s, base).Run(ctx)
	require.Error(t, err)

	var mismatchErr *forest.ErrDimensionMismatch
	assert.ErrorAs(t, err, &mismatchErr)
}

func TestBuilderContextCancellation(t *testing.T) {
	s, base := seedStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewBuilder(s, base).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
