package hamming

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/seqdb/encoding"
	"github.com/hupe1980/seqdb/internal/testutil"
	"github.com/hupe1980/seqdb/persistence"
)

func buildIndex(t *testing.T, seqs []string) *Index {
	t.Helper()

	idx := New()
	for i, seq := range seqs {
		require.NoError(t, idx.Add(int64(i+1), seq, encoding.Nucleotide(seq)))
	}
	require.NoError(t, idx.Build())

	return idx
}

func TestLifecycle(t *testing.T) {
	idx := New()

	t.Run("query before build fails", func(t *testing.T) {
		_, err := idx.KNNQuery(encoding.Nucleotide("ATCG"), 1)
		assert.ErrorIs(t, err, ErrNotBuilt)
	})

	t.Run("save before build fails", func(t *testing.T) {
		err := idx.Save(filepath.Join(t.TempDir(), "a.idx"), persistence.CompressionZstd)
		assert.ErrorIs(t, err, ErrNotBuilt)
	})

	require.NoError(t, idx.Add(1, "ATCG", encoding.Nucleotide("ATCG")))
	require.NoError(t, idx.Build())

	t.Run("add after build fails", func(t *testing.T) {
		err := idx.Add(2, "GGGG", encoding.Nucleotide("GGGG"))
		assert.ErrorIs(t, err, ErrAlreadyBuilt)
	})

	t.Run("rebuild fails", func(t *testing.T) {
		assert.ErrorIs(t, idx.Build(), ErrAlreadyBuilt)
	})
}

func TestSelfQueryReturnsDistanceZero(t *testing.T) {
	seqs := []string{"ATCGATCG", "GGGGCCCC", "TTTTAAAA", "ATATATAT"}
	idx := buildIndex(t, seqs)

	for i, seq := range seqs {
		results, err := idx.KNNQuery(encoding.Nucleotide(seq), 1)
		require.NoError(t, err)
		require.Len(t, results, 1)

		assert.Equal(t, int64(i+1), results[0].Key, "query %s", seq)
		assert.Equal(t, 0, results[0].Distance)
	}
}

func TestKNNQueryOrdering(t *testing.T) {
	// Distances from the query AAAA: 0, 2, 4, 8 bits.
	idx := buildIndex(t, []string{"AAAA", "AAAT", "AATT", "TTTT"})

	results, err := idx.KNNQuery(encoding.Nucleotide("AAAA"), 4)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, []Result{
		{Key: 1, Distance: 0},
		{Key: 2, Distance: 2},
		{Key: 3, Distance: 4},
		{Key: 4, Distance: 8},
	}, results)
}

func TestKNNQueryMatchesBruteSearch(t *testing.T) {
	rng := testutil.NewRNG(7)

	seqs := rng.Sequences(300, 60)
	idx := buildIndex(t, seqs)

	for trial := 0; trial < 20; trial++ {
		q := encoding.Nucleotide(rng.Mutate(seqs[rng.Intn(len(seqs))], 3))

		// An EF covering the whole index makes the graph search exact.
		got, err := idx.KNNQuery(q, 5, func(o *SearchOptions) {
			o.EF = len(seqs)
		})
		require.NoError(t, err)

		want, err := idx.BruteSearch(q, 5)
		require.NoError(t, err)

		require.Len(t, got, 5)
		for i := range got {
			assert.Equal(t, want[i].Distance, got[i].Distance, "trial %d rank %d", trial, i)
		}
	}
}

func TestMutatedSequenceRanksOriginalFirst(t *testing.T) {
	rng := testutil.NewRNG(11)

	seqs := rng.Sequences(200, 60)
	idx := buildIndex(t, seqs)

	target := seqs[42]
	q := encoding.Nucleotide(rng.Mutate(target, 2))

	results, err := idx.KNNQuery(q, 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, int64(43), results[0].Key)
	assert.Equal(t, 4, results[0].Distance, "two substitutions flip four bits")
}

func TestKNNQueryFilter(t *testing.T) {
	idx := buildIndex(t, []string{"AAAA", "AAAT", "AATT", "TTTT"})

	results, err := idx.KNNQuery(encoding.Nucleotide("AAAA"), 4, func(o *SearchOptions) {
		o.Filter = func(key int64) bool { return key%2 == 0 }
	})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, int64(2), results[0].Key)
	assert.Equal(t, int64(4), results[1].Key)
}

func TestKNNQueryInvalidK(t *testing.T) {
	idx := buildIndex(t, []string{"AAAA"})

	_, err := idx.KNNQuery(encoding.Nucleotide("AAAA"), 0)
	assert.ErrorIs(t, err, ErrInvalidK)
}

func TestEmptyIndex(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Build())

	results, err := idx.KNNQuery(encoding.Nucleotide("ATCG"), 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSequencePayload(t *testing.T) {
	idx := buildIndex(t, []string{"ATCG", "GGGG"})

	seq, ok := idx.Sequence(2)
	require.True(t, ok)
	assert.Equal(t, "GGGG", seq)

	_, ok = idx.Sequence(99)
	assert.False(t, ok)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	rng := testutil.NewRNG(3)

	seqs := rng.Sequences(100, 30)
	idx := buildIndex(t, seqs)

	path := filepath.Join(t.TempDir(), "mA.nmslib_index")
	require.NoError(t, idx.Save(path, persistence.CompressionZstd))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, idx.Len(), loaded.Len())

	for trial := 0; trial < 10; trial++ {
		q := encoding.Nucleotide(rng.Sequence(30))

		want, err := idx.KNNQuery(q, 3)
		require.NoError(t, err)

		got, err := loaded.KNNQuery(q, 3)
		require.NoError(t, err)

		assert.Equal(t, want, got, "trial %d", trial)
	}

	seq, ok := loaded.Sequence(1)
	require.True(t, ok)
	assert.Equal(t, seqs[0], seq)
}

func TestConcurrentQueries(t *testing.T) {
	rng := testutil.NewRNG(5)

	seqs := rng.Sequences(100, 20)
	idx := buildIndex(t, seqs)

	queries := make([]encoding.BitVector, 50)
	for i := range queries {
		queries[i] = encoding.Nucleotide(rng.Sequence(20))
	}

	done := make(chan error, 8)
	for w := 0; w < 8; w++ {
		go func() {
			for _, q := range queries {
				if _, err := idx.KNNQuery(q, 3); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}()
	}

	for w := 0; w < 8; w++ {
		require.NoError(t, <-done)
	}
}

func TestBuildDeterminism(t *testing.T) {
	rng := testutil.NewRNG(9)

	seqs := rng.Sequences(80, 24)

	a := buildIndex(t, seqs)
	b := buildIndex(t, seqs)

	for trial := 0; trial < 10; trial++ {
		q := encoding.Nucleotide(rng.Sequence(24))

		ra, err := a.KNNQuery(q, 4)
		require.NoError(t, err)

		rb, err := b.KNNQuery(q, 4)
		require.NoError(t, err)

		assert.Equal(t, ra, rb, fmt.Sprintf("seeded builds must agree (trial %d)", trial))
	}
}
