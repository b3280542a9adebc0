package extsort

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, s *Sorter) []string {
	t.Helper()

	seq, err := s.Sort(context.Background())
	require.NoError(t, err)

	var out []string
	for line, err := range seq {
		require.NoError(t, err)
		out = append(out, string(line))
	}

	return out
}

func TestSorterInMemory(t *testing.T) {
	s := New(func(o *Options) {
		o.TempDir = t.TempDir()
	})
	defer s.Close()

	for _, line := range []string{"banana", "apple", "cherry", "apple"} {
		require.NoError(t, s.Append([]byte(line)))
	}

	assert.Equal(t, []string{"apple", "apple", "banana", "cherry"}, collect(t, s))
}

func TestSorterSpillsAndMerges(t *testing.T) {
	// A tiny buffer forces a spill on almost every Append, exercising
	// the run writer and the k-way merge.
	s := New(func(o *Options) {
		o.BufferSize = 16
		o.Parallelism = 4
		o.TempDir = t.TempDir()
	})
	defer s.Close()

	rng := rand.New(rand.NewSource(42))

	want := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		line := fmt.Sprintf("key-%04d\tpayload-%d", rng.Intn(100), i)
		want = append(want, line)
		require.NoError(t, s.Append([]byte(line)))
	}

	sort.Strings(want)

	got := collect(t, s)
	assert.Equal(t, want, got, "output must be the sorted permutation of the input")
}

func TestSorterEmpty(t *testing.T) {
	s := New()
	defer s.Close()

	assert.Empty(t, collect(t, s))
}

func TestSorterDuplicatesSurvive(t *testing.T) {
	s := New(func(o *Options) {
		o.BufferSize = 8
		o.TempDir = t.TempDir()
	})
	defer s.Close()

	for i := 0; i < 50; i++ {
		require.NoError(t, s.Append([]byte("same-line")))
	}

	got := collect(t, s)
	require.Len(t, got, 50)
	for _, line := range got {
		assert.Equal(t, "same-line", line)
	}
}

func TestSorterAppendAfterSort(t *testing.T) {
	s := New()
	defer s.Close()

	_, err := s.Sort(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, s.Append([]byte("late")), ErrSortStarted)
}

func TestSorterContextCancelled(t *testing.T) {
	s := New()
	defer s.Close()

	require.NoError(t, s.Append([]byte("a")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	seq, err := s.Sort(ctx)
	require.NoError(t, err)

	var last error
	for _, err := range seq {
		last = err
	}

	assert.ErrorIs(t, last, context.Canceled)
}

func TestSorterTabOrderGroupsCompositeKeys(t *testing.T) {
	// Construction relies on byte order of "marker\tsequence\t..." lines
	// grouping rows first by marker, then by sequence.
	s := New(func(o *Options) {
		o.BufferSize = 4
		o.TempDir = t.TempDir()
	})
	defer s.Close()

	lines := []string{
		"mB\tTTT\ts1",
		"mA\tGGG\ts2",
		"mA\tAAA\ts9",
		"mB\tAAA\ts3",
		"mA\tAAA\ts1",
	}
	for _, line := range lines {
		require.NoError(t, s.Append([]byte(line)))
	}

	assert.Equal(t, []string{
		"mA\tAAA\ts1",
		"mA\tAAA\ts9",
		"mA\tGGG\ts2",
		"mB\tAAA\ts3",
		"mB\tTTT\ts1",
	}, collect(t, s))
}
