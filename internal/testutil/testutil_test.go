package testutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceDeterminism(t *testing.T) {
	a := NewRNG(42)
	b := NewRNG(42)

	assert.Equal(t, a.Sequence(60), b.Sequence(60))
}

func TestReset(t *testing.T) {
	rng := NewRNG(7)

	first := rng.Sequence(30)
	rng.Reset()

	assert.Equal(t, first, rng.Sequence(30))
}

func TestSequenceAlphabet(t *testing.T) {
	seq := NewRNG(1).Sequence(200)

	require.Len(t, seq, 200)
	for _, c := range seq {
		assert.True(t, strings.ContainsRune(Bases, c), "unexpected base %q", c)
	}
}

func TestMutateChangesExactlyN(t *testing.T) {
	rng := NewRNG(3)

	seq := rng.Sequence(50)

	for _, n := range []int{0, 1, 5, 50} {
		mutated := rng.Mutate(seq, n)
		require.Len(t, mutated, len(seq))

		diff := 0
		for i := range seq {
			if seq[i] != mutated[i] {
				diff++
			}
		}

		assert.Equal(t, n, diff)
	}
}

func TestSequencesCount(t *testing.T) {
	seqs := NewRNG(9).Sequences(8, 25)

	require.Len(t, seqs, 8)
	for _, s := range seqs {
		assert.Len(t, s, 25)
	}
}
