// Package testutil provides seed-pinned randomness helpers shared by
// tests and benchmarks.
package testutil

import (
	"math/rand"
	"sync"
)

// Bases is the nucleotide alphabet generated sequences draw from.
const Bases = "ATCG"

// RNG encapsulates a seeded random number generator.
// It is safe for concurrent use.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset rewinds the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rand = rand.New(rand.NewSource(r.seed))
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.rand.Intn(n)
}

// Sequence generates a random nucleotide sequence of the given length.
func (r *RNG) Sequence(length int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]byte, length)
	for i := range out {
		out[i] = Bases[r.rand.Intn(len(Bases))]
	}

	return string(out)
}

// Sequences generates count random sequences of the given length.
func (r *RNG) Sequences(count, length int) []string {
	out := make([]string, count)
	for i := range out {
		out[i] = r.Sequence(length)
	}

	return out
}

// Mutate substitutes n distinct positions of seq with a different base.
func (r *RNG) Mutate(seq string, n int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []byte(seq)
	for _, pos := range r.rand.Perm(len(out))[:n] {
		for {
			b := Bases[r.rand.Intn(len(Bases))]
			if b != out[pos] {
				out[pos] = b
				break
			}
		}
	}

	return string(out)
}
