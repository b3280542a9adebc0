package hamming

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/hupe1980/seqdb/persistence"
)

// snapshot is the gob-serializable form of a built index.
type snapshot struct {
	Options  Options
	EP       uint32
	MaxLevel int
	Nodes    []*node
}

// Save writes the built index to an artifact file. Sequences travel
// inside the artifact, so a loaded index can serve queries and resolve
// hit sequences without any other data source.
func (idx *Index) Save(path string, codec persistence.Compression) error {
	if !idx.built {
		return ErrNotBuilt
	}

	snap := snapshot{
		Options:  idx.opts,
		EP:       idx.ep,
		MaxLevel: idx.maxLevel,
		Nodes:    idx.nodes,
	}

	if err := persistence.Save(path, persistence.KindHammingIndex, codec, &snap); err != nil {
		return fmt.Errorf("failed to save index: %w", err)
	}

	return nil
}

// Load reads a built index from an artifact file.
func Load(path string) (*Index, error) {
	var snap snapshot
	if err := persistence.Load(path, persistence.KindHammingIndex, &snap); err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}

	opts := snap.Options
	if opts.M < 2 {
		opts.M = 2
	}

	idx := &Index{
		opts:     opts,
		mmax:     opts.M,
		mmax0:    2 * opts.M,
		ml:       1 / math.Log(float64(opts.M)),
		ep:       snap.EP,
		maxLevel: snap.MaxLevel,
		nodes:    snap.Nodes,
		keyIndex: make(map[int64]uint32, len(snap.Nodes)),
		rng:      rand.New(rand.NewSource(opts.RandSeed)),
		built:    true,
	}

	for i, n := range snap.Nodes {
		idx.keyIndex[n.Key] = uint32(i)
	}

	return idx, nil
}
