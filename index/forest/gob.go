package forest

import (
	"fmt"
	"math/rand"

	"github.com/hupe1980/seqdb/encoding"
	"github.com/hupe1980/seqdb/persistence"
)

// snapshot is the gob-serializable form of a built forest.
type snapshot struct {
	Options   Options
	Dimension int
	Keys      []int64
	Vectors   []encoding.BitVector
	Trees     [][]treeNode
}

// Save writes the built forest to an artifact file.
func (idx *Index) Save(path string, codec persistence.Compression) error {
	if !idx.built {
		return ErrNotBuilt
	}

	snap := snapshot{
		Options:   idx.opts,
		Dimension: idx.dimension,
		Keys:      idx.keys,
		Vectors:   idx.vectors,
		Trees:     idx.trees,
	}

	if err := persistence.Save(path, persistence.KindForestIndex, codec, &snap); err != nil {
		return fmt.Errorf("failed to save index: %w", err)
	}

	return nil
}

// Load reads a built forest from an artifact file.
func Load(path string) (*Index, error) {
	var snap snapshot
	if err := persistence.Load(path, persistence.KindForestIndex, &snap); err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}

	return &Index{
		opts:      snap.Options,
		dimension: snap.Dimension,
		keys:      snap.Keys,
		vectors:   snap.Vectors,
		trees:     snap.Trees,
		rng:       rand.New(rand.NewSource(snap.Options.RandSeed)),
		built:     true,
	}, nil
}
