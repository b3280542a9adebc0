// Package forest implements the second per-marker nucleotide index: a
// forest of random-split trees over one-hot bit lists. Each tree
// recursively partitions items on randomly chosen bit positions, and a
// query descends all trees best-first, ranking the collected candidates
// by exact Hamming distance. Items are keyed by marker-local sequence
// ids.
package forest

import (
	"container/heap"
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/seqdb/encoding"
)

var (
	// ErrNotBuilt is returned when querying or saving an index that has
	// not been built yet.
	ErrNotBuilt = errors.New("index not built")

	// ErrAlreadyBuilt is returned when adding to or rebuilding a built
	// index.
	ErrAlreadyBuilt = errors.New("index already built")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")
)

// ErrDimensionMismatch indicates an item or query whose bit width does
// not match the index dimensionality. All sequences of a marker must
// encode to the same width; mixed widths abort the build rather than
// silently corrupting neighbour ranks.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Options represents the options for configuring the forest.
type Options struct {
	// LeafSize is the maximum number of items per leaf.
	LeafSize int

	// RandSeed seeds split selection so that builds are reproducible.
	RandSeed int64
}

// DefaultOptions holds the default forest configuration.
var DefaultOptions = Options{
	LeafSize: 16,
	RandSeed: 1,
}

// Result is one query hit.
type Result struct {
	Key      int64
	Distance int
}

// treeNode is one node of a split tree. SplitBit is -1 for leaves, which
// carry item positions instead of children.
type treeNode struct {
	SplitBit int32
	Zero     int32
	One      int32
	Items    []int32
}

// Index is a random-split forest over fixed-width bit lists.
//
// An Index is not safe for concurrent use while items are added or trees
// are built. Once built it is immutable and safe for concurrent queries.
type Index struct {
	opts      Options
	dimension int

	keys    []int64
	vectors []encoding.BitVector
	trees   [][]treeNode

	rng   *rand.Rand
	built bool
}

// New creates a new empty forest for bit lists of the given width.
func New(dimension int, optFns ...func(o *Options)) *Index {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.LeafSize < 1 {
		opts.LeafSize = 1
	}

	return &Index{
		opts:      opts,
		dimension: dimension,
		rng:       rand.New(rand.NewSource(opts.RandSeed)),
	}
}

// AddItem registers one item before the build. The bit list width must
// match the index dimensionality.
func (idx *Index) AddItem(key int64, bits []uint8) error {
	if idx.built {
		return ErrAlreadyBuilt
	}
	if len(bits) != idx.dimension {
		return &ErrDimensionMismatch{Expected: idx.dimension, Actual: len(bits)}
	}

	idx.keys = append(idx.keys, key)
	idx.vectors = append(idx.vectors, encoding.FromBitList(bits))

	return nil
}

// Len returns the number of items.
func (idx *Index) Len() int {
	return len(idx.keys)
}

// Dimension returns the bit width items must have.
func (idx *Index) Dimension() int {
	return idx.dimension
}

// Build grows numTrees random-split trees over all items. After Build
// the forest is immutable.
func (idx *Index) Build(numTrees int) error {
	if idx.built {
		return ErrAlreadyBuilt
	}
	if numTrees < 1 {
		numTrees = 1
	}

	all := make([]int32, len(idx.keys))
	for i := range all {
		all[i] = int32(i)
	}

	idx.trees = make([][]treeNode, numTrees)
	for t := range idx.trees {
		idx.trees[t] = idx.buildTree(all)
	}

	idx.built = true

	return nil
}

// buildTree grows one tree, returning its nodes with the root at
// position 0.
func (idx *Index) buildTree(positions []int32) []treeNode {
	var nodes []treeNode

	var split func(positions []int32) int32
	split = func(positions []int32) int32 {
		self := int32(len(nodes))
		nodes = append(nodes, treeNode{SplitBit: -1})

		if len(positions) <= idx.opts.LeafSize {
			nodes[self].Items = positions
			return self
		}

		bit, zeros, ones := idx.pickSplit(positions)
		if bit < 0 {
			// Every sampled bit was uniform across the items, so the
			// node stays a leaf even above LeafSize.
			nodes[self].Items = positions
			return self
		}

		nodes[self].SplitBit = int32(bit)
		zeroChild := split(zeros)
		oneChild := split(ones)
		nodes[self].Zero = zeroChild
		nodes[self].One = oneChild

		return self
	}

	split(positions)

	return nodes
}

// pickSplit samples random bit positions until one partitions the items
// non-trivially, giving up after a bounded number of attempts.
func (idx *Index) pickSplit(positions []int32) (int, []int32, []int32) {
	for attempt := 0; attempt < 20; attempt++ {
		bit := idx.rng.Intn(idx.dimension)

		var zeros, ones []int32
		for _, pos := range positions {
			if idx.vectors[pos].Test(bit) {
				ones = append(ones, pos)
			} else {
				zeros = append(zeros, pos)
			}
		}

		if len(zeros) > 0 && len(ones) > 0 {
			return bit, zeros, ones
		}
	}

	return -1, nil, nil
}

// pqItem is a tree node pending descent, prioritized by how many splits
// disagreed with the query along its path.
type pqItem struct {
	tree       int
	node       int32
	mismatches int
}

// Compile time check to ensure nodeQueue satisfies the heap interface.
var _ heap.Interface = (*nodeQueue)(nil)

type nodeQueue []pqItem

func (q nodeQueue) Len() int           { return len(q) }
func (q nodeQueue) Less(i, j int) bool { return q[i].mismatches < q[j].mismatches }
func (q nodeQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *nodeQueue) Push(x any)        { *q = append(*q, x.(pqItem)) }

func (q *nodeQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]

	return item
}

// NNsByVector returns the k nearest items to the query bit list in
// ascending Hamming distance. searchK bounds how many candidates the
// tree descent collects before exact ranking; values below 1 default
// to numTrees * k.
func (idx *Index) NNsByVector(bits []uint8, k int, searchK int) ([]Result, error) {
	if !idx.built {
		return nil, ErrNotBuilt
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(bits) != idx.dimension {
		return nil, &ErrDimensionMismatch{Expected: idx.dimension, Actual: len(bits)}
	}

	if searchK < 1 {
		searchK = len(idx.trees) * k
	}

	q := encoding.FromBitList(bits)

	// Best-first descent across all trees at once.
	var queue nodeQueue
	heap.Init(&queue)
	for t := range idx.trees {
		heap.Push(&queue, pqItem{tree: t})
	}

	var (
		seen       bitset.BitSet
		candidates []int32
	)

	for queue.Len() > 0 && len(candidates) < searchK {
		item := heap.Pop(&queue).(pqItem)
		n := idx.trees[item.tree][item.node]

		if n.SplitBit < 0 {
			for _, pos := range n.Items {
				if seen.Test(uint(pos)) {
					continue
				}
				seen.Set(uint(pos))
				candidates = append(candidates, pos)
			}
			continue
		}

		matching, other := n.Zero, n.One
		if q.Test(int(n.SplitBit)) {
			matching, other = n.One, n.Zero
		}

		heap.Push(&queue, pqItem{tree: item.tree, node: matching, mismatches: item.mismatches})
		heap.Push(&queue, pqItem{tree: item.tree, node: other, mismatches: item.mismatches + 1})
	}

	results := make([]Result, 0, len(candidates))
	for _, pos := range candidates {
		results = append(results, Result{
			Key:      idx.keys[pos],
			Distance: q.Hamming(idx.vectors[pos]),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Key < results[j].Key
	})

	if len(results) > k {
		results = results[:k]
	}

	return results, nil
}
