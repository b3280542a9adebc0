// Package hamming implements the per-marker sequence index: a
// hierarchical navigable small world graph over one-hot bit vectors with
// integer Hamming distance. The lifecycle mirrors how the database uses
// it: add every data point, build once, save to an artifact file, then
// serve k-nearest-neighbour queries read-only.
package hamming

import (
	"container/heap"
	"errors"
	"math"
	"math/rand"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/seqdb/encoding"
)

var (
	// ErrNotBuilt is returned when querying or saving an index that has
	// not been built yet.
	ErrNotBuilt = errors.New("index not built")

	// ErrAlreadyBuilt is returned when adding to or rebuilding a built
	// index. Indexes are immutable once built.
	ErrAlreadyBuilt = errors.New("index already built")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")
)

// Options represents the options for configuring the index.
type Options struct {
	// M specifies the number of established connections for every new
	// element during construction. Higher M improves recall on
	// high-dimensional data at the cost of memory and build time.
	M int

	// EFConstruction is the size of the dynamic candidate list during
	// construction.
	EFConstruction int

	// EF is the default size of the dynamic candidate list during
	// search. Queries may override it per call.
	EF int

	// RandSeed seeds layer assignment so that builds are reproducible.
	RandSeed int64
}

// DefaultOptions holds the default index configuration.
var DefaultOptions = Options{
	M:              16,
	EFConstruction: 200,
	EF:             200,
	RandSeed:       1,
}

// node is one data point in the graph. Fields are exported for gob
// serialization inside artifacts.
type node struct {
	Key         int64
	Sequence    string
	Vector      encoding.BitVector
	Layer       int
	Connections [][]uint32
}

// Result is one query hit.
type Result struct {
	Key      int64
	Distance int
}

// SearchOptions represents the per-query options.
type SearchOptions struct {
	// EF overrides the search breadth. Values below k are raised to k.
	EF int

	// Filter restricts hits to keys it accepts. The graph is still
	// traversed through non-matching nodes, so reachability is not
	// affected.
	Filter func(key int64) bool
}

// Index is a Hamming-space HNSW over bit vectors.
//
// An Index is not safe for concurrent use while points are added or the
// graph is built. Once built it is immutable and any number of
// goroutines may query it concurrently.
type Index struct {
	opts Options

	mmax     int     // Max number of connections per element per layer
	mmax0    int     // Max for the 0 layer
	ml       float64 // Normalization factor for level generation
	ep       uint32  // Entry point into the top layer
	maxLevel int

	nodes    []*node
	keyIndex map[int64]uint32

	rng   *rand.Rand
	built bool
}

// New creates a new empty index.
func New(optFns ...func(o *Options)) *Index {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M < 2 {
		// 1 / log(M) is undefined at M == 1
		opts.M = 2
	}

	return &Index{
		opts:     opts,
		mmax:     opts.M,
		mmax0:    2 * opts.M,
		ml:       1 / math.Log(float64(opts.M)),
		keyIndex: make(map[int64]uint32),
		rng:      rand.New(rand.NewSource(opts.RandSeed)),
	}
}

// Add registers a data point: an external key, the residue sequence it
// stands for and its bit vector. Points can only be added before Build.
func (idx *Index) Add(key int64, sequence string, vector encoding.BitVector) error {
	if idx.built {
		return ErrAlreadyBuilt
	}

	idx.keyIndex[key] = uint32(len(idx.nodes))
	idx.nodes = append(idx.nodes, &node{
		Key:      key,
		Sequence: sequence,
		Vector:   vector,
	})

	return nil
}

// Len returns the number of data points.
func (idx *Index) Len() int {
	return len(idx.nodes)
}

// Sequence returns the residue sequence stored for a key.
func (idx *Index) Sequence(key int64) (string, bool) {
	pos, ok := idx.keyIndex[key]
	if !ok {
		return "", false
	}

	return idx.nodes[pos].Sequence, true
}

// Build constructs the graph over all added points. After Build the
// index is immutable.
func (idx *Index) Build() error {
	if idx.built {
		return ErrAlreadyBuilt
	}

	for i := range idx.nodes {
		idx.insert(uint32(i))
	}

	idx.built = true

	return nil
}

// KNNQuery returns the k nearest data points to q in ascending Hamming
// distance.
func (idx *Index) KNNQuery(q encoding.BitVector, k int, optFns ...func(o *SearchOptions)) ([]Result, error) {
	if !idx.built {
		return nil, ErrNotBuilt
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}

	sopts := SearchOptions{EF: idx.opts.EF}
	for _, fn := range optFns {
		fn(&sopts)
	}

	if len(idx.nodes) == 0 {
		return nil, nil
	}

	ef := sopts.EF
	if ef < k {
		ef = k
	}

	epNode, epDist := idx.findEntryPoint(q)

	topCandidates := &priorityQueue{}
	idx.searchLayer(q, &priorityQueueItem{Distance: epDist, Node: epNode}, topCandidates, ef, 0, sopts.Filter)

	for topCandidates.Len() > k {
		_ = heap.Pop(topCandidates)
	}

	results := make([]Result, topCandidates.Len())
	for i := topCandidates.Len() - 1; i >= 0; i-- {
		item, _ := heap.Pop(topCandidates).(*priorityQueueItem)
		results[i] = Result{Key: idx.nodes[item.Node].Key, Distance: item.Distance}
	}

	return results, nil
}

// BruteSearch returns the exact k nearest data points by scanning every
// node. It exists as a correctness reference for the graph search.
func (idx *Index) BruteSearch(q encoding.BitVector, k int) ([]Result, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}

	topCandidates := &priorityQueue{Order: true}
	heap.Init(topCandidates)

	for i, n := range idx.nodes {
		d := q.Hamming(n.Vector)

		if topCandidates.Len() < k {
			heap.Push(topCandidates, &priorityQueueItem{Node: uint32(i), Distance: d})
			continue
		}

		if d < topCandidates.Top().Distance {
			heap.Pop(topCandidates)
			heap.Push(topCandidates, &priorityQueueItem{Node: uint32(i), Distance: d})
		}
	}

	results := make([]Result, topCandidates.Len())
	for i := topCandidates.Len() - 1; i >= 0; i-- {
		item, _ := heap.Pop(topCandidates).(*priorityQueueItem)
		results[i] = Result{Key: idx.nodes[item.Node].Key, Distance: item.Distance}
	}

	return results, nil
}

func (idx *Index) distance(a, b encoding.BitVector) int {
	return a.Hamming(b)
}

func (idx *Index) randomLevel() int {
	u := 1 - idx.rng.Float64()

	return int(math.Floor(-math.Log(u) * idx.ml))
}

// insert links node id into the graph.
func (idx *Index) insert(id uint32) {
	n := idx.nodes[id]
	n.Layer = idx.randomLevel()
	n.Connections = make([][]uint32, n.Layer+1)

	// The first node seeds the graph.
	if id == 0 {
		idx.ep = 0
		idx.maxLevel = n.Layer
		return
	}

	// Find the single shortest path from the layers above our node,
	// which will be our starting point.
	currObj, currDist := idx.findShortestPath(n.Vector, n.Layer)

	// For all levels equal and below our node, find the closest
	// candidates and link both ways.
	for level := min(n.Layer, idx.maxLevel); level >= 0; level-- {
		topCandidates := &priorityQueue{}
		idx.searchLayer(n.Vector, &priorityQueueItem{Distance: currDist, Node: currObj}, topCandidates, idx.opts.EFConstruction, level, nil)

		idx.selectNeighboursHeuristic(topCandidates, idx.opts.M, false)

		n.Connections[level] = make([]uint32, topCandidates.Len())
		for i := topCandidates.Len() - 1; i >= 0; i-- {
			candidate, _ := heap.Pop(topCandidates).(*priorityQueueItem)
			n.Connections[level][i] = candidate.Node
		}
	}

	for level := min(n.Layer, idx.maxLevel); level >= 0; level-- {
		for _, neighbour := range n.Connections[level] {
			idx.link(neighbour, id, level)
		}
	}

	if n.Layer > idx.maxLevel {
		idx.ep = id
		idx.maxLevel = n.Layer
	}
}

// findShortestPath greedily descends from the entry point to targetLayer+1.
func (idx *Index) findShortestPath(v encoding.BitVector, targetLayer int) (uint32, int) {
	currNode := idx.ep
	currDist := idx.distance(v, idx.nodes[currNode].Vector)

	for level := idx.nodes[idx.ep].Layer; level > targetLayer; level-- {
		changed := true
		for changed {
			changed = false

			for _, id := range idx.nodes[currNode].Connections[level] {
				if d := idx.distance(v, idx.nodes[id].Vector); d < currDist {
					currNode = id
					currDist = d
					changed = true
				}
			}
		}
	}

	return currNode, currDist
}

// findEntryPoint greedily descends to layer 1, returning the best entry
// into the bottom layer for a query.
func (idx *Index) findEntryPoint(q encoding.BitVector) (uint32, int) {
	currNode := idx.ep
	currDist := idx.distance(q, idx.nodes[currNode].Vector)

	for level := idx.maxLevel; level > 0; level-- {
		scan := true
		for scan {
			scan = false

			for _, id := range idx.nodes[currNode].Connections[level] {
				if d := idx.distance(q, idx.nodes[id].Vector); d < currDist {
					currNode = id
					currDist = d
					scan = true
				}
			}
		}
	}

	return currNode, currDist
}

// searchLayer performs a best-first search in one layer. Results
// accumulate in topCandidates as a max-heap of at most ef items. A
// non-nil filter gates which nodes may enter the results; traversal
// still passes through rejected nodes.
func (idx *Index) searchLayer(q encoding.BitVector, ep *priorityQueueItem, topCandidates *priorityQueue, ef, level int, filter func(int64) bool) {
	var visited bitset.BitSet
	visited.Set(uint(ep.Node))

	candidates := &priorityQueue{Order: false}
	heap.Init(candidates)
	heap.Push(candidates, ep)

	topCandidates.Order = true // max-heap
	heap.Init(topCandidates)
	if filter == nil || filter(idx.nodes[ep.Node].Key) {
		heap.Push(topCandidates, ep)
	}

	for candidates.Len() > 0 {
		if topCandidates.Len() >= ef && candidates.Top().Distance > topCandidates.Top().Distance {
			break
		}

		candidate, _ := heap.Pop(candidates).(*priorityQueueItem)
		n := idx.nodes[candidate.Node]

		if len(n.Connections) <= level {
			continue
		}

		for _, next := range n.Connections[level] {
			if visited.Test(uint(next)) {
				continue
			}
			visited.Set(uint(next))

			d := idx.distance(q, idx.nodes[next].Vector)

			if topCandidates.Len() >= ef && d >= topCandidates.Top().Distance {
				continue
			}

			item := &priorityQueueItem{Distance: d, Node: next}
			heap.Push(candidates, item)

			if filter == nil || filter(idx.nodes[next].Key) {
				heap.Push(topCandidates, item)
				if topCandidates.Len() > ef {
					heap.Pop(topCandidates)
				}
			}
		}
	}
}

// selectNeighboursHeuristic prunes topCandidates to at most M diverse
// neighbours: a candidate is kept only if it is closer to the new node
// than to every neighbour already kept.
func (idx *Index) selectNeighboursHeuristic(topCandidates *priorityQueue, M int, order bool) {
	if topCandidates.Len() < M {
		return
	}

	newCandidates := &priorityQueue{}

	tmpCandidates := &priorityQueue{Order: order}
	heap.Init(tmpCandidates)

	items := make([]*priorityQueueItem, 0, M)

	if !order {
		// topCandidates is a max-heap; drain it into a min-heap so the
		// scan below sees candidates nearest first.
		newCandidates.Order = false
		heap.Init(newCandidates)

		for topCandidates.Len() > 0 {
			item, _ := heap.Pop(topCandidates).(*priorityQueueItem)
			heap.Push(newCandidates, item)
		}
	} else {
		newCandidates = topCandidates
	}

	for newCandidates.Len() > 0 {
		if len(items) >= M {
			break
		}

		item, _ := heap.Pop(newCandidates).(*priorityQueueItem)
		hit := true

		for _, v := range items {
			if idx.distance(idx.nodes[v.Node].Vector, idx.nodes[item.Node].Vector) < item.Distance {
				hit = false
				break
			}
		}

		if hit {
			items = append(items, item)
		} else {
			heap.Push(tmpCandidates, item)
		}
	}

	// Backfill from the rejected candidates if the diverse set came up
	// short.
	for len(items) < M && tmpCandidates.Len() > 0 {
		item, _ := heap.Pop(tmpCandidates).(*priorityQueueItem)
		items = append(items, item)
	}

	for _, item := range items {
		heap.Push(topCandidates, item)
	}
}

// link connects first back to second at the given level, pruning the
// neighbour list when it exceeds the per-layer connection limit.
func (idx *Index) link(first, second uint32, level int) {
	maxConnections := idx.mmax
	// The bottom layer allows double the connections.
	if level == 0 {
		maxConnections = idx.mmax0
	}

	n := idx.nodes[first]
	n.Connections[level] = append(n.Connections[level], second)

	if len(n.Connections[level]) > maxConnections {
		topCandidates := &priorityQueue{Order: false}
		heap.Init(topCandidates)

		for _, id := range n.Connections[level] {
			heap.Push(topCandidates, &priorityQueueItem{Node: id, Distance: idx.distance(n.Vector, idx.nodes[id].Vector)})
		}

		idx.selectNeighboursHeuristic(topCandidates, maxConnections, true)

		n.Connections[level] = make([]uint32, maxConnections)
		for i := maxConnections - 1; i >= 0; i-- {
			item, _ := heap.Pop(topCandidates).(*priorityQueueItem)
			n.Connections[level][i] = item.Node
		}
	}
}
