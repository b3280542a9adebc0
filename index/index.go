// Package index builds and serves the per-marker sequence indexes of a
// database: a Hamming-space graph over nucleotide windows, another over
// their translations, and a random-split forest keyed by marker-local
// ids. The Builder produces the on-disk artifacts from an OTU store;
// Registry maps marker names to artifacts and loads them lazily.
package index

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Directory and file naming of the index artifacts inside a database.
const (
	NucleotideDir = "nucleotide_indices"
	ProteinDir    = "protein_indices"
	ForestDir     = "nucleotide_indices_annoy"

	HammingSuffix = ".nmslib_index"
	ForestSuffix  = ".annoy_index"
)

// ErrNotFound is returned when no index is registered for a marker.
var ErrNotFound = errors.New("no index for marker")

// Registry maps marker names to index artifacts on disk. Artifacts are
// loaded on first use and memoized; a Registry is safe for concurrent
// use.
type Registry[T any] struct {
	mu     sync.Mutex
	paths  map[string]string
	loaded map[string]T
	load   func(path string) (T, error)
}

// NewRegistry creates a registry that opens artifacts with load.
func NewRegistry[T any](load func(path string) (T, error)) *Registry[T] {
	return &Registry[T]{
		paths:  make(map[string]string),
		loaded: make(map[string]T),
		load:   load,
	}
}

// Register maps a marker name to an artifact path. Registering a marker
// again replaces the path and drops any loaded instance.
func (r *Registry[T]) Register(marker, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.paths[marker] = path
	delete(r.loaded, marker)
}

// Len returns the number of registered markers.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.paths)
}

// Markers returns the registered marker names in sorted order.
func (r *Registry[T]) Markers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	markers := make([]string, 0, len(r.paths))
	for marker := range r.paths {
		markers = append(markers, marker)
	}

	sort.Strings(markers)

	return markers
}

// Get returns the index for marker, loading its artifact on first use.
// Unregistered markers yield ErrNotFound.
func (r *Registry[T]) Get(marker string) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.loaded[marker]; ok {
		return idx, nil
	}

	path, ok := r.paths[marker]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}

	idx, err := r.load(path)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to load index for marker %s: %w", marker, err)
	}

	r.loaded[marker] = idx

	return idx, nil
}
