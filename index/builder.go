package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hupe1980/seqdb/encoding"
	"github.com/hupe1980/seqdb/index/forest"
	"github.com/hupe1980/seqdb/index/hamming"
	"github.com/hupe1980/seqdb/numbering"
	"github.com/hupe1980/seqdb/persistence"
	"github.com/hupe1980/seqdb/store"
)

// BuildOptions represents the options for building index artifacts.
type BuildOptions struct {
	// NumTrees fixes the forest size per marker. Zero derives the count
	// from the number of sequences, one tree per ten and at least one.
	NumTrees int

	// Compression selects the artifact codec.
	Compression persistence.Compression

	// Logger receives build progress.
	Logger *slog.Logger
}

// DefaultBuildOptions holds the default build configuration.
var DefaultBuildOptions = BuildOptions{
	Compression: persistence.CompressionZstd,
}

// Builder writes the three per-marker index families of a database:
// the nucleotide Hamming graphs, the protein Hamming graphs, and the
// nucleotide forests. Markers are processed sequentially in id order.
type Builder struct {
	store *store.Store
	base  string
	opts  BuildOptions
}

// NewBuilder creates a builder writing artifacts under the database
// directory base, reading sequences from s.
func NewBuilder(s *store.Store, base string, optFns ...func(o *BuildOptions)) *Builder {
	opts := DefaultBuildOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Builder{
		store: s,
		base:  base,
		opts:  opts,
	}
}

// backend is one index artifact under construction for a single marker.
type backend interface {
	Add(key int64, seq string) error
	Len() int
	Build() error
	Save(path string) error
}

// phase describes one index family: where its artifacts live, how a
// backend for a marker is opened, and which rows feed it.
type phase struct {
	label  string
	dir    string
	suffix string
	open   func(ctx context.Context, m numbering.Marker) (backend, error)
	scan   func(ctx context.Context, m numbering.Marker, add func(key int64, seq string) error) error
}

// Run builds all three index families. Any failure aborts the run.
func (b *Builder) Run(ctx context.Context) error {
	markers, err := b.store.Markers(ctx)
	if err != nil {
		return err
	}

	phases := []phase{
		b.nucleotidePhase(),
		b.proteinPhase(),
		b.forestPhase(),
	}

	for _, p := range phases {
		if err := b.runPhase(ctx, p, markers); err != nil {
			return err
		}
	}

	return nil
}

func (b *Builder) runPhase(ctx context.Context, p phase, markers []numbering.Marker) error {
	b.opts.Logger.Info("creating sequence indices", "kind", p.label)

	dir := filepath.Join(b.base, p.dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	for _, m := range markers {
		if err := ctx.Err(); err != nil {
			return err
		}

		b.opts.Logger.Info("tabulating sequences", "kind", p.label, "marker", m.Name)

		be, err := p.open(ctx, m)
		if err != nil {
			return err
		}

		if err := p.scan(ctx, m, be.Add); err != nil {
			return fmt.Errorf("failed to index marker %s: %w", m.Name, err)
		}

		b.opts.Logger.Info("building index", "kind", p.label, "marker", m.Name, "count", be.Len())

		if err := be.Build(); err != nil {
			return fmt.Errorf("failed to build %s index for marker %s: %w", p.label, m.Name, err)
		}

		path := filepath.Join(dir, m.Name+p.suffix)
		if err := be.Save(path); err != nil {
			return fmt.Errorf("failed to save %s index for marker %s: %w", p.label, m.Name, err)
		}

		b.opts.Logger.Debug("wrote index", "kind", p.label, "marker", m.Name, "path", path)
	}

	return nil
}

// nucleotidePhase indexes every nucleotide window of a marker, keyed by
// global sequence id.
func (b *Builder) nucleotidePhase() phase {
	return phase{
		label:  "nucleotide",
		dir:    NucleotideDir,
		suffix: HammingSuffix,
		open: func(_ context.Context, _ numbering.Marker) (backend, error) {
			return &hammingBackend{
				idx: hamming.New(),
				encode: func(seq string) (encoding.BitVector, error) {
					return encoding.Nucleotide(seq), nil
				},
				codec: b.opts.Compression,
			}, nil
		},
		scan: func(ctx context.Context, m numbering.Marker, add func(key int64, seq string) error) error {
			for n, err := range b.store.NucleotidesByMarker(ctx, m.ID) {
				if err != nil {
					return err
				}
				if err := add(n.ID, n.Sequence); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

// proteinPhase indexes the distinct translated sequences of a marker,
// keyed by the smallest protein id sharing the sequence.
func (b *Builder) proteinPhase() phase {
	return phase{
		label:  "protein",
		dir:    ProteinDir,
		suffix: HammingSuffix,
		open: func(_ context.Context, _ numbering.Marker) (backend, error) {
			return &hammingBackend{
				idx:    hamming.New(),
				encode: encoding.Protein,
				codec:  b.opts.Compression,
			}, nil
		},
		scan: func(ctx context.Context, m numbering.Marker, add func(key int64, seq string) error) error {
			for p, err := range b.store.DistinctProteins(ctx, m.ID) {
				if err != nil {
					return err
				}
				if err := add(p.ID, p.Sequence); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

// forestPhase indexes every nucleotide window of a marker in the forest,
// keyed by marker-local id. The forest dimensionality comes from the
// marker's first sequence; windows of any other length fail the build.
func (b *Builder) forestPhase() phase {
	return phase{
		label:  "forest",
		dir:    ForestDir,
		suffix: ForestSuffix,
		open: func(ctx context.Context, m numbering.Marker) (backend, error) {
			rep, err := b.store.RepresentativeNucleotide(ctx, m.ID)
			if err != nil {
				return nil, err
			}

			dim := len(rep.Sequence) * encoding.NucleotideAlphabetSize

			return &forestBackend{
				idx:      forest.New(dim),
				numTrees: b.opts.NumTrees,
				codec:    b.opts.Compression,
			}, nil
		},
		scan: func(ctx context.Context, m numbering.Marker, add func(key int64, seq string) error) error {
			for n, err := range b.store.NucleotidesByMarker(ctx, m.ID) {
				if err != nil {
					return err
				}
				if err := add(n.MarkerWiseID, n.Sequence); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

// Compile time checks to ensure both index types satisfy backend.
var (
	_ backend = (*hammingBackend)(nil)
	_ backend = (*forestBackend)(nil)
)

type hammingBackend struct {
	idx    *hamming.Index
	encode func(seq string) (encoding.BitVector, error)
	codec  persistence.Compression
}

func (b *hammingBackend) Add(key int64, seq string) error {
	vec, err := b.encode(seq)
	if err != nil {
		return err
	}

	return b.idx.Add(key, seq, vec)
}

func (b *hammingBackend) Len() int {
	return b.idx.Len()
}

func (b *hammingBackend) Build() error {
	return b.idx.Build()
}

func (b *hammingBackend) Save(path string) error {
	return b.idx.Save(path, b.codec)
}

type forestBackend struct {
	idx      *forest.Index
	numTrees int
	codec    persistence.Compression
}

func (b *forestBackend) Add(key int64, seq string) error {
	return b.idx.AddItem(key, encoding.Nucleotide(seq).BitList())
}

func (b *forestBackend) Len() int {
	return b.idx.Len()
}

func (b *forestBackend) Build() error {
	trees := b.numTrees
	if trees < 1 {
		trees = b.idx.Len() / 10
		if trees < 1 {
			trees = 1
		}
	}

	return b.idx.Build(trees)
}

func (b *forestBackend) Save(path string) error {
	return b.idx.Save(path, b.codec)
}
