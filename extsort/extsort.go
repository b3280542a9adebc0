// Package extsort sorts arbitrarily large sets of byte lines in
// lexicographic order while keeping memory bounded. Lines are buffered
// up to a configurable size, sorted runs are spilled to zstd-compressed
// temporary files by a bounded worker pool, and the sorted stream is
// produced by a k-way merge over the runs. Database construction relies
// on this to group observations by (marker, sequence) before numbering.
package extsort

import (
	"bufio"
	"bytes"
	"container/heap"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
)

// ErrSortStarted is returned when Append is called after Sort.
var ErrSortStarted = errors.New("sort already started")

// Options represents the options for configuring a Sorter.
type Options struct {
	// BufferSize is the approximate number of buffered line bytes that
	// triggers a spill to disk.
	BufferSize int

	// Parallelism bounds the number of concurrent spill workers.
	Parallelism int

	// TempDir is the directory run files are created in.
	TempDir string
}

// DefaultOptions holds the default Sorter configuration.
var DefaultOptions = Options{
	BufferSize:  64 * 1024 * 1024,
	Parallelism: 8,
	TempDir:     "",
}

// Sorter accumulates lines and produces them in non-decreasing byte
// order. It is single-use: Append until done, Sort once, then Close.
// Sorter is not safe for concurrent Append.
type Sorter struct {
	opts Options

	buf      [][]byte
	bufBytes int

	dir     string
	runs    []string
	nextRun int

	group *errgroup.Group

	started bool
}

// New creates a new Sorter.
func New(optFns ...func(o *Options)) *Sorter {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions.BufferSize
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultOptions.Parallelism
	}

	g := &errgroup.Group{}
	g.SetLimit(opts.Parallelism)

	return &Sorter{
		opts:  opts,
		group: g,
	}
}

// Append adds one line. The contents are copied, so the caller may reuse
// the slice.
func (s *Sorter) Append(line []byte) error {
	if s.started {
		return ErrSortStarted
	}

	cp := make([]byte, len(line))
	copy(cp, line)

	s.buf = append(s.buf, cp)
	s.bufBytes += len(cp)

	if s.bufBytes >= s.opts.BufferSize {
		return s.spill()
	}

	return nil
}

// spill hands the current buffer to a worker that sorts it and writes a
// compressed run file.
func (s *Sorter) spill() error {
	if s.dir == "" {
		dir, err := os.MkdirTemp(s.opts.TempDir, "extsort-*")
		if err != nil {
			return fmt.Errorf("failed to create temp dir: %w", err)
		}
		s.dir = dir
	}

	lines := s.buf
	s.buf = nil
	s.bufBytes = 0

	path := filepath.Join(s.dir, fmt.Sprintf("run-%06d.zst", s.nextRun))
	s.nextRun++
	s.runs = append(s.runs, path)

	s.group.Go(func() error {
		return writeRun(path, lines)
	})

	return nil
}

// Sort finishes accumulation and returns the merged stream. Iteration
// yields lines in non-decreasing byte order; any worker or read failure
// is yielded once as a non-nil error and terminates the stream.
func (s *Sorter) Sort(ctx context.Context) (iter.Seq2[[]byte, error], error) {
	s.started = true

	// Fast path: everything fits in memory, no run files were written.
	if len(s.runs) == 0 {
		lines := s.buf
		s.buf = nil
		sortLines(lines)

		return func(yield func([]byte, error) bool) {
			for _, line := range lines {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}
				if !yield(line, nil) {
					return
				}
			}
		}, nil
	}

	// Spill the tail so that the merge only deals with run files.
	if len(s.buf) > 0 {
		if err := s.spill(); err != nil {
			return nil, err
		}
	}

	if err := s.group.Wait(); err != nil {
		return nil, fmt.Errorf("failed to sort run: %w", err)
	}

	readers := make([]*runReader, 0, len(s.runs))
	ok := false

	defer func() {
		if !ok {
			for _, r := range readers {
				r.Close()
			}
		}
	}()

	for _, path := range s.runs {
		r, err := openRun(path)
		if err != nil {
			return nil, err
		}
		readers = append(readers, r)
	}

	ok = true

	return mergeRuns(ctx, readers), nil
}

// Close removes all temporary run files.
func (s *Sorter) Close() error {
	// Workers may still hold file handles.
	_ = s.group.Wait()

	if s.dir == "" {
		return nil
	}

	return os.RemoveAll(s.dir)
}

func sortLines(lines [][]byte) {
	sort.Slice(lines, func(i, j int) bool {
		return bytes.Compare(lines[i], lines[j]) < 0
	})
}

// writeRun sorts lines and writes them as length-prefixed records into a
// zstd stream.
func writeRun(path string, lines [][]byte) error {
	sortLines(lines)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create run file: %w", err)
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to create compressor: %w", err)
	}

	w := bufio.NewWriterSize(enc, 256*1024)

	var lenBuf [binary.MaxVarintLen64]byte
	for _, line := range lines {
		n := binary.PutUvarint(lenBuf[:], uint64(len(line)))
		if _, err := w.Write(lenBuf[:n]); err != nil {
			_ = enc.Close()
			_ = f.Close()
			return fmt.Errorf("failed to write run: %w", err)
		}
		if _, err := w.Write(line); err != nil {
			_ = enc.Close()
			_ = f.Close()
			return fmt.Errorf("failed to write run: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		_ = enc.Close()
		_ = f.Close()
		return fmt.Errorf("failed to flush run: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to close compressor: %w", err)
	}

	return f.Close()
}

// runReader streams one sorted run file.
type runReader struct {
	f   *os.File
	dec *zstd.Decoder
	br  *bufio.Reader

	head []byte
	done bool
}

func openRun(path string) (*runReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run file: %w", err)
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create decompressor: %w", err)
	}

	r := &runReader{
		f:   f,
		dec: dec,
		br:  bufio.NewReaderSize(dec, 256*1024),
	}

	if err := r.advance(); err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

// advance reads the next record into head, setting done at end of run.
func (r *runReader) advance() error {
	n, err := binary.ReadUvarint(r.br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.done = true
			r.head = nil
			return nil
		}
		return fmt.Errorf("failed to read run: %w", err)
	}

	head := make([]byte, n)
	if _, err := io.ReadFull(r.br, head); err != nil {
		return fmt.Errorf("failed to read run: %w", err)
	}

	r.head = head

	return nil
}

func (r *runReader) Close() {
	r.dec.Close()
	_ = r.f.Close()
}

// Compile time check to ensure runHeap satisfies the heap interface.
var _ heap.Interface = (*runHeap)(nil)

// runHeap is a min-heap of run readers ordered by their head line.
type runHeap []*runReader

func (h runHeap) Len() int           { return len(h) }
func (h runHeap) Less(i, j int) bool { return bytes.Compare(h[i].head, h[j].head) < 0 }
func (h runHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *runHeap) Push(x any)        { *h = append(*h, x.(*runReader)) }

func (h *runHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return item
}

// mergeRuns yields the k-way merge of the given runs. Readers are closed
// when iteration finishes.
func mergeRuns(ctx context.Context, readers []*runReader) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		defer func() {
			for _, r := range readers {
				r.Close()
			}
		}()

		h := make(runHeap, 0, len(readers))
		for _, r := range readers {
			if !r.done {
				h = append(h, r)
			}
		}
		heap.Init(&h)

		for h.Len() > 0 {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			r := h[0]
			line := r.head

			if err := r.advance(); err != nil {
				yield(nil, err)
				return
			}

			if r.done {
				heap.Pop(&h)
			} else {
				heap.Fix(&h, 0)
			}

			if !yield(line, nil) {
				return
			}
		}
	}
}
