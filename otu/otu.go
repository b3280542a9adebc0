// Package otu defines the OTU observation record exchanged with the
// sequence database: one windowed marker-gene sequence observed in one
// sample, together with its abundance and taxonomy annotation. It also
// provides the canonical tab-separated reader and writer used by the
// database dump format.
package otu

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
)

// Header is the canonical column order of the flat OTU record format.
var Header = []string{"marker", "sample_name", "sequence", "count", "coverage", "taxonomy"}

// Entry is a single observation: a marker-gene window sequence seen in a
// sample, with read count, estimated coverage and a taxonomy string.
type Entry struct {
	Marker     string
	SampleName string
	Sequence   string
	Count      int64
	Coverage   float64
	Taxonomy   string
}

// String renders the entry as one tab-separated record in canonical
// column order, without a trailing newline.
func (e Entry) String() string {
	return strings.Join([]string{
		e.Marker,
		e.SampleName,
		e.Sequence,
		strconv.FormatInt(e.Count, 10),
		strconv.FormatFloat(e.Coverage, 'f', -1, 64),
		e.Taxonomy,
	}, "\t")
}

// TaxonomyArray splits the taxonomy annotation into its levels.
// Levels are separated by "; " (semicolon plus space). An empty taxonomy
// yields a single empty level, matching the split semantics callers rely
// on for prefix comparison.
func (e Entry) TaxonomyArray() []string {
	return SplitTaxonomy(e.Taxonomy)
}

// WithinTaxonomy reports whether the entry's taxonomy lies within the
// target clade, i.e. whether target is a level-wise prefix of the entry's
// taxonomy array.
func (e Entry) WithinTaxonomy(target []string) bool {
	levels := e.TaxonomyArray()
	if len(target) > len(levels) {
		return false
	}

	for i, t := range target {
		if levels[i] != t {
			return false
		}
	}

	return true
}

// SplitTaxonomy splits a "; "-separated taxonomy string into levels.
func SplitTaxonomy(taxonomy string) []string {
	return strings.Split(taxonomy, "; ")
}

// Writer emits entries in the canonical tab-separated format.
type Writer struct {
	w             *bufio.Writer
	headerWritten bool
}

// NewWriter creates a Writer on top of w. The canonical header line is
// emitted before the first record.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w: bufio.NewWriterSize(w, 64*1024),
	}
}

// Write appends one record, emitting the header first if needed.
func (w *Writer) Write(e Entry) error {
	if !w.headerWritten {
		if _, err := w.w.WriteString(strings.Join(Header, "\t") + "\n"); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		w.headerWritten = true
	}

	if _, err := w.w.WriteString(e.String() + "\n"); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	return nil
}

// Flush flushes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Reader parses the canonical tab-separated format. A leading header line
// matching the canonical column names is skipped.
type Reader struct {
	r *bufio.Scanner
}

// NewReader creates a Reader on top of r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &Reader{r: sc}
}

// Entries iterates over the records in input order. Iteration stops at
// the first malformed line, yielding the zero Entry together with the
// parse error.
func (r *Reader) Entries() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		header := strings.Join(Header, "\t")
		lineno := 0

		for r.r.Scan() {
			lineno++
			line := r.r.Text()

			if lineno == 1 && line == header {
				continue
			}
			if line == "" {
				continue
			}

			entry, err := ParseLine(line)
			if err != nil {
				yield(Entry{}, fmt.Errorf("line %d: %w", lineno, err))
				return
			}

			if !yield(entry, nil) {
				return
			}
		}

		if err := r.r.Err(); err != nil {
			yield(Entry{}, fmt.Errorf("failed to read input: %w", err))
		}
	}
}

// ParseLine parses a single tab-separated record in canonical column order.
func ParseLine(line string) (Entry, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != len(Header) {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", len(Header), len(fields))
	}

	count, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid count %q: %w", fields[3], err)
	}

	coverage, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid coverage %q: %w", fields[4], err)
	}

	return Entry{
		Marker:     fields[0],
		SampleName: fields[1],
		Sequence:   fields[2],
		Count:      count,
		Coverage:   coverage,
		Taxonomy:   fields[5],
	}, nil
}
