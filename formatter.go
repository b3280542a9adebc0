package seqdb

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// QueryDefinition names the queries behind a set of results, optionally
// carrying the query sequences themselves.
type QueryDefinition struct {
	names     []string
	sequences []string
}

// NamedQueries defines queries identified by name only.
func NamedQueries(names []string) *QueryDefinition {
	return &QueryDefinition{names: names}
}

// NameSequenceQueries defines queries identified by name and sequence.
// Both slices must have the same length.
func NameSequenceQueries(names, sequences []string) *QueryDefinition {
	return &QueryDefinition{names: names, sequences: sequences}
}

func (d *QueryDefinition) headerFields() []string {
	if d.sequences != nil {
		return []string{"query_name", "query_sequence"}
	}

	return []string{"query_name"}
}

func (d *QueryDefinition) queryFields(i int) []string {
	if d.sequences != nil {
		return []string{d.names[i], d.sequences[i]}
	}

	return []string{d.names[i]}
}

// SparseResultFormatter writes query results as a tab-separated table,
// one row per hit, each query's block sorted by ascending divergence.
type SparseResultFormatter struct {
	def     *QueryDefinition
	results [][]QueryResult
}

// NewSparseResultFormatter pairs a query definition with one result list
// per query.
func NewSparseResultFormatter(def *QueryDefinition, results [][]QueryResult) *SparseResultFormatter {
	return &SparseResultFormatter{
		def:     def,
		results: results,
	}
}

// Write emits the header and result rows to w.
func (f *SparseResultFormatter) Write(w io.Writer) error {
	if len(f.results) != len(f.def.names) {
		return fmt.Errorf("seqdb: %d queries defined but %d result lists given", len(f.def.names), len(f.results))
	}
	if f.def.sequences != nil && len(f.def.sequences) != len(f.def.names) {
		return fmt.Errorf("seqdb: %d queries defined but %d query sequences given", len(f.def.names), len(f.def.sequences))
	}

	bw := bufio.NewWriter(w)

	header := append(f.def.headerFields(),
		"divergence", "num_hits", "sample", "marker", "hit_sequence", "taxonomy")
	if _, err := bw.WriteString(strings.Join(header, "\t") + "\n"); err != nil {
		return fmt.Errorf("seqdb: failed to write header: %w", err)
	}

	for i, hits := range f.results {
		block := make([]QueryResult, len(hits))
		copy(block, hits)
		sort.SliceStable(block, func(a, b int) bool {
			return block[a].Divergence < block[b].Divergence
		})

		for _, hit := range block {
			fields := append(f.def.queryFields(i),
				strconv.Itoa(hit.Divergence),
				strconv.FormatInt(hit.Record.Count, 10),
				hit.Record.SampleName,
				hit.Record.Marker,
				hit.Record.Sequence,
				hit.Record.Taxonomy,
			)
			if _, err := bw.WriteString(strings.Join(fields, "\t") + "\n"); err != nil {
				return fmt.Errorf("seqdb: failed to write result row: %w", err)
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("seqdb: failed to flush results: %w", err)
	}

	return nil
}
