package otu

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryString(t *testing.T) {
	e := Entry{
		Marker:     "4.12.ribosomal_protein_L11_rplK",
		SampleName: "minimal",
		Sequence:   "GGTACTGGAACAGGCGCCGTAACGAAGGTGTATACGCCGATCAAGGCAAAGCAGGCTAAC",
		Count:      7,
		Coverage:   15.1,
		Taxonomy:   "Root; d__Bacteria; p__Firmicutes; c__Bacilli",
	}

	assert.Equal(t,
		"4.12.ribosomal_protein_L11_rplK\tminimal\tGGTACTGGAACAGGCGCCGTAACGAAGGTGTATACGCCGATCAAGGCAAAGCAGGCTAAC\t7\t15.1\tRoot; d__Bacteria; p__Firmicutes; c__Bacilli",
		e.String())
}

func TestWithinTaxonomy(t *testing.T) {
	e := Entry{Taxonomy: "Root; d__Bacteria; p__Firmicutes; c__Bacilli"}

	t.Run("prefix matches", func(t *testing.T) {
		assert.True(t, e.WithinTaxonomy([]string{"Root"}))
		assert.True(t, e.WithinTaxonomy([]string{"Root", "d__Bacteria"}))
		assert.True(t, e.WithinTaxonomy([]string{"Root", "d__Bacteria", "p__Firmicutes", "c__Bacilli"}))
	})

	t.Run("non-prefix does not match", func(t *testing.T) {
		assert.False(t, e.WithinTaxonomy([]string{"d__Bacteria"}))
		assert.False(t, e.WithinTaxonomy([]string{"Root", "d__Archaea"}))
	})

	t.Run("target deeper than taxonomy", func(t *testing.T) {
		assert.False(t, e.WithinTaxonomy([]string{"Root", "d__Bacteria", "p__Firmicutes", "c__Bacilli", "o__Bacillales"}))
	})

	t.Run("empty target matches everything", func(t *testing.T) {
		assert.True(t, e.WithinTaxonomy(nil))
	})
}

func TestSplitTaxonomy(t *testing.T) {
	assert.Equal(t, []string{"Root", "d__Bacteria"}, SplitTaxonomy("Root; d__Bacteria"))
	assert.Equal(t, []string{""}, SplitTaxonomy(""))
}

func TestWriterReaderRoundTrip(t *testing.T) {
	entries := []Entry{
		{Marker: "mA", SampleName: "s1", Sequence: "ATG", Count: 3, Coverage: 6.5, Taxonomy: "Root; d__Bacteria"},
		{Marker: "mA", SampleName: "s2", Sequence: "TTT", Count: 1, Coverage: 2, Taxonomy: "Root"},
		{Marker: "mB", SampleName: "s1", Sequence: "GCA", Count: 12, Coverage: 24.75, Taxonomy: "Root; d__Archaea"},
	}

	var buf bytes.Buffer

	w := NewWriter(&buf)
	for _, e := range entries {
		require.NoError(t, w.Write(e))
	}
	require.NoError(t, w.Flush())

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, len(entries)+1)
	assert.Equal(t, "marker\tsample_name\tsequence\tcount\tcoverage\ttaxonomy", lines[0])

	var got []Entry
	for e, err := range NewReader(&buf).Entries() {
		require.NoError(t, err)
		got = append(got, e)
	}

	assert.Equal(t, entries, got)
}

func TestReaderWithoutHeader(t *testing.T) {
	in := "mA\ts1\tATG\t3\t6.5\tRoot\n"

	var got []Entry
	for e, err := range NewReader(strings.NewReader(in)).Entries() {
		require.NoError(t, err)
		got = append(got, e)
	}

	require.Len(t, got, 1)
	assert.Equal(t, Entry{Marker: "mA", SampleName: "s1", Sequence: "ATG", Count: 3, Coverage: 6.5, Taxonomy: "Root"}, got[0])
}

func TestReaderMalformedLine(t *testing.T) {
	t.Run("wrong field count", func(t *testing.T) {
		var err error
		for _, e := range NewReader(strings.NewReader("mA\ts1\tATG\n")).Entries() {
			err = e
		}
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected 6 fields")
	})

	t.Run("bad count", func(t *testing.T) {
		var err error
		for _, e := range NewReader(strings.NewReader("mA\ts1\tATG\tx\t6.5\tRoot\n")).Entries() {
			err = e
		}
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid count")
	})
}
