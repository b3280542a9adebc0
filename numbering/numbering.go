// Package numbering assigns surrogate ids to a sorted stream of OTU
// observations. Scanning entries grouped by (marker, sequence), it folds
// them into three row kinds: one marker row per distinct marker, one
// nucleotide row per distinct (marker, sequence) pair, and one
// observation row per input entry. The fold is where deduplication
// happens; everything downstream keys off the ids assigned here.
package numbering

import (
	"github.com/hupe1980/seqdb/otu"
)

// Marker is a distinct marker gene with its surrogate id.
type Marker struct {
	ID   int64
	Name string
}

// Nucleotide is a distinct (marker, sequence) pair. ID is the global
// sequence id, unique across all markers and strictly increasing in scan
// order. MarkerWiseID restarts at 1 for each marker and increments once
// per distinct sequence within it.
type Nucleotide struct {
	ID           int64
	MarkerID     int64
	Sequence     string
	MarkerWiseID int64
}

// Observation is one input entry rewritten against surrogate ids.
type Observation struct {
	ID         int64
	SampleName string
	Count      int64
	Coverage   float64
	Taxonomy   string
	MarkerID   int64
	SequenceID int64
}

// Sink receives rows as the fold emits them. Implementations are
// expected to persist rows in emission order.
type Sink interface {
	PutMarker(m Marker) error
	PutNucleotide(n Nucleotide) error
	PutObservation(o Observation) error
}

// Assigner folds sorted entries into numbered rows.
//
// The input contract is that entries arrive sorted by (marker, sequence).
// The assigner does not validate this: out-of-order input silently
// produces duplicate surrogate ids, which is the caller's bug to avoid.
type Assigner struct {
	sink Sink

	lastMarker   string
	lastSequence string

	markerID      int64
	sequenceID    int64
	markerWiseID  int64
	observationID int64
}

// NewAssigner creates an Assigner emitting into sink.
func NewAssigner(sink Sink) *Assigner {
	return &Assigner{sink: sink}
}

// Add folds one entry. All ids are 1-based.
func (a *Assigner) Add(e otu.Entry) error {
	switch {
	case a.observationID == 0 || e.Marker != a.lastMarker:
		a.markerID++
		a.sequenceID++
		a.markerWiseID = 1
		a.lastMarker = e.Marker
		a.lastSequence = e.Sequence

		if err := a.sink.PutMarker(Marker{ID: a.markerID, Name: e.Marker}); err != nil {
			return err
		}
		if err := a.putNucleotide(e.Sequence); err != nil {
			return err
		}
	case e.Sequence != a.lastSequence:
		a.sequenceID++
		a.markerWiseID++
		a.lastSequence = e.Sequence

		if err := a.putNucleotide(e.Sequence); err != nil {
			return err
		}
	}

	a.observationID++

	return a.sink.PutObservation(Observation{
		ID:         a.observationID,
		SampleName: e.SampleName,
		Count:      e.Count,
		Coverage:   e.Coverage,
		Taxonomy:   e.Taxonomy,
		MarkerID:   a.markerID,
		SequenceID: a.sequenceID,
	})
}

func (a *Assigner) putNucleotide(seq string) error {
	return a.sink.PutNucleotide(Nucleotide{
		ID:           a.sequenceID,
		MarkerID:     a.markerID,
		Sequence:     seq,
		MarkerWiseID: a.markerWiseID,
	})
}

// Markers returns the number of distinct markers seen so far.
func (a *Assigner) Markers() int64 { return a.markerID }

// Sequences returns the number of distinct (marker, sequence) pairs seen
// so far.
func (a *Assigner) Sequences() int64 { return a.sequenceID }

// Observations returns the number of entries folded so far.
func (a *Assigner) Observations() int64 { return a.observationID }
