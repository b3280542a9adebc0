// Package encoding turns residue sequences into fixed-width one-hot bit
// vectors so that sequence similarity becomes Hamming distance over bits.
// Two wire representations of the same pattern are supported: a
// space-delimited bit string and a flat bit list. Both decode to
// identical vectors, and for one-hot encodings of equal-length sequences
// the bit Hamming distance is exactly twice the character Hamming
// distance.
package encoding

import (
	"fmt"
	"math/bits"
	"strings"
)

const (
	// NucleotideAlphabetSize is the one-hot width per nucleotide base:
	// A, T, C, G and a shared slot for everything else.
	NucleotideAlphabetSize = 5

	// ProteinAlphabetSize is the one-hot width per protein residue.
	ProteinAlphabetSize = 22
)

// proteinAlphabet is the fixed residue order of the protein one-hot
// encoding. The trailing '-' and 'X' slots carry gap and untranslatable
// codons through from translation.
const proteinAlphabet = "WHQMKGAIFSLYTDERPVNC-X"

// ErrInvalidResidue indicates a protein residue outside the supported
// alphabet. Nucleotide encoding has no analogous failure: unknown bases
// share a dedicated slot instead.
type ErrInvalidResidue struct {
	Residue  byte
	Position int
}

func (e *ErrInvalidResidue) Error() string {
	return fmt.Sprintf("invalid protein residue %q at position %d", e.Residue, e.Position)
}

// BitVector is a packed bit pattern of a one-hot encoded sequence.
// Fields are exported for gob serialization inside index artifacts.
type BitVector struct {
	Words []uint64
	Bits  int
}

// NewBitVector creates an all-zero vector of the given width.
func NewBitVector(bits int) BitVector {
	return BitVector{
		Words: make([]uint64, (bits+63)/64),
		Bits:  bits,
	}
}

// Set sets bit i.
func (v BitVector) Set(i int) {
	v.Words[i/64] |= 1 << (uint(i) % 64)
}

// Test reports whether bit i is set.
func (v BitVector) Test(i int) bool {
	return v.Words[i/64]&(1<<(uint(i)%64)) != 0
}

// Len returns the width of the vector in bits.
func (v BitVector) Len() int {
	return v.Bits
}

// Hamming returns the number of differing bits between v and o.
// Words beyond the shorter vector count as zero.
func (v BitVector) Hamming(o BitVector) int {
	longer, shorter := v.Words, o.Words
	if len(shorter) > len(longer) {
		longer, shorter = shorter, longer
	}

	d := 0
	for i, w := range shorter {
		d += bits.OnesCount64(w ^ longer[i])
	}
	for _, w := range longer[len(shorter):] {
		d += bits.OnesCount64(w)
	}

	return d
}

// BitString renders the vector as space-delimited "1"/"0" tokens, the
// representation fed to the nucleotide and protein Hamming indexes.
func (v BitVector) BitString() string {
	var sb strings.Builder
	sb.Grow(2 * v.Bits)

	for i := 0; i < v.Bits; i++ {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if v.Test(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}

	return sb.String()
}

// BitList renders the vector as a flat 0/1 list, the representation fed
// to the forest index.
func (v BitVector) BitList() []uint8 {
	out := make([]uint8, v.Bits)
	for i := 0; i < v.Bits; i++ {
		if v.Test(i) {
			out[i] = 1
		}
	}

	return out
}

// ParseBitString decodes a space-delimited "1"/"0" string.
func ParseBitString(s string) (BitVector, error) {
	if s == "" {
		return NewBitVector(0), nil
	}

	tokens := strings.Split(s, " ")
	v := NewBitVector(len(tokens))

	for i, tok := range tokens {
		switch tok {
		case "1":
			v.Set(i)
		case "0":
		default:
			return BitVector{}, fmt.Errorf("invalid bit token %q at position %d", tok, i)
		}
	}

	return v, nil
}

// FromBitList decodes a flat 0/1 list. Any non-zero value counts as set.
func FromBitList(bits []uint8) BitVector {
	v := NewBitVector(len(bits))
	for i, b := range bits {
		if b != 0 {
			v.Set(i)
		}
	}

	return v
}

// Nucleotide encodes a nucleotide sequence one-hot over
// [A T C G other], 5 bits per base. It is total: every byte outside
// ATCG, including lowercase and ambiguity codes, sets the shared
// "other" slot.
func Nucleotide(seq string) BitVector {
	v := NewBitVector(NucleotideAlphabetSize * len(seq))

	for i := 0; i < len(seq); i++ {
		offset := NucleotideAlphabetSize * i

		switch seq[i] {
		case 'A':
			v.Set(offset)
		case 'T':
			v.Set(offset + 1)
		case 'C':
			v.Set(offset + 2)
		case 'G':
			v.Set(offset + 3)
		default:
			v.Set(offset + 4)
		}
	}

	return v
}

// Protein encodes a protein sequence one-hot over the fixed 22-residue
// alphabet, 22 bits per residue. Unlike Nucleotide it is strict: a
// residue outside the alphabet returns ErrInvalidResidue rather than
// encoding to an all-zero block.
func Protein(seq string) (BitVector, error) {
	v := NewBitVector(ProteinAlphabetSize * len(seq))

	for i := 0; i < len(seq); i++ {
		slot := strings.IndexByte(proteinAlphabet, seq[i])
		if slot < 0 {
			return BitVector{}, &ErrInvalidResidue{Residue: seq[i], Position: i}
		}

		v.Set(ProteinAlphabetSize*i + slot)
	}

	return v, nil
}
