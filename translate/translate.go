// Package translate converts marker-gene nucleotide windows into protein
// sequences using the standard genetic code. It exists so that protein
// sequences stored and indexed by the database are derived from exactly
// one translation rule.
package translate

// geneticCode maps the 61 sense codons of the standard genetic code to
// amino-acid symbols. Stop codons (TAA, TAG, TGA) are intentionally
// absent so they fall through to 'X' like any untranslatable codon.
var geneticCode = map[string]byte{
	"ATA": 'I', "ATC": 'I', "ATT": 'I', "ATG": 'M',
	"ACA": 'T', "ACC": 'T', "ACG": 'T', "ACT": 'T',
	"AAC": 'N', "AAT": 'N', "AAA": 'K', "AAG": 'K',
	"AGC": 'S', "AGT": 'S', "AGA": 'R', "AGG": 'R',
	"CTA": 'L', "CTC": 'L', "CTG": 'L', "CTT": 'L',
	"CCA": 'P', "CCC": 'P', "CCG": 'P', "CCT": 'P',
	"CAC": 'H', "CAT": 'H', "CAA": 'Q', "CAG": 'Q',
	"CGA": 'R', "CGC": 'R', "CGG": 'R', "CGT": 'R',
	"GTA": 'V', "GTC": 'V', "GTG": 'V', "GTT": 'V',
	"GCA": 'A', "GCC": 'A', "GCG": 'A', "GCT": 'A',
	"GAC": 'D', "GAT": 'D', "GAA": 'E', "GAG": 'E',
	"GGA": 'G', "GGC": 'G', "GGG": 'G', "GGT": 'G',
	"TCA": 'S', "TCC": 'S', "TCG": 'S', "TCT": 'S',
	"TTC": 'F', "TTT": 'F', "TTA": 'L', "TTG": 'L',
	"TAC": 'Y', "TAT": 'Y',
	"TGC": 'C', "TGT": 'C', "TGG": 'W',
}

// Nucleotides translates a nucleotide sequence into a protein sequence by
// consuming non-overlapping codons left to right. The literal gap codon
// "---" translates to '-'. Codons outside the standard genetic code,
// including stop codons, ambiguity codes and lowercase input, translate
// to 'X'. A trailing partial codon is dropped. Translation never fails.
func Nucleotides(seq string) string {
	aas := make([]byte, 0, len(seq)/3)

	for i := 0; i+3 <= len(seq); i += 3 {
		codon := seq[i : i+3]

		switch {
		case codon == "---":
			aas = append(aas, '-')
		default:
			if aa, ok := geneticCode[codon]; ok {
				aas = append(aas, aa)
			} else {
				aas = append(aas, 'X')
			}
		}
	}

	return string(aas)
}
