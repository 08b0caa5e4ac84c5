// Package matcher scores catalog titles against an incoming record and decides
// whether the record is the same work, a maybe, or something new.
package matcher

import (
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Similarity returns a score in [0,1]. It is the larger of the trigram
// similarity and the Levenshtein ratio of the folded strings.
func Similarity(a, b string) float64 {
	a, b = fold(a), fold(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return max(trigramSimilarity(a, b), levenshteinRatio(a, b))
}

// fold applies NFKC, full case folding and whitespace collapsing, so
// "ＡＴＴＡＣＫ  on Titan" and "attack on titan" compare equal.
func fold(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// trigramSimilarity follows pg_trgm: every alphanumeric word is padded with
// two leading blanks and one trailing blank, and the score is shared / union
// over the trigram sets.
func trigramSimilarity(a, b string) float64 {
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(ta)+len(tb)-shared)
}

func trigrams(s string) map[string]struct{} {
	out := make(map[string]struct{})
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		rs := []rune("  " + w + " ")
		for i := 0; i+3 <= len(rs); i++ {
			out[string(rs[i:i+3])] = struct{}{}
		}
	}
	return out
}

func levenshteinRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 0
	}
	d := fuzzy.LevenshteinDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

// BestOf returns the highest similarity between any non-empty pair drawn from
// the two title sets.
func BestOf(left, right []string) float64 {
	best := 0.0
	for _, l := range left {
		if strings.TrimSpace(l) == "" {
			continue
		}
		for _, r := range right {
			if strings.TrimSpace(r) == "" {
				continue
			}
			if s := Similarity(l, r); s > best {
				best = s
			}
		}
	}
	return best
}
