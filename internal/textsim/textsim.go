// Package textsim implements the small text-similarity measures used for
// deduplication and fuzzy cache matching.
package textsim

import (
	"strings"
	"unicode"
)

// Words lowercases text and splits it into words, stripping punctuation
// from both ends of each word.
func Words(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// WordSet returns the distinct words among the first limit words of text.
// A non-positive limit means no limit.
func WordSet(text string, limit int) map[string]struct{} {
	words := Words(text)
	if limit > 0 && len(words) > limit {
		words = words[:limit]
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|. Two empty sets are identical.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Overlap returns the fraction of query words present in content.
func Overlap(query, content map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hit := 0
	for w := range query {
		if _, ok := content[w]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(query))
}

// Normalize lowercases text, trims it and collapses internal whitespace.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Dice returns the Sørensen–Dice coefficient over character bigrams of the
// normalized inputs, in [0,1].
func Dice(a, b string) float64 {
	a, b = Normalize(a), Normalize(b)
	if a == b {
		return 1
	}
	ba, bb := bigrams(a), bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}
	counts := make(map[string]int, len(ba))
	for _, g := range ba {
		counts[g]++
	}
	inter := 0
	for _, g := range bb {
		if counts[g] > 0 {
			counts[g]--
			inter++
		}
	}
	return 2 * float64(inter) / float64(len(ba)+len(bb))
}

func bigrams(s string) []string {
	r := []rune(s)
	if len(r) < 2 {
		return nil
	}
	out := make([]string, 0, len(r)-1)
	for i := 0; i < len(r)-1; i++ {
		out = append(out, string(r[i:i+2]))
	}
	return out
}
