package retrieval

import (
	"sort"
	"unicode/utf8"

	"github.com/ziadkadry99/ragbudget/internal/knowledge"
	"github.com/ziadkadry99/ragbudget/internal/textsim"
)

// GapThreshold is the coverage percentage below which context has gaps.
const GapThreshold = 70.0

// Coverage reports how much of a query's vocabulary the context mentions.
type Coverage struct {
	Percent        float64  `json:"coverage_percent"`
	Covered        []string `json:"covered_keywords,omitempty"`
	Missing        []string `json:"missing_keywords,omitempty"`
	HasGaps        bool     `json:"has_gaps"`
	Recommendation string   `json:"recommendation"`
}

// DetectGaps compares the query's keywords, words longer than three
// letters, with the words of items. A query without keywords is fully
// covered.
func DetectGaps(query string, items []knowledge.Item) Coverage {
	keywords := make(map[string]struct{})
	for _, w := range textsim.Words(query) {
		if utf8.RuneCountInString(w) > 3 {
			keywords[w] = struct{}{}
		}
	}
	seen := make(map[string]struct{})
	for _, it := range items {
		for w := range textsim.WordSet(it.Content, 0) {
			seen[w] = struct{}{}
		}
	}

	var c Coverage
	for w := range keywords {
		if _, ok := seen[w]; ok {
			c.Covered = append(c.Covered, w)
		} else {
			c.Missing = append(c.Missing, w)
		}
	}
	sort.Strings(c.Covered)
	sort.Strings(c.Missing)

	c.Percent = 100
	if len(keywords) > 0 {
		c.Percent = float64(len(c.Covered)) / float64(len(keywords)) * 100
	}
	c.HasGaps = c.Percent < GapThreshold
	c.Recommendation = gapRecommendation(c.Percent)
	return c
}

func gapRecommendation(percent float64) string {
	switch {
	case percent >= 90:
		return "Excellent context. Answer with high confidence."
	case percent >= GapThreshold:
		return "Adequate context. Combine it with general analysis."
	case percent >= 50:
		return "Partial context. Flag assumptions that rely on general knowledge."
	default:
		return "Limited context. Look for more information or state the uncertainty clearly."
	}
}
