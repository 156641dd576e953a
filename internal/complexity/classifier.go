// Package complexity scores query text for difficulty.
package complexity

import (
	"sort"
	"strings"
)

// DefaultKeywordBonusCap bounds the total contribution of keyword matches.
const DefaultKeywordBonusCap = 1.0

const (
	minFactor = 0.6
	maxFactor = 2.5
)

// Result is the outcome of classifying a query.
type Result struct {
	Level   Level
	Factor  float64
	Matches int
	// Matched lists the keywords found, sorted.
	Matched []string
}

// Options tunes a Classifier.
type Options struct {
	Keywords        map[string]float64
	KeywordBonusCap float64
}

// Classifier maps query text to a complexity level and budget factor.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	keywords map[string]float64
	bonusCap float64
}

// New builds a Classifier. Empty options fall back to the defaults.
func New(opts Options) *Classifier {
	kw := opts.Keywords
	if len(kw) == 0 {
		kw = DefaultKeywords
	}
	lowered := make(map[string]float64, len(kw))
	for k, w := range kw {
		lowered[strings.ToLower(k)] = w
	}
	bonusCap := opts.KeywordBonusCap
	if bonusCap <= 0 {
		bonusCap = DefaultKeywordBonusCap
	}
	return &Classifier{keywords: lowered, bonusCap: bonusCap}
}

// Classify scores text. It is pure: identical input gives identical output.
func (c *Classifier) Classify(text string) Result {
	lower := strings.ToLower(text)

	var matched []string
	var kwBonus float64
	for kw, w := range c.keywords {
		if kw == "" || !strings.Contains(lower, kw) {
			continue
		}
		matched = append(matched, kw)
		if w > 1 {
			kwBonus += (w - 1) * 0.25
		}
	}
	sort.Strings(matched)
	if kwBonus > c.bonusCap {
		kwBonus = c.bonusCap
	}

	q := strings.Count(text, "?")
	p := strings.Count(text, ".")
	col := strings.Count(text, ":")
	punct := (float64(q)*0.3 + float64(p)*0.1 + float64(col)*0.2) * 0.1

	level := levelForWords(len(strings.Fields(text)))
	factor := level.BaseFactor()

	switch n := len(matched); {
	case n >= 4:
		factor += 0.4
		level = VeryComplex
	case n >= 3:
		factor += 0.25
		if level == Medium || level == Complex {
			level = Complex
		}
	case n >= 2:
		factor += 0.15
	}

	factor += kwBonus + punct
	level = maxLevel(level, levelForFactor(factor))

	if factor > maxFactor {
		factor = maxFactor
	}
	if factor < minFactor {
		factor = minFactor
	}

	return Result{Level: level, Factor: factor, Matches: len(matched), Matched: matched}
}

func levelForWords(n int) Level {
	switch {
	case n < 5:
		return Trivial
	case n < 15:
		return Simple
	case n < 35:
		return Medium
	case n < 70:
		return Complex
	default:
		return VeryComplex
	}
}
