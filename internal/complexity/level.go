package complexity

import "fmt"

// Level is a coarse difficulty bucket for a query.
type Level string

const (
	Trivial     Level = "trivial"
	Simple      Level = "simple"
	Medium      Level = "medium"
	Complex     Level = "complex"
	VeryComplex Level = "very_complex"
)

// levels is ordered from easiest to hardest.
var levels = []Level{Trivial, Simple, Medium, Complex, VeryComplex}

// baseFactors holds the starting factor for each level.
var baseFactors = map[Level]float64{
	Trivial:     0.6,
	Simple:      0.9,
	Medium:      1.1,
	Complex:     1.5,
	VeryComplex: 1.8,
}

// Rank orders levels; higher is harder. Unknown levels rank -1.
func (l Level) Rank() int {
	for i, v := range levels {
		if v == l {
			return i
		}
	}
	return -1
}

// AtLeast reports whether l is as hard as other or harder.
func (l Level) AtLeast(other Level) bool {
	return l.Rank() >= other.Rank()
}

// BaseFactor returns the factor a query of this level starts from.
func (l Level) BaseFactor() float64 {
	return baseFactors[l]
}

// ParseLevel converts a string into a Level.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if l.Rank() < 0 {
		return "", fmt.Errorf("complexity: unknown level %q", s)
	}
	return l, nil
}

// max returns the harder of two levels.
func maxLevel(a, b Level) Level {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// levelForFactor returns the hardest level whose base factor f reaches.
func levelForFactor(f float64) Level {
	out := Trivial
	for _, l := range levels {
		if f >= baseFactors[l] {
			out = l
		}
	}
	return out
}
