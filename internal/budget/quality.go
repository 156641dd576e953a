package budget

import (
	"math"
	"time"

	"github.com/ziadkadry99/ragbudget/internal/complexity"
)

// QualityLevel buckets a quality score.
type QualityLevel string

const (
	QualityPoor      QualityLevel = "poor"
	QualityFair      QualityLevel = "fair"
	QualityGood      QualityLevel = "good"
	QualityExcellent QualityLevel = "excellent"
)

// QualityEstimate predicts how well a budget can serve a query.
type QualityEstimate struct {
	Score            float64       `json:"score"`
	Level            QualityLevel  `json:"level"`
	Recommendations  []string      `json:"recommendations"`
	EstimatedLatency time.Duration `json:"estimated_latency"`
}

var levelScores = map[complexity.Level]float64{
	complexity.Trivial:     0.4,
	complexity.Simple:      0.6,
	complexity.Medium:      0.75,
	complexity.Complex:     0.88,
	complexity.VeryComplex: 0.95,
}

// EstimateQuality scores the expected answer quality for a level and a
// response token allocation.
func EstimateQuality(level complexity.Level, tokens int, hasProjectContext, hasCustomInstructions bool) QualityEstimate {
	score, ok := levelScores[level]
	if !ok {
		score = 0.7
	}

	switch {
	case tokens < 4000:
		score *= 0.8
	case tokens < 8000:
		score *= 0.9
	case tokens > 15000:
		score += 0.3
	case tokens > 10000:
		score += 0.2
	}
	if hasProjectContext {
		score += 0.12
	}
	if hasCustomInstructions {
		score += 0.1
	}
	score = math.Min(score, 1.0)
	score = math.Round(score*100) / 100

	var q QualityLevel
	switch {
	case score < 0.35:
		q = QualityPoor
	case score < 0.55:
		q = QualityFair
	case score < 0.8:
		q = QualityGood
	default:
		q = QualityExcellent
	}

	return QualityEstimate{
		Score:            score,
		Level:            q,
		Recommendations:  recommendations(score, level, tokens),
		EstimatedLatency: EstimateLatency(tokens),
	}
}

func recommendations(score float64, level complexity.Level, tokens int) []string {
	var recs []string
	if score < 0.5 {
		recs = append(recs, "consider increasing the response token budget")
	}
	if level == complexity.VeryComplex {
		recs = append(recs, "this is a very complex query; consider splitting it")
	}
	if tokens < 6000 {
		recs = append(recs, "a detailed answer may need more tokens")
	}
	if score >= 0.8 {
		recs = append(recs, "excellent budget for this query")
	}
	return recs
}

// EstimateLatency approximates end-to-end generation time for tokens.
func EstimateLatency(tokens int) time.Duration {
	secs := 0.5 + float64(tokens)/1000*0.018
	return time.Duration(math.Round(secs*100)) * 10 * time.Millisecond
}
