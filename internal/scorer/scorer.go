// Package scorer converts raw sustainability metrics into a 0-100 mark score.
package scorer

import (
	"math"
	"sort"

	"github.com/sells-group/regenmark/internal/catalog"
	"github.com/sells-group/regenmark/internal/model"
)

const (
	minScore = 0
	maxScore = 100
)

// Scorer computes weighted metric scores. It holds no mutable state and is
// safe for concurrent use.
type Scorer struct {
	cat *catalog.Catalog
}

// New creates a Scorer over the given catalog.
func New(cat *catalog.Catalog) *Scorer {
	return &Scorer{cat: cat}
}

// MetricContribution is one metric's share of a score.
type MetricContribution struct {
	Metric       string  `json:"metric"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Explanation is a score with its per-metric breakdown, for audits and
// disputes.
type Explanation struct {
	Score     int                  `json:"score"`
	RawScore  float64              `json:"raw_score"`
	Breakdown []MetricContribution `json:"breakdown"`
}

// Score returns the clamped weighted score of metrics for a certification
// type. Missing or non-finite metrics count as 0; unknown types score 0.
func (s *Scorer) Score(t model.CertificationType, metrics map[string]float64) int {
	return s.Explain(t, metrics).Score
}

// ScoreProduct scores metrics with the generic product table
// (co2Reduction, waterSaving, energyEfficiency by default).
func (s *Scorer) ScoreProduct(metrics map[string]float64) int {
	return explain(s.cat.ProductMetricWeights(), metrics).Score
}

// Explain is Score with the per-metric breakdown attached.
func (s *Scorer) Explain(t model.CertificationType, metrics map[string]float64) Explanation {
	return explain(s.cat.MetricWeights(t), metrics)
}

// ExplainProduct is ScoreProduct with the per-metric breakdown attached.
func (s *Scorer) ExplainProduct(metrics map[string]float64) Explanation {
	return explain(s.cat.ProductMetricWeights(), metrics)
}

func explain(weights, metrics map[string]float64) Explanation {
	values := normalize(metrics)

	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	exp := Explanation{Breakdown: make([]MetricContribution, 0, len(names))}
	for _, name := range names {
		w := weights[name]
		v := values[name]
		c := w * v
		exp.RawScore += c
		exp.Breakdown = append(exp.Breakdown, MetricContribution{
			Metric:       name,
			Value:        v,
			Weight:       w,
			Contribution: c,
		})
	}
	exp.Score = Clamp(exp.RawScore)
	return exp
}

// normalize folds metric names to catalog keys and drops non-finite values.
func normalize(metrics map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(metrics))
	for name, v := range metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[catalog.MetricKey(name)] = v
	}
	return out
}

// Clamp rounds raw to the nearest integer and bounds it to [0, 100].
func Clamp(raw float64) int {
	if math.IsNaN(raw) {
		return minScore
	}
	r := math.Round(raw)
	if r < minScore {
		return minScore
	}
	if r > maxScore {
		return maxScore
	}
	return int(r)
}
