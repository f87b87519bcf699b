package scorer

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/sells-group/regenmark/internal/model"
)

// TestScoreAlwaysInRange verifies the clamp invariant.
// Property: 0 <= Score(t, m) <= 100 for any metric values, including values far above 100.
func TestScoreAlwaysInRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	s := newTestScorer()

	properties.Property("score is clamped to [0, 100]", prop.ForAll(
		func(typeIdx int, a, b, c float64) bool {
			typ := model.CertificationTypes[typeIdx]
			metrics := map[string]float64{}
			names := metricNames(s, typ)
			for i, v := range []float64{a, b, c} {
				if i < len(names) {
					metrics[names[i]] = v
				}
			}
			got := s.Score(typ, metrics)
			product := s.ScoreProduct(metrics)
			return got >= 0 && got <= 100 && product >= 0 && product <= 100
		},
		gen.IntRange(0, len(model.CertificationTypes)-1),
		gen.Float64Range(-1e6, 1e9),
		gen.Float64Range(-1e6, 1e9),
		gen.Float64Range(-1e6, 1e9),
	))

	properties.TestingRun(t)
}

// TestOmissionEqualsZero verifies missing keys behave exactly like explicit zeros.
// Property: Score(t, m) == Score(t, m ∪ {k: 0}) for every metric k of t.
func TestOmissionEqualsZero(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	s := newTestScorer()

	properties.Property("omitting a metric equals supplying 0", prop.ForAll(
		func(typeIdx int, v float64) bool {
			typ := model.CertificationTypes[typeIdx]
			names := metricNames(s, typ)
			partial := map[string]float64{names[0]: v}
			full := map[string]float64{names[0]: v}
			for _, n := range names[1:] {
				full[n] = 0
			}
			return s.Score(typ, partial) == s.Score(typ, full)
		},
		gen.IntRange(0, len(model.CertificationTypes)-1),
		gen.Float64Range(0, 100),
	))

	properties.TestingRun(t)
}

func metricNames(s *Scorer, typ model.CertificationType) []string {
	exp := s.Explain(typ, nil)
	names := make([]string, 0, len(exp.Breakdown))
	for _, c := range exp.Breakdown {
		names = append(names, c.Metric)
	}
	return names
}
