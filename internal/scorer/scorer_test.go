package scorer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/regenmark/internal/catalog"
	"github.com/sells-group/regenmark/internal/config"
	"github.com/sells-group/regenmark/internal/model"
)

func newTestScorer() *Scorer {
	return New(catalog.Default())
}

func TestScoreProduct(t *testing.T) {
	s := newTestScorer()
	tests := []struct {
		name    string
		metrics map[string]float64
		want    int
	}{
		{"worked example", map[string]float64{"co2Reduction": 50, "waterSaving": 40, "energyEfficiency": 60}, 50},
		{"over-reported clamps to 100", map[string]float64{"co2Reduction": 200, "waterSaving": 200, "energyEfficiency": 200}, 100},
		{"empty", nil, 0},
		{"all perfect", map[string]float64{"co2Reduction": 100, "waterSaving": 100, "energyEfficiency": 100}, 100},
		{"rounds half up", map[string]float64{"co2Reduction": 1.25}, 1}, // 0.5 -> 1
		{"rounds down", map[string]float64{"co2Reduction": 1}, 0},       // 0.4 -> 0
		{"negative clamps to 0", map[string]float64{"co2Reduction": -80}, 0},
		{"unknown metric ignored", map[string]float64{"sparkle": 100}, 0},
		{"case-insensitive names", map[string]float64{"CO2REDUCTION": 100}, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.ScoreProduct(tt.metrics))
		})
	}
}

func TestScore_MissingKeysEqualZero(t *testing.T) {
	s := newTestScorer()
	partial := map[string]float64{"co2Reduction": 70}
	explicit := map[string]float64{"co2Reduction": 70, "energyEfficiency": 0, "renewableEnergy": 0}

	assert.Equal(t, s.Score(model.CarbonSaver, explicit), s.Score(model.CarbonSaver, partial))
	assert.Equal(t, 42, s.Score(model.CarbonSaver, partial)) // 70 * 0.6
}

func TestScore_NonFiniteMetricsCountAsZero(t *testing.T) {
	s := newTestScorer()
	metrics := map[string]float64{
		"co2Reduction":     math.NaN(),
		"energyEfficiency": math.Inf(1),
		"renewableEnergy":  100,
	}
	assert.Equal(t, 10, s.Score(model.CarbonSaver, metrics))
}

func TestScore_PerType(t *testing.T) {
	s := newTestScorer()
	tests := []struct {
		typ     model.CertificationType
		metrics map[string]float64
		want    int
	}{
		{model.CarbonSaver, map[string]float64{"co2Reduction": 80, "energyEfficiency": 70, "renewableEnergy": 50}, 74},
		{model.WaterGuardian, map[string]float64{"waterSaving": 90, "waterQuality": 80, "wastewaterTreatment": 60}, 83},
		{model.HumanFirst, map[string]float64{"fairWages": 100, "workerSafety": 100, "communityImpact": 0}, 75},
		{model.HumaneHero, map[string]float64{"animalWelfare": 60, "crueltyFree": 100, "habitatProtection": 50}, 70},
		{model.CircularChampion, map[string]float64{"recyclability": 50, "wasteReduction": 40, "repairability": 80}, 54},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.want, s.Score(tt.typ, tt.metrics))
		})
	}
}

func TestScore_UnknownTypeScoresZero(t *testing.T) {
	s := newTestScorer()
	assert.Equal(t, 0, s.Score("OCEAN_FRIEND", map[string]float64{"co2Reduction": 100}))
}

func TestScore_Deterministic(t *testing.T) {
	s := newTestScorer()
	m := map[string]float64{"waterSaving": 33.3, "waterQuality": 66.6, "wastewaterTreatment": 99.9}
	first := s.Score(model.WaterGuardian, m)
	for i := 0; i < 50; i++ {
		require.Equal(t, first, s.Score(model.WaterGuardian, m))
	}
}

func TestExplainProduct(t *testing.T) {
	s := newTestScorer()
	exp := s.ExplainProduct(map[string]float64{"co2Reduction": 50, "waterSaving": 40, "energyEfficiency": 60})

	assert.Equal(t, 50, exp.Score)
	assert.InDelta(t, 50.0, exp.RawScore, 1e-9)
	require.Len(t, exp.Breakdown, 3)
	// sorted by metric name
	assert.Equal(t, "co2reduction", exp.Breakdown[0].Metric)
	assert.InDelta(t, 20.0, exp.Breakdown[0].Contribution, 1e-9)
	assert.Equal(t, "energyefficiency", exp.Breakdown[1].Metric)
	assert.InDelta(t, 18.0, exp.Breakdown[1].Contribution, 1e-9)
	assert.Equal(t, "watersaving", exp.Breakdown[2].Metric)
	assert.InDelta(t, 12.0, exp.Breakdown[2].Contribution, 1e-9)
}

func TestScore_CustomCatalog(t *testing.T) {
	cfg := config.DefaultCertification()
	cfg.ProductMetrics = map[string]float64{"co2Reduction": 1}
	cat, err := catalog.New(cfg)
	require.NoError(t, err)

	s := New(cat)
	assert.Equal(t, 50, s.ScoreProduct(map[string]float64{"co2Reduction": 50, "waterSaving": 100}))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, Clamp(math.NaN()))
	assert.Equal(t, 0, Clamp(math.Inf(-1)))
	assert.Equal(t, 100, Clamp(math.Inf(1)))
	assert.Equal(t, 100, Clamp(100.4))
	assert.Equal(t, 0, Clamp(-0.4))
	assert.Equal(t, 67, Clamp(66.5))
}

func TestConfigHash(t *testing.T) {
	a := ConfigHash(catalog.Default())
	b := ConfigHash(catalog.Default())
	assert.Len(t, a, 32)
	assert.Equal(t, a, b)

	cfg := config.DefaultCertification()
	cfg.ProductMetrics = map[string]float64{"co2Reduction": 0.5, "waterSaving": 0.5}
	cat, err := catalog.New(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, a, ConfigHash(cat))
}
