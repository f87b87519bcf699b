package aggregate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/regenmark/internal/catalog"
	"github.com/sells-group/regenmark/internal/config"
	"github.com/sells-group/regenmark/internal/model"
)

var testNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func mark(id string, typ model.CertificationType, score int, status model.CertStatus) model.Certification {
	return model.Certification{
		ID:        id,
		OwnerID:   "owner-1",
		Type:      typ,
		Score:     score,
		Status:    status,
		IssuedAt:  testNow.AddDate(0, -1, 0),
		ExpiresAt: testNow.AddDate(0, 11, 0),
	}
}

// halfWeightCatalog gives CARBON_SAVER weight 0.5 and the other four 0.125.
func halfWeightCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cfg := config.DefaultCertification()
	for i := range cfg.Types {
		if cfg.Types[i].Name == string(model.CarbonSaver) {
			cfg.Types[i].Weight = 0.5
		} else {
			cfg.Types[i].Weight = 0.125
		}
	}
	cat, err := catalog.New(cfg)
	require.NoError(t, err)
	return cat
}

func TestAggregate_Empty(t *testing.T) {
	a := New(catalog.Default())
	got := a.Aggregate(nil)

	assert.Equal(t, 0, got.TotalScore)
	assert.Equal(t, "NONE", got.Tier)
	assert.Empty(t, got.Breakdown)
}

func TestAggregate_ExpiredMarkExcluded(t *testing.T) {
	a := New(halfWeightCatalog(t))
	got := a.Aggregate([]model.Certification{
		mark("a", model.CarbonSaver, 80, model.CertActive),
		mark("b", model.WaterGuardian, 90, model.CertExpired),
	})

	assert.Equal(t, 80, got.TotalScore)
	assert.Equal(t, "GOLD", got.Tier)
	require.Len(t, got.Breakdown, 1)
	assert.Equal(t, "a", got.Breakdown[0].CertificationID)
}

func TestAggregate_RevokedMarkExcluded(t *testing.T) {
	a := New(catalog.Default())
	got := a.Aggregate([]model.Certification{
		mark("a", model.HumanFirst, 50, model.CertActive),
		mark("b", model.HumaneHero, 100, model.CertRevoked),
	})
	assert.Equal(t, 50, got.TotalScore)
	assert.Equal(t, "BRONZE", got.Tier)
}

func TestAggregate_ExpiringSoonCounts(t *testing.T) {
	a := New(catalog.Default())
	got := a.Aggregate([]model.Certification{
		mark("a", model.HumanFirst, 64, model.CertExpiringSoon),
	})
	assert.Equal(t, 64, got.TotalScore)
	assert.Equal(t, "SILVER", got.Tier)
}

func TestAggregate_DedupKeepsHighestPerType(t *testing.T) {
	a := New(catalog.Default())
	got := a.Aggregate([]model.Certification{
		mark("low", model.CarbonSaver, 61, model.CertActive),
		mark("high", model.CarbonSaver, 88, model.CertActive),
		mark("mid", model.CarbonSaver, 70, model.CertExpiringSoon),
	})

	assert.Equal(t, 88, got.TotalScore)
	require.Len(t, got.Breakdown, 1)
	assert.Equal(t, "high", got.Breakdown[0].CertificationID)
}

func TestAggregate_DedupTieKeepsLaterExpiry(t *testing.T) {
	a := New(catalog.Default())
	older := mark("older", model.CarbonSaver, 70, model.CertActive)
	newer := mark("newer", model.CarbonSaver, 70, model.CertActive)
	newer.ExpiresAt = older.ExpiresAt.AddDate(0, 3, 0)

	got := a.Aggregate([]model.Certification{older, newer})
	require.Len(t, got.Breakdown, 1)
	assert.Equal(t, "newer", got.Breakdown[0].CertificationID)
}

func TestAggregate_WeightedAverageOverPresentTypes(t *testing.T) {
	a := New(catalog.Default())
	// CARBON_SAVER 0.25, WATER_GUARDIAN 0.20:
	// (90*0.25 + 60*0.20) / 0.45 = (22.5 + 12) / 0.45 = 76.67 -> 77
	got := a.Aggregate([]model.Certification{
		mark("c", model.CarbonSaver, 90, model.CertActive),
		mark("w", model.WaterGuardian, 60, model.CertActive),
	})

	assert.Equal(t, 77, got.TotalScore)
	assert.Equal(t, "GOLD", got.Tier)
	require.Len(t, got.Breakdown, 2)

	var sum float64
	for _, c := range got.Breakdown {
		sum += c.Contribution
	}
	assert.InDelta(t, 76.6667, sum, 0.001)
	assert.Equal(t, model.CarbonSaver, got.Breakdown[0].Type)
	assert.InDelta(t, 0.25, got.Breakdown[0].Weight, 1e-9)
	assert.InDelta(t, 50.0, got.Breakdown[0].Contribution, 1e-9)
}

func TestAggregate_SingleTypeCanReachHundred(t *testing.T) {
	a := New(catalog.Default())
	got := a.Aggregate([]model.Certification{mark("a", model.HumaneHero, 100, model.CertActive)})
	assert.Equal(t, 100, got.TotalScore)
	assert.Equal(t, "PLATINUM", got.Tier)
}

func TestAggregate_UnknownTypeIgnored(t *testing.T) {
	a := New(catalog.Default())
	got := a.Aggregate([]model.Certification{
		mark("x", "OCEAN_FRIEND", 100, model.CertActive),
		mark("a", model.HumanFirst, 40, model.CertActive),
	})
	assert.Equal(t, 40, got.TotalScore)
	require.Len(t, got.Breakdown, 1)
}

func TestAggregateAt_ReclassifiesStaleStatus(t *testing.T) {
	a := New(halfWeightCatalog(t))
	stale := mark("stale", model.WaterGuardian, 90, model.CertActive)
	stale.ExpiresAt = testNow.Add(-time.Hour) // stored as ACTIVE but already expired

	got := a.AggregateAt([]model.Certification{
		mark("a", model.CarbonSaver, 80, model.CertActive),
		stale,
	}, testNow)

	assert.Equal(t, 80, got.TotalScore)
	require.Len(t, got.Breakdown, 1)
}

func TestAggregate_ConcurrentUse(t *testing.T) {
	a := New(catalog.Default())
	marks := []model.Certification{
		mark("c", model.CarbonSaver, 90, model.CertActive),
		mark("w", model.WaterGuardian, 60, model.CertActive),
	}

	var wg sync.WaitGroup
	results := make([]int, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = a.Aggregate(marks).TotalScore
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, 77, r)
	}
}
