// Package aggregate combines an owner's valid certifications into one trust
// score and tier.
package aggregate

import (
	"sort"
	"time"

	"github.com/sells-group/regenmark/internal/catalog"
	"github.com/sells-group/regenmark/internal/expiry"
	"github.com/sells-group/regenmark/internal/model"
	"github.com/sells-group/regenmark/internal/scorer"
)

// Aggregator projects a mark set onto an AggregateScore. It keeps no state
// of its own; every call recomputes from the marks given.
type Aggregator struct {
	cat *catalog.Catalog
}

// New creates an Aggregator over the given catalog.
func New(cat *catalog.Catalog) *Aggregator {
	return &Aggregator{cat: cat}
}

// AggregateAt reclassifies every mark for now before aggregating, so a mark
// whose stored status is stale can never contribute.
func (a *Aggregator) AggregateAt(marks []model.Certification, now time.Time) model.AggregateScore {
	return a.Aggregate(expiry.ReclassifyAll(marks, now, a.cat.ExpiringSoonWindow()))
}

// Aggregate computes the weighted average over the types present among live
// marks. Expired and revoked marks contribute nothing; of several marks of
// one type only the highest score counts.
func (a *Aggregator) Aggregate(marks []model.Certification) model.AggregateScore {
	best := make(map[model.CertificationType]model.Certification)
	for _, m := range marks {
		if !m.Status.Live() {
			continue
		}
		if a.cat.TypeWeight(m.Type) <= 0 {
			continue
		}
		cur, ok := best[m.Type]
		if !ok || m.Score > cur.Score || (m.Score == cur.Score && m.ExpiresAt.After(cur.ExpiresAt)) {
			best[m.Type] = m
		}
	}

	types := make([]model.CertificationType, 0, len(best))
	for t := range best {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	var weighted, weightSum float64
	for _, t := range types {
		w := a.cat.TypeWeight(t)
		weighted += float64(best[t].Score) * w
		weightSum += w
	}

	result := model.AggregateScore{Breakdown: make([]model.Contribution, 0, len(types))}
	if weightSum > 0 {
		result.TotalScore = scorer.Clamp(weighted / weightSum)
	}
	for _, t := range types {
		m := best[t]
		w := a.cat.TypeWeight(t)
		result.Breakdown = append(result.Breakdown, model.Contribution{
			CertificationID: m.ID,
			Type:            t,
			Score:           m.Score,
			Weight:          w,
			Contribution:    float64(m.Score) * w / weightSum,
		})
	}
	result.Tier = a.cat.TierFor(result.TotalScore)
	return result
}
