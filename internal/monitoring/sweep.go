package monitoring

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/regenmark/internal/certify"
	"github.com/sells-group/regenmark/internal/model"
)

// Report summarizes one sweep.
type Report struct {
	// Candidates is the number of live marks inside the expiry window.
	Candidates   int `json:"candidates"`
	Owners       int `json:"owners"`
	ExpiringSoon int `json:"expiring_soon"`
	Expired      int `json:"expired"`
	TierChanges  int `json:"tier_changes"`
	Failed       int `json:"failed"`
}

// Sweep recomputes every owner holding a live mark that expires within the
// expiring-soon window. The issuer notifies each owner after its recompute
// commits. An owner that fails is logged and counted; the rest are still
// processed.
func (m *Monitor) Sweep(ctx context.Context) (*Report, error) {
	horizon := m.now().UTC().Add(m.cat.ExpiringSoonWindow())
	marks, err := m.store.ListLiveCertifications(ctx, horizon)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list live certifications")
	}

	owners := distinctOwners(marks)
	report := &Report{Candidates: len(marks), Owners: len(owners)}
	if len(owners) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	for _, ownerID := range owners {
		ownerID := ownerID
		g.Go(func() error {
			if err := m.limiter.Wait(gctx); err != nil {
				return err
			}
			rc, err := m.issuer.Recompute(gctx, ownerID)
			if err != nil {
				zap.L().Warn("monitoring: recompute owner failed",
					zap.String("owner_id", ownerID),
					zap.Error(err),
				)
				mu.Lock()
				report.Failed++
				mu.Unlock()
				return nil
			}

			soon, expired := countReclassified(rc)
			mu.Lock()
			report.ExpiringSoon += soon
			report.Expired += expired
			if rc.TierChanged() {
				report.TierChanges++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, eris.Wrap(err, "monitoring: sweep interrupted")
	}
	return report, nil
}

// countReclassified tallies the marks a recompute moved to EXPIRING_SOON or
// EXPIRED.
func countReclassified(rc *certify.Recomputation) (soon, expired int) {
	for _, c := range rc.Reclassified {
		switch c.Status {
		case model.CertExpiringSoon:
			soon++
		case model.CertExpired:
			expired++
		}
	}
	return soon, expired
}

// distinctOwners returns the owners of marks, sorted for stable processing.
func distinctOwners(marks []model.Certification) []string {
	seen := make(map[string]struct{}, len(marks))
	for _, c := range marks {
		seen[c.OwnerID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
