// Package catalog holds the immutable weight and threshold tables that drive
// metric scoring, aggregation and the review workflow.
package catalog

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/regenmark/internal/config"
	"github.com/sells-group/regenmark/internal/model"
)

// weightTolerance absorbs floating-point noise in configured weight sums.
const weightTolerance = 1e-6

// Tier is one row of the ascending tier threshold table.
type Tier struct {
	Label    string `json:"label"`
	MinScore int    `json:"min_score"`
}

// Catalog is safe for concurrent use; nothing mutates it after New.
type Catalog struct {
	typeWeights       map[model.CertificationType]float64
	metricWeights     map[model.CertificationType]map[string]float64
	productMetrics    map[string]float64
	tiers             []Tier
	baseTier          string
	validityMonths    int
	expiringSoon      time.Duration
	approvalThreshold int
}

// Default returns the catalog built from config.DefaultCertification.
func Default() *Catalog {
	c, err := New(config.DefaultCertification())
	if err != nil {
		panic(fmt.Sprintf("catalog: default certification config is invalid: %v", err))
	}
	return c
}

// New validates cfg and builds a Catalog. All problems are reported together.
func New(cfg config.CertificationConfig) (*Catalog, error) {
	var errs []string

	c := &Catalog{
		typeWeights:       make(map[model.CertificationType]float64, len(cfg.Types)),
		metricWeights:     make(map[model.CertificationType]map[string]float64, len(cfg.Types)),
		baseTier:          strings.TrimSpace(cfg.BaseTier),
		validityMonths:    cfg.ValidityMonths,
		expiringSoon:      time.Duration(cfg.ExpiringSoonDays) * 24 * time.Hour,
		approvalThreshold: cfg.ApprovalThreshold,
	}

	var typeSum float64
	for _, tc := range cfg.Types {
		t := model.ParseCertificationType(tc.Name)
		if !t.Valid() {
			errs = append(errs, fmt.Sprintf("unknown certification type %q", tc.Name))
			continue
		}
		if _, dup := c.typeWeights[t]; dup {
			errs = append(errs, fmt.Sprintf("certification type %s configured twice", t))
			continue
		}
		if tc.Weight <= 0 {
			errs = append(errs, fmt.Sprintf("%s weight must be > 0", t))
		}
		typeSum += tc.Weight
		c.typeWeights[t] = tc.Weight

		metrics, metricErrs := normalizeMetrics(string(t), tc.Metrics)
		errs = append(errs, metricErrs...)
		c.metricWeights[t] = metrics
	}
	for _, t := range model.CertificationTypes {
		if _, ok := c.typeWeights[t]; !ok {
			errs = append(errs, fmt.Sprintf("certification type %s has no weight", t))
		}
	}
	if math.Abs(typeSum-1) > weightTolerance {
		errs = append(errs, fmt.Sprintf("type weights should sum to 1, got %.4f", typeSum))
	}

	products, productErrs := normalizeMetrics("product", cfg.ProductMetrics)
	errs = append(errs, productErrs...)
	c.productMetrics = products

	tiers := make([]Tier, 0, len(cfg.Tiers))
	for _, tc := range cfg.Tiers {
		label := strings.TrimSpace(tc.Label)
		if label == "" {
			errs = append(errs, "tier label must not be empty")
		}
		// Scores below the lowest cutoff fall to the base tier, so a cutoff
		// of 0 would make the base tier unreachable.
		if tc.MinScore < 1 || tc.MinScore > 100 {
			errs = append(errs, fmt.Sprintf("tier %s min_score must be between 1 and 100", label))
		}
		tiers = append(tiers, Tier{Label: label, MinScore: tc.MinScore})
	}
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MinScore < tiers[j].MinScore })
	for i := 1; i < len(tiers); i++ {
		if tiers[i].MinScore == tiers[i-1].MinScore {
			errs = append(errs, fmt.Sprintf("tiers %s and %s share cutoff %d", tiers[i-1].Label, tiers[i].Label, tiers[i].MinScore))
		}
	}
	c.tiers = tiers

	if c.baseTier == "" {
		errs = append(errs, "base_tier must not be empty")
	}
	if c.validityMonths <= 0 {
		errs = append(errs, "validity_months must be > 0")
	}
	if cfg.ExpiringSoonDays < 0 {
		errs = append(errs, "expiring_soon_days must be >= 0")
	}
	if c.approvalThreshold < 0 || c.approvalThreshold > 100 {
		errs = append(errs, "approval_threshold must be between 0 and 100")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return nil, eris.Errorf("catalog: config validation failed: %s", strings.Join(errs, "; "))
	}
	return c, nil
}

// normalizeMetrics lower-cases metric names (config loaders fold key case)
// and checks the table is non-negative and sums to 1.
func normalizeMetrics(owner string, in map[string]float64) (map[string]float64, []string) {
	var errs []string
	if len(in) == 0 {
		return map[string]float64{}, []string{fmt.Sprintf("%s has no metric weights", owner)}
	}
	out := make(map[string]float64, len(in))
	var sum float64
	for name, w := range in {
		key := MetricKey(name)
		if w < 0 {
			errs = append(errs, fmt.Sprintf("%s metric %s weight must be >= 0", owner, name))
		}
		out[key] += w
		sum += w
	}
	if math.Abs(sum-1) > weightTolerance {
		errs = append(errs, fmt.Sprintf("%s metric weights should sum to 1, got %.4f", owner, sum))
	}
	return out, errs
}

// MetricKey is the canonical form of a metric name.
func MetricKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// TypeWeight returns the aggregate weight of t, or 0 for unknown types.
func (c *Catalog) TypeWeight(t model.CertificationType) float64 {
	return c.typeWeights[t]
}

// MetricWeights returns a copy of the metric table for t.
func (c *Catalog) MetricWeights(t model.CertificationType) map[string]float64 {
	return copyWeights(c.metricWeights[t])
}

// ProductMetricWeights returns a copy of the generic product metric table.
func (c *Catalog) ProductMetricWeights() map[string]float64 {
	return copyWeights(c.productMetrics)
}

// Tiers returns the tier table in ascending cutoff order.
func (c *Catalog) Tiers() []Tier {
	out := make([]Tier, len(c.tiers))
	copy(out, c.tiers)
	return out
}

// BaseTier is the label for scores below the lowest cutoff.
func (c *Catalog) BaseTier() string { return c.baseTier }

// ApprovalThreshold is the minimum review score that can be approved.
func (c *Catalog) ApprovalThreshold() int { return c.approvalThreshold }

// ExpiringSoonWindow is how long before expiry a mark turns EXPIRING_SOON.
func (c *Catalog) ExpiringSoonWindow() time.Duration { return c.expiringSoon }

// ValidityMonths is the lifetime of a newly issued certification.
func (c *Catalog) ValidityMonths() int { return c.validityMonths }

// ExpiresAt returns the expiry of a mark issued at issuedAt.
func (c *Catalog) ExpiresAt(issuedAt time.Time) time.Time {
	return issuedAt.AddDate(0, c.validityMonths, 0)
}

// TierFor resolves the highest tier whose cutoff does not exceed score.
func (c *Catalog) TierFor(score int) string {
	tier := c.baseTier
	for _, t := range c.tiers {
		if t.MinScore > score {
			break
		}
		tier = t.Label
	}
	return tier
}

func copyWeights(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
