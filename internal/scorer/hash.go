package scorer

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/sells-group/regenmark/internal/catalog"
	"github.com/sells-group/regenmark/internal/model"
)

type weightSnapshot struct {
	Types   map[model.CertificationType]typeSnapshot `json:"types"`
	Product map[string]float64                        `json:"product"`
}

type typeSnapshot struct {
	Weight  float64            `json:"weight"`
	Metrics map[string]float64 `json:"metrics"`
}

// ConfigHash returns a SHA-256 hash of the scoring tables so a stored AI
// score can be re-run against the configuration that produced it.
func ConfigHash(cat *catalog.Catalog) string {
	snap := weightSnapshot{
		Types:   make(map[model.CertificationType]typeSnapshot, len(model.CertificationTypes)),
		Product: cat.ProductMetricWeights(),
	}
	for _, t := range model.CertificationTypes {
		snap.Types[t] = typeSnapshot{Weight: cat.TypeWeight(t), Metrics: cat.MetricWeights(t)}
	}
	// encoding/json sorts map keys, so equal tables hash equally.
	data, err := json.Marshal(snap)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:16]) // 32 hex chars
}
