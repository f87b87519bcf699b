package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/regenmark/internal/catalog"
	"github.com/sells-group/regenmark/internal/model"
	"github.com/sells-group/regenmark/internal/scorer"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a metrics file against the configured weight tables",
	Long: `Computes the 0-100 metric score for a certification type, or for the generic
product table when --type is omitted, and prints the per-metric breakdown.

The metrics file is a flat map of metric name to 0-100 indicator value, in
JSON or YAML (chosen by file extension).

Examples:
  score --type CARBON_SAVER --metrics carbon.yaml
  score --metrics product.json`,
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.String("type", "", "certification type (e.g. CARBON_SAVER); empty scores the product table")
	f.String("metrics", "", "path to a JSON or YAML metrics file")
	_ = scoreCmd.MarkFlagRequired("metrics")
	rootCmd.AddCommand(scoreCmd)
}

type scoreOutput struct {
	Type       model.CertificationType `json:"type,omitempty"`
	ConfigHash string                  `json:"config_hash"`
	scorer.Explanation
}

func runScore(cmd *cobra.Command, _ []string) error {
	typeFlag, _ := cmd.Flags().GetString("type")
	path, _ := cmd.Flags().GetString("metrics")

	cat, err := catalog.New(cfg.Certification)
	if err != nil {
		return err
	}
	metrics, err := loadMetrics(path)
	if err != nil {
		return err
	}

	out, err := scoreMetrics(cat, typeFlag, metrics)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func scoreMetrics(cat *catalog.Catalog, typeName string, metrics map[string]float64) (scoreOutput, error) {
	sc := scorer.New(cat)
	out := scoreOutput{ConfigHash: scorer.ConfigHash(cat)}
	if strings.TrimSpace(typeName) == "" {
		out.Explanation = sc.ExplainProduct(metrics)
		return out, nil
	}
	t := model.ParseCertificationType(typeName)
	if !t.Valid() {
		return scoreOutput{}, eris.Errorf("unknown certification type %q", typeName)
	}
	out.Type = t
	out.Explanation = sc.Explain(t, metrics)
	return out, nil
}

// loadMetrics reads a flat metric map from a .json, .yaml or .yml file.
func loadMetrics(path string) (map[string]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read metrics %s", path)
	}

	metrics := map[string]float64{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &metrics)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &metrics)
	default:
		return nil, eris.Errorf("metrics file %s must be .json, .yaml or .yml", path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "parse metrics %s", path)
	}
	return metrics, nil
}
