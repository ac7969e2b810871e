package reconcile

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// MatchWeights configure the auto-match scoring. The numeric values are
// business policy, not protocol, so they are loaded from configuration;
// only the relative ordering direct > customer > end-to-end matters.
type MatchWeights struct {
	DirectRef       int    `yaml:"direct_ref"`
	CustomerRef     int    `yaml:"customer_ref"`
	EndToEnd        int    `yaml:"end_to_end"`
	AmountTolerance string `yaml:"amount_tolerance"`

	tolerance decimal.Decimal
}

// DefaultMatchWeights returns the stock scoring policy.
func DefaultMatchWeights() MatchWeights {
	return MatchWeights{
		DirectRef:       10,
		CustomerRef:     5,
		EndToEnd:        3,
		AmountTolerance: "0.01",
		tolerance:       decimal.RequireFromString("0.01"),
	}
}

// LoadMatchWeights reads scoring weights from a YAML file, falling back to
// defaults for a missing file or missing fields.
func LoadMatchWeights(path string) (MatchWeights, error) {
	w := DefaultMatchWeights()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return w, nil
		}
		return w, fmt.Errorf("failed to read match weights: %w", err)
	}
	if err := yaml.Unmarshal(data, &w); err != nil {
		return w, fmt.Errorf("failed to parse match weights: %w", err)
	}
	if err := w.validate(); err != nil {
		return w, err
	}
	return w, nil
}

func (w *MatchWeights) validate() error {
	if w.DirectRef <= 0 || w.CustomerRef <= 0 || w.EndToEnd <= 0 {
		return fmt.Errorf("match weights must be positive")
	}
	if w.DirectRef < w.CustomerRef || w.CustomerRef < w.EndToEnd {
		return fmt.Errorf("match weights must keep direct_ref >= customer_ref >= end_to_end")
	}
	tol, err := decimal.NewFromString(w.AmountTolerance)
	if err != nil || tol.IsNegative() {
		return fmt.Errorf("invalid amount_tolerance %q", w.AmountTolerance)
	}
	w.tolerance = tol
	return nil
}

// Tolerance returns the amount tolerance as a decimal.
func (w MatchWeights) Tolerance() decimal.Decimal {
	if w.tolerance.IsZero() && w.AmountTolerance != "" {
		if tol, err := decimal.NewFromString(w.AmountTolerance); err == nil {
			return tol
		}
	}
	return w.tolerance
}
