// Package scorer turns a county-year snapshot into five dimension scores,
// a composite score and a risk level.
package scorer

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/county-risk/risk-engine/internal/config"
)

// DefaultRiskConfig returns a config.RiskConfig with the model's default
// fallbacks, composite adjustment terms and level cutoffs.
func DefaultRiskConfig() config.RiskConfig {
	return config.DefaultRisk()
}

// ValidateConfig checks that a RiskConfig is internally consistent.
func ValidateConfig(c config.RiskConfig) error {
	var errs []string

	switch c.Synthetic {
	case SyntheticHashed, SyntheticRandom:
	default:
		errs = append(errs, fmt.Sprintf("synthetic must be %q or %q, got %q", SyntheticHashed, SyntheticRandom, c.Synthetic))
	}

	fallbacks := map[string]float64{
		"fallback.no_indicators":    c.Fallback.NoIndicators,
		"fallback.no_data":          c.Fallback.NoData,
		"fallback.economic_no_data": c.Fallback.EconomicNoData,
		"fallback.missing_item":     c.Fallback.MissingItem,
	}
	for name, v := range fallbacks {
		if v < 0 || v > 100 {
			errs = append(errs, fmt.Sprintf("%s must be between 0 and 100", name))
		}
	}

	if c.Composite.DampingFactor <= 0 || c.Composite.DampingFactor > 1 {
		errs = append(errs, "composite.damping_factor must be in (0, 1]")
	}
	if c.Composite.PerturbationAmplitude < 0 {
		errs = append(errs, "composite.perturbation_amplitude must be >= 0")
	}

	// Cutoffs must strictly descend so every tier has a non-empty band.
	l := c.Levels
	if !(l.High > l.MediumHigh && l.MediumHigh > l.Medium && l.Medium > l.MediumLow) {
		errs = append(errs, fmt.Sprintf("levels must strictly descend, got %v/%v/%v/%v",
			l.High, l.MediumHigh, l.Medium, l.MediumLow))
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
