package scorer

import (
	"math"

	"github.com/county-risk/risk-engine/internal/catalog"
	"github.com/county-risk/risk-engine/internal/config"
	"github.com/county-risk/risk-engine/internal/model"
)

// Item scores produced by the threshold ladder.
const (
	itemHigh     = 100.0
	itemMedium   = 80.0
	itemLow      = 60.0
	itemMinimal  = 20.0
	maxDimension = 100.0
)

// ItemScore runs the threshold ladder for one value. For GREATER_IS_RISKIER
// it compares value > high, > medium, > low in turn; for LESS_IS_RISKIER it
// compares value < high, < medium, < low. Thresholds are used as configured
// and are not reordered.
func ItemScore(value float64, ind model.Indicator) float64 {
	if ind.Direction == model.GreaterIsRiskier {
		switch {
		case value > ind.ThresholdHigh:
			return itemHigh
		case value > ind.ThresholdMedium:
			return itemMedium
		case value > ind.ThresholdLow:
			return itemLow
		}
		return itemMinimal
	}

	switch {
	case value < ind.ThresholdHigh:
		return itemHigh
	case value < ind.ThresholdMedium:
		return itemMedium
	case value < ind.ThresholdLow:
		return itemLow
	}
	return itemMinimal
}

// hasData reports whether snap carries the source rows category c needs.
func hasData(c model.Category, snap *model.Snapshot) bool {
	switch c {
	case model.CategoryEconomic:
		return snap.Economic != nil || snap.Fiscal != nil
	case model.CategorySocial:
		return snap.Population != nil || snap.Economic != nil
	case model.CategoryEnvironment:
		return snap.Environment != nil
	case model.CategoryGovernance:
		return snap.EducationHealth != nil && snap.Fiscal != nil
	case model.CategoryDevelopment:
		return snap.Investment != nil
	}
	return false
}

// Scorer computes dimension scores. It holds no per-unit state and is safe
// for concurrent use.
type Scorer struct {
	registry *Registry
	fallback config.FallbackConfig
}

// New creates a Scorer.
func New(registry *Registry, fallback config.FallbackConfig) *Scorer {
	return &Scorer{registry: registry, fallback: fallback}
}

// Score returns the sub-score of category c for snap, in [0, 100] for
// non-negative inputs.
func (s *Scorer) Score(c model.Category, snap *model.Snapshot, active catalog.ActiveSet) float64 {
	indicators := active.For(c)
	if len(indicators) == 0 {
		return s.fallback.NoIndicators
	}
	if !hasData(c, snap) {
		if c == model.CategoryEconomic {
			return s.fallback.EconomicNoData
		}
		return s.fallback.NoData
	}

	total := 0.0
	for _, ind := range indicators {
		item := s.fallback.MissingItem
		if extract, ok := s.registry.Lookup(ind.Code, c); ok {
			if v, ok := extract(snap); ok {
				item = ItemScore(v, ind)
			}
		}
		total += item * ind.Weight
	}
	return math.Min(total, maxDimension)
}

// ScoreAll scores every category.
func (s *Scorer) ScoreAll(snap *model.Snapshot, active catalog.ActiveSet) model.DimensionScores {
	var out model.DimensionScores
	for _, c := range model.AllCategories() {
		out.Set(c, s.Score(c, snap, active))
	}
	return out
}
