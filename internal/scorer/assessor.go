package scorer

import (
	"math"
	"strconv"

	"github.com/county-risk/risk-engine/internal/config"
	"github.com/county-risk/risk-engine/internal/model"
)

// Assessor combines dimension scores into a composite and classifies it.
type Assessor struct {
	composite config.CompositeConfig
	levels    config.LevelConfig
}

// NewAssessor creates an Assessor from the composite and level sections of cfg.
func NewAssessor(cfg config.RiskConfig) *Assessor {
	return &Assessor{composite: cfg.Composite, levels: cfg.Levels}
}

// Assess returns the composite score and risk level for one county-year.
//
// composite = clamp(damping * (mean + trend*(year-base) + amp*(2u-1)), 0, 100)
//
// where mean is rounded half-up to 2 places and u in [0,1) is derived from
// the county-year key, so the result is identical across runs.
func (a *Assessor) Assess(countyCode string, year int, scores model.DimensionScores) (float64, model.RiskLevel) {
	vals := scores.Values()
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	mean := round2(sum / float64(len(vals)))

	c := a.composite
	trend := c.TrendPerYear * float64(year-c.TrendBaseYear)
	u := unitHash(countyCode + "|" + strconv.Itoa(year))
	perturb := c.PerturbationAmplitude * (2*u - 1)

	composite := (mean + trend + perturb) * c.DampingFactor
	composite = round2(math.Max(0, math.Min(100, composite)))
	return composite, a.Classify(composite)
}

// Classify maps score onto the fixed tier cutoffs. Every input, including
// NaN, maps to exactly one tier.
func (a *Assessor) Classify(score float64) model.RiskLevel {
	switch {
	case score >= a.levels.High:
		return model.RiskHigh
	case score >= a.levels.MediumHigh:
		return model.RiskMediumHigh
	case score >= a.levels.Medium:
		return model.RiskMedium
	case score >= a.levels.MediumLow:
		return model.RiskMediumLow
	}
	return model.RiskLow
}

// round2 rounds half away from zero to two decimal places. The inner round
// absorbs representation error so 0.125 stored as 0.12499999... still goes up.
func round2(x float64) float64 {
	v := math.Round(x*100*1e4) / 1e4
	return math.Round(v) / 100
}
