package scorer

import (
	"sort"

	"github.com/county-risk/risk-engine/internal/model"
)

// Extractor pulls one indicator value out of a snapshot. ok is false when
// the field the indicator reads is absent.
type Extractor func(snap *model.Snapshot) (value float64, ok bool)

type entry struct {
	category model.Category
	extract  Extractor
}

// Registry maps indicator codes to the category they belong to and the
// extractor that reads them. An indicator configured under a different
// category than its registration scores as a missing item.
type Registry struct {
	entries map[string]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds or replaces the extractor for code.
func (r *Registry) Register(code string, c model.Category, fn Extractor) {
	r.entries[code] = entry{category: c, extract: fn}
}

// Lookup returns the extractor for code when it is registered under c.
func (r *Registry) Lookup(code string, c model.Category) (Extractor, bool) {
	e, ok := r.entries[code]
	if !ok || e.category != c {
		return nil, false
	}
	return e.extract, true
}

// Codes returns every registered code in sorted order.
func (r *Registry) Codes() []string {
	out := make([]string, 0, len(r.entries))
	for code := range r.entries {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func field(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

// shareOfExpenditure returns part as a percentage of fiscal expenditure.
// Both rows are required and expenditure must be positive.
func shareOfExpenditure(snap *model.Snapshot, part func(*model.EducationHealthRow) *float64) (float64, bool) {
	if snap.Fiscal == nil || snap.EducationHealth == nil {
		return 0, false
	}
	exp := snap.Fiscal.FiscalExpenditure
	if exp == nil || *exp <= 0 {
		return 0, false
	}
	v := part(snap.EducationHealth)
	if v == nil {
		return 0, false
	}
	return *v / *exp * 100, true
}

// populationDecline is the value reported for POPULATION_DECLINE; no stored
// field backs it.
const populationDecline = 0.0

// DefaultRegistry registers every built-in indicator. Indicators with no
// stored field go through synth: a Pinner source may fix their value,
// otherwise their formula is applied to synth's draw.
func DefaultRegistry(synth SyntheticSource) *Registry {
	r := NewRegistry()

	synthetic := func(code string, s *model.Snapshot, formula func(u float64) float64) (float64, bool) {
		if p, ok := synth.(Pinner); ok {
			if v, ok := p.Pin(code, s.CountyCode, s.Year); ok {
				return v, true
			}
		}
		return formula(clampUnit(synth.Draw(code, s.CountyCode, s.Year))), true
	}

	// economic
	r.Register("GDP_GROWTH", model.CategoryEconomic, func(s *model.Snapshot) (float64, bool) {
		if s.Economic == nil {
			return 0, false
		}
		return field(s.Economic.GDPGrowthRate)
	})
	r.Register("FISCAL_SELF_SUFFICIENCY", model.CategoryEconomic, func(s *model.Snapshot) (float64, bool) {
		if s.Fiscal == nil {
			return 0, false
		}
		return field(s.Fiscal.FiscalSelfSufficiency)
	})
	r.Register("DEBT_RATIO", model.CategoryEconomic, func(s *model.Snapshot) (float64, bool) {
		if s.Fiscal == nil {
			return 0, false
		}
		return field(s.Fiscal.DebtToRevenueRatio)
	})
	r.Register("GDP_PER_CAPITA", model.CategoryEconomic, func(s *model.Snapshot) (float64, bool) {
		if s.Economic == nil {
			return 0, false
		}
		v, ok := field(s.Economic.GDPPerCapita)
		return v / 10000, ok // 元 -> 万元
	})

	// social
	r.Register("POPULATION_DECLINE", model.CategorySocial, func(s *model.Snapshot) (float64, bool) {
		return synthetic("POPULATION_DECLINE", s, func(float64) float64 { return populationDecline })
	})
	r.Register("EMPLOYMENT_RATE", model.CategorySocial, func(s *model.Snapshot) (float64, bool) {
		return synthetic("EMPLOYMENT_RATE", s, func(u float64) float64 { return 90 + (u*10 - 5) })
	})
	r.Register("INCOME_GAP", model.CategorySocial, func(s *model.Snapshot) (float64, bool) {
		return synthetic("INCOME_GAP", s, func(u float64) float64 { return 2.5 + (u - 0.5) })
	})

	// environment
	r.Register("AIR_QUALITY", model.CategoryEnvironment, func(s *model.Snapshot) (float64, bool) {
		if s.Environment == nil {
			return 0, false
		}
		return field(s.Environment.AirQualityIndex)
	})
	r.Register("GREEN_COVERAGE_RATE", model.CategoryEnvironment, func(s *model.Snapshot) (float64, bool) {
		if s.Environment == nil {
			return 0, false
		}
		return field(s.Environment.GreenCoverageRate)
	})
	r.Register("EMISSION_INTENSITY", model.CategoryEnvironment, func(s *model.Snapshot) (float64, bool) {
		if s.Environment == nil {
			return 0, false
		}
		return field(s.Environment.EmissionIntensity)
	})

	// governance
	r.Register("EDUCATION_INVESTMENT", model.CategoryGovernance, func(s *model.Snapshot) (float64, bool) {
		return shareOfExpenditure(s, func(r *model.EducationHealthRow) *float64 { return r.EducationInvestment })
	})
	r.Register("HEALTH_INVESTMENT", model.CategoryGovernance, func(s *model.Snapshot) (float64, bool) {
		return shareOfExpenditure(s, func(r *model.EducationHealthRow) *float64 { return r.HealthInvestment })
	})

	// development
	r.Register("INVESTMENT_EFFICIENCY", model.CategoryDevelopment, func(s *model.Snapshot) (float64, bool) {
		if s.Investment == nil {
			return 0, false
		}
		return field(s.Investment.InvestmentEfficiency)
	})
	r.Register("CONSUMPTION_RATE", model.CategoryDevelopment, func(s *model.Snapshot) (float64, bool) {
		if s.Investment == nil {
			return 0, false
		}
		return field(s.Investment.ConsumptionRate)
	})
	r.Register("INNOVATION_CAPACITY", model.CategoryDevelopment, func(s *model.Snapshot) (float64, bool) {
		return synthetic("INNOVATION_CAPACITY", s, func(float64) float64 {
			if s.Investment != nil && s.Investment.InvestmentEfficiency != nil {
				return 40 + *s.Investment.InvestmentEfficiency*30
			}
			return 50
		})
	})

	return r
}
