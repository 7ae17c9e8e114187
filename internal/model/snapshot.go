package model

// EconomicRow is one county-year row of the economic aggregate table.
type EconomicRow struct {
	GDP           *float64 // 万元
	GDPPerCapita  *float64 // 元
	GDPGrowthRate *float64 // %
}

// PopulationRow is one county-year row of the population statistics table.
type PopulationRow struct {
	TotalPopulation  *float64 // 万人
	UrbanizationRate *float64 // %
}

// EnvironmentRow is one county-year row of the environment table.
type EnvironmentRow struct {
	AirQualityIndex   *float64
	GreenCoverageRate *float64
	EmissionIntensity *float64
}

// FiscalRow is one county-year row of the fiscal/finance table.
type FiscalRow struct {
	FiscalRevenue         *float64 // 万元
	FiscalExpenditure     *float64 // 万元
	FiscalSelfSufficiency *float64 // %
	DebtToRevenueRatio    *float64 // %
}

// InvestmentRow is one county-year row of the investment/consumption table.
type InvestmentRow struct {
	InvestmentEfficiency *float64
	ConsumptionRate      *float64 // %
}

// EducationHealthRow is one county-year row of the education/health table.
type EducationHealthRow struct {
	EducationInvestment *float64 // 万元
	HealthInvestment    *float64 // 万元
}

// Snapshot gathers every source row available for one county-year. Any row
// may be nil; absence is legal and is resolved by fallback scores.
type Snapshot struct {
	CountyCode      string
	Year            int
	Economic        *EconomicRow
	Population      *PopulationRow
	Environment     *EnvironmentRow
	Fiscal          *FiscalRow
	Investment      *InvestmentRow
	EducationHealth *EducationHealthRow
}

// Empty reports whether no source row was found at all.
func (s *Snapshot) Empty() bool {
	return s.Economic == nil && s.Population == nil && s.Environment == nil &&
		s.Fiscal == nil && s.Investment == nil && s.EducationHealth == nil
}

// Float returns a pointer to v. Handy for building rows in fixtures.
func Float(v float64) *float64 { return &v }
