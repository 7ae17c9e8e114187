package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/county-risk/risk-engine/internal/model"
)

// PutCounty inserts or renames a county in the local database.
func (s *SQLiteStore) PutCounty(ctx context.Context, code, name, province string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO county_basic (county_code, county_name, province_name) VALUES (?, ?, ?)
		 ON CONFLICT (county_code) DO UPDATE SET county_name = excluded.county_name, province_name = excluded.province_name`,
		code, name, province,
	)
	return eris.Wrapf(err, "sqlite: put county %s", code)
}

// PutSnapshot writes every non-nil row of snap into its source table,
// replacing any existing row for the same county-year.
func (s *SQLiteStore) PutSnapshot(ctx context.Context, snap *model.Snapshot) error {
	type write struct {
		table string
		cols  string
		args  []any
	}
	var writes []write
	if r := snap.Economic; r != nil {
		writes = append(writes, write{"economic_aggregate", "gdp, gdp_per_capita, gdp_growth_rate",
			[]any{r.GDP, r.GDPPerCapita, r.GDPGrowthRate}})
	}
	if r := snap.Population; r != nil {
		writes = append(writes, write{"population_statistics", "total_population, urbanization_rate",
			[]any{r.TotalPopulation, r.UrbanizationRate}})
	}
	if r := snap.Environment; r != nil {
		writes = append(writes, write{"environment_culture", "air_quality_index, green_coverage_rate, emission_intensity",
			[]any{r.AirQualityIndex, r.GreenCoverageRate, r.EmissionIntensity}})
	}
	if r := snap.Fiscal; r != nil {
		writes = append(writes, write{"fiscal_finance", "fiscal_revenue, fiscal_expenditure, fiscal_self_sufficiency, debt_to_revenue_ratio",
			[]any{r.FiscalRevenue, r.FiscalExpenditure, r.FiscalSelfSufficiency, r.DebtToRevenueRatio}})
	}
	if r := snap.Investment; r != nil {
		writes = append(writes, write{"investment_consumption", "investment_efficiency, consumption_rate",
			[]any{r.InvestmentEfficiency, r.ConsumptionRate}})
	}
	if r := snap.EducationHealth; r != nil {
		writes = append(writes, write{"education_health", "education_investment, health_investment",
			[]any{r.EducationInvestment, r.HealthInvestment}})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin put snapshot")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, w := range writes {
		placeholders := "?, ?"
		for range w.args {
			placeholders += ", ?"
		}
		args := append([]any{snap.CountyCode, snap.Year}, w.args...)
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO `+w.table+` (county_code, year, `+w.cols+`) VALUES (`+placeholders+`)`,
			args...,
		); err != nil {
			return eris.Wrapf(err, "sqlite: put %s %s/%d", w.table, snap.CountyCode, snap.Year)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit put snapshot")
}
