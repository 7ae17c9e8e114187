package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/county-risk/risk-engine/internal/model"
)

const (
	pgFindEconomic        = `SELECT gdp, gdp_per_capita, gdp_growth_rate FROM economic_aggregate WHERE county_code = $1 AND year = $2 LIMIT 1`
	pgFindPopulation      = `SELECT total_population, urbanization_rate FROM population_statistics WHERE county_code = $1 AND year = $2 LIMIT 1`
	pgFindEnvironment     = `SELECT air_quality_index, green_coverage_rate, emission_intensity FROM environment_culture WHERE county_code = $1 AND year = $2 LIMIT 1`
	pgFindFiscal          = `SELECT fiscal_revenue, fiscal_expenditure, fiscal_self_sufficiency, debt_to_revenue_ratio FROM fiscal_finance WHERE county_code = $1 AND year = $2 LIMIT 1`
	pgFindInvestment      = `SELECT investment_efficiency, consumption_rate FROM investment_consumption WHERE county_code = $1 AND year = $2 LIMIT 1`
	pgFindEducationHealth = `SELECT education_investment, health_investment FROM education_health WHERE county_code = $1 AND year = $2 LIMIT 1`
)

func (s *PostgresStore) ListCounties(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT county_code FROM county_basic ORDER BY county_code`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list counties")
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, eris.Wrap(err, "postgres: scan county")
		}
		codes = append(codes, code)
	}
	return codes, eris.Wrap(rows.Err(), "postgres: iterate counties")
}

func (s *PostgresStore) CountCounties(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM county_basic`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count counties")
	}
	return n, nil
}

// findRow scans one county-year row into dest. It returns false when the
// row does not exist.
func (s *PostgresStore) findRow(ctx context.Context, query, table, countyCode string, year int, dest ...any) (bool, error) {
	err := s.pool.QueryRow(ctx, query, countyCode, year).Scan(dest...)
	if noRows(err) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: find %s %s/%d", table, countyCode, year)
	}
	return true, nil
}

func (s *PostgresStore) FindEconomic(ctx context.Context, countyCode string, year int) (*model.EconomicRow, error) {
	var r model.EconomicRow
	ok, err := s.findRow(ctx, pgFindEconomic, "economic_aggregate", countyCode, year,
		&r.GDP, &r.GDPPerCapita, &r.GDPGrowthRate)
	if !ok {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) FindPopulation(ctx context.Context, countyCode string, year int) (*model.PopulationRow, error) {
	var r model.PopulationRow
	ok, err := s.findRow(ctx, pgFindPopulation, "population_statistics", countyCode, year,
		&r.TotalPopulation, &r.UrbanizationRate)
	if !ok {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) FindEnvironment(ctx context.Context, countyCode string, year int) (*model.EnvironmentRow, error) {
	var r model.EnvironmentRow
	ok, err := s.findRow(ctx, pgFindEnvironment, "environment_culture", countyCode, year,
		&r.AirQualityIndex, &r.GreenCoverageRate, &r.EmissionIntensity)
	if !ok {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) FindFiscal(ctx context.Context, countyCode string, year int) (*model.FiscalRow, error) {
	var r model.FiscalRow
	ok, err := s.findRow(ctx, pgFindFiscal, "fiscal_finance", countyCode, year,
		&r.FiscalRevenue, &r.FiscalExpenditure, &r.FiscalSelfSufficiency, &r.DebtToRevenueRatio)
	if !ok {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) FindInvestment(ctx context.Context, countyCode string, year int) (*model.InvestmentRow, error) {
	var r model.InvestmentRow
	ok, err := s.findRow(ctx, pgFindInvestment, "investment_consumption", countyCode, year,
		&r.InvestmentEfficiency, &r.ConsumptionRate)
	if !ok {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) FindEducationHealth(ctx context.Context, countyCode string, year int) (*model.EducationHealthRow, error) {
	var r model.EducationHealthRow
	ok, err := s.findRow(ctx, pgFindEducationHealth, "education_health", countyCode, year,
		&r.EducationInvestment, &r.HealthInvestment)
	if !ok {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) MinDataYear(ctx context.Context) (*int, error) {
	var y *int
	if err := s.pool.QueryRow(ctx, `SELECT MIN(year) FROM economic_aggregate`).Scan(&y); err != nil {
		return nil, eris.Wrap(err, "postgres: min data year")
	}
	return y, nil
}

func (s *PostgresStore) MaxDataYear(ctx context.Context) (*int, error) {
	var y *int
	if err := s.pool.QueryRow(ctx, `SELECT MAX(year) FROM economic_aggregate`).Scan(&y); err != nil {
		return nil, eris.Wrap(err, "postgres: max data year")
	}
	return y, nil
}

func (s *PostgresStore) YearsWithSourceData(ctx context.Context) ([]int, error) {
	return s.years(ctx, `SELECT DISTINCT year FROM economic_aggregate ORDER BY year`, "source years")
}

func (s *PostgresStore) YearsWithAssessment(ctx context.Context) ([]int, error) {
	return s.years(ctx, `SELECT DISTINCT year FROM comprehensive_risk_assessment ORDER BY year`, "assessed years")
}

func (s *PostgresStore) years(ctx context.Context, query, what string) ([]int, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query %s", what)
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", what)
		}
		years = append(years, y)
	}
	return years, eris.Wrapf(rows.Err(), "postgres: iterate %s", what)
}

func (s *PostgresStore) CountAssessed(ctx context.Context, year int) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT county_code) FROM comprehensive_risk_assessment WHERE year = $1`, year,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: count assessed %d", year)
	}
	return n, nil
}
