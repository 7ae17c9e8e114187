package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/county-risk/risk-engine/internal/model"
	"github.com/county-risk/risk-engine/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the default
// local backend and the one the end-to-end tests run against.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the handle for fixture loading.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS county_basic (
	county_code   TEXT PRIMARY KEY,
	county_name   TEXT NOT NULL DEFAULT '',
	province_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS economic_aggregate (
	county_code     TEXT NOT NULL,
	year            INTEGER NOT NULL,
	gdp             REAL,
	gdp_per_capita  REAL,
	gdp_growth_rate REAL,
	PRIMARY KEY (county_code, year)
);

CREATE TABLE IF NOT EXISTS population_statistics (
	county_code       TEXT NOT NULL,
	year              INTEGER NOT NULL,
	total_population  REAL,
	urbanization_rate REAL,
	PRIMARY KEY (county_code, year)
);

CREATE TABLE IF NOT EXISTS environment_culture (
	county_code         TEXT NOT NULL,
	year                INTEGER NOT NULL,
	air_quality_index   REAL,
	green_coverage_rate REAL,
	emission_intensity  REAL,
	PRIMARY KEY (county_code, year)
);

CREATE TABLE IF NOT EXISTS fiscal_finance (
	county_code             TEXT NOT NULL,
	year                    INTEGER NOT NULL,
	fiscal_revenue          REAL,
	fiscal_expenditure      REAL,
	fiscal_self_sufficiency REAL,
	debt_to_revenue_ratio   REAL,
	PRIMARY KEY (county_code, year)
);

CREATE TABLE IF NOT EXISTS investment_consumption (
	county_code           TEXT NOT NULL,
	year                  INTEGER NOT NULL,
	investment_efficiency REAL,
	consumption_rate      REAL,
	PRIMARY KEY (county_code, year)
);

CREATE TABLE IF NOT EXISTS education_health (
	county_code          TEXT NOT NULL,
	year                 INTEGER NOT NULL,
	education_investment REAL,
	health_investment    REAL,
	PRIMARY KEY (county_code, year)
);

CREATE TABLE IF NOT EXISTS risk_indicators (
	indicator_code      TEXT PRIMARY KEY,
	indicator_name      TEXT NOT NULL,
	category            TEXT NOT NULL,
	unit                TEXT NOT NULL DEFAULT '',
	weight              REAL NOT NULL DEFAULT 0,
	threshold_high      REAL NOT NULL DEFAULT 0,
	threshold_medium    REAL NOT NULL DEFAULT 0,
	threshold_low       REAL NOT NULL DEFAULT 0,
	comparison_operator TEXT NOT NULL DEFAULT 'GT',
	enabled             INTEGER NOT NULL DEFAULT 1,
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS comprehensive_risk_assessment (
	id                       INTEGER PRIMARY KEY AUTOINCREMENT,
	county_code              TEXT NOT NULL,
	year                     INTEGER NOT NULL,
	economic_risk_score      REAL NOT NULL,
	social_risk_score        REAL NOT NULL,
	environment_risk_score   REAL NOT NULL,
	governance_risk_score    REAL NOT NULL,
	development_risk_score   REAL NOT NULL,
	comprehensive_risk_score REAL NOT NULL,
	risk_level               TEXT NOT NULL,
	assessment_date          DATETIME NOT NULL,
	UNIQUE (county_code, year)
);

CREATE INDEX IF NOT EXISTS idx_assessment_year ON comprehensive_risk_assessment(year);

CREATE TABLE IF NOT EXISTS calc_runs (
	id           TEXT PRIMARY KEY,
	year         INTEGER NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	success      INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS calc_failures (
	county_code    TEXT NOT NULL,
	year           INTEGER NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'permanent',
	attempts       INTEGER NOT NULL DEFAULT 1,
	last_failed_at DATETIME NOT NULL,
	PRIMARY KEY (county_code, year)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Counties and source tables ---

func (s *SQLiteStore) ListCounties(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT county_code FROM county_basic ORDER BY county_code`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list counties")
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan county")
		}
		codes = append(codes, code)
	}
	return codes, eris.Wrap(rows.Err(), "sqlite: iterate counties")
}

func (s *SQLiteStore) CountCounties(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM county_basic`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count counties")
	}
	return n, nil
}

func (s *SQLiteStore) findRow(ctx context.Context, query, table, countyCode string, year int, dest ...any) (bool, error) {
	err := s.db.QueryRowContext(ctx, toSQLite(query), countyCode, year).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: find %s %s/%d", table, countyCode, year)
	}
	return true, nil
}

func (s *SQLiteStore) FindEconomic(ctx context.Context, countyCode string, year int) (*model.EconomicRow, error) {
	var r model.EconomicRow
	ok, err := s.findRow(ctx, pgFindEconomic, "economic_aggregate", countyCode, year,
		&r.GDP, &r.GDPPerCapita, &r.GDPGrowthRate)
	if !ok {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) FindPopulation(ctx context.Context, countyCode string, year int) (*model.PopulationRow, error) {
	var r model.PopulationRow
	ok, err := s.findRow(ctx, pgFindPopulation, "population_statistics", countyCode, year,
		&r.TotalPopulation, &r.UrbanizationRate)
	if !ok {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) FindEnvironment(ctx context.Context, countyCode string, year int) (*model.EnvironmentRow, error) {
	var r model.EnvironmentRow
	ok, err := s.findRow(ctx, pgFindEnvironment, "environment_culture", countyCode, year,
		&r.AirQualityIndex, &r.GreenCoverageRate, &r.EmissionIntensity)
	if !ok {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) FindFiscal(ctx context.Context, countyCode string, year int) (*model.FiscalRow, error) {
	var r model.FiscalRow
	ok, err := s.findRow(ctx, pgFindFiscal, "fiscal_finance", countyCode, year,
		&r.FiscalRevenue, &r.FiscalExpenditure, &r.FiscalSelfSufficiency, &r.DebtToRevenueRatio)
	if !ok {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) FindInvestment(ctx context.Context, countyCode string, year int) (*model.InvestmentRow, error) {
	var r model.InvestmentRow
	ok, err := s.findRow(ctx, pgFindInvestment, "investment_consumption", countyCode, year,
		&r.InvestmentEfficiency, &r.ConsumptionRate)
	if !ok {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) FindEducationHealth(ctx context.Context, countyCode string, year int) (*model.EducationHealthRow, error) {
	var r model.EducationHealthRow
	ok, err := s.findRow(ctx, pgFindEducationHealth, "education_health", countyCode, year,
		&r.EducationInvestment, &r.HealthInvestment)
	if !ok {
		return nil, err
	}
	return &r, nil
}

// --- Year inventory ---

func (s *SQLiteStore) MinDataYear(ctx context.Context) (*int, error) {
	var y *int
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(year) FROM economic_aggregate`).Scan(&y); err != nil {
		return nil, eris.Wrap(err, "sqlite: min data year")
	}
	return y, nil
}

func (s *SQLiteStore) MaxDataYear(ctx context.Context) (*int, error) {
	var y *int
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(year) FROM economic_aggregate`).Scan(&y); err != nil {
		return nil, eris.Wrap(err, "sqlite: max data year")
	}
	return y, nil
}

func (s *SQLiteStore) YearsWithSourceData(ctx context.Context) ([]int, error) {
	return s.years(ctx, `SELECT DISTINCT year FROM economic_aggregate ORDER BY year`, "source years")
}

func (s *SQLiteStore) YearsWithAssessment(ctx context.Context) ([]int, error) {
	return s.years(ctx, `SELECT DISTINCT year FROM comprehensive_risk_assessment ORDER BY year`, "assessed years")
}

func (s *SQLiteStore) years(ctx context.Context, query, what string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query %s", what)
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", what)
		}
		years = append(years, y)
	}
	return years, eris.Wrapf(rows.Err(), "sqlite: iterate %s", what)
}

func (s *SQLiteStore) CountAssessed(ctx context.Context, year int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT county_code) FROM comprehensive_risk_assessment WHERE year = ?`, year,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: count assessed %d", year)
	}
	return n, nil
}

// --- Assessments ---

func (s *SQLiteStore) UpsertAssessment(ctx context.Context, a *model.Assessment) error {
	_, err := s.db.ExecContext(ctx, toSQLite(pgUpsertAssessment),
		a.CountyCode, a.Year,
		a.Scores.Economic, a.Scores.Social, a.Scores.Environment, a.Scores.Governance, a.Scores.Development,
		a.Composite, string(a.Level), a.AssessedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert assessment %s/%d", a.CountyCode, a.Year)
	}
	return nil
}

func (s *SQLiteStore) ListAssessments(ctx context.Context, year int) ([]model.Assessment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assessmentColumns+` FROM comprehensive_risk_assessment WHERE year = ? ORDER BY county_code`,
		year,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list assessments %d", year)
	}
	defer rows.Close()

	var out []model.Assessment
	for rows.Next() {
		var a model.Assessment
		var level string
		if err := rows.Scan(&a.CountyCode, &a.Year,
			&a.Scores.Economic, &a.Scores.Social, &a.Scores.Environment, &a.Scores.Governance, &a.Scores.Development,
			&a.Composite, &level, &a.AssessedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assessment")
		}
		if a.Level, err = model.ParseRiskLevel(level); err != nil {
			return nil, eris.Wrapf(err, "sqlite: assessment %s/%d", a.CountyCode, a.Year)
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate assessments")
}

func (s *SQLiteStore) YearCoverage(ctx context.Context) ([]model.YearCoverage, error) {
	rows, err := s.db.QueryContext(ctx, yearCoverageQuery)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: year coverage")
	}
	defer rows.Close()

	var out []model.YearCoverage
	for rows.Next() {
		var c model.YearCoverage
		if err := rows.Scan(&c.Year, &c.HasSourceData, &c.Assessed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan year coverage")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate year coverage")
}

// --- Indicators ---

func (s *SQLiteStore) ListIndicators(ctx context.Context) ([]model.Indicator, error) {
	return s.listIndicators(ctx,
		`SELECT `+indicatorColumns+` FROM risk_indicators ORDER BY category, indicator_code`)
}

func (s *SQLiteStore) ListEnabledIndicators(ctx context.Context) ([]model.Indicator, error) {
	return s.listIndicators(ctx,
		`SELECT `+indicatorColumns+` FROM risk_indicators WHERE enabled = 1 ORDER BY weight DESC, indicator_code`)
}

func (s *SQLiteStore) listIndicators(ctx context.Context, query string) ([]model.Indicator, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list indicators")
	}
	defer rows.Close()

	var out []model.Indicator
	for rows.Next() {
		var (
			ind           model.Indicator
			category, cmp string
		)
		if err := rows.Scan(&ind.Code, &ind.Name, &category, &ind.Unit, &ind.Weight,
			&ind.ThresholdHigh, &ind.ThresholdMedium, &ind.ThresholdLow, &cmp, &ind.Enabled,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan indicator")
		}
		if err := decodeIndicator(&ind, category, cmp); err != nil {
			return nil, err
		}
		out = append(out, ind)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate indicators")
}

// SaveIndicators upserts every indicator inside one transaction.
func (s *SQLiteStore) SaveIndicators(ctx context.Context, indicators []model.Indicator) error {
	if len(indicators) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save indicators")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO risk_indicators (`+indicatorColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (indicator_code) DO UPDATE SET
			indicator_name = excluded.indicator_name,
			category = excluded.category,
			unit = excluded.unit,
			weight = excluded.weight,
			threshold_high = excluded.threshold_high,
			threshold_medium = excluded.threshold_medium,
			threshold_low = excluded.threshold_low,
			comparison_operator = excluded.comparison_operator,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare save indicators")
	}
	defer stmt.Close() //nolint:errcheck

	for _, ind := range indicators {
		if _, err := stmt.ExecContext(ctx,
			ind.Code, ind.Name, string(ind.Category), ind.Unit, ind.Weight,
			ind.ThresholdHigh, ind.ThresholdMedium, ind.ThresholdLow, ind.Direction.Operator(), ind.Enabled,
		); err != nil {
			return eris.Wrapf(err, "sqlite: save indicator %s", ind.Code)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save indicators")
}

// --- Failure ledger ---

func (s *SQLiteStore) RecordFailure(ctx context.Context, f model.UnitFailure) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calc_failures (county_code, year, error, error_type, attempts, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (county_code, year) DO UPDATE SET
			error = excluded.error,
			error_type = excluded.error_type,
			attempts = calc_failures.attempts + excluded.attempts,
			last_failed_at = excluded.last_failed_at`,
		f.CountyCode, f.Year, f.Error, f.ErrorType, f.Attempts, f.LastFailedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record failure %s/%d", f.CountyCode, f.Year)
	}
	return nil
}

func (s *SQLiteStore) ClearFailure(ctx context.Context, countyCode string, year int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM calc_failures WHERE county_code = ? AND year = ?`, countyCode, year)
	if err != nil {
		return eris.Wrapf(err, "sqlite: clear failure %s/%d", countyCode, year)
	}
	return nil
}

func (s *SQLiteStore) ListFailures(ctx context.Context, filter resilience.FailureFilter) ([]model.UnitFailure, error) {
	query := `SELECT county_code, year, error, error_type, attempts, last_failed_at FROM calc_failures WHERE 1 = 1`
	var args []any
	if filter.Year != 0 {
		query += ` AND year = ?`
		args = append(args, filter.Year)
	}
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY year, county_code`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list failures")
	}
	defer rows.Close()

	var out []model.UnitFailure
	for rows.Next() {
		var f model.UnitFailure
		if err := rows.Scan(&f.CountyCode, &f.Year, &f.Error, &f.ErrorType, &f.Attempts, &f.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failure")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate failures")
}

// --- Run log ---

func (s *SQLiteStore) StartRun(ctx context.Context, year int) (*model.CalcRun, error) {
	run := &model.CalcRun{
		ID:        uuid.New().String(),
		Year:      year,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calc_runs (id, year, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Year, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: start run for %d", year)
	}
	return run, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, success, failed int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calc_runs SET status = ?, success = ?, failed = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), success, failed, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return requireRow(res, runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calc_runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return requireRow(res, runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.CalcRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, year, status, success, failed, error, started_at, completed_at
		 FROM calc_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []model.CalcRun
	for rows.Next() {
		var r model.CalcRun
		var status string
		if err := rows.Scan(&r.ID, &r.Year, &status, &r.Success, &r.Failed, &r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = model.RunStatus(status)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func requireRow(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: run not found: %s", runID)
	}
	return nil
}

// toSQLite rewrites $n placeholders in a shared query to ?.
func toSQLite(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
