package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/county-risk/risk-engine/internal/db"
	"github.com/county-risk/risk-engine/internal/model"
	"github.com/county-risk/risk-engine/internal/resilience"
)

const pgUpsertAssessment = `INSERT INTO comprehensive_risk_assessment (
	county_code, year, economic_risk_score, social_risk_score, environment_risk_score,
	governance_risk_score, development_risk_score, comprehensive_risk_score, risk_level, assessment_date
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (county_code, year) DO UPDATE SET
	economic_risk_score = EXCLUDED.economic_risk_score,
	social_risk_score = EXCLUDED.social_risk_score,
	environment_risk_score = EXCLUDED.environment_risk_score,
	governance_risk_score = EXCLUDED.governance_risk_score,
	development_risk_score = EXCLUDED.development_risk_score,
	comprehensive_risk_score = EXCLUDED.comprehensive_risk_score,
	risk_level = EXCLUDED.risk_level,
	assessment_date = EXCLUDED.assessment_date`

const assessmentColumns = `county_code, year, economic_risk_score, social_risk_score, environment_risk_score,
	governance_risk_score, development_risk_score, comprehensive_risk_score, risk_level, assessment_date`

// yearCoverageQuery is shared by both backends.
const yearCoverageQuery = `SELECT y.year,
	EXISTS (SELECT 1 FROM economic_aggregate e WHERE e.year = y.year),
	COALESCE(a.n, 0)
FROM (SELECT year FROM economic_aggregate UNION SELECT year FROM comprehensive_risk_assessment) y
LEFT JOIN (
	SELECT year, COUNT(DISTINCT county_code) AS n FROM comprehensive_risk_assessment GROUP BY year
) a ON a.year = y.year
ORDER BY y.year`

var indicatorUpsert = db.UpsertConfig{
	Table: "risk_indicators",
	Columns: []string{
		"indicator_code", "indicator_name", "category", "unit", "weight",
		"threshold_high", "threshold_medium", "threshold_low", "comparison_operator", "enabled",
	},
	ConflictKeys: []string{"indicator_code"},
	TouchColumn:  "updated_at",
}

const indicatorColumns = `indicator_code, indicator_name, category, unit, weight,
	threshold_high, threshold_medium, threshold_low, comparison_operator, enabled`

func (s *PostgresStore) UpsertAssessment(ctx context.Context, a *model.Assessment) error {
	_, err := s.pool.Exec(ctx, pgUpsertAssessment,
		a.CountyCode, a.Year,
		a.Scores.Economic, a.Scores.Social, a.Scores.Environment, a.Scores.Governance, a.Scores.Development,
		a.Composite, string(a.Level), a.AssessedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert assessment %s/%d", a.CountyCode, a.Year)
	}
	return nil
}

func (s *PostgresStore) ListAssessments(ctx context.Context, year int) ([]model.Assessment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+assessmentColumns+` FROM comprehensive_risk_assessment WHERE year = $1 ORDER BY county_code`,
		year,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list assessments %d", year)
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
			return nil, eris.Wrap(err, "postgres: scan assessment")
		}
		if a.Level, err = model.ParseRiskLevel(level); err != nil {
			return nil, eris.Wrapf(err, "postgres: assessment %s/%d", a.CountyCode, a.Year)
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate assessments")
}

func (s *PostgresStore) YearCoverage(ctx context.Context) ([]model.YearCoverage, error) {
	rows, err := s.pool.Query(ctx, yearCoverageQuery)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: year coverage")
	}
	defer rows.Close()

	var out []model.YearCoverage
	for rows.Next() {
		var c model.YearCoverage
		if err := rows.Scan(&c.Year, &c.HasSourceData, &c.Assessed); err != nil {
			return nil, eris.Wrap(err, "postgres: scan year coverage")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate year coverage")
}

func (s *PostgresStore) ListIndicators(ctx context.Context) ([]model.Indicator, error) {
	return s.listIndicators(ctx,
		`SELECT `+indicatorColumns+` FROM risk_indicators ORDER BY category, indicator_code`)
}

func (s *PostgresStore) ListEnabledIndicators(ctx context.Context) ([]model.Indicator, error) {
	return s.listIndicators(ctx,
		`SELECT `+indicatorColumns+` FROM risk_indicators WHERE enabled ORDER BY weight DESC, indicator_code`)
}

func (s *PostgresStore) listIndicators(ctx context.Context, query string) ([]model.Indicator, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list indicators")
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
			return nil, eris.Wrap(err, "postgres: scan indicator")
		}
		if err := decodeIndicator(&ind, category, cmp); err != nil {
			return nil, err
		}
		out = append(out, ind)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate indicators")
}

// SaveIndicators upserts every indicator in a single transaction.
func (s *PostgresStore) SaveIndicators(ctx context.Context, indicators []model.Indicator) error {
	rows := make([][]any, 0, len(indicators))
	for _, ind := range indicators {
		rows = append(rows, []any{
			ind.Code, ind.Name, string(ind.Category), ind.Unit, ind.Weight,
			ind.ThresholdHigh, ind.ThresholdMedium, ind.ThresholdLow, ind.Direction.Operator(), ind.Enabled,
		})
	}
	if _, err := db.BulkUpsert(ctx, s.pool, indicatorUpsert, rows); err != nil {
		return eris.Wrap(err, "postgres: save indicators")
	}
	return nil
}

func (s *PostgresStore) RecordFailure(ctx context.Context, f model.UnitFailure) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO calc_failures (county_code, year, error, error_type, attempts, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (county_code, year) DO UPDATE SET
			error = EXCLUDED.error,
			error_type = EXCLUDED.error_type,
			attempts = calc_failures.attempts + EXCLUDED.attempts,
			last_failed_at = EXCLUDED.last_failed_at`,
		f.CountyCode, f.Year, f.Error, f.ErrorType, f.Attempts, f.LastFailedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record failure %s/%d", f.CountyCode, f.Year)
	}
	return nil
}

func (s *PostgresStore) ClearFailure(ctx context.Context, countyCode string, year int) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM calc_failures WHERE county_code = $1 AND year = $2`, countyCode, year)
	if err != nil {
		return eris.Wrapf(err, "postgres: clear failure %s/%d", countyCode, year)
	}
	return nil
}

func (s *PostgresStore) ListFailures(ctx context.Context, filter resilience.FailureFilter) ([]model.UnitFailure, error) {
	query := `SELECT county_code, year, error, error_type, attempts, last_failed_at FROM calc_failures WHERE true`
	var args []any
	if filter.Year != 0 {
		args = append(args, filter.Year)
		query += fmt.Sprintf(` AND year = $%d`, len(args))
	}
	if filter.ErrorType != "" {
		args = append(args, filter.ErrorType)
		query += fmt.Sprintf(` AND error_type = $%d`, len(args))
	}
	query += ` ORDER BY year, county_code`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list failures")
	}
	defer rows.Close()

	var out []model.UnitFailure
	for rows.Next() {
		var f model.UnitFailure
		if err := rows.Scan(&f.CountyCode, &f.Year, &f.Error, &f.ErrorType, &f.Attempts, &f.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan failure")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate failures")
}

func (s *PostgresStore) StartRun(ctx context.Context, year int) (*model.CalcRun, error) {
	run := &model.CalcRun{
		ID:        uuid.New().String(),
		Year:      year,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO calc_runs (id, year, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.Year, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: start run for %d", year)
	}
	return run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, success, failed int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE calc_runs SET status = $1, success = $2, failed = $3, completed_at = $4 WHERE id = $5`,
		string(model.RunStatusComplete), success, failed, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE calc_runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.CalcRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, year, status, success, failed, error, started_at, completed_at
		 FROM calc_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.CalcRun
	for rows.Next() {
		var r model.CalcRun
		var status string
		if err := rows.Scan(&r.ID, &r.Year, &status, &r.Success, &r.Failed, &r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

// decodeIndicator fills the enum fields of ind from their stored text.
func decodeIndicator(ind *model.Indicator, category, operator string) error {
	c, err := model.ParseCategory(category)
	if err != nil {
		return eris.Wrapf(err, "store: indicator %s", ind.Code)
	}
	d, err := model.ParseDirection(operator)
	if err != nil {
		return eris.Wrapf(err, "store: indicator %s", ind.Code)
	}
	ind.Category = c
	ind.Direction = d
	return nil
}
