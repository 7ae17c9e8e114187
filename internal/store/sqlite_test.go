package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/county-risk/risk-engine/internal/model"
	"github.com/county-risk/risk-engine/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testAssessment(county string, year int, composite float64) *model.Assessment {
	return &model.Assessment{
		CountyCode: county,
		Year:       year,
		Scores: model.DimensionScores{
			Economic: 6.4, Social: 13, Environment: 16, Governance: 1.4, Development: 12.6,
		},
		Composite:  composite,
		Level:      model.RiskLow,
		AssessedAt: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

// --- Counties and sources ---

func TestSQLite_ListCounties_Sorted(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutCounty(ctx, "130102", "长安区", "河北省"))
	require.NoError(t, st.PutCounty(ctx, "110101", "东城区", "北京市"))

	codes, err := st.ListCounties(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"110101", "130102"}, codes)

	n, err := st.CountCounties(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLite_FindRows(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutSnapshot(ctx, &model.Snapshot{
		CountyCode: "110101",
		Year:       2021,
		Economic:   &model.EconomicRow{GDPPerCapita: model.Float(65000), GDPGrowthRate: model.Float(4.2)},
		Fiscal:     &model.FiscalRow{FiscalExpenditure: model.Float(1000), DebtToRevenueRatio: model.Float(90)},
	}))

	eco, err := st.FindEconomic(ctx, "110101", 2021)
	require.NoError(t, err)
	require.NotNil(t, eco)
	assert.Nil(t, eco.GDP)
	require.NotNil(t, eco.GDPGrowthRate)
	assert.InDelta(t, 4.2, *eco.GDPGrowthRate, 1e-9)

	fiscal, err := st.FindFiscal(ctx, "110101", 2021)
	require.NoError(t, err)
	require.NotNil(t, fiscal)
	assert.Nil(t, fiscal.FiscalSelfSufficiency)
	assert.InDelta(t, 90, *fiscal.DebtToRevenueRatio, 1e-9)

	env, err := st.FindEnvironment(ctx, "110101", 2021)
	require.NoError(t, err)
	assert.Nil(t, env)

	pop, err := st.FindPopulation(ctx, "110101", 2020)
	require.NoError(t, err)
	assert.Nil(t, pop)

	inv, err := st.FindInvestment(ctx, "110101", 2021)
	require.NoError(t, err)
	assert.Nil(t, inv)

	eh, err := st.FindEducationHealth(ctx, "110101", 2021)
	require.NoError(t, err)
	assert.Nil(t, eh)
}

func TestSQLite_YearBounds_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	lo, err := st.MinDataYear(ctx)
	require.NoError(t, err)
	assert.Nil(t, lo)

	hi, err := st.MaxDataYear(ctx)
	require.NoError(t, err)
	assert.Nil(t, hi)
}

func TestSQLite_YearInventory(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, y := range []int{2022, 2020, 2021} {
		require.NoError(t, st.PutSnapshot(ctx, &model.Snapshot{
			CountyCode: "110101", Year: y, Economic: &model.EconomicRow{GDP: model.Float(1)},
		}))
	}
	require.NoError(t, st.UpsertAssessment(ctx, testAssessment("110101", 2020, 10)))
	require.NoError(t, st.UpsertAssessment(ctx, testAssessment("110102", 2020, 11)))

	lo, err := st.MinDataYear(ctx)
	require.NoError(t, err)
	require.NotNil(t, lo)
	assert.Equal(t, 2020, *lo)

	hi, err := st.MaxDataYear(ctx)
	require.NoError(t, err)
	require.NotNil(t, hi)
	assert.Equal(t, 2022, *hi)

	src, err := st.YearsWithSourceData(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2020, 2021, 2022}, src)

	assessed, err := st.YearsWithAssessment(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2020}, assessed)

	n, err := st.CountAssessed(ctx, 2020)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cov, err := st.YearCoverage(ctx)
	require.NoError(t, err)
	require.Len(t, cov, 3)
	assert.Equal(t, model.YearCoverage{Year: 2020, HasSourceData: true, Assessed: 2}, cov[0])
	assert.Equal(t, model.YearCoverage{Year: 2022, HasSourceData: true, Assessed: 0}, cov[2])
}

// --- Assessments ---

func TestSQLite_UpsertAssessment_OneRowPerCountyYear(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, st.UpsertAssessment(ctx, testAssessment("110101", 2021, 9.5+float64(i))))
	}
	require.NoError(t, st.UpsertAssessment(ctx, testAssessment("110101", 2022, 8)))

	var rows int
	require.NoError(t, st.DB().QueryRow(
		`SELECT COUNT(*) FROM comprehensive_risk_assessment WHERE county_code = '110101' AND year = 2021`,
	).Scan(&rows))
	assert.Equal(t, 1, rows)

	list, err := st.ListAssessments(ctx, 2021)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.InDelta(t, 11.5, list[0].Composite, 1e-9)
	assert.Equal(t, model.RiskLow, list[0].Level)
	assert.InDelta(t, 16, list[0].Scores.Environment, 1e-9)
	assert.True(t, list[0].AssessedAt.Equal(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)))
}

// --- Indicators ---

func TestSQLite_Indicators_SaveAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	inds := []model.Indicator{
		{Code: "GDP_GROWTH", Name: "GDP增长率", Category: model.CategoryEconomic, Unit: "%", Weight: 0.08,
			ThresholdHigh: 1, ThresholdMedium: 3, ThresholdLow: 5, Direction: model.LessIsRiskier, Enabled: true},
		{Code: "DEBT_RATIO", Name: "债务率", Category: model.CategoryEconomic, Unit: "%", Weight: 0.10,
			ThresholdHigh: 120, ThresholdMedium: 100, ThresholdLow: 80, Direction: model.GreaterIsRiskier, Enabled: true},
		{Code: "GDP_PER_CAPITA", Name: "人均GDP", Category: model.CategoryEconomic, Weight: 0.08,
			Direction: model.LessIsRiskier, Enabled: true},
		{Code: "OLD_METRIC", Name: "停用", Category: model.CategorySocial, Weight: 0.9,
			Direction: model.GreaterIsRiskier, Enabled: false},
	}
	require.NoError(t, st.SaveIndicators(ctx, inds))

	all, err := st.ListIndicators(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	enabled, err := st.ListEnabledIndicators(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 3)
	assert.Equal(t, "DEBT_RATIO", enabled[0].Code)
	assert.Equal(t, "GDP_GROWTH", enabled[1].Code, "equal weights break ties by code")
	assert.Equal(t, "GDP_PER_CAPITA", enabled[2].Code)
	assert.Equal(t, model.LessIsRiskier, enabled[1].Direction)
	assert.Equal(t, model.CategoryEconomic, enabled[1].Category)

	// Saving again updates in place.
	inds[0].Weight = 0.2
	require.NoError(t, st.SaveIndicators(ctx, inds[:1]))
	all, err = st.ListIndicators(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	for _, ind := range all {
		if ind.Code == "GDP_GROWTH" {
			assert.InDelta(t, 0.2, ind.Weight, 1e-9)
		}
	}
}

func TestSQLite_SaveIndicators_AllOrNothing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.DB().Exec(`CREATE TRIGGER reject_bad BEFORE INSERT ON risk_indicators
		WHEN NEW.indicator_code = 'BAD' BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)

	err = st.SaveIndicators(ctx, []model.Indicator{
		{Code: "GDP_GROWTH", Name: "GDP增长率", Category: model.CategoryEconomic, Direction: model.LessIsRiskier, Enabled: true},
		{Code: "BAD", Name: "bad", Category: model.CategoryEconomic, Direction: model.LessIsRiskier, Enabled: true},
	})
	require.Error(t, err)

	all, err := st.ListIndicators(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

// --- Failure ledger ---

func TestSQLite_FailureLedger(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.RecordFailure(ctx,
		resilience.NewUnitFailure("110101", 2021, errors.New("database is locked"), 3, now)))
	require.NoError(t, st.RecordFailure(ctx,
		resilience.NewUnitFailure("110101", 2021, errors.New("bad value"), 1, now)))
	require.NoError(t, st.RecordFailure(ctx,
		resilience.NewUnitFailure("110102", 2022, errors.New("bad value"), 1, now)))

	all, err := st.ListFailures(ctx, resilience.FailureFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 4, all[0].Attempts, "attempts accumulate across passes")
	assert.Equal(t, resilience.ErrorTypePermanent, all[0].ErrorType)

	y2022, err := st.ListFailures(ctx, resilience.FailureFilter{Year: 2022})
	require.NoError(t, err)
	require.Len(t, y2022, 1)
	assert.Equal(t, "110102", y2022[0].CountyCode)

	require.NoError(t, st.ClearFailure(ctx, "110101", 2021))
	all, err = st.ListFailures(ctx, resilience.FailureFilter{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// --- Run log ---

func TestSQLite_RunLog(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.StartRun(ctx, 2021)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	require.NoError(t, st.CompleteRun(ctx, run.ID, 10, 1))

	failed, err := st.StartRun(ctx, 2022)
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, failed.ID, "list counties: connection refused"))

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	byYear := map[int]model.CalcRun{}
	for _, r := range runs {
		byYear[r.Year] = r
	}
	assert.Equal(t, model.RunStatusComplete, byYear[2021].Status)
	assert.Equal(t, 10, byYear[2021].Success)
	assert.Equal(t, 1, byYear[2021].Failed)
	assert.NotNil(t, byYear[2021].CompletedAt)
	assert.Equal(t, model.RunStatusFailed, byYear[2022].Status)
	assert.Contains(t, byYear[2022].Error, "connection refused")

	err = st.CompleteRun(ctx, "missing", 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestToSQLite(t *testing.T) {
	assert.Equal(t,
		"SELECT a FROM t WHERE x = ? AND y = ? LIMIT 1",
		toSQLite("SELECT a FROM t WHERE x = $1 AND y = $2 LIMIT 1"))
	assert.Equal(t, "VALUES (?, ?)", toSQLite("VALUES ($9, $10)"))
	assert.Equal(t, "cost $ x", toSQLite("cost $ x"))
}
