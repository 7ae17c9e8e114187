// Package store persists indicator configuration and risk assessments and
// reads the yearly county source tables.
package store

import (
	"context"

	"github.com/county-risk/risk-engine/internal/model"
	"github.com/county-risk/risk-engine/internal/resilience"
)

// CountyLister enumerates known counties.
type CountyLister interface {
	ListCounties(ctx context.Context) ([]string, error)
	CountCounties(ctx context.Context) (int, error)
}

// SourceReader reads one county-year row from each source table.
// A missing row is reported as (nil, nil).
type SourceReader interface {
	FindEconomic(ctx context.Context, countyCode string, year int) (*model.EconomicRow, error)
	FindPopulation(ctx context.Context, countyCode string, year int) (*model.PopulationRow, error)
	FindEnvironment(ctx context.Context, countyCode string, year int) (*model.EnvironmentRow, error)
	FindFiscal(ctx context.Context, countyCode string, year int) (*model.FiscalRow, error)
	FindInvestment(ctx context.Context, countyCode string, year int) (*model.InvestmentRow, error)
	FindEducationHealth(ctx context.Context, countyCode string, year int) (*model.EducationHealthRow, error)
}

// YearBounds reports the range of years present in the source data.
// A nil year means the source tables are empty.
type YearBounds interface {
	MinDataYear(ctx context.Context) (*int, error)
	MaxDataYear(ctx context.Context) (*int, error)
}

// YearInventory reports which years have source data and assessments.
type YearInventory interface {
	YearsWithSourceData(ctx context.Context) ([]int, error)
	YearsWithAssessment(ctx context.Context) ([]int, error)
	CountAssessed(ctx context.Context, year int) (int, error)
}

// AssessmentSink writes assessments. UpsertAssessment inserts the first row
// for a county-year or updates the existing one in place.
type AssessmentSink interface {
	UpsertAssessment(ctx context.Context, a *model.Assessment) error
}

// AssessmentReader lists stored assessments for reporting.
type AssessmentReader interface {
	ListAssessments(ctx context.Context, year int) ([]model.Assessment, error)
	YearCoverage(ctx context.Context) ([]model.YearCoverage, error)
}

// IndicatorStore persists the indicator catalog. SaveIndicators upserts by
// code and is all-or-nothing.
type IndicatorStore interface {
	ListIndicators(ctx context.Context) ([]model.Indicator, error)
	ListEnabledIndicators(ctx context.Context) ([]model.Indicator, error)
	SaveIndicators(ctx context.Context, indicators []model.Indicator) error
}

// FailureLedger tracks county-years whose last assessment attempt failed.
type FailureLedger interface {
	RecordFailure(ctx context.Context, f model.UnitFailure) error
	ClearFailure(ctx context.Context, countyCode string, year int) error
	ListFailures(ctx context.Context, filter resilience.FailureFilter) ([]model.UnitFailure, error)
}

// RunLog records one row per year batch.
type RunLog interface {
	StartRun(ctx context.Context, year int) (*model.CalcRun, error)
	CompleteRun(ctx context.Context, runID string, success, failed int) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	ListRuns(ctx context.Context, limit int) ([]model.CalcRun, error)
}

// Store is the full persistence surface used by the engine and the CLI.
type Store interface {
	CountyLister
	SourceReader
	YearBounds
	YearInventory
	AssessmentSink
	AssessmentReader
	IndicatorStore
	FailureLedger
	RunLog

	Migrate(ctx context.Context) error
	Close() error
}
