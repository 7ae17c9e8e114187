// Package report derives summary views from stored assessments: tier
// statistics over each county's latest year, per-county and average trends,
// and the highest-risk counties.
package report

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/county-risk/risk-engine/internal/model"
)

// Source lists stored assessments year by year.
type Source interface {
	YearsWithAssessment(ctx context.Context) ([]int, error)
	ListAssessments(ctx context.Context, year int) ([]model.Assessment, error)
}

// LoadAll reads every stored assessment, oldest year first.
func LoadAll(ctx context.Context, src Source) ([]model.Assessment, error) {
	years, err := src.YearsWithAssessment(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "report: list assessed years")
	}
	var out []model.Assessment
	for _, y := range years {
		as, err := src.ListAssessments(ctx, y)
		if err != nil {
			return nil, eris.Wrapf(err, "report: list assessments %d", y)
		}
		out = append(out, as...)
	}
	return out, nil
}

// Statistics summarises the latest assessment of every county.
type Statistics struct {
	Total   int                     `json:"total"`
	Average float64                 `json:"average"`
	Min     float64                 `json:"min"`
	Max     float64                 `json:"max"`
	ByLevel map[model.RiskLevel]int `json:"by_level"`
}

// Latest keeps, for each county, the assessment with the greatest year.
// The result is sorted by county code.
func Latest(all []model.Assessment) []model.Assessment {
	latest := make(map[string]model.Assessment)
	for _, a := range all {
		if cur, ok := latest[a.CountyCode]; !ok || a.Year > cur.Year {
			latest[a.CountyCode] = a
		}
	}
	out := make([]model.Assessment, 0, len(latest))
	for _, a := range latest {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CountyCode < out[j].CountyCode })
	return out
}

// Summarise computes Statistics over each county's latest assessment.
func Summarise(all []model.Assessment) Statistics {
	s := Statistics{ByLevel: make(map[model.RiskLevel]int, 5)}
	for _, lvl := range model.AllRiskLevels() {
		s.ByLevel[lvl] = 0
	}

	latest := Latest(all)
	if len(latest) == 0 {
		return s
	}
	s.Min, s.Max = math.Inf(1), math.Inf(-1)
	var sum float64
	for _, a := range latest {
		s.Total++
		sum += a.Composite
		s.Min = math.Min(s.Min, a.Composite)
		s.Max = math.Max(s.Max, a.Composite)
		s.ByLevel[a.Level]++
	}
	s.Average = sum / float64(s.Total)
	return s
}

// TrendPoint is one year of a county's history.
type TrendPoint struct {
	Year      int             `json:"year"`
	Composite float64         `json:"composite"`
	Level     model.RiskLevel `json:"risk_level"`
}

// CountyTrend returns one county's assessments, oldest first.
func CountyTrend(all []model.Assessment, countyCode string) []TrendPoint {
	var out []TrendPoint
	for _, a := range all {
		if a.CountyCode == countyCode {
			out = append(out, TrendPoint{Year: a.Year, Composite: a.Composite, Level: a.Level})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

// YearAverage is the mean composite of one year.
type YearAverage struct {
	Year     int     `json:"year"`
	Average  float64 `json:"average"`
	Counties int     `json:"counties"`
}

// AverageTrend returns the mean composite per year, oldest first.
func AverageTrend(all []model.Assessment) []YearAverage {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for _, a := range all {
		sums[a.Year] += a.Composite
		counts[a.Year]++
	}
	out := make([]YearAverage, 0, len(counts))
	for y, n := range counts {
		out = append(out, YearAverage{Year: y, Average: sums[y] / float64(n), Counties: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

// Top returns up to n assessments of the latest assessed year, highest
// composite first; ties break on county code.
func Top(all []model.Assessment, n int) []model.Assessment {
	if len(all) == 0 || n <= 0 {
		return nil
	}
	maxYear := all[0].Year
	for _, a := range all {
		maxYear = max(maxYear, a.Year)
	}
	var year []model.Assessment
	for _, a := range all {
		if a.Year == maxYear {
			year = append(year, a)
		}
	}
	sort.Slice(year, func(i, j int) bool {
		if year[i].Composite != year[j].Composite {
			return year[i].Composite > year[j].Composite
		}
		return year[i].CountyCode < year[j].CountyCode
	})
	if len(year) > n {
		year = year[:n]
	}
	return year
}
