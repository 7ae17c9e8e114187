package runner

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/county-risk/risk-engine/internal/store"
)

// DetectorStore is the metadata the gap detector needs.
type DetectorStore interface {
	store.CountyLister
	store.YearInventory
}

// Detector decides which years need (re)computation.
type Detector struct {
	store DetectorStore
	log   *zap.Logger
}

// NewDetector creates a Detector.
func NewDetector(s DetectorStore) *Detector {
	return &Detector{store: s, log: zap.L().With(zap.String("component", "detector"))}
}

// YearsNeedingComputation returns, in ascending order, the years in
// [minYear, maxYear] that have source data but no assessments, or fewer
// assessed counties than known counties. When no year qualifies the whole
// range is returned so that configuration changes propagate across history.
// Any metadata error also yields the whole range.
func (d *Detector) YearsNeedingComputation(ctx context.Context, minYear, maxYear int) []int {
	full := yearRange(minYear, maxYear)

	sourceYears, err := d.store.YearsWithSourceData(ctx)
	if err != nil {
		d.log.Warn("list source years failed, recomputing full range", zap.Error(err))
		return full
	}
	assessedYears, err := d.store.YearsWithAssessment(ctx)
	if err != nil {
		d.log.Warn("list assessed years failed, recomputing full range", zap.Error(err))
		return full
	}
	total, err := d.store.CountCounties(ctx)
	if err != nil {
		d.log.Warn("count counties failed, recomputing full range", zap.Error(err))
		return full
	}

	assessed := make(map[int]bool, len(assessedYears))
	for _, y := range assessedYears {
		assessed[y] = true
	}

	var need []int
	for _, y := range sourceYears {
		if y < minYear || y > maxYear {
			continue
		}
		if !assessed[y] {
			need = append(need, y)
			continue
		}
		n, err := d.store.CountAssessed(ctx, y)
		if err != nil {
			d.log.Warn("count assessed failed, recomputing full range", zap.Int("year", y), zap.Error(err))
			return full
		}
		if n < total {
			d.log.Info("year has incomplete coverage",
				zap.Int("year", y), zap.Int("assessed", n), zap.Int("counties", total))
			need = append(need, y)
		}
	}

	if len(need) == 0 {
		d.log.Info("every year fully covered, recomputing full range",
			zap.Int("min_year", minYear), zap.Int("max_year", maxYear))
		return full
	}
	slices.Sort(need)
	return slices.Compact(need)
}

func yearRange(minYear, maxYear int) []int {
	if maxYear < minYear {
		return nil
	}
	out := make([]int, 0, maxYear-minYear+1)
	for y := minYear; y <= maxYear; y++ {
		out = append(out, y)
	}
	return out
}
