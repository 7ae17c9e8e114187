package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/county-risk/risk-engine/internal/model"
	"github.com/county-risk/risk-engine/internal/resilience"
)

// HealthSnapshot holds a point-in-time view of calculation health.
type HealthSnapshot struct {
	// Year runs started within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// County-year units counted by completed runs in the window.
	UnitsSuccess int     `json:"units_success"`
	UnitsFailed  int     `json:"units_failed"`
	UnitFailRate float64 `json:"unit_fail_rate"`

	// Runs still marked running after the stale cutoff, any age.
	StaleRuns []model.CalcRun `json:"stale_runs,omitempty"`

	// Failure ledger depth, all years.
	LedgerDepth     int `json:"ledger_depth"`
	LedgerTransient int `json:"ledger_transient"`
	LedgerPermanent int `json:"ledger_permanent"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// HealthSource is the slice of the store the collector reads.
type HealthSource interface {
	ListRuns(ctx context.Context, limit int) ([]model.CalcRun, error)
	ListFailures(ctx context.Context, filter resilience.FailureFilter) ([]model.UnitFailure, error)
}

// Collector gathers health figures from the run log and failure ledger.
type Collector struct {
	source     HealthSource
	staleAfter time.Duration
}

// NewCollector creates a collector. staleAfter <= 0 disables stale run detection.
func NewCollector(src HealthSource, staleAfter time.Duration) *Collector {
	return &Collector{source: src, staleAfter: staleAfter}
}

// Collect builds a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*HealthSnapshot, error) {
	now := time.Now().UTC()
	snap := &HealthSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.source.ListRuns(ctx, 10000)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		if c.staleAfter > 0 && r.Status == model.RunStatusRunning && now.Sub(r.StartedAt) > c.staleAfter {
			snap.StaleRuns = append(snap.StaleRuns, r)
		}
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
			snap.UnitsSuccess += r.Success
			snap.UnitsFailed += r.Failed
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if units := snap.UnitsSuccess + snap.UnitsFailed; units > 0 {
		snap.UnitFailRate = float64(snap.UnitsFailed) / float64(units)
	}

	failures, err := c.source.ListFailures(ctx, resilience.FailureFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list failures")
	}
	snap.LedgerDepth = len(failures)
	for _, f := range failures {
		if f.ErrorType == resilience.ErrorTypeTransient {
			snap.LedgerTransient++
		} else {
			snap.LedgerPermanent++
		}
	}

	return snap, nil
}
