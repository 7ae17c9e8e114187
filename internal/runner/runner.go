// Package runner drives risk assessment over every county for one year or a
// range of years, isolating failures to the county-year that caused them.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/county-risk/risk-engine/internal/catalog"
	"github.com/county-risk/risk-engine/internal/config"
	"github.com/county-risk/risk-engine/internal/metrics"
	"github.com/county-risk/risk-engine/internal/model"
	"github.com/county-risk/risk-engine/internal/resilience"
	"github.com/county-risk/risk-engine/internal/scorer"
	"github.com/county-risk/risk-engine/internal/store"
)

// Store is the persistence surface the runner reads from and writes to.
type Store interface {
	store.CountyLister
	store.SourceReader
	store.YearBounds
	store.YearInventory
	store.AssessmentSink
	store.FailureLedger
	store.RunLog
}

// Catalog supplies the indicator snapshot for a batch.
type Catalog interface {
	Active(ctx context.Context) (catalog.ActiveSet, error)
}

// UnitState is the lifecycle of one county-year: PENDING then SCORED then
// PERSISTED, or FAILED from either of the first two.
type UnitState string

const (
	UnitPending   UnitState = "PENDING"
	UnitScored    UnitState = "SCORED"
	UnitPersisted UnitState = "PERSISTED"
	UnitFailed    UnitState = "FAILED"
)

// UnitResult is the outcome of one county-year.
type UnitResult struct {
	CountyCode string
	Year       int
	State      UnitState
	FailedIn   UnitState // state the unit was in when it failed
	Assessment *model.Assessment
	Attempts   int
	Err        error

	// Interrupted is set when the unit stopped because ctx was cancelled.
	// Such a unit is neither counted as failed nor written to the ledger.
	Interrupted bool
}

// YearReport summarises one year batch.
type YearReport struct {
	Year           int           `json:"year"`
	RunID          string        `json:"run_id,omitempty"`
	Total          int           `json:"total"`
	Success        int           `json:"success"`
	Failed         int           `json:"failed"`
	FailedCounties []string      `json:"failed_counties,omitempty"`
	MeanComposite  float64       `json:"mean_composite"`
	Duration       time.Duration `json:"duration"`
}

// MultiYearReport summarises a run over several years.
type MultiYearReport struct {
	MinYear      int            `json:"min_year"`
	MaxYear      int            `json:"max_year"`
	Years        []*YearReport  `json:"years"`
	SuccessYears int            `json:"success_years"`
	FailedYears  int            `json:"failed_years"`
	YearErrors   map[int]string `json:"year_errors,omitempty"`
}

// RetryReport summarises a replay of the failure ledger.
type RetryReport struct {
	Attempted int `json:"attempted"`
	Recovered int `json:"recovered"`
	Failed    int `json:"failed"`
}

// Option configures a Runner.
type Option func(*Runner)

// WithRetryConfig overrides the write retry policy.
func WithRetryConfig(rc resilience.RetryConfig) Option {
	return func(r *Runner) { r.retry = rc }
}

// WithClock overrides time.Now for assessment timestamps and the
// current-year extension.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner runs assessments. It is safe to call its methods sequentially from
// one goroutine; concurrent batches over the same store are not coordinated.
type Runner struct {
	store    Store
	catalog  Catalog
	scorer   *scorer.Scorer
	assessor *scorer.Assessor
	detector *Detector
	batch    config.BatchConfig
	retry    resilience.RetryConfig
	now      func() time.Time
	log      *zap.Logger
}

// New creates a Runner.
func New(st Store, cat Catalog, sc *scorer.Scorer, as *scorer.Assessor, batch config.BatchConfig, opts ...Option) *Runner {
	r := &Runner{
		store:    st,
		catalog:  cat,
		scorer:   sc,
		assessor: as,
		detector: NewDetector(st),
		batch:    batch,
		retry:    resilience.FromBatchConfig(batch),
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "runner")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RunYear assesses every known county for year using one catalog snapshot.
// Unit failures are logged, recorded in the failure ledger and counted; they
// never abort the batch. The returned error is reserved for failures that
// prevent the batch from running at all, or for ctx cancellation, in which
// case the partial report is returned too.
func (r *Runner) RunYear(ctx context.Context, year int) (*YearReport, error) {
	start := time.Now()
	log := r.log.With(zap.Int("year", year))
	rep := &YearReport{Year: year}

	run, err := r.store.StartRun(ctx, year)
	if err != nil {
		log.Warn("start run log entry failed", zap.Error(err))
	} else {
		rep.RunID = run.ID
	}

	active, err := r.catalog.Active(ctx)
	if err != nil {
		return nil, r.failYear(ctx, rep, eris.Wrapf(err, "runner: load catalog for %d", year))
	}
	counties, err := r.store.ListCounties(ctx)
	if err != nil {
		return nil, r.failYear(ctx, rep, eris.Wrapf(err, "runner: list counties for %d", year))
	}

	pending := r.pendingFailures(ctx, year)
	rep.Total = len(counties)
	log.Info("year batch started", zap.Int("counties", rep.Total), zap.Int("indicators", active.Len()))

	var (
		compositeSum float64
		stopped      error
	)
	for _, county := range counties {
		if err := ctx.Err(); err != nil {
			stopped = err
			break
		}
		res := r.processUnit(ctx, active, county, year, pending == nil || pending[county])
		if res.Interrupted {
			stopped = res.Err
			break
		}
		if res.State != UnitPersisted {
			rep.Failed++
			rep.FailedCounties = append(rep.FailedCounties, county)
			continue
		}
		rep.Success++
		compositeSum += res.Assessment.Composite
		if r.batch.ProgressEvery > 0 && rep.Success%r.batch.ProgressEvery == 0 {
			log.Info("year batch progress", zap.Int("done", rep.Success), zap.Int("total", rep.Total))
		}
	}

	if rep.Success > 0 {
		rep.MeanComposite = compositeSum / float64(rep.Success)
		metrics.LastComposite.WithLabelValues(strconv.Itoa(year)).Set(rep.MeanComposite)
	}
	rep.Duration = time.Since(start)
	metrics.YearDuration.Observe(rep.Duration.Seconds())

	if stopped != nil {
		return rep, r.failYear(ctx, rep, eris.Wrapf(stopped, "runner: year %d interrupted after %d of %d counties",
			year, rep.Success+rep.Failed, rep.Total))
	}

	if rep.RunID != "" {
		if err := r.store.CompleteRun(ctx, rep.RunID, rep.Success, rep.Failed); err != nil {
			log.Warn("complete run log entry failed", zap.Error(err))
		}
	}
	metrics.YearsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	log.Info("year batch complete",
		zap.Int("success", rep.Success),
		zap.Int("failed", rep.Failed),
		zap.Int("total", rep.Total),
		zap.Duration("duration", rep.Duration),
	)
	return rep, nil
}

// failYear marks the run log entry failed and returns err.
func (r *Runner) failYear(ctx context.Context, rep *YearReport, err error) error {
	metrics.YearsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
	if rep.RunID != "" {
		if ferr := r.store.FailRun(context.WithoutCancel(ctx), rep.RunID, err.Error()); ferr != nil {
			r.log.Warn("fail run log entry failed", zap.Int("year", rep.Year), zap.Error(ferr))
		}
	}
	return err
}

// pendingFailures returns the counties with a ledger entry for year, or nil
// when the ledger cannot be read (every success then clears blindly).
func (r *Runner) pendingFailures(ctx context.Context, year int) map[string]bool {
	entries, err := r.store.ListFailures(ctx, resilience.FailureFilter{Year: year})
	if err != nil {
		r.log.Warn("list failure ledger failed", zap.Int("year", year), zap.Error(err))
		return nil
	}
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		out[e.CountyCode] = true
	}
	return out
}

// RunAllYears runs RunYear for every year between the source data bounds,
// falling back to the configured default range when there is no data. A
// failed year is counted and the next year is still attempted.
func (r *Runner) RunAllYears(ctx context.Context) (*MultiYearReport, error) {
	minYear, maxYear := r.CandidateRange(ctx)
	return r.runYears(ctx, minYear, maxYear, yearRange(minYear, maxYear))
}

// RunGaps runs only the years the detector reports as needing computation.
func (r *Runner) RunGaps(ctx context.Context) (*MultiYearReport, error) {
	minYear, maxYear, years := r.PendingYears(ctx)
	return r.runYears(ctx, minYear, maxYear, years)
}

// PendingYears returns the candidate range and the years in it that need
// computation.
func (r *Runner) PendingYears(ctx context.Context) (minYear, maxYear int, years []int) {
	minYear, maxYear = r.CandidateRange(ctx)
	return minYear, maxYear, r.detector.YearsNeedingComputation(ctx, minYear, maxYear)
}

// CandidateRange returns the source data year bounds, or the configured
// default range when either bound is unavailable. With
// ExtendToCurrentYear set, the upper bound is raised to the current year.
func (r *Runner) CandidateRange(ctx context.Context) (int, int) {
	lo, err := r.store.MinDataYear(ctx)
	if err != nil {
		r.log.Warn("read min data year failed", zap.Error(err))
		lo = nil
	}
	hi, err := r.store.MaxDataYear(ctx)
	if err != nil {
		r.log.Warn("read max data year failed", zap.Error(err))
		hi = nil
	}

	if lo == nil || hi == nil {
		r.log.Warn("no source data years found, using default range",
			zap.Int("min_year", r.batch.DefaultMinYear), zap.Int("max_year", r.batch.DefaultMaxYear))
		return r.batch.DefaultMinYear, r.batch.DefaultMaxYear
	}

	minYear, maxYear := *lo, *hi
	if r.batch.ExtendToCurrentYear {
		if cur := r.now().Year(); cur > maxYear {
			maxYear = cur
		}
	}
	r.log.Info("source data year range", zap.Int("min_year", minYear), zap.Int("max_year", maxYear))
	return minYear, maxYear
}

func (r *Runner) runYears(ctx context.Context, minYear, maxYear int, years []int) (*MultiYearReport, error) {
	out := &MultiYearReport{MinYear: minYear, MaxYear: maxYear}
	for i, year := range years {
		if err := ctx.Err(); err != nil {
			return out, eris.Wrapf(err, "runner: stopped before year %d", year)
		}
		r.log.Info("running year", zap.Int("year", year), zap.String("position", fmt.Sprintf("%d/%d", i+1, len(years))))

		rep, err := r.runYearIsolated(ctx, year)
		if rep != nil {
			out.Years = append(out.Years, rep)
		}
		if err != nil {
			out.FailedYears++
			if out.YearErrors == nil {
				out.YearErrors = make(map[int]string)
			}
			out.YearErrors[year] = err.Error()
			r.log.Error("year failed", zap.Int("year", year), zap.Error(err))
			continue
		}
		out.SuccessYears++
	}

	r.log.Info("all years complete",
		zap.Int("success_years", out.SuccessYears),
		zap.Int("failed_years", out.FailedYears),
		zap.Int("total_years", len(years)),
	)
	return out, nil
}

// runYearIsolated converts a panic escaping RunYear into a year failure.
func (r *Runner) runYearIsolated(ctx context.Context, year int) (rep *YearReport, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = eris.Errorf("runner: panic in year %d: %v", year, p)
		}
	}()
	return r.RunYear(ctx, year)
}

// RunCounty assesses a single county-year with a fresh catalog snapshot.
func (r *Runner) RunCounty(ctx context.Context, countyCode string, year int) (*model.Assessment, error) {
	active, err := r.catalog.Active(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "runner: load catalog")
	}
	res := r.processUnit(ctx, active, countyCode, year, true)
	if res.State != UnitPersisted {
		return nil, res.Err
	}
	return res.Assessment, nil
}

// RetryFailed replays the failure ledger entries matching filter. Entries
// that succeed are cleared; entries that fail again stay with their attempt
// count increased.
func (r *Runner) RetryFailed(ctx context.Context, filter resilience.FailureFilter) (*RetryReport, error) {
	entries, err := r.store.ListFailures(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "runner: list failures")
	}
	rep := &RetryReport{}
	if len(entries) == 0 {
		return rep, nil
	}

	active, err := r.catalog.Active(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "runner: load catalog")
	}
	for _, f := range entries {
		if err := ctx.Err(); err != nil {
			return rep, eris.Wrap(err, "runner: retry interrupted")
		}
		res := r.processUnit(ctx, active, f.CountyCode, f.Year, true)
		if res.Interrupted {
			return rep, eris.Wrap(res.Err, "runner: retry interrupted")
		}
		rep.Attempted++
		if res.State == UnitPersisted {
			rep.Recovered++
		} else {
			rep.Failed++
		}
	}
	r.log.Info("failure ledger replayed",
		zap.Int("attempted", rep.Attempted),
		zap.Int("recovered", rep.Recovered),
		zap.Int("failed", rep.Failed),
	)
	return rep, nil
}

// processUnit assesses one county-year and does the bookkeeping: metrics,
// the failure ledger, and the error log line.
func (r *Runner) processUnit(ctx context.Context, active catalog.ActiveSet, countyCode string, year int, clearLedger bool) UnitResult {
	res := r.assessUnit(ctx, active, countyCode, year)

	if res.State == UnitPersisted {
		metrics.UnitsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
		if clearLedger {
			if err := r.store.ClearFailure(ctx, countyCode, year); err != nil {
				r.log.Warn("clear failure ledger entry failed",
					zap.String("county_code", countyCode), zap.Int("year", year), zap.Error(err))
			}
		}
		return res
	}

	if ctx.Err() != nil || errors.Is(res.Err, context.Canceled) {
		res.Interrupted = true
		r.log.Info("county assessment interrupted",
			zap.String("county_code", countyCode), zap.Int("year", year), zap.Error(res.Err))
		return res
	}

	metrics.UnitsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
	r.log.Error("county assessment failed",
		zap.String("county_code", countyCode),
		zap.Int("year", year),
		zap.String("failed_in", string(res.FailedIn)),
		zap.Int("attempts", res.Attempts),
		zap.Error(res.Err),
	)
	f := resilience.NewUnitFailure(countyCode, year, res.Err, res.Attempts, r.now())
	if err := r.store.RecordFailure(context.WithoutCancel(ctx), f); err != nil {
		r.log.Warn("record failure ledger entry failed",
			zap.String("county_code", countyCode), zap.Int("year", year), zap.Error(err))
	}
	return res
}

// assessUnit walks one county-year through its states. Reads and the write
// are retried on transient errors.
func (r *Runner) assessUnit(ctx context.Context, active catalog.ActiveSet, countyCode string, year int) (res UnitResult) {
	res = UnitResult{CountyCode: countyCode, Year: year, State: UnitPending}
	defer func() {
		if p := recover(); p != nil {
			res.FailedIn = res.State
			res.State = UnitFailed
			res.Err = eris.Errorf("runner: panic assessing %s/%d: %v", countyCode, year, p)
		}
	}()

	rc := r.retry
	rc.OnRetry = func(attempt int, err error) {
		metrics.UnitRetries.Inc()
		resilience.UnitRetryLogger("assess", countyCode, year)(attempt, err)
	}

	var snap *model.Snapshot
	attempts, err := resilience.Do(ctx, rc, func(ctx context.Context) error {
		var lerr error
		snap, lerr = LoadSnapshot(ctx, r.store, countyCode, year)
		return lerr
	})
	if err != nil {
		res.FailedIn, res.State, res.Attempts = res.State, UnitFailed, attempts
		res.Err = eris.Wrapf(err, "runner: load snapshot %s/%d", countyCode, year)
		return res
	}

	scores := r.scorer.ScoreAll(snap, active)
	composite, level := r.assessor.Assess(countyCode, year, scores)
	res.Assessment = &model.Assessment{
		CountyCode: countyCode,
		Year:       year,
		Scores:     scores,
		Composite:  composite,
		Level:      level,
		AssessedAt: r.now().UTC(),
	}
	res.State = UnitScored

	attempts, err = resilience.Do(ctx, rc, func(ctx context.Context) error {
		return r.store.UpsertAssessment(ctx, res.Assessment)
	})
	res.Attempts = attempts
	if err != nil {
		res.FailedIn, res.State = res.State, UnitFailed
		res.Err = eris.Wrapf(err, "runner: persist %s/%d", countyCode, year)
		return res
	}
	res.State = UnitPersisted
	return res
}
