package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/county-risk/risk-engine/internal/catalog"
	"github.com/county-risk/risk-engine/internal/model"
	"github.com/county-risk/risk-engine/internal/resilience"
)

type unitKey struct {
	county string
	year   int
}

// mockStore is an in-memory Store. Source years are derived from the
// snapshots it holds unless sourceYears is set.
type mockStore struct {
	mu sync.Mutex

	counties    []string
	snapshots   map[unitKey]*model.Snapshot
	assessments map[unitKey]model.Assessment
	failures    map[unitKey]model.UnitFailure
	runs        map[string]*model.CalcRun
	runSeq      int
	upserts     int

	minYear, maxYear *int
	sourceYears      []int

	// Error injection.
	upsertErr    func(a *model.Assessment, call int) error
	findErr      func(county string) error
	listErr      error
	boundsErr    error
	inventoryErr error
	countErr     error
	ledgerErr    error
	upsertCalls  map[unitKey]int
}

func newMockStore(counties ...string) *mockStore {
	return &mockStore{
		counties:    counties,
		snapshots:   make(map[unitKey]*model.Snapshot),
		assessments: make(map[unitKey]model.Assessment),
		failures:    make(map[unitKey]model.UnitFailure),
		runs:        make(map[string]*model.CalcRun),
		upsertCalls: make(map[unitKey]int),
	}
}

func (m *mockStore) putSnapshot(s *model.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[unitKey{s.CountyCode, s.Year}] = s
}

func (m *mockStore) snapshot(county string, year int) (*model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		if err := m.findErr(county); err != nil {
			return nil, err
		}
	}
	s := m.snapshots[unitKey{county, year}]
	if s == nil {
		return &model.Snapshot{}, nil
	}
	return s, nil
}

func (m *mockStore) ListCounties(context.Context) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]string(nil), m.counties...), nil
}

func (m *mockStore) CountCounties(context.Context) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	return len(m.counties), nil
}

func (m *mockStore) FindEconomic(_ context.Context, c string, y int) (*model.EconomicRow, error) {
	s, err := m.snapshot(c, y)
	if err != nil {
		return nil, err
	}
	return s.Economic, nil
}

func (m *mockStore) FindPopulation(_ context.Context, c string, y int) (*model.PopulationRow, error) {
	s, err := m.snapshot(c, y)
	if err != nil {
		return nil, err
	}
	return s.Population, nil
}

func (m *mockStore) FindEnvironment(_ context.Context, c string, y int) (*model.EnvironmentRow, error) {
	s, err := m.snapshot(c, y)
	if err != nil {
		return nil, err
	}
	return s.Environment, nil
}

func (m *mockStore) FindFiscal(_ context.Context, c string, y int) (*model.FiscalRow, error) {
	s, err := m.snapshot(c, y)
	if err != nil {
		return nil, err
	}
	return s.Fiscal, nil
}

func (m *mockStore) FindInvestment(_ context.Context, c string, y int) (*model.InvestmentRow, error) {
	s, err := m.snapshot(c, y)
	if err != nil {
		return nil, err
	}
	return s.Investment, nil
}

func (m *mockStore) FindEducationHealth(_ context.Context, c string, y int) (*model.EducationHealthRow, error) {
	s, err := m.snapshot(c, y)
	if err != nil {
		return nil, err
	}
	return s.EducationHealth, nil
}

func (m *mockStore) MinDataYear(context.Context) (*int, error) {
	if m.boundsErr != nil {
		return nil, m.boundsErr
	}
	return m.minYear, nil
}

func (m *mockStore) MaxDataYear(context.Context) (*int, error) {
	if m.boundsErr != nil {
		return nil, m.boundsErr
	}
	return m.maxYear, nil
}

func (m *mockStore) YearsWithSourceData(context.Context) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inventoryErr != nil {
		return nil, m.inventoryErr
	}
	if m.sourceYears != nil {
		return m.sourceYears, nil
	}
	seen := map[int]bool{}
	for k := range m.snapshots {
		seen[k.year] = true
	}
	return sortedYears(seen), nil
}

func (m *mockStore) YearsWithAssessment(context.Context) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inventoryErr != nil {
		return nil, m.inventoryErr
	}
	seen := map[int]bool{}
	for k := range m.assessments {
		seen[k.year] = true
	}
	return sortedYears(seen), nil
}

func (m *mockStore) CountAssessed(_ context.Context, year int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	n := 0
	for k := range m.assessments {
		if k.year == year {
			n++
		}
	}
	return n, nil
}

func (m *mockStore) UpsertAssessment(_ context.Context, a *model.Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := unitKey{a.CountyCode, a.Year}
	m.upsertCalls[k]++
	if m.upsertErr != nil {
		if err := m.upsertErr(a, m.upsertCalls[k]); err != nil {
			return err
		}
	}
	m.upserts++
	m.assessments[k] = *a
	return nil
}

func (m *mockStore) RecordFailure(_ context.Context, f model.UnitFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := unitKey{f.CountyCode, f.Year}
	if prev, ok := m.failures[k]; ok {
		f.Attempts += prev.Attempts
	}
	m.failures[k] = f
	return nil
}

func (m *mockStore) ClearFailure(_ context.Context, county string, year int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, unitKey{county, year})
	return nil
}

func (m *mockStore) ListFailures(_ context.Context, filter resilience.FailureFilter) ([]model.UnitFailure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ledgerErr != nil {
		return nil, m.ledgerErr
	}
	var out []model.UnitFailure
	for _, f := range m.failures {
		if filter.Matches(f) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].CountyCode < out[j].CountyCode
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockStore) StartRun(_ context.Context, year int) (*model.CalcRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runSeq++
	run := &model.CalcRun{
		ID:        fmt.Sprintf("run-%d", m.runSeq),
		Year:      year,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now(),
	}
	m.runs[run.ID] = run
	return run, nil
}

func (m *mockStore) CompleteRun(_ context.Context, id string, success, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	run.Status, run.Success, run.Failed = model.RunStatusComplete, success, failed
	return nil
}

func (m *mockStore) FailRun(_ context.Context, id string, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	run.Status, run.Error = model.RunStatusFailed, msg
	return nil
}

func (m *mockStore) ListRuns(_ context.Context, _ int) ([]model.CalcRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CalcRun
	for _, r := range m.runs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) assessmentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.assessments)
}

func (m *mockStore) assessment(county string, year int) (model.Assessment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assessments[unitKey{county, year}]
	return a, ok
}

func sortedYears(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for y := range set {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}

// mockCatalog returns a fixed ActiveSet, optionally failing on given calls.
type mockCatalog struct {
	mu     sync.Mutex
	set    catalog.ActiveSet
	calls  int
	failOn map[int]error
}

func (c *mockCatalog) Active(context.Context) (catalog.ActiveSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if err, ok := c.failOn[c.calls]; ok {
		return catalog.ActiveSet{}, err
	}
	return c.set, nil
}
