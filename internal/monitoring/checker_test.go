package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/county-risk/risk-engine/internal/config"
	"github.com/county-risk/risk-engine/internal/model"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, LookbackWindowHours: 24}
	checker := NewChecker(NewCollector(&mockSource{}, 0), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
	assert.NotNil(t, checker.Latest(), "Run checks once before the first tick")
}

func TestChecker_Interval(t *testing.T) {
	c := NewChecker(nil, nil, config.MonitoringConfig{})
	assert.Equal(t, defaultCheckInterval, c.interval())

	c = NewChecker(nil, nil, config.MonitoringConfig{CheckIntervalSecs: 30})
	assert.Equal(t, 30*time.Second, c.interval())
}

func TestChecker_CheckNotifiesOnlyNewAlerts(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	src := &mockSource{
		runs: []model.CalcRun{
			{ID: "r-1", Year: 2020, Status: model.RunStatusComplete, Success: 50, Failed: 50, StartedAt: time.Now().UTC()},
		},
	}
	cfg := config.MonitoringConfig{
		WebhookURL:               ts.URL,
		LookbackWindowHours:      24,
		UnitFailureRateThreshold: 0.1,
	}
	checker := NewChecker(NewCollector(src, 0), NewAlerter(cfg), cfg)
	ctx := context.Background()

	res, err := checker.Check(ctx)
	require.NoError(t, err)
	require.Len(t, res.Firing, 1)
	assert.Equal(t, AlertUnitFailureRate, res.Firing[0].Type)
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, int32(1), received.Load())

	// Still firing: reported but not re-sent.
	res, err = checker.Check(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Firing, 1)
	assert.Zero(t, res.Notified)
	assert.Equal(t, int32(1), received.Load())

	// Cleared, then firing again: sent again.
	src.runs[0].Failed = 0
	res, err = checker.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Firing)

	src.runs[0].Failed = 50
	res, err = checker.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, int32(2), received.Load())

	assert.Same(t, res, checker.Latest())
}

func TestChecker_CheckRetriesUndeliveredAlert(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	src := &mockSource{
		runs: []model.CalcRun{
			{ID: "r-1", Year: 2020, Status: model.RunStatusComplete, Success: 50, Failed: 50, StartedAt: time.Now().UTC()},
		},
	}
	cfg := config.MonitoringConfig{
		WebhookURL:               ts.URL,
		LookbackWindowHours:      24,
		UnitFailureRateThreshold: 0.1,
	}
	checker := NewChecker(NewCollector(src, 0), NewAlerter(cfg), cfg)
	ctx := context.Background()

	res, err := checker.Check(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Firing, 1)
	assert.Zero(t, res.Notified)

	res, err = checker.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, int32(2), calls.Load())

	res, err = checker.Check(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Notified)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChecker_CheckStaleRunsNotifiedPerRun(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	stuck := func(id string) model.CalcRun {
		return model.CalcRun{ID: id, Year: 2020, Status: model.RunStatusRunning, StartedAt: time.Now().UTC().Add(-time.Hour)}
	}
	src := &mockSource{runs: []model.CalcRun{stuck("r-1")}}
	cfg := config.MonitoringConfig{WebhookURL: ts.URL, LookbackWindowHours: 24}
	checker := NewChecker(NewCollector(src, time.Minute), NewAlerter(cfg), cfg)
	ctx := context.Background()

	res, err := checker.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Notified)

	// A second run gets stuck while the first still is.
	src.runs = append(src.runs, stuck("r-2"))
	res, err = checker.Check(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Firing, 2)
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, int32(2), received.Load())
}

func TestChecker_CheckCollectError(t *testing.T) {
	cfg := config.MonitoringConfig{LookbackWindowHours: 24}
	checker := NewChecker(NewCollector(&mockSource{runsErr: errors.New("down")}, 0), NewAlerter(cfg), cfg)

	res, err := checker.Check(context.Background())
	assert.Error(t, err)
	assert.Nil(t, res)
	assert.Nil(t, checker.Latest())
}
