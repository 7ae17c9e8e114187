package monitoring

import (
	"context"
	"encoding/json"
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

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold:     0.10,
		UnitFailureRateThreshold: 0.05,
		LedgerDepthThreshold:     50,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &HealthSnapshot{
		RunsTotal:    20,
		RunsComplete: 19,
		RunsFailed:   1,
		RunFailRate:  0.05,
		UnitsSuccess: 990,
		UnitsFailed:  10,
		UnitFailRate: 0.01,
		LedgerDepth:  10,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate(t *testing.T) {
	tests := []struct {
		name     string
		snap     HealthSnapshot
		want     AlertType
		contains string
	}{
		{
			name: "run failure rate",
			snap: HealthSnapshot{
				RunsComplete: 6, RunsFailed: 4, RunFailRate: 0.4, LookbackHours: 24,
			},
			want:     AlertRunFailureRate,
			contains: "40.0%",
		},
		{
			name: "unit failure rate",
			snap: HealthSnapshot{
				UnitsSuccess: 80, UnitsFailed: 20, UnitFailRate: 0.2, LookbackHours: 24,
			},
			want:     AlertUnitFailureRate,
			contains: "20 of 100",
		},
		{
			name:     "ledger backlog",
			snap:     HealthSnapshot{LedgerDepth: 51, LedgerTransient: 1, LedgerPermanent: 50},
			want:     AlertLedgerBacklog,
			contains: "51 county-years",
		},
		{
			name: "stale run",
			snap: HealthSnapshot{StaleRuns: []model.CalcRun{
				{ID: "r-1", Year: 2019, Status: model.RunStatusRunning, StartedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
			}},
			want:     AlertStaleRun,
			contains: "r-1 for year 2019",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := NewAlerter(testMonitoringConfig()).Evaluate(&tt.snap)
			require.Len(t, alerts, 1)
			assert.Equal(t, tt.want, alerts[0].Type)
			assert.Contains(t, alerts[0].Message, tt.contains)
			assert.False(t, alerts[0].Timestamp.IsZero())
		})
	}
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	// Three finished runs is below the sample size for a rate alert.
	snap := &HealthSnapshot{
		RunsComplete: 1,
		RunsFailed:   2,
		RunFailRate:  0.666,
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_DisabledThresholds(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 1})

	snap := &HealthSnapshot{
		UnitsFailed:  50,
		UnitFailRate: 0.5,
		LedgerDepth:  1000,
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &HealthSnapshot{
		RunsComplete: 5,
		RunsFailed:   5,
		RunFailRate:  0.5,
		UnitsSuccess: 10,
		UnitsFailed:  10,
		UnitFailRate: 0.5,
		LedgerDepth:  60,
	}

	types := make(map[AlertType]bool)
	for _, al := range a.Evaluate(snap) {
		types[al.Type] = true
	}
	assert.Len(t, types, 3)
	assert.True(t, types[AlertRunFailureRate])
	assert.True(t, types[AlertUnitFailureRate])
	assert.True(t, types[AlertLedgerBacklog])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFailureRate, Severity: "high", Message: "runs failing"},
		{Type: AlertLedgerBacklog, Severity: "medium", Message: "ledger growing"},
	})
	require.Len(t, sent, 2)
	assert.Equal(t, AlertRunFailureRate, sent[0].Type)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_NothingToSend(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Empty(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertStaleRun}}))

	a = NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})
	assert.Empty(t, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailureRate, Message: "test"}})
	assert.Empty(t, sent)
}

func TestAlerter_SendAlerts_CancelledContext(t *testing.T) {
	var hits int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	assert.Empty(t, a.SendAlerts(ctx, []Alert{{Type: AlertStaleRun}}))
	assert.Zero(t, hits)
}

func TestAlert_Key(t *testing.T) {
	assert.Equal(t, "ledger_backlog", Alert{Type: AlertLedgerBacklog, Details: map[string]any{"depth": 3}}.Key())
	assert.Equal(t, "stale_run:r-1", Alert{Type: AlertStaleRun, Details: map[string]any{"run_id": "r-1"}}.Key())
	assert.NotEqual(t,
		Alert{Type: AlertStaleRun, Details: map[string]any{"run_id": "r-1"}}.Key(),
		Alert{Type: AlertStaleRun, Details: map[string]any{"run_id": "r-2"}}.Key())
}
