package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/county-risk/risk-engine/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate  AlertType = "run_failure_rate"
	AlertUnitFailureRate AlertType = "unit_failure_rate"
	AlertLedgerBacklog   AlertType = "ledger_backlog"
	AlertStaleRun        AlertType = "stale_run"
)

// Severity grades an alert.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// webhookBurst alerts may be posted back to back; later ones are spaced
// webhookInterval apart.
const (
	webhookBurst    = 5
	webhookInterval = time.Second
)

// minFinishedRuns is the sample size below which the run failure rate is not judged.
const minFinishedRuns = 5

// Alert is one breached threshold, posted to the webhook as JSON.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Key identifies the condition an alert reports. Stale-run alerts are keyed
// per run so each stuck run is reported on its own.
func (a Alert) Key() string {
	if id, ok := a.Details["run_id"].(string); ok {
		return string(a.Type) + ":" + id
	}
	return string(a.Type)
}

// Alerter judges health snapshots against the configured thresholds and
// posts breaches to a webhook.
type Alerter struct {
	cfg     config.MonitoringConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewAlerter returns an Alerter for cfg.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(webhookInterval), webhookBurst),
	}
}

// rule inspects one aspect of a snapshot. It returns nil when healthy.
type rule func(cfg config.MonitoringConfig, snap *HealthSnapshot) []Alert

var rules = []rule{runFailureRule, unitFailureRule, ledgerRule, staleRunRule}

// Evaluate applies every rule to snap and returns the alerts raised, stamped
// with the evaluation time.
func (a *Alerter) Evaluate(snap *HealthSnapshot) []Alert {
	now := time.Now().UTC()
	var alerts []Alert
	for _, r := range rules {
		for _, al := range r(a.cfg, snap) {
			al.Timestamp = now
			alerts = append(alerts, al)
		}
	}
	return alerts
}

func runFailureRule(cfg config.MonitoringConfig, snap *HealthSnapshot) []Alert {
	finished := snap.RunsComplete + snap.RunsFailed
	if finished < minFinishedRuns || snap.RunFailRate <= cfg.FailureRateThreshold {
		return nil
	}
	return []Alert{{
		Type:     AlertRunFailureRate,
		Severity: SeverityHigh,
		Message: fmt.Sprintf("Year run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
			snap.RunFailRate*100, cfg.FailureRateThreshold*100, snap.RunsFailed, finished, snap.LookbackHours),
		Details: map[string]any{
			"failure_rate": snap.RunFailRate,
			"threshold":    cfg.FailureRateThreshold,
			"failed":       snap.RunsFailed,
			"finished":     finished,
		},
	}}
}

func unitFailureRule(cfg config.MonitoringConfig, snap *HealthSnapshot) []Alert {
	if cfg.UnitFailureRateThreshold <= 0 || snap.UnitFailRate <= cfg.UnitFailureRateThreshold {
		return nil
	}
	return []Alert{{
		Type:     AlertUnitFailureRate,
		Severity: SeverityMedium,
		Message: fmt.Sprintf("County failure rate %.1f%% exceeds threshold %.1f%% (%d of %d county-years in last %dh)",
			snap.UnitFailRate*100, cfg.UnitFailureRateThreshold*100,
			snap.UnitsFailed, snap.UnitsSuccess+snap.UnitsFailed, snap.LookbackHours),
		Details: map[string]any{
			"failure_rate": snap.UnitFailRate,
			"threshold":    cfg.UnitFailureRateThreshold,
			"failed":       snap.UnitsFailed,
		},
	}}
}

func ledgerRule(cfg config.MonitoringConfig, snap *HealthSnapshot) []Alert {
	if cfg.LedgerDepthThreshold <= 0 || snap.LedgerDepth <= cfg.LedgerDepthThreshold {
		return nil
	}
	return []Alert{{
		Type:     AlertLedgerBacklog,
		Severity: SeverityMedium,
		Message:  fmt.Sprintf("%d county-years waiting in the failure ledger (threshold %d)", snap.LedgerDepth, cfg.LedgerDepthThreshold),
		Details: map[string]any{
			"depth":     snap.LedgerDepth,
			"transient": snap.LedgerTransient,
			"permanent": snap.LedgerPermanent,
		},
	}}
}

func staleRunRule(_ config.MonitoringConfig, snap *HealthSnapshot) []Alert {
	alerts := make([]Alert, 0, len(snap.StaleRuns))
	for _, r := range snap.StaleRuns {
		alerts = append(alerts, Alert{
			Type:     AlertStaleRun,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("Run %s for year %d still running since %s", r.ID, r.Year, r.StartedAt.Format(time.RFC3339)),
			Details:  map[string]any{"run_id": r.ID, "year": r.Year},
		})
	}
	return alerts
}

// SendAlerts posts each alert to the webhook and returns the ones that were
// accepted. Without a webhook URL nothing is sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) []Alert {
	if a.cfg.WebhookURL == "" {
		return nil
	}
	log := zap.L().With(zap.String("component", "monitoring.alerter"))

	var delivered []Alert
	for _, al := range alerts {
		if err := a.post(ctx, al); err != nil {
			log.Warn("alert not delivered", zap.String("type", string(al.Type)), zap.Error(err))
			continue
		}
		log.Info("alert delivered", zap.String("type", string(al.Type)), zap.String("severity", string(al.Severity)))
		delivered = append(delivered, al)
	}
	return delivered
}

func (a *Alerter) post(ctx context.Context, al Alert) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "monitoring: webhook rate limit")
	}

	body, err := json.Marshal(al)
	if err != nil {
		return eris.Wrap(err, "monitoring: encode alert")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= http.StatusBadRequest {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
