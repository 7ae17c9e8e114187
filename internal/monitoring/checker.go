// Package monitoring watches the run log and failure ledger and raises
// webhook alerts when calculation health degrades.
package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/county-risk/risk-engine/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// CheckResult is the outcome of one health check.
type CheckResult struct {
	Health    *HealthSnapshot `json:"health"`
	Firing    []Alert         `json:"firing,omitempty"`
	Notified  int             `json:"notified"`
	CheckedAt time.Time       `json:"checked_at"`
}

// Checker collects health on an interval and notifies the webhook when an
// alert starts firing. Once delivered, an alert that keeps firing is not
// re-sent until it has cleared; an alert whose delivery failed is retried on
// the next check.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	mu       sync.Mutex
	notified map[string]bool // Alert.Key of delivered alerts still firing
	latest   *CheckResult
}

// NewChecker wires a collector and alerter into a Checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		notified:  make(map[string]bool),
	}
}

func (c *Checker) interval() time.Duration {
	if c.cfg.CheckIntervalSecs <= 0 {
		return defaultCheckInterval
	}
	return time.Duration(c.cfg.CheckIntervalSecs) * time.Second
}

// Run checks once immediately and then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	every := c.interval()
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("health checker started",
		zap.Duration("interval", every),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if _, err := c.Check(ctx); err != nil && ctx.Err() == nil {
			log.Warn("health check failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			log.Info("health checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check collects a snapshot, evaluates it and notifies the webhook of alerts
// that have not been delivered while firing. The result is kept for Latest.
func (c *Checker) Check(ctx context.Context) (*CheckResult, error) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		return nil, err
	}
	alerts := c.alerter.Evaluate(snap)

	still := make(map[string]bool, len(alerts))
	var fresh []Alert
	c.mu.Lock()
	for _, a := range alerts {
		if k := a.Key(); c.notified[k] {
			still[k] = true
		} else {
			fresh = append(fresh, a)
		}
	}
	c.mu.Unlock()

	res := &CheckResult{Health: snap, Firing: alerts, CheckedAt: time.Now().UTC()}
	if len(fresh) > 0 {
		delivered := c.alerter.SendAlerts(ctx, fresh)
		for _, a := range delivered {
			still[a.Key()] = true
		}
		res.Notified = len(delivered)
		zap.L().Info("monitoring: alerts raised",
			zap.Int("firing", len(alerts)),
			zap.Int("new", len(fresh)),
			zap.Int("notified", res.Notified),
		)
	}

	c.mu.Lock()
	c.notified = still
	c.latest = res
	c.mu.Unlock()
	return res, nil
}

// Latest returns the most recent check result, or nil before the first
// check completes.
func (c *Checker) Latest() *CheckResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}
