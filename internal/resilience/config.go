package resilience

import (
	"time"

	"github.com/county-risk/risk-engine/internal/config"
)

// FromBatchConfig derives the write retry policy from the batch section.
// Zero values keep the defaults.
func FromBatchConfig(cfg config.BatchConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.RetryAttempts > 0 {
		rc.MaxAttempts = cfg.RetryAttempts
	}
	if cfg.RetryBackoffMs > 0 {
		rc.InitialBackoff = time.Duration(cfg.RetryBackoffMs) * time.Millisecond
	}
	return rc
}
