// Package config loads application configuration and initializes logging.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Risk       RiskConfig       `yaml:"risk" mapstructure:"risk"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the trigger/metrics server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// BatchConfig configures the year batch runner.
type BatchConfig struct {
	// DefaultMinYear and DefaultMaxYear bound the run when no source data exists.
	DefaultMinYear int `yaml:"default_min_year" mapstructure:"default_min_year"`
	DefaultMaxYear int `yaml:"default_max_year" mapstructure:"default_max_year"`
	// ProgressEvery logs progress after this many successful counties.
	ProgressEvery int `yaml:"progress_every" mapstructure:"progress_every"`
	// ExtendToCurrentYear stretches the upper bound to the current calendar year.
	ExtendToCurrentYear bool `yaml:"extend_to_current_year" mapstructure:"extend_to_current_year"`
	// RetryAttempts is the total number of attempts for a transient write failure.
	RetryAttempts int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	// RetryBackoffMs is the delay before the first retry; later retries double it.
	RetryBackoffMs int `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// RiskConfig holds the tunables of the scoring model.
type RiskConfig struct {
	// Synthetic selects the value source for indicators without a stored field:
	// "hashed" (deterministic per county-year) or "random".
	Synthetic string          `yaml:"synthetic" mapstructure:"synthetic"`
	Fallback  FallbackConfig  `yaml:"fallback" mapstructure:"fallback"`
	Composite CompositeConfig `yaml:"composite" mapstructure:"composite"`
	Levels    LevelConfig     `yaml:"levels" mapstructure:"levels"`
}

// FallbackConfig holds the scores substituted for missing configuration or data.
type FallbackConfig struct {
	NoIndicators   float64 `yaml:"no_indicators" mapstructure:"no_indicators"`
	NoData         float64 `yaml:"no_data" mapstructure:"no_data"`
	EconomicNoData float64 `yaml:"economic_no_data" mapstructure:"economic_no_data"`
	MissingItem    float64 `yaml:"missing_item" mapstructure:"missing_item"`
}

// CompositeConfig holds the adjustment terms applied to the mean dimension score.
type CompositeConfig struct {
	TrendBaseYear         int     `yaml:"trend_base_year" mapstructure:"trend_base_year"`
	TrendPerYear          float64 `yaml:"trend_per_year" mapstructure:"trend_per_year"`
	PerturbationAmplitude float64 `yaml:"perturbation_amplitude" mapstructure:"perturbation_amplitude"`
	DampingFactor         float64 `yaml:"damping_factor" mapstructure:"damping_factor"`
}

// LevelConfig holds the fixed lower bounds of the four upper risk tiers.
type LevelConfig struct {
	High       float64 `yaml:"high" mapstructure:"high"`
	MediumHigh float64 `yaml:"medium_high" mapstructure:"medium_high"`
	Medium     float64 `yaml:"medium" mapstructure:"medium"`
	MediumLow  float64 `yaml:"medium_low" mapstructure:"medium_low"`
}

// DefaultRisk returns the scoring model's default tunables. It is the single
// source for both the viper defaults and scorer.DefaultRiskConfig.
func DefaultRisk() RiskConfig {
	return RiskConfig{
		Synthetic: "hashed",
		Fallback: FallbackConfig{
			NoIndicators:   20,
			NoData:         30,
			EconomicNoData: 50,
			MissingItem:    20,
		},
		Composite: CompositeConfig{
			TrendBaseYear:         2010,
			TrendPerYear:          -0.08,
			PerturbationAmplitude: 0.6,
			DampingFactor:         0.96,
		},
		Levels: LevelConfig{
			High:       25.0,
			MediumHigh: 24.2,
			Medium:     23.5,
			MediumLow:  22.5,
		},
	}
}

func setRiskDefaults(v *viper.Viper, r RiskConfig) {
	v.SetDefault("risk.synthetic", r.Synthetic)
	v.SetDefault("risk.fallback.no_indicators", r.Fallback.NoIndicators)
	v.SetDefault("risk.fallback.no_data", r.Fallback.NoData)
	v.SetDefault("risk.fallback.economic_no_data", r.Fallback.EconomicNoData)
	v.SetDefault("risk.fallback.missing_item", r.Fallback.MissingItem)
	v.SetDefault("risk.composite.trend_base_year", r.Composite.TrendBaseYear)
	v.SetDefault("risk.composite.trend_per_year", r.Composite.TrendPerYear)
	v.SetDefault("risk.composite.perturbation_amplitude", r.Composite.PerturbationAmplitude)
	v.SetDefault("risk.composite.damping_factor", r.Composite.DampingFactor)
	v.SetDefault("risk.levels.high", r.Levels.High)
	v.SetDefault("risk.levels.medium_high", r.Levels.MediumHigh)
	v.SetDefault("risk.levels.medium", r.Levels.Medium)
	v.SetDefault("risk.levels.medium_low", r.Levels.MediumLow)
}

// MonitoringConfig configures the run health checker.
type MonitoringConfig struct {
	Enabled             bool   `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL          string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int    `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	// FailureRateThreshold alerts when failed/finished year runs exceeds it.
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	// UnitFailureRateThreshold alerts when failed/processed counties exceeds it.
	UnitFailureRateThreshold float64 `yaml:"unit_failure_rate_threshold" mapstructure:"unit_failure_rate_threshold"`
	// LedgerDepthThreshold alerts when the failure ledger holds more entries. 0 disables.
	LedgerDepthThreshold int `yaml:"ledger_depth_threshold" mapstructure:"ledger_depth_threshold"`
	// StaleRunMinutes flags runs still marked running after this long. 0 disables.
	StaleRunMinutes int `yaml:"stale_run_minutes" mapstructure:"stale_run_minutes"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COUNTYRISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "county-risk.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("batch.default_min_year", 2000)
	v.SetDefault("batch.default_max_year", 2023)
	v.SetDefault("batch.progress_every", 100)
	v.SetDefault("batch.extend_to_current_year", false)
	v.SetDefault("batch.retry_attempts", 3)
	v.SetDefault("batch.retry_backoff_ms", 200)
	setRiskDefaults(v, DefaultRisk())
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.unit_failure_rate_threshold", 0.05)
	v.SetDefault("monitoring.ledger_depth_threshold", 100)
	v.SetDefault("monitoring.stale_run_minutes", 120)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the store section is usable.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unsupported store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required (COUNTYRISK_STORE_DATABASE_URL)")
	}
	if c.Batch.DefaultMinYear > c.Batch.DefaultMaxYear {
		return eris.Errorf("config: batch.default_min_year %d is after default_max_year %d",
			c.Batch.DefaultMinYear, c.Batch.DefaultMaxYear)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
