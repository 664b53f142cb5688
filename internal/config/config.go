package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the tradekeeper control-plane.
type Config struct {
	Storage   Storage         `yaml:"storage"`
	Server    Server          `yaml:"server"`
	Alpaca    Alpaca          `yaml:"alpaca"`
	Logging   Logging         `yaml:"logging"`
	Trading   TradingConfig   `yaml:"trading"`
	Admission AdmissionConfig `yaml:"admission"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Advisor   AdvisorConfig   `yaml:"advisor"`
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TradingConfig selects the broker mode and the accounts the engine manages.
type TradingConfig struct {
	PaperMode        bool     `yaml:"paper_mode"`
	Users            []string `yaml:"users"`
	BrokerTimeoutSec int      `yaml:"broker_timeout_sec"`
}

// BrokerTimeout returns the per-call broker timeout as a duration.
func (c TradingConfig) BrokerTimeout() time.Duration {
	return time.Duration(c.BrokerTimeoutSec) * time.Second
}

// AdmissionConfig controls order dedup and per-user rate limiting.
type AdmissionConfig struct {
	DedupWindowSec   int `yaml:"dedup_window_sec"`
	AttemptGraceSec  int `yaml:"attempt_grace_sec"`
	RateLimit        int `yaml:"rate_limit"`
	RateWindowSec    int `yaml:"rate_window_sec"`
	SweepIntervalSec int `yaml:"sweep_interval_sec"`
}

// DedupWindow returns the dedup window as a duration.
func (c AdmissionConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSec) * time.Second
}

// AttemptGrace returns the audit retention grace period as a duration.
func (c AdmissionConfig) AttemptGrace() time.Duration {
	return time.Duration(c.AttemptGraceSec) * time.Second
}

// RateWindow returns the rolling rate-limit window as a duration.
func (c AdmissionConfig) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSec) * time.Second
}

// SweepInterval returns the cleanup cadence as a duration.
func (c AdmissionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

// LedgerConfig controls broker reconciliation cadence and health escalation.
type LedgerConfig struct {
	ReconcileIntervalSec int `yaml:"reconcile_interval_sec"`
	PriceIntervalSec     int `yaml:"price_interval_sec"`
	FailureThreshold     int `yaml:"failure_threshold"`
	BrokerRatePerMin     int `yaml:"broker_rate_per_min"`
}

// ReconcileInterval returns the full-reconciliation cadence as a duration.
func (c LedgerConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSec) * time.Second
}

// PriceInterval returns the price-only refresh cadence as a duration.
func (c LedgerConfig) PriceInterval() time.Duration {
	return time.Duration(c.PriceIntervalSec) * time.Second
}

// AdvisorConfig controls strategy weighting and auto-execution gating.
type AdvisorConfig struct {
	EvaluateIntervalSec int                `yaml:"evaluate_interval_sec"`
	MinConfidence       float64            `yaml:"min_confidence"`
	Weights             map[string]float64 `yaml:"weights"`
	AutoExecute         AutoExecuteConfig  `yaml:"auto_execute"`
}

// EvaluateInterval returns the signal-evaluation cadence as a duration.
func (c AdvisorConfig) EvaluateInterval() time.Duration {
	return time.Duration(c.EvaluateIntervalSec) * time.Second
}

// AutoExecuteConfig gates automatic order submission from consensus signals.
type AutoExecuteConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Confidence float64 `yaml:"confidence"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// Default returns a Config with every default filled in and no broker
// credentials, suitable for paper mode without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.Trading.PaperMode = true
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("PAPER_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Trading.PaperMode = b
		}
	}

	// Standard Alpaca env vars (highest priority: canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// applyDefaults fills zero-valued fields with the documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Trading.BrokerTimeoutSec == 0 {
		cfg.Trading.BrokerTimeoutSec = 10
	}

	if cfg.Admission.DedupWindowSec == 0 {
		cfg.Admission.DedupWindowSec = 300
	}
	if cfg.Admission.AttemptGraceSec == 0 {
		cfg.Admission.AttemptGraceSec = 600
	}
	if cfg.Admission.RateLimit == 0 {
		cfg.Admission.RateLimit = 10
	}
	if cfg.Admission.RateWindowSec == 0 {
		cfg.Admission.RateWindowSec = 60
	}
	if cfg.Admission.SweepIntervalSec == 0 {
		cfg.Admission.SweepIntervalSec = 60
	}

	if cfg.Ledger.ReconcileIntervalSec == 0 {
		cfg.Ledger.ReconcileIntervalSec = 30
	}
	if cfg.Ledger.PriceIntervalSec == 0 {
		cfg.Ledger.PriceIntervalSec = 5
	}
	if cfg.Ledger.FailureThreshold == 0 {
		cfg.Ledger.FailureThreshold = 3
	}
	if cfg.Ledger.BrokerRatePerMin == 0 {
		cfg.Ledger.BrokerRatePerMin = 120
	}

	if cfg.Advisor.EvaluateIntervalSec == 0 {
		cfg.Advisor.EvaluateIntervalSec = 15
	}
	if cfg.Advisor.MinConfidence == 0 {
		cfg.Advisor.MinConfidence = 0.2
	}
	if len(cfg.Advisor.Weights) == 0 {
		cfg.Advisor.Weights = map[string]float64{
			"momentum":       0.3,
			"mean-reversion": 0.2,
			"drawdown-guard": 0.3,
			"profit-taker":   0.2,
		}
	}
	if cfg.Advisor.AutoExecute.Confidence == 0 {
		cfg.Advisor.AutoExecute.Confidence = 0.75
	}
}
