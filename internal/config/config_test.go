package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	// Create a temporary YAML config file.
	yamlContent := []byte(`
storage:
  sqlite_path: "/tmp/tradekeeper/tradekeeper.db"
server:
  host: "0.0.0.0"
  port: 9000
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  base_url: "https://paper-api.alpaca.markets"
  data_url: "https://data.alpaca.markets"
logging:
  level: "debug"
  format: "json"
trading:
  paper_mode: true
  users:
    - "acct-1"
    - "acct-2"
admission:
  dedup_window_sec: 120
  rate_limit: 5
  rate_window_sec: 30
ledger:
  reconcile_interval_sec: 20
  price_interval_sec: 2
advisor:
  min_confidence: 0.25
  weights:
    momentum: 0.4
    mean-reversion: 0.1
    drawdown-guard: 0.3
    profit-taker: 0.2
  auto_execute:
    enabled: true
    confidence: 0.8
`)

	tmpFile, err := os.CreateTemp("", "tradekeeper-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}

	// Clear any environment overrides that might interfere.
	os.Unsetenv("ALPACA_API_KEY")
	os.Unsetenv("ALPACA_API_SECRET")
	os.Unsetenv("APCA_API_KEY_ID")
	os.Unsetenv("APCA_API_SECRET_KEY")
	os.Unsetenv("SQLITE_PATH")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("PAPER_MODE")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Explicit values --
	if cfg.Storage.SQLitePath != "/tmp/tradekeeper/tradekeeper.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/tradekeeper/tradekeeper.db")
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "test-key")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if len(cfg.Trading.Users) != 2 || cfg.Trading.Users[0] != "acct-1" {
		t.Errorf("Trading.Users = %v, want [acct-1 acct-2]", cfg.Trading.Users)
	}
	if cfg.Admission.DedupWindowSec != 120 {
		t.Errorf("Admission.DedupWindowSec = %d, want %d", cfg.Admission.DedupWindowSec, 120)
	}
	if cfg.Admission.RateLimit != 5 {
		t.Errorf("Admission.RateLimit = %d, want %d", cfg.Admission.RateLimit, 5)
	}
	if cfg.Ledger.ReconcileIntervalSec != 20 {
		t.Errorf("Ledger.ReconcileIntervalSec = %d, want %d", cfg.Ledger.ReconcileIntervalSec, 20)
	}
	if cfg.Advisor.Weights["momentum"] != 0.4 {
		t.Errorf("Advisor.Weights[momentum] = %f, want %f", cfg.Advisor.Weights["momentum"], 0.4)
	}
	if !cfg.Advisor.AutoExecute.Enabled {
		t.Error("Advisor.AutoExecute.Enabled = false, want true")
	}
	if cfg.Advisor.AutoExecute.Confidence != 0.8 {
		t.Errorf("Advisor.AutoExecute.Confidence = %f, want %f", cfg.Advisor.AutoExecute.Confidence, 0.8)
	}

	// -- Defaults filled for omitted fields --
	if cfg.Admission.AttemptGraceSec != 600 {
		t.Errorf("Admission.AttemptGraceSec = %d, want default %d", cfg.Admission.AttemptGraceSec, 600)
	}
	if cfg.Admission.SweepIntervalSec != 60 {
		t.Errorf("Admission.SweepIntervalSec = %d, want default %d", cfg.Admission.SweepIntervalSec, 60)
	}
	if cfg.Ledger.FailureThreshold != 3 {
		t.Errorf("Ledger.FailureThreshold = %d, want default %d", cfg.Ledger.FailureThreshold, 3)
	}
	if cfg.Trading.BrokerTimeoutSec != 10 {
		t.Errorf("Trading.BrokerTimeoutSec = %d, want default %d", cfg.Trading.BrokerTimeoutSec, 10)
	}
	if cfg.Advisor.EvaluateIntervalSec != 15 {
		t.Errorf("Advisor.EvaluateIntervalSec = %d, want default %d", cfg.Advisor.EvaluateIntervalSec, 15)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	yamlContent := []byte(`
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  sqlite_path: "/original/tradekeeper.db"
`)

	tmpFile, err := os.CreateTemp("", "tradekeeper-config-env-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	// Set environment overrides.
	os.Setenv("ALPACA_API_KEY", "env-key")
	os.Setenv("SQLITE_PATH", "/env/tradekeeper.db")
	os.Unsetenv("APCA_API_KEY_ID")
	os.Unsetenv("APCA_API_SECRET_KEY")
	defer os.Unsetenv("ALPACA_API_KEY")
	defer os.Unsetenv("SQLITE_PATH")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.SQLitePath != "/env/tradekeeper.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q (env override)", cfg.Storage.SQLitePath, "/env/tradekeeper.db")
	}
}

func TestDefault(t *testing.T) {
	os.Unsetenv("SQLITE_PATH")
	os.Unsetenv("PAPER_MODE")

	cfg := Default()
	if !cfg.Trading.PaperMode {
		t.Error("Default config should enable paper mode")
	}
	if cfg.Admission.DedupWindow().Seconds() != 300 {
		t.Errorf("DedupWindow = %v, want 300s", cfg.Admission.DedupWindow())
	}

	// Default weights must sum to 1 across the active strategy set.
	var sum float64
	for _, w := range cfg.Advisor.Weights {
		sum += w
	}
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("default strategy weights sum = %f, want 1.0", sum)
	}
}
