package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const minimalConfig = `
environment:
  mode: paper
  log_level: info
broker:
  provider: tradier
  api_key: test-key
  account_id: test-account
strategy:
  symbol: SPY
storage:
  path: bot.db
`

func TestLoad(t *testing.T) {
	configPath := filepath.Join("..", "..", "config.yaml.example")
	t.Setenv("TRADIER_API_KEY", "key")
	t.Setenv("TRADIER_ACCOUNT_ID", "acct")
	t.Setenv("DASHBOARD_TOKEN", "token")
	if _, err := Load(configPath); err != nil {
		t.Errorf("Expected example config to load, got error: %v", err)
	}
}

func TestLoad_InvalidPath(t *testing.T) {
	if _, err := Load("nonexistent.yaml"); err == nil {
		t.Error("Expected error when loading nonexistent config file, got nil")
	}
}

func TestLoad_AppliesStrategyDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	s := cfg.Strategy
	if s.TargetDelta != defaultTargetDelta {
		t.Errorf("TargetDelta = %v, want default %v", s.TargetDelta, defaultTargetDelta)
	}
	if s.MinDTELong != defaultMinDTELong || s.MaxDTELong != defaultMaxDTELong {
		t.Errorf("long DTE bounds = [%d,%d], want defaults [%d,%d]",
			s.MinDTELong, s.MaxDTELong, defaultMinDTELong, defaultMaxDTELong)
	}
	if s.MinDeltaShort != defaultMinDeltaShort || s.MaxDeltaShort != defaultMaxDeltaShort {
		t.Errorf("short delta bounds = [%v,%v], want defaults", s.MinDeltaShort, s.MaxDeltaShort)
	}
	if s.MaxNetDebit != defaultMaxNetDebit {
		t.Errorf("MaxNetDebit = %v, want default %v", s.MaxNetDebit, defaultMaxNetDebit)
	}
	if s.MaxPositionPct != 1.0 {
		t.Errorf("MaxPositionPct = %v, want default 1.0", s.MaxPositionPct)
	}
}

func TestLoad_ExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("TEST_API_KEY", "secret-from-env")
	content := strings.Replace(minimalConfig, "api_key: test-key", "api_key: ${TEST_API_KEY}", 1)

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Broker.APIKey != "secret-from-env" {
		t.Errorf("APIKey = %q, want env expansion", cfg.Broker.APIKey)
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	content := minimalConfig + "\nunknown_section:\n  foo: bar\n"
	if _, err := Load(writeConfig(t, content)); err == nil {
		t.Error("Expected error for unknown config field, got nil")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, minimalConfig))
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid mode", func(c *Config) { c.Environment.Mode = "simulated" }},
		{"missing api key", func(c *Config) { c.Broker.APIKey = "" }},
		{"missing account id", func(c *Config) { c.Broker.AccountID = "" }},
		{"missing symbol", func(c *Config) { c.Strategy.Symbol = "" }},
		{"target delta above one", func(c *Config) { c.Strategy.TargetDelta = 1.5 }},
		{"inverted long DTE bounds", func(c *Config) { c.Strategy.MinDTELong = 400; c.Strategy.MaxDTELong = 90 }},
		{"inverted short delta bounds", func(c *Config) { c.Strategy.MinDeltaShort = 0.5; c.Strategy.MaxDeltaShort = 0.2 }},
		{"negative max net debit", func(c *Config) { c.Strategy.MaxNetDebit = -1 }},
		{"position pct above one", func(c *Config) { c.Strategy.MaxPositionPct = 1.5 }},
		{"bad poll interval", func(c *Config) { c.Schedule.PollInterval = "five seconds" }},
		{"missing storage path", func(c *Config) { c.Storage.Path = "" }},
		{"dashboard enabled without port", func(c *Config) { c.Dashboard.Enabled = true; c.Dashboard.Port = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestScheduleAccessors(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := cfg.GetPollInterval(); got != DefaultPollInterval {
		t.Errorf("GetPollInterval() = %v, want default %v", got, DefaultPollInterval)
	}
	if got := cfg.GetStopTimeout(); got != DefaultStopTimeout {
		t.Errorf("GetStopTimeout() = %v, want default %v", got, DefaultStopTimeout)
	}

	cfg.Schedule.PollInterval = "250ms"
	cfg.Schedule.StopTimeout = "2s"
	if got := cfg.GetPollInterval(); got != 250*time.Millisecond {
		t.Errorf("GetPollInterval() = %v, want 250ms", got)
	}
	if got := cfg.GetStopTimeout(); got != 2*time.Second {
		t.Errorf("GetStopTimeout() = %v, want 2s", got)
	}
}

func TestIsPaperTrading(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.IsPaperTrading() {
		t.Error("IsPaperTrading() = false for paper mode")
	}
	cfg.Environment.Mode = "live"
	if cfg.IsPaperTrading() {
		t.Error("IsPaperTrading() = true for live mode")
	}
}
