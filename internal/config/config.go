// Package config provides configuration management for the trading bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Strategy parameter defaults, applied when the corresponding yaml keys are unset.
const (
	defaultTargetDelta   = 0.75
	defaultMinDTELong    = 90
	defaultMaxDTELong    = 730 // 2 years
	defaultMinDeltaShort = 0.2
	defaultMaxDeltaShort = 0.4
	defaultMaxDTEShort   = 45
	defaultMaxNetDebit   = 500.0
	defaultRiskFreeRate  = 0.05
)

// Fixed scheduling constants. These are part of the bot's contract and are
// deliberately not configurable.
const (
	// DefaultPollInterval is the sleep between worker iterations.
	DefaultPollInterval = 5 * time.Second
	// DefaultStopTimeout bounds the wait for a worker to join on stop.
	DefaultStopTimeout = 5 * time.Second
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	Provider  string `yaml:"provider"`
	APIKey    string `yaml:"api_key"`
	AccountID string `yaml:"account_id"`
}

// StrategyConfig defines PMCC strategy parameters.
type StrategyConfig struct {
	Symbol         string  `yaml:"symbol"`
	TargetDelta    float64 `yaml:"target_delta"`     // min delta for the long leg
	MinDTELong     int     `yaml:"min_dte_long"`     // long leg DTE lower bound
	MaxDTELong     int     `yaml:"max_dte_long"`     // long leg DTE upper bound
	MinDeltaShort  float64 `yaml:"min_delta_short"`  // short leg delta lower bound
	MaxDeltaShort  float64 `yaml:"max_delta_short"`  // short leg delta upper bound
	MaxDTEShort    int     `yaml:"max_dte_short"`    // short leg DTE upper bound
	MaxNetDebit    float64 `yaml:"max_net_debit"`    // per-contract capital ceiling
	RiskFreeRate   float64 `yaml:"risk_free_rate"`   // carried, unused in sizing
	MaxPositionPct float64 `yaml:"max_position_pct"` // cap on allocation per position, 0 = no cap
}

// ScheduleConfig defines worker scheduling parameters.
type ScheduleConfig struct {
	PollInterval string `yaml:"poll_interval"` // sleep between iterations
	StopTimeout  string `yaml:"stop_timeout"`  // worker join timeout on stop
}

// StorageConfig defines storage settings for bot state.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the read-only HTTP API settings.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// applyDefaults fills unset strategy parameters with their defaults.
func (c *Config) applyDefaults() {
	s := &c.Strategy
	if s.TargetDelta == 0 {
		s.TargetDelta = defaultTargetDelta
	}
	if s.MinDTELong == 0 {
		s.MinDTELong = defaultMinDTELong
	}
	if s.MaxDTELong == 0 {
		s.MaxDTELong = defaultMaxDTELong
	}
	if s.MinDeltaShort == 0 {
		s.MinDeltaShort = defaultMinDeltaShort
	}
	if s.MaxDeltaShort == 0 {
		s.MaxDeltaShort = defaultMaxDeltaShort
	}
	if s.MaxDTEShort == 0 {
		s.MaxDTEShort = defaultMaxDTEShort
	}
	if s.MaxNetDebit == 0 {
		s.MaxNetDebit = defaultMaxNetDebit
	}
	if s.RiskFreeRate == 0 {
		s.RiskFreeRate = defaultRiskFreeRate
	}
	if s.MaxPositionPct == 0 {
		s.MaxPositionPct = 1.0
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	// Environment validation
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	// Broker validation
	if c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required")
	}
	if c.Broker.AccountID == "" {
		return fmt.Errorf("broker.account_id is required")
	}

	// Strategy validation
	if c.Strategy.Symbol == "" {
		return fmt.Errorf("strategy.symbol is required")
	}
	if c.Strategy.TargetDelta < 0 || c.Strategy.TargetDelta > 1 {
		return fmt.Errorf("strategy.target_delta must be between 0 and 1")
	}
	if c.Strategy.MinDTELong <= 0 || c.Strategy.MaxDTELong < c.Strategy.MinDTELong {
		return fmt.Errorf("strategy long DTE bounds must be positive with min <= max")
	}
	if c.Strategy.MinDeltaShort < 0 || c.Strategy.MaxDeltaShort > 1 ||
		c.Strategy.MaxDeltaShort < c.Strategy.MinDeltaShort {
		return fmt.Errorf("strategy short delta bounds must be within [0,1] with min <= max")
	}
	if c.Strategy.MaxDTEShort <= 0 {
		return fmt.Errorf("strategy.max_dte_short must be > 0")
	}
	if c.Strategy.MaxNetDebit <= 0 {
		return fmt.Errorf("strategy.max_net_debit must be > 0")
	}
	if c.Strategy.MaxPositionPct < 0 || c.Strategy.MaxPositionPct > 1 {
		return fmt.Errorf("strategy.max_position_pct must be between 0 and 1")
	}

	// Schedule validation
	if c.Schedule.PollInterval != "" {
		if _, err := time.ParseDuration(c.Schedule.PollInterval); err != nil {
			return fmt.Errorf("schedule.poll_interval invalid: %w", err)
		}
	}
	if c.Schedule.StopTimeout != "" {
		if _, err := time.ParseDuration(c.Schedule.StopTimeout); err != nil {
			return fmt.Errorf("schedule.stop_timeout invalid: %w", err)
		}
	}

	// Storage validation
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	// Dashboard validation
	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be a valid port when the dashboard is enabled")
	}

	return nil
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// GetPollInterval returns the worker poll interval.
func (c *Config) GetPollInterval() time.Duration {
	if c.Schedule.PollInterval == "" {
		return DefaultPollInterval
	}
	d, err := time.ParseDuration(c.Schedule.PollInterval)
	if err != nil {
		return DefaultPollInterval
	}
	return d
}

// GetStopTimeout returns the worker join timeout used by stop.
func (c *Config) GetStopTimeout() time.Duration {
	if c.Schedule.StopTimeout == "" {
		return DefaultStopTimeout
	}
	d, err := time.ParseDuration(c.Schedule.StopTimeout)
	if err != nil {
		return DefaultStopTimeout
	}
	return d
}
