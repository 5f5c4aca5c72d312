// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tathienbao/brokerhub/internal/broker/alpaca"
	"github.com/tathienbao/brokerhub/internal/broker/ibgw"
	"github.com/tathienbao/brokerhub/internal/execution"
)

// Config represents the full application configuration.
type Config struct {
	Gateway     GatewayConfig     `yaml:"gateway"`
	Alpaca      AlpacaConfig      `yaml:"alpaca"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// GatewayConfig holds the stateful gateway venue settings.
type GatewayConfig struct {
	Enabled              bool     `yaml:"enabled"`
	Host                 string   `yaml:"host"`
	Port                 int      `yaml:"port"`
	ClientID             int      `yaml:"client_id"`
	ConnectTimeoutSec    int      `yaml:"connect_timeout_sec"`
	RequestTimeoutSec    int      `yaml:"request_timeout_sec"`
	StatusWaitSec        int      `yaml:"status_wait_sec"`
	ReconnectBaseDelayMs int      `yaml:"reconnect_base_delay_ms"`
	MaxReconnectTries    int      `yaml:"max_reconnect_tries"`
	RateLimitPerSecond   int      `yaml:"rate_limit_per_second"`
	ReadOnly             bool     `yaml:"read_only"`
	AllowedAccounts      []string `yaml:"allowed_accounts"`
	CommissionPerUnit    float64  `yaml:"commission_per_unit"`
}

// AlpacaConfig holds the stateless API venue settings.
type AlpacaConfig struct {
	Enabled         bool     `yaml:"enabled"`
	APIKey          string   `yaml:"api_key"`
	APISecret       string   `yaml:"api_secret"`
	BaseURL         string   `yaml:"base_url"`
	DataBaseURL     string   `yaml:"data_base_url"`
	ReadOnly        bool     `yaml:"read_only"`
	AllowedAccounts []string `yaml:"allowed_accounts"`
}

// ExecutionConfig holds executor and reconciliation settings.
type ExecutionConfig struct {
	PreviewTTLMin        int `yaml:"preview_ttl_min"`
	ReconcileIntervalSec int `yaml:"reconcile_interval_sec"`
	ReconcileGraceMin    int `yaml:"reconcile_grace_min"`
}

// PersistenceConfig holds persistence settings.
type PersistenceConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration and applies defaults.
func (c *Config) Validate() error {
	var errs []string

	if !c.Gateway.Enabled && !c.Alpaca.Enabled {
		errs = append(errs, "at least one venue must be enabled")
	}

	if c.Gateway.Enabled {
		if c.Gateway.Host == "" {
			c.Gateway.Host = "127.0.0.1"
		}
		if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
			errs = append(errs, "gateway.port must be a valid TCP port")
		}
		if c.Gateway.RateLimitPerSecond > 50 {
			errs = append(errs, "gateway.rate_limit_per_second must not exceed the venue ceiling of 50")
		}
	}

	if c.Alpaca.Enabled {
		if c.Alpaca.APIKey == "" {
			errs = append(errs, "alpaca.api_key is required")
		}
		if c.Alpaca.APISecret == "" {
			errs = append(errs, "alpaca.api_secret is required")
		}
	}

	if c.Persistence.Path == "" {
		errs = append(errs, "persistence.path is required")
	}

	if c.Execution.PreviewTTLMin <= 0 {
		c.Execution.PreviewTTLMin = 15 // default
	}
	if c.Execution.ReconcileIntervalSec <= 0 {
		c.Execution.ReconcileIntervalSec = 60 // default
	}
	if c.Execution.ReconcileGraceMin <= 0 {
		c.Execution.ReconcileGraceMin = 5 // default
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 {
			c.Metrics.Port = 9090
		}
		if c.Metrics.Path == "" {
			c.Metrics.Path = "/metrics"
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level '%s' is not supported", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format '%s' is not supported", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// GatewayVenueConfig converts the gateway section into the adapter's config.
func (c *Config) GatewayVenueConfig() ibgw.Config {
	out := ibgw.DefaultConfig()
	out.Host = c.Gateway.Host
	if c.Gateway.Port > 0 {
		out.Port = c.Gateway.Port
	}
	if c.Gateway.ClientID > 0 {
		out.ClientID = c.Gateway.ClientID
	}
	if c.Gateway.ConnectTimeoutSec > 0 {
		out.ConnectTimeout = time.Duration(c.Gateway.ConnectTimeoutSec) * time.Second
	}
	if c.Gateway.RequestTimeoutSec > 0 {
		out.RequestTimeout = time.Duration(c.Gateway.RequestTimeoutSec) * time.Second
	}
	if c.Gateway.StatusWaitSec > 0 {
		out.StatusWaitTimeout = time.Duration(c.Gateway.StatusWaitSec) * time.Second
	}
	if c.Gateway.ReconnectBaseDelayMs > 0 {
		out.ReconnectBaseDelay = time.Duration(c.Gateway.ReconnectBaseDelayMs) * time.Millisecond
	}
	if c.Gateway.MaxReconnectTries > 0 {
		out.MaxReconnectTries = c.Gateway.MaxReconnectTries
	}
	if c.Gateway.RateLimitPerSecond > 0 {
		out.MaxRequestsPerSecond = c.Gateway.RateLimitPerSecond
	}
	if c.Gateway.CommissionPerUnit > 0 {
		out.CommissionPerUnit = c.Gateway.CommissionPerUnit
	}
	out.ReadOnly = c.Gateway.ReadOnly
	out.AllowedAccounts = c.Gateway.AllowedAccounts
	return out
}

// AlpacaVenueConfig converts the alpaca section into the adapter's config.
func (c *Config) AlpacaVenueConfig() alpaca.Config {
	return alpaca.Config{
		APIKey:          c.Alpaca.APIKey,
		APISecret:       c.Alpaca.APISecret,
		BaseURL:         c.Alpaca.BaseURL,
		DataBaseURL:     c.Alpaca.DataBaseURL,
		ReadOnly:        c.Alpaca.ReadOnly,
		AllowedAccounts: c.Alpaca.AllowedAccounts,
	}
}

// ExecutorConfig converts the execution section into the executor's config.
func (c *Config) ExecutorConfig() execution.Config {
	return execution.Config{
		PreviewTTL: time.Duration(c.Execution.PreviewTTLMin) * time.Minute,
	}
}

// ReconcileInterval returns the reconciliation pass interval.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Execution.ReconcileIntervalSec) * time.Second
}

// ReconcileGrace returns the uncertain-attempt grace window.
func (c *Config) ReconcileGrace() time.Duration {
	return time.Duration(c.Execution.ReconcileGraceMin) * time.Minute
}
