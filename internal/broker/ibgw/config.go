// Package ibgw provides the stateful gateway venue adapter. It speaks the
// gateway's TWS-style wire protocol over a single persistent TCP session
// owned by the connection supervisor.
package ibgw

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds gateway connection configuration.
type Config struct {
	// Connection settings
	Host     string
	Port     int
	ClientID int

	// Timeouts
	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// Bounded post-submission wait for an initial order status. Exceeding
	// it returns PENDING, not an error.
	StatusWaitTimeout time.Duration

	// Bounded settle time for market-data snapshots.
	SnapshotSettle time.Duration

	// Reconnection (consumed by the connection supervisor)
	ReconnectBaseDelay time.Duration
	MaxReconnectTries  int

	// Rate limiting
	MaxRequestsPerSecond int

	// ReadOnly disables all write operations before any network call.
	ReadOnly bool

	// AllowedAccounts is the authorization allow-list. Empty trusts all
	// gateway-reported accounts; non-empty is a strict filter.
	AllowedAccounts []string

	// CommissionPerUnit feeds preview estimates.
	CommissionPerUnit float64
}

// DefaultConfig returns default gateway configuration (paper gateway port).
func DefaultConfig() Config {
	return Config{
		Host:                 "127.0.0.1",
		Port:                 4002,
		ClientID:             1,
		ConnectTimeout:       10 * time.Second,
		RequestTimeout:       15 * time.Second,
		StatusWaitTimeout:    3 * time.Second,
		SnapshotSettle:       2 * time.Second,
		ReconnectBaseDelay:   2 * time.Second,
		MaxReconnectTries:    10,
		MaxRequestsPerSecond: 45, // venue ceiling is 50/sec
		CommissionPerUnit:    0.85,
	}
}

// LiveConfig returns configuration for the live gateway port.
func LiveConfig() Config {
	cfg := DefaultConfig()
	cfg.Port = 4001
	return cfg
}

// Commission returns the per-unit commission as a decimal.
func (c Config) Commission() decimal.Decimal {
	return decimal.NewFromFloat(c.CommissionPerUnit)
}
