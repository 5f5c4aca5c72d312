package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFromBytes_Valid(t *testing.T) {
	yaml := `
gateway:
  enabled: true
  host: "127.0.0.1"
  port: 4002
  client_id: 7
  status_wait_sec: 3
  rate_limit_per_second: 45
  allowed_accounts: ["DU111", "DU222"]

alpaca:
  enabled: true
  api_key: "key"
  api_secret: "secret"
  base_url: "https://paper-api.alpaca.markets"

execution:
  preview_ttl_min: 10
  reconcile_interval_sec: 30
  reconcile_grace_min: 3

persistence:
  path: "/tmp/brokerhub.db"

metrics:
  enabled: true
  port: 9191
`

	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Gateway.Port != 4002 {
		t.Errorf("Gateway.Port = %d, want 4002", cfg.Gateway.Port)
	}
	if len(cfg.Gateway.AllowedAccounts) != 2 {
		t.Errorf("AllowedAccounts = %v", cfg.Gateway.AllowedAccounts)
	}
	if cfg.Alpaca.APIKey != "key" {
		t.Errorf("Alpaca.APIKey = %s", cfg.Alpaca.APIKey)
	}
	if cfg.ReconcileInterval() != 30*time.Second {
		t.Errorf("ReconcileInterval = %v", cfg.ReconcileInterval())
	}
	if cfg.ExecutorConfig().PreviewTTL != 10*time.Minute {
		t.Errorf("PreviewTTL = %v", cfg.ExecutorConfig().PreviewTTL)
	}

	venue := cfg.GatewayVenueConfig()
	if venue.StatusWaitTimeout != 3*time.Second {
		t.Errorf("StatusWaitTimeout = %v", venue.StatusWaitTimeout)
	}
	if venue.MaxRequestsPerSecond != 45 {
		t.Errorf("MaxRequestsPerSecond = %d", venue.MaxRequestsPerSecond)
	}
}

func TestLoadFromBytes_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "no venue enabled",
			yaml: `
persistence:
  path: "/tmp/x.db"
`,
			wantErr: "at least one venue",
		},
		{
			name: "alpaca missing secret",
			yaml: `
alpaca:
  enabled: true
  api_key: "key"
persistence:
  path: "/tmp/x.db"
`,
			wantErr: "alpaca.api_secret",
		},
		{
			name: "gateway rate over ceiling",
			yaml: `
gateway:
  enabled: true
  port: 4002
  rate_limit_per_second: 80
persistence:
  path: "/tmp/x.db"
`,
			wantErr: "venue ceiling",
		},
		{
			name: "missing persistence path",
			yaml: `
gateway:
  enabled: true
  port: 4002
`,
			wantErr: "persistence.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromBytes_EnvExpansion(t *testing.T) {
	t.Setenv("BROKERHUB_TEST_SECRET", "s3cret")

	yaml := `
alpaca:
  enabled: true
  api_key: "key"
  api_secret: "${BROKERHUB_TEST_SECRET}"
persistence:
  path: "/tmp/x.db"
`

	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Alpaca.APISecret != "s3cret" {
		t.Errorf("APISecret = %q, want expanded env value", cfg.Alpaca.APISecret)
	}
}

func TestLoadFromBytes_Defaults(t *testing.T) {
	yaml := `
gateway:
  enabled: true
  port: 4002
persistence:
  path: "/tmp/x.db"
metrics:
  enabled: true
`

	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Execution.PreviewTTLMin != 15 {
		t.Errorf("PreviewTTLMin default = %d, want 15", cfg.Execution.PreviewTTLMin)
	}
	if cfg.Execution.ReconcileIntervalSec != 60 {
		t.Errorf("ReconcileIntervalSec default = %d, want 60", cfg.Execution.ReconcileIntervalSec)
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Metrics.Port default = %d, want 9090", cfg.Metrics.Port)
	}
	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("Gateway.Host default = %q", cfg.Gateway.Host)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
alpaca:
  enabled: true
  api_key: "key"
  api_secret: "secret"
persistence:
  path: "/tmp/x.db"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Alpaca.Enabled {
		t.Error("Alpaca.Enabled = false")
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
