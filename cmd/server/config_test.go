package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Address != ":8080" {
		t.Errorf("Server.Address = %q, want :8080", cfg.Server.Address)
	}
	if cfg.Server.MetricsAddress != ":9090" {
		t.Errorf("Server.MetricsAddress = %q, want :9090", cfg.Server.MetricsAddress)
	}
	if cfg.Database.Path != "data/emberwatch.db" {
		t.Errorf("Database.Path = %q, want data/emberwatch.db", cfg.Database.Path)
	}
	if cfg.Pipeline.Workers != 4 {
		t.Errorf("Pipeline.Workers = %d, want 4", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.QueueCapacity != 1000 {
		t.Errorf("Pipeline.QueueCapacity = %d, want 1000", cfg.Pipeline.QueueCapacity)
	}
	if cfg.Ingest.MaxBatchSize != 500 {
		t.Errorf("Ingest.MaxBatchSize = %d, want 500", cfg.Ingest.MaxBatchSize)
	}
	if cfg.Query.Timeout != 10*time.Second {
		t.Errorf("Query.Timeout = %v, want 10s", cfg.Query.Timeout)
	}
	if cfg.Maintenance.Interval != 10*time.Minute {
		t.Errorf("Maintenance.Interval = %v, want 10m", cfg.Maintenance.Interval)
	}
	if cfg.Archive.Enabled {
		t.Error("Archive.Enabled should default to false")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
server:
  address: ":9999"
database:
  path: /var/lib/emberwatch/emberwatch.db
archive:
  enabled: true
  addresses:
    - ch1:9000
    - ch2:9000
  database: events
  retention_days: 30
policy:
  file: /etc/emberwatch/policy.yaml
pipeline:
  workers: 8
  queue_capacity: 5000
ingest:
  max_batch_size: 1000
notifiers:
  webhook:
    enabled: true
    url: https://alerts.example.com/hook
    name: pagerduty
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Server.Address != ":9999" {
		t.Errorf("Server.Address = %q, want :9999", cfg.Server.Address)
	}
	if cfg.Database.Path != "/var/lib/emberwatch/emberwatch.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if !cfg.Archive.Enabled {
		t.Error("Archive.Enabled should be true")
	}
	if len(cfg.Archive.Addresses) != 2 {
		t.Errorf("Archive.Addresses = %v, want 2 entries", cfg.Archive.Addresses)
	}
	if cfg.Archive.RetentionDays != 30 {
		t.Errorf("Archive.RetentionDays = %d, want 30", cfg.Archive.RetentionDays)
	}
	if cfg.Policy.File != "/etc/emberwatch/policy.yaml" {
		t.Errorf("Policy.File = %q", cfg.Policy.File)
	}
	if cfg.Pipeline.Workers != 8 {
		t.Errorf("Pipeline.Workers = %d, want 8", cfg.Pipeline.Workers)
	}
	if cfg.Ingest.MaxBatchSize != 1000 {
		t.Errorf("Ingest.MaxBatchSize = %d, want 1000", cfg.Ingest.MaxBatchSize)
	}
	if cfg.Notifiers.Webhook.Name != "pagerduty" {
		t.Errorf("Notifiers.Webhook.Name = %q, want pagerduty", cfg.Notifiers.Webhook.Name)
	}

	// Unset sections still pick up defaults.
	if cfg.Server.MetricsAddress != ":9090" {
		t.Errorf("Server.MetricsAddress = %q, want default :9090", cfg.Server.MetricsAddress)
	}
	if cfg.Query.Timeout != 10*time.Second {
		t.Errorf("Query.Timeout = %v, want default 10s", cfg.Query.Timeout)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "TLS enabled without cert",
			mutate: func(c *Config) {
				c.Server.TLS.Enabled = true
				c.Server.TLS.KeyFile = "key.pem"
			},
			wantErr: true,
		},
		{
			name: "TLS enabled without key",
			mutate: func(c *Config) {
				c.Server.TLS.Enabled = true
				c.Server.TLS.CertFile = "cert.pem"
			},
			wantErr: true,
		},
		{
			name: "TLS fully configured",
			mutate: func(c *Config) {
				c.Server.TLS.Enabled = true
				c.Server.TLS.CertFile = "cert.pem"
				c.Server.TLS.KeyFile = "key.pem"
			},
			wantErr: false,
		},
		{
			name: "webhook enabled without URL",
			mutate: func(c *Config) {
				c.Notifiers.Webhook.Enabled = true
			},
			wantErr: true,
		},
		{
			name: "archive enabled without addresses",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.Addresses = nil
			},
			wantErr: true,
		},
		{
			name: "zero workers",
			mutate: func(c *Config) {
				c.Pipeline.Workers = -1
			},
			wantErr: true,
		},
		{
			name: "sub-second query timeout",
			mutate: func(c *Config) {
				c.Query.Timeout = 100 * time.Millisecond
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
