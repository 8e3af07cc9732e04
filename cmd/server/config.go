// Package main provides the emberwatch server CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Policy      PolicyConfig      `yaml:"policy"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Query       QueryConfig       `yaml:"query"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Notifiers   NotifiersConfig   `yaml:"notifiers"`
	Verbose     bool              `yaml:"-"` // set via CLI flag
}

// ServerConfig contains listener settings.
type ServerConfig struct {
	Address        string    `yaml:"address"`         // API listen address (default: :8080)
	MetricsAddress string    `yaml:"metrics_address"` // Prometheus listen address (default: :9090)
	TLS            TLSConfig `yaml:"tls"`
}

// TLSConfig contains TLS settings for the API listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DatabaseConfig locates the signature store.
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite file path (default: data/emberwatch.db)
}

// ArchiveConfig configures the optional ClickHouse event archive.
type ArchiveConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Addresses     []string `yaml:"addresses"`
	Database      string   `yaml:"database"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
	RetentionDays int      `yaml:"retention_days"`
	Compression   bool     `yaml:"compression"`
}

// PolicyConfig locates the decision policy file.
type PolicyConfig struct {
	// File is the policy YAML path. Empty runs on built-in defaults.
	// When set, the file is watched and reloaded on change.
	File string `yaml:"file"`
}

// PipelineConfig tunes the event processing pipeline.
type PipelineConfig struct {
	Workers       int           `yaml:"workers"`        // worker goroutines (default: 4)
	QueueCapacity int           `yaml:"queue_capacity"` // bounded queue size (default: 1000)
	MaxDeliveries int           `yaml:"max_deliveries"` // attempts before dead-letter (default: 5)
	RequeueDelay  time.Duration `yaml:"requeue_delay"`  // redelivery delay (default: 500ms)
}

// IngestConfig tunes the ingest boundary.
type IngestConfig struct {
	MaxBatchSize int     `yaml:"max_batch_size"` // events per request (default: 500)
	Rate         float64 `yaml:"rate"`           // requests per second per client (default: 50)
	Burst        int     `yaml:"burst"`          // burst allowance (default: 100)
}

// QueryConfig tunes the read endpoints.
type QueryConfig struct {
	Rate    float64       `yaml:"rate"`    // requests per second per client (default: 20)
	Burst   int           `yaml:"burst"`   // burst allowance (default: 40)
	Timeout time.Duration `yaml:"timeout"` // per-request store timeout (default: 10s)
}

// MaintenanceConfig tunes the retention sweep.
type MaintenanceConfig struct {
	Interval time.Duration `yaml:"interval"` // sweep period (default: 10m)
}

// NotifiersConfig configures alert delivery sinks.
type NotifiersConfig struct {
	Webhook WebhookNotifierConfig `yaml:"webhook"`
	Log     LogNotifierConfig     `yaml:"log"`
}

// WebhookNotifierConfig configures the JSON webhook sink.
type WebhookNotifierConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Name    string `yaml:"name"`
}

// LogNotifierConfig configures the stdout sink used in development.
type LogNotifierConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.MetricsAddress == "" {
		c.Server.MetricsAddress = ":9090"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/emberwatch.db"
	}
	if len(c.Archive.Addresses) == 0 {
		c.Archive.Addresses = []string{"localhost:9000"}
	}
	if c.Archive.Database == "" {
		c.Archive.Database = "emberwatch"
	}
	if c.Archive.Username == "" {
		c.Archive.Username = "default"
	}
	if c.Archive.RetentionDays == 0 {
		c.Archive.RetentionDays = 14
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.QueueCapacity == 0 {
		c.Pipeline.QueueCapacity = 1000
	}
	if c.Pipeline.MaxDeliveries == 0 {
		c.Pipeline.MaxDeliveries = 5
	}
	if c.Pipeline.RequeueDelay == 0 {
		c.Pipeline.RequeueDelay = 500 * time.Millisecond
	}
	if c.Ingest.MaxBatchSize == 0 {
		c.Ingest.MaxBatchSize = 500
	}
	if c.Ingest.Rate == 0 {
		c.Ingest.Rate = 50
	}
	if c.Ingest.Burst == 0 {
		c.Ingest.Burst = 100
	}
	if c.Query.Rate == 0 {
		c.Query.Rate = 20
	}
	if c.Query.Burst == 0 {
		c.Query.Burst = 40
	}
	if c.Query.Timeout == 0 {
		c.Query.Timeout = 10 * time.Second
	}
	if c.Maintenance.Interval == 0 {
		c.Maintenance.Interval = 10 * time.Minute
	}
	if c.Notifiers.Webhook.Name == "" {
		c.Notifiers.Webhook.Name = "webhook"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
	}
	if c.Archive.Enabled && len(c.Archive.Addresses) == 0 {
		return fmt.Errorf("archive.addresses is required when the archive is enabled")
	}
	if c.Notifiers.Webhook.Enabled && c.Notifiers.Webhook.URL == "" {
		return fmt.Errorf("notifiers.webhook.url is required when the webhook notifier is enabled")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.QueueCapacity < 1 {
		return fmt.Errorf("pipeline.queue_capacity must be at least 1, got %d", c.Pipeline.QueueCapacity)
	}
	if c.Ingest.MaxBatchSize < 1 {
		return fmt.Errorf("ingest.max_batch_size must be at least 1, got %d", c.Ingest.MaxBatchSize)
	}
	if c.Query.Timeout < time.Second {
		return fmt.Errorf("query.timeout must be at least 1s, got %v", c.Query.Timeout)
	}
	return nil
}
