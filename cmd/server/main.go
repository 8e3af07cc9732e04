package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/emberwatch/emberwatch/internal/anomaly"
	"github.com/emberwatch/emberwatch/internal/api"
	"github.com/emberwatch/emberwatch/internal/api/auth"
	"github.com/emberwatch/emberwatch/internal/api/health"
	"github.com/emberwatch/emberwatch/internal/metrics"
	"github.com/emberwatch/emberwatch/internal/pipeline"
	"github.com/emberwatch/emberwatch/internal/publisher"
	"github.com/emberwatch/emberwatch/internal/storage"
	"github.com/emberwatch/emberwatch/pkg/config"
)

var (
	configFile string
	apiAddr    string
	verbose    bool

	tokenName   string
	tokenScopes []string
	tokenTTL    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "emberwatch-server",
	Short: "Emberwatch Server - Log anomaly alerting pipeline",
	Long: `Emberwatch Server ingests aggregated log events from cluster nodes,
decides which signatures are anomalous, and publishes alerts to the
configured notification sinks.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("emberwatch-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a service token for API access",
	Long: `Mint a signed JWT for a service account. The signing secret is read
from EMBERWATCH_JWT_SECRET, so tokens minted here are valid against a
server started with the same secret.`,
	RunE: runToken,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.Flags().StringVarP(&apiAddr, "address", "a", "", "API listen address (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	tokenCmd.Flags().StringVar(&tokenName, "name", "", "service account name (required)")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scopes", []string{auth.ScopeRead}, "token scopes (ingest, read)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func jwtSecret() ([]byte, error) {
	secret := os.Getenv("EMBERWATCH_JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("EMBERWATCH_JWT_SECRET environment variable is required")
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("EMBERWATCH_JWT_SECRET must be at least 32 bytes, got %d", len(secret))
	}
	return []byte(secret), nil
}

func runToken(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	if tokenName == "" {
		return fmt.Errorf("--name is required")
	}
	for _, scope := range tokenScopes {
		if scope != auth.ScopeIngest && scope != auth.ScopeRead {
			return fmt.Errorf("unknown scope %q (valid: %s, %s)", scope, auth.ScopeIngest, auth.ScopeRead)
		}
	}

	secret, err := jwtSecret()
	if err != nil {
		return err
	}

	svc := auth.NewTokenService(secret, tokenTTL)
	token, err := svc.Generate(tokenName, tokenScopes, tokenTTL)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}

	fmt.Fprintf(os.Stderr, "token for %q (scopes: %s, expires in %s)\n",
		tokenName, strings.Join(tokenScopes, ","), tokenTTL)
	fmt.Println(token)
	return nil
}

func runServer(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	var cfg *Config

	// Load configuration from file if provided
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	// Override with CLI flags
	if apiAddr != "" {
		cfg.Server.Address = apiAddr
	}
	cfg.Verbose = verbose

	secret, err := jwtSecret()
	if err != nil {
		return err
	}

	// Auto-create data directory
	dbDir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	// Initialize the signature store
	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	log.Printf("database initialized at %s", cfg.Database.Path)

	// Load the decision policy
	var policy *anomaly.Policy
	if cfg.Policy.File != "" {
		policy, err = anomaly.LoadPolicyFromFile(cfg.Policy.File)
		if err != nil {
			return fmt.Errorf("load policy: %w", err)
		}
		log.Printf("policy loaded from %s", cfg.Policy.File)
	} else {
		policy = anomaly.DefaultPolicy()
		log.Printf("no policy file configured, using defaults")
	}

	filter := anomaly.NewFilter(store.Signatures(), policy, nil)

	// Watch the policy file for live reloads
	var watcher *anomaly.PolicyWatcher
	if cfg.Policy.File != "" {
		watcher, err = anomaly.NewPolicyWatcher(cfg.Policy.File, filter)
		if err != nil {
			return fmt.Errorf("create policy watcher: %w", err)
		}
		defer watcher.Close()
	}

	// Open the event archive if enabled
	var arch *storage.ClickHouseArchive
	var buffer *storage.ArchiveBuffer
	if cfg.Archive.Enabled {
		arch = storage.NewClickHouseArchive(&storage.ClickHouseConfig{
			Addresses:     cfg.Archive.Addresses,
			Database:      cfg.Archive.Database,
			Username:      cfg.Archive.Username,
			Password:      cfg.Archive.Password,
			RetentionDays: cfg.Archive.RetentionDays,
			Compression:   cfg.Archive.Compression,
		})
		if err := arch.Open(); err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer arch.Close()

		if err := arch.Migrate(); err != nil {
			return fmt.Errorf("migrate archive: %w", err)
		}
		buffer = storage.NewArchiveBuffer(arch.Events(), &storage.ArchiveBufferConfig{})
		log.Printf("event archive enabled at %s", strings.Join(cfg.Archive.Addresses, ","))
	}

	// Alert delivery sinks
	dispatcher := publisher.NewDispatcher()
	if cfg.Notifiers.Webhook.Enabled {
		webhook, err := publisher.NewWebhookNotifier(publisher.WebhookConfig{
			URL:  cfg.Notifiers.Webhook.URL,
			Name: cfg.Notifiers.Webhook.Name,
		})
		if err != nil {
			return fmt.Errorf("configure webhook notifier: %w", err)
		}
		defer webhook.Close()
		dispatcher.Register(webhook)
	}
	if cfg.Notifiers.Log.Enabled {
		dispatcher.Register(publisher.NewLogNotifier())
	}

	pub := publisher.NewPublisher(store.Alerts(), dispatcher, &publisher.Options{
		DedupWindow: policy.DedupWindow(),
	})

	// Processing pipeline
	queue := pipeline.NewQueue(pipeline.QueueConfig{
		Capacity:      cfg.Pipeline.QueueCapacity,
		MaxDeliveries: cfg.Pipeline.MaxDeliveries,
		RequeueDelay:  cfg.Pipeline.RequeueDelay,
	})

	var archiver pipeline.Archiver
	if buffer != nil {
		archiver = buffer
	}
	pool := pipeline.NewWorkerPool(cfg.Pipeline.Workers, queue, filter, pub, archiver)

	var maintArchive storage.EventRepository
	if arch != nil {
		maintArchive = arch.Events()
	}
	maint := pipeline.NewMaintenance(store.Signatures(), store.Alerts(), maintArchive, pipeline.MaintenanceConfig{
		Interval: cfg.Maintenance.Interval,
	})
	maint.Start()

	// Metrics endpoint
	metricsSrv := metrics.NewServer(cfg.Server.MetricsAddress)
	go func() {
		if err := metricsSrv.Start(); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()
	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)

	// HTTP API
	apiCfg := &api.Config{
		Address:      cfg.Server.Address,
		JWTSecret:    secret,
		TLSEnabled:   cfg.Server.TLS.Enabled,
		TLSCertFile:  cfg.Server.TLS.CertFile,
		TLSKeyFile:   cfg.Server.TLS.KeyFile,
		IngestRate:   cfg.Ingest.Rate,
		IngestBurst:  cfg.Ingest.Burst,
		QueryRate:    cfg.Query.Rate,
		QueryBurst:   cfg.Query.Burst,
		MaxBatchSize: cfg.Ingest.MaxBatchSize,
		QueryTimeout: cfg.Query.Timeout,
		Verbose:      cfg.Verbose,
	}

	var apiArchive storage.EventRepository
	if arch != nil {
		apiArchive = arch.Events()
	}
	srv, err := api.New(apiCfg, store, apiArchive, &api.Pipeline{
		Queue:     queue,
		Filter:    filter,
		Publisher: pub,
	})
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	srv.RegisterHealthChecker(health.NewSQLiteChecker(store.DB()))
	if arch != nil {
		srv.RegisterHealthChecker(health.NewClickHouseChecker(arch))
	}
	srv.RegisterHealthChecker(health.NewQueueChecker(queue.Depth, cfg.Pipeline.QueueCapacity))

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	if watcher != nil {
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start policy watcher: %w", err)
		}
	}
	pool.Start(ctx)

	log.Printf("starting emberwatch-server %s", config.Version)
	log.Printf("API listening on %s, metrics on %s", cfg.Server.Address, cfg.Server.MetricsAddress)

	runErr := srv.Run(ctx)

	// Drain in dependency order: stop intake, finish in-flight work,
	// then flush and close the stores behind it.
	queue.Close()
	pool.Wait()
	maint.Close()
	if buffer != nil {
		if err := buffer.Close(); err != nil {
			log.Printf("flush archive buffer: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics shutdown: %v", err)
	}

	if runErr != nil {
		return fmt.Errorf("run server: %w", runErr)
	}

	log.Printf("server stopped")
	return nil
}
