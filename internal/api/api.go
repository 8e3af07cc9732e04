// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/emberwatch/emberwatch/internal/anomaly"
	"github.com/emberwatch/emberwatch/internal/api/health"
	"github.com/emberwatch/emberwatch/internal/pipeline"
	"github.com/emberwatch/emberwatch/internal/publisher"
	"github.com/emberwatch/emberwatch/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address      string
	JWTSecret    []byte
	TLSEnabled   bool   // Enable HTTPS for the API server
	TLSCertFile  string // HTTPS certificate file
	TLSKeyFile   string // HTTPS private key file
	IngestRate   float64
	IngestBurst  int
	QueryRate    float64
	QueryBurst   int
	MaxBatchSize int           // Max events per ingest request
	QueryTimeout time.Duration // Timeout for storage-backed API calls
	Verbose      bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.IngestRate == 0 {
		c.IngestRate = 50 // 50 requests per second per source
	}
	if c.IngestBurst == 0 {
		c.IngestBurst = 100
	}
	if c.QueryRate == 0 {
		c.QueryRate = 20
	}
	if c.QueryBurst == 0 {
		c.QueryBurst = 40
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 500
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Second
	}
}

// Pipeline bundles the processing components the API fronts: the ingest
// queue that receives events and the filter/publisher pair whose counters
// the stats endpoint reports.
type Pipeline struct {
	Queue     *pipeline.Queue
	Filter    *anomaly.Filter
	Publisher *publisher.Publisher
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	storage       storage.Storage
	archive       storage.EventRepository
	pipe          *Pipeline
	server        *http.Server
	healthHandler *health.Handler
}

// New creates a new API server.
// archive can be nil if the event archive is disabled; the drill-down
// routes are not mounted in that case.
func New(cfg *Config, store storage.Storage, archive storage.EventRepository, pipe *Pipeline) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT secret is required")
	}
	if pipe == nil || pipe.Queue == nil || pipe.Filter == nil || pipe.Publisher == nil {
		return nil, fmt.Errorf("pipeline components are required")
	}

	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		storage:       store,
		archive:       archive,
		pipe:          pipe,
		healthHandler: health.NewHandler(),
	}

	router := s.setupRouter()

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.TLSEnabled {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	return s, nil
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		log.Printf("[api] listening on %s", s.config.Address)
		var err error
		if s.config.TLSEnabled {
			err = s.server.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("[api] shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	if s.healthHandler != nil {
		s.healthHandler.RegisterChecker(c)
	}
}
