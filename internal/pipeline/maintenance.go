package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/emberwatch/emberwatch/internal/storage"
)

// MaintenanceConfig holds maintenance job tuning.
type MaintenanceConfig struct {
	// Interval is how often the sweep runs.
	Interval time.Duration

	// ArchiveRetention prunes archived events older than this on each sweep.
	// Zero leaves pruning to the archive engine's own TTL.
	ArchiveRetention time.Duration
}

// DefaultMaintenanceConfig returns the default maintenance tuning.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		Interval: 10 * time.Minute,
	}
}

// Maintenance periodically prunes expired event claims and published-alert
// rows so the dedup tables stay bounded. Claims and ledger rows carry their
// own expiry; the sweep only removes what has already lapsed, so a missed
// tick costs disk, not correctness.
type Maintenance struct {
	signatures storage.SignatureRepository
	alerts     storage.AlertRepository
	archive    storage.EventRepository
	config     MaintenanceConfig

	mu      sync.Mutex
	started bool
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMaintenance creates the maintenance job. The archive repository may be
// nil when archiving is disabled.
func NewMaintenance(signatures storage.SignatureRepository, alerts storage.AlertRepository, archive storage.EventRepository, config MaintenanceConfig) *Maintenance {
	if config.Interval <= 0 {
		config.Interval = DefaultMaintenanceConfig().Interval
	}

	return &Maintenance{
		signatures: signatures,
		alerts:     alerts,
		archive:    archive,
		config:     config,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Calling Start twice is a no-op.
func (m *Maintenance) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started || m.closed {
		return
	}
	m.started = true
	go m.run()
}

func (m *Maintenance) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep(context.Background())
		}
	}
}

// sweep runs one maintenance pass.
func (m *Maintenance) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	now := time.Now().UTC()

	if n, err := m.signatures.PurgeExpiredClaims(ctx, now); err != nil {
		log.Printf("[maintenance] purge event claims: %v", err)
	} else if n > 0 {
		log.Printf("[maintenance] purged %d expired event claims", n)
	}

	if n, err := m.alerts.PurgeExpired(ctx, now); err != nil {
		log.Printf("[maintenance] purge published alerts: %v", err)
	} else if n > 0 {
		log.Printf("[maintenance] purged %d expired published alerts", n)
	}

	if m.archive != nil && m.config.ArchiveRetention > 0 {
		cutoff := now.Add(-m.config.ArchiveRetention)
		if n, err := m.archive.DeleteBefore(ctx, cutoff); err != nil {
			log.Printf("[maintenance] prune archive: %v", err)
		} else if n > 0 {
			log.Printf("[maintenance] pruned %d archived events", n)
		}
	}
}

// Close stops the sweep loop and waits for an in-flight sweep to finish.
func (m *Maintenance) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	started := m.started
	m.mu.Unlock()

	close(m.stopCh)
	if started {
		<-m.doneCh
	}
}
