// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"time"

	"github.com/emberwatch/emberwatch/internal/models"
)

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	Signatures() SignatureRepository
	Alerts() AlertRepository
}

// EventClaim marks one (signature, observed_at, occurrence_count) delivery as
// processed. The claim is written in the same transaction as the history
// merge, so a redelivered event is either fully applied once or swallowed
// whole; a claim never outlives a merge that lost its version race.
type EventClaim struct {
	SignatureKey    string
	ObservedAt      time.Time
	OccurrenceCount int64
	Reason          models.DecisionReason
	Anomalous       bool
	ExpiresAt       time.Time
}

// ListOptions pages signature listings.
type ListOptions struct {
	Limit  int
	Offset int
	// Level filters to one severity when non-empty.
	Level string
}

// AlertListOptions pages published-alert listings.
type AlertListOptions struct {
	Limit  int
	Offset int
	// UndeliveredOnly restricts the listing to alerts that exhausted their
	// send retries.
	UndeliveredOnly bool
}

// SignatureRepository defines operations on per-signature history records.
//
// ApplyMerge is the conditional write beneath the filter's
// read-classify-merge cycle. expectedVersion zero means "create": the write
// fails with ErrStoreConflict if the record appeared concurrently. A
// non-zero expectedVersion updates only while the stored version still
// matches, so concurrent merges for the same signature can never lose
// counts. Merges for different signatures touch different rows and never
// contend logically.
type SignatureRepository interface {
	Get(ctx context.Context, sig models.Signature) (*models.HistoryRecord, error)
	ApplyMerge(ctx context.Context, rec *models.HistoryRecord, expectedVersion int64, claim EventClaim) error
	QueryOccurrences(ctx context.Context, sig models.Signature, lookbackHours int) (int64, error)
	QueryOccurrencesAt(ctx context.Context, sig models.Signature, lookbackHours int, now time.Time) (int64, error)
	List(ctx context.Context, opts ListOptions) ([]*models.HistoryRecord, int64, error)
	Count(ctx context.Context) (int64, error)
	PurgeExpiredClaims(ctx context.Context, now time.Time) (int64, error)
}

// AlertRepository defines operations on the published-alert ledger, the
// dedup set behind exactly-once publishing. Claim inserts the
// (signature, observed_at) pair and reports whether this caller won it; a
// losing claim means the decision was already published within the window.
type AlertRepository interface {
	Claim(ctx context.Context, alert *models.PublishedAlert) (bool, error)
	MarkDelivered(ctx context.Context, signatureKey string, observedAt time.Time, deliveredAt time.Time, attempts int) error
	MarkFailed(ctx context.Context, signatureKey string, observedAt time.Time, attempts int, lastError string) error
	List(ctx context.Context, opts AlertListOptions) ([]*models.PublishedAlert, int64, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
