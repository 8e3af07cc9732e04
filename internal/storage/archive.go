package storage

import (
	"context"
	"time"
)

// ArchiveStorage defines operations for the processed-event archive.
// This is separate from the main Storage interface as archived events have
// different access patterns (high-volume appends, time-series queries).
type ArchiveStorage interface {
	// Open initializes the archive connection.
	Open() error
	// Close closes the archive connection.
	Close() error
	// Migrate creates or updates the archive schema.
	Migrate() error
	// Ping checks the connection health.
	Ping(ctx context.Context) error

	// Events returns the archived-event repository.
	Events() EventRepository
}

// EventRepository defines archived-event operations.
type EventRepository interface {
	// InsertBatch inserts multiple event records in a single batch.
	InsertBatch(ctx context.Context, records []*EventRecord) error

	// Query retrieves events matching the given filters.
	Query(ctx context.Context, filter *EventFilter) (*EventQueryResult, error)

	// Count returns the count of events matching the filter.
	Count(ctx context.Context, filter *EventFilter) (int64, error)

	// TopSignatures returns the signatures with the most occurrences since
	// the given time, ordered by occurrence count descending.
	TopSignatures(ctx context.Context, since time.Time, limit int) ([]*SignatureVolume, error)

	// CountByReason returns anomaly counts grouped by decision reason since
	// the given time. Non-anomalous events are excluded.
	CountByReason(ctx context.Context, since time.Time) (map[string]int64, error)

	// DeleteBefore removes events observed before the specified time.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// EventRecord represents a processed cluster event for archival.
type EventRecord struct {
	// ID is the unique identifier for the event.
	ID string

	// SignatureKey is the hex digest of the event's signature.
	SignatureKey string

	// Level is the severity level of the signature.
	Level string

	// Message is the verbatim log message of the signature.
	Message string

	// OccurrenceCount is how many raw occurrences this event aggregated.
	OccurrenceCount int64

	// ObservedAt is when the occurrences were observed.
	ObservedAt time.Time

	// DecidedAt is when the anomaly decision was made.
	DecidedAt time.Time

	// Anomalous records whether the decision judged the event anomalous,
	// including decisions a mute rule then suppressed.
	Anomalous bool

	// Reason is the decision reason when Anomalous is true.
	Reason string

	// SampleContext is a representative raw excerpt, if any.
	SampleContext string
}

// EventFilter defines query parameters for archived-event retrieval.
type EventFilter struct {
	// Time range (required for efficient queries).
	StartTime time.Time
	EndTime   time.Time

	// Optional filters.
	SignatureKey  string
	Level         string
	AnomalousOnly bool

	// Pagination.
	Limit  int
	Offset int
}

// EventQueryResult contains query results with pagination info.
type EventQueryResult struct {
	// Entries contains the matching event records.
	Entries []*EventRecord

	// Total is the total number of matching records (for pagination).
	Total int64

	// HasMore indicates if there are more results available.
	HasMore bool
}

// SignatureVolume is an aggregate row for the busiest signatures.
type SignatureVolume struct {
	SignatureKey string
	Level        string
	Message      string
	Occurrences  int64
	Events       int64
	LastSeenAt   time.Time
}
