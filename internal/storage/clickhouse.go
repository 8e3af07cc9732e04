package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	// Addresses are the ClickHouse server addresses (host:port).
	Addresses []string

	// Database is the ClickHouse database name.
	Database string

	// Username for authentication.
	Username string

	// Password for authentication.
	Password string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration

	// Compression enables LZ4 compression.
	Compression bool

	// RetentionDays is the TTL in days for archived events.
	RetentionDays int
}

// ClickHouseArchive implements ArchiveStorage for ClickHouse.
type ClickHouseArchive struct {
	config *ClickHouseConfig
	db     *sql.DB
	events *clickhouseEventRepo
}

// NewClickHouseArchive creates a new ClickHouse archive.
func NewClickHouseArchive(config *ClickHouseConfig) *ClickHouseArchive {
	// Apply defaults
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 5
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.RetentionDays == 0 {
		config.RetentionDays = 30
	}

	return &ClickHouseArchive{config: config}
}

// Open initializes the ClickHouse connection.
func (s *ClickHouseArchive) Open() error {
	opts := &clickhouse.Options{
		Addr: s.config.Addresses,
		Auth: clickhouse.Auth{
			Database: s.config.Database,
			Username: s.config.Username,
			Password: s.config.Password,
		},
		DialTimeout:  s.config.DialTimeout,
		MaxOpenConns: s.config.MaxOpenConns,
		MaxIdleConns: s.config.MaxIdleConns,
	}

	if s.config.Compression {
		opts.Compression = &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		}
	}

	db := clickhouse.OpenDB(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), s.config.DialTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	s.db = db
	s.events = &clickhouseEventRepo{db: db}
	return nil
}

// Close closes the database connection.
func (s *ClickHouseArchive) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the events table if it doesn't exist.
func (s *ClickHouseArchive) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Create events table
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS events (
			id UUID DEFAULT generateUUIDv4(),
			observed_at DateTime64(3, 'UTC'),
			decided_at DateTime64(3, 'UTC'),
			signature_key String,
			level LowCardinality(String),
			message String,
			occurrence_count Int64,
			anomalous UInt8 DEFAULT 0,
			reason LowCardinality(String) DEFAULT '',
			sample_context String DEFAULT '',
			_date Date DEFAULT toDate(observed_at)
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(_date)
		ORDER BY (signature_key, observed_at, id)
		TTL _date + INTERVAL %d DAY DELETE
		SETTINGS index_granularity = 8192
	`, s.config.RetentionDays)

	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create events table: %w", err)
	}

	// Add indexes (these are idempotent in ClickHouse)
	indexes := []string{
		"ALTER TABLE events ADD INDEX IF NOT EXISTS idx_message message TYPE tokenbf_v1(32768, 3, 0) GRANULARITY 4",
		"ALTER TABLE events ADD INDEX IF NOT EXISTS idx_level level TYPE set(16) GRANULARITY 4",
	}

	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			// Log warning but don't fail - index creation may not be supported in all ClickHouse versions
			fmt.Printf("warning: failed to create index: %v\n", err)
		}
	}

	return nil
}

// Ping checks the connection health.
func (s *ClickHouseArchive) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Events returns the archived-event repository.
func (s *ClickHouseArchive) Events() EventRepository {
	return s.events
}

// clickhouseEventRepo implements EventRepository for ClickHouse.
type clickhouseEventRepo struct {
	db *sql.DB
}

// InsertBatch inserts multiple event records using batch insert.
func (r *clickhouseEventRepo) InsertBatch(ctx context.Context, records []*EventRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (
			id, observed_at, decided_at, signature_key, level, message,
			occurrence_count, anomalous, reason, sample_context
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		id := rec.ID
		if id == "" {
			id = uuid.New().String()
		}

		_, err := stmt.ExecContext(ctx,
			id,
			rec.ObservedAt,
			rec.DecidedAt,
			rec.SignatureKey,
			rec.Level,
			rec.Message,
			rec.OccurrenceCount,
			boolToInt(rec.Anomalous),
			rec.Reason,
			rec.SampleContext,
		)
		if err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// Query retrieves events matching the filter.
func (r *clickhouseEventRepo) Query(ctx context.Context, filter *EventFilter) (*EventQueryResult, error) {
	query, args := r.buildQuery(filter, false)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var entries []*EventRecord
	for rows.Next() {
		entry := &EventRecord{}
		var anomalous uint8

		err := rows.Scan(
			&entry.ID,
			&entry.ObservedAt,
			&entry.DecidedAt,
			&entry.SignatureKey,
			&entry.Level,
			&entry.Message,
			&entry.OccurrenceCount,
			&anomalous,
			&entry.Reason,
			&entry.SampleContext,
		)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		entry.Anomalous = anomalous != 0
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	// Get total count
	total, err := r.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}

	return &EventQueryResult{
		Entries: entries,
		Total:   total,
		HasMore: int64(filter.Offset+len(entries)) < total,
	}, nil
}

// Count returns the count of events matching the filter.
func (r *clickhouseEventRepo) Count(ctx context.Context, filter *EventFilter) (int64, error) {
	query, args := r.buildQuery(filter, true)

	var count int64
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	return count, nil
}

// TopSignatures returns the busiest signatures since the given time.
func (r *clickhouseEventRepo) TopSignatures(ctx context.Context, since time.Time, limit int) ([]*SignatureVolume, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT signature_key, any(level), any(message),
		       sum(occurrence_count) AS occurrences, count() AS events,
		       max(observed_at)
		FROM events
		WHERE observed_at >= ?
		GROUP BY signature_key
		ORDER BY occurrences DESC
		LIMIT %d
	`, limit), since)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []*SignatureVolume
	for rows.Next() {
		v := &SignatureVolume{}
		if err := rows.Scan(&v.SignatureKey, &v.Level, &v.Message, &v.Occurrences, &v.Events, &v.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	return out, nil
}

// CountByReason returns anomaly counts grouped by decision reason.
func (r *clickhouseEventRepo) CountByReason(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT reason, count()
		FROM events
		WHERE observed_at >= ? AND anomalous = 1
		GROUP BY reason
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var reason string
		var count int64
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out[reason] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	return out, nil
}

// DeleteBefore removes events observed before the specified time.
func (r *clickhouseEventRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	// First get count for return value
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT count() FROM events WHERE observed_at < ?", before).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	// Delete using ALTER TABLE DELETE (async in ClickHouse)
	_, err = r.db.ExecContext(ctx, "ALTER TABLE events DELETE WHERE observed_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}

	return count, nil
}

// buildQuery constructs the SQL query based on filter.
func (r *clickhouseEventRepo) buildQuery(filter *EventFilter, countOnly bool) (string, []interface{}) {
	var sb strings.Builder
	var args []interface{}

	if countOnly {
		sb.WriteString("SELECT count() FROM events")
	} else {
		sb.WriteString(`
			SELECT id, observed_at, decided_at, signature_key, level, message,
			       occurrence_count, anomalous, reason, sample_context
			FROM events
		`)
	}

	// Build WHERE clause
	var conditions []string

	// Time range filter (required for efficient queries)
	if !filter.StartTime.IsZero() {
		conditions = append(conditions, "observed_at >= ?")
		args = append(args, filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		conditions = append(conditions, "observed_at <= ?")
		args = append(args, filter.EndTime)
	}

	// Signature filter
	if filter.SignatureKey != "" {
		conditions = append(conditions, "signature_key = ?")
		args = append(args, filter.SignatureKey)
	}

	// Level filter
	if filter.Level != "" {
		conditions = append(conditions, "level = ?")
		args = append(args, filter.Level)
	}

	// Anomaly filter
	if filter.AnomalousOnly {
		conditions = append(conditions, "anomalous = 1")
	}

	// Append WHERE clause
	if len(conditions) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conditions, " AND "))
	}

	// Skip ORDER BY and LIMIT for count queries
	if countOnly {
		return sb.String(), args
	}

	sb.WriteString(" ORDER BY observed_at DESC")

	// LIMIT and OFFSET
	limit := filter.Limit
	if limit == 0 {
		limit = 100 // Default limit
	}
	sb.WriteString(fmt.Sprintf(" LIMIT %d", limit))
	if filter.Offset > 0 {
		sb.WriteString(fmt.Sprintf(" OFFSET %d", filter.Offset))
	}

	return sb.String(), args
}
