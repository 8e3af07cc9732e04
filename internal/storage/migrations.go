package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- One history record per error signature. The bucket window is
			-- stored as a JSON column so the whole record updates in one row
			-- write; version backs the conditional-write discipline.
			CREATE TABLE IF NOT EXISTS signatures (
				key TEXT PRIMARY KEY,
				level TEXT NOT NULL,
				message TEXT NOT NULL,
				total_occurrences INTEGER NOT NULL DEFAULT 0,
				buckets_json TEXT NOT NULL DEFAULT '[]',
				baseline_rate REAL NOT NULL DEFAULT 0,
				last_alert_at DATETIME,
				first_seen_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				version INTEGER NOT NULL DEFAULT 1
			);

			-- Processed-event claims: the idempotence gate for redelivered
			-- events. Written in the same transaction as the merge.
			CREATE TABLE IF NOT EXISTS event_claims (
				signature_key TEXT NOT NULL,
				observed_at DATETIME NOT NULL,
				occurrence_count INTEGER NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				anomalous INTEGER NOT NULL DEFAULT 0,
				claimed_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				PRIMARY KEY (signature_key, observed_at, occurrence_count)
			);

			-- Published-alert ledger: the exactly-once gate for downstream
			-- hand-off, plus delivery bookkeeping for observability.
			CREATE TABLE IF NOT EXISTS published_alerts (
				signature_key TEXT NOT NULL,
				observed_at DATETIME NOT NULL,
				level TEXT NOT NULL,
				message TEXT NOT NULL,
				occurrence_count INTEGER NOT NULL,
				reason TEXT NOT NULL,
				decided_at DATETIME NOT NULL,
				published_at DATETIME NOT NULL,
				delivered INTEGER NOT NULL DEFAULT 0,
				delivered_at DATETIME,
				attempts INTEGER NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT '',
				expires_at DATETIME NOT NULL,
				PRIMARY KEY (signature_key, observed_at)
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_signatures_level ON signatures(level);
			CREATE INDEX IF NOT EXISTS idx_signatures_updated ON signatures(updated_at);
			CREATE INDEX IF NOT EXISTS idx_event_claims_expires ON event_claims(expires_at);
			CREATE INDEX IF NOT EXISTS idx_published_alerts_published ON published_alerts(published_at);
			CREATE INDEX IF NOT EXISTS idx_published_alerts_expires ON published_alerts(expires_at);
			CREATE INDEX IF NOT EXISTS idx_published_alerts_delivered ON published_alerts(delivered);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	// Apply pending migrations
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		// Run migration in transaction
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		_, err = tx.Exec(m.Up)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now().UTC(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
