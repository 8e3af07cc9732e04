package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/emberwatch/emberwatch/internal/metrics"
	"github.com/emberwatch/emberwatch/internal/models"
)

type sqliteSignatureRepo struct {
	db *sql.DB
}

func (r *sqliteSignatureRepo) Get(ctx context.Context, sig models.Signature) (*models.HistoryRecord, error) {
	query := `
		SELECT level, message, total_occurrences, buckets_json, baseline_rate,
			last_alert_at, first_seen_at, updated_at, version
		FROM signatures WHERE key = ?
	`
	row := r.db.QueryRowContext(ctx, query, sig.Key())

	rec, err := scanSignatureRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: signature %q", models.ErrNotFound, sig.String())
		}
		return nil, fmt.Errorf("%w: get signature: %v", models.ErrStoreUnavailable, err)
	}
	return rec, nil
}

// ApplyMerge writes a merged record conditionally on the version the caller
// read, claiming the triggering event in the same transaction. The claim
// insert hits the event_claims primary key on redelivery and reports
// ErrDuplicateEvent before any counts move; a version mismatch rolls the
// claim back with the rest of the transaction, so the loser of a race can
// safely retry the whole cycle.
func (r *sqliteSignatureRepo) ApplyMerge(ctx context.Context, rec *models.HistoryRecord, expectedVersion int64, claim EventClaim) error {
	bucketsJSON, err := json.Marshal(rec.Buckets)
	if err != nil {
		return fmt.Errorf("marshal buckets: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin merge: %v", models.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO event_claims (signature_key, observed_at, occurrence_count,
			reason, anomalous, claimed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (signature_key, observed_at, occurrence_count) DO NOTHING
	`, claim.SignatureKey, claim.ObservedAt.UTC(), claim.OccurrenceCount,
		string(claim.Reason), boolToInt(claim.Anomalous), rec.UpdatedAt.UTC(), claim.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: claim event: %v", models.ErrStoreUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: claim event: %v", models.ErrStoreUnavailable, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: signature %q observed at %s count %d",
			models.ErrDuplicateEvent, rec.Signature.String(),
			claim.ObservedAt.UTC().Format(time.RFC3339), claim.OccurrenceCount)
	}

	if expectedVersion == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO signatures (key, level, message, total_occurrences,
				buckets_json, baseline_rate, last_alert_at, first_seen_at,
				updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (key) DO NOTHING
		`, rec.Signature.Key(), string(rec.Signature.Level), rec.Signature.Message,
			rec.TotalOccurrences, string(bucketsJSON), rec.BaselineRate,
			nullTime(rec.LastAlertAt), rec.FirstSeenAt.UTC(), rec.UpdatedAt.UTC(), rec.Version)
		if err != nil {
			return fmt.Errorf("%w: insert signature: %v", models.ErrStoreUnavailable, err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: insert signature: %v", models.ErrStoreUnavailable, err)
		}
		if affected == 0 {
			metrics.StoreConflictsTotal.Inc()
			return fmt.Errorf("%w: signature %q created concurrently",
				models.ErrStoreConflict, rec.Signature.String())
		}
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE signatures
			SET total_occurrences = ?, buckets_json = ?, baseline_rate = ?,
				last_alert_at = ?, updated_at = ?, version = ?
			WHERE key = ? AND version = ?
		`, rec.TotalOccurrences, string(bucketsJSON), rec.BaselineRate,
			nullTime(rec.LastAlertAt), rec.UpdatedAt.UTC(), rec.Version,
			rec.Signature.Key(), expectedVersion)
		if err != nil {
			return fmt.Errorf("%w: update signature: %v", models.ErrStoreUnavailable, err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: update signature: %v", models.ErrStoreUnavailable, err)
		}
		if affected == 0 {
			metrics.StoreConflictsTotal.Inc()
			return fmt.Errorf("%w: signature %q version %d superseded",
				models.ErrStoreConflict, rec.Signature.String(), expectedVersion)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit merge: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *sqliteSignatureRepo) QueryOccurrences(ctx context.Context, sig models.Signature, lookbackHours int) (int64, error) {
	return r.QueryOccurrencesAt(ctx, sig, lookbackHours, time.Now().UTC())
}

// QueryOccurrencesAt sums the bucket counts that fall within the lookback
// window ending at now. An unknown signature is zero occurrences, not an
// error. The read sees whole records only; a merge in flight is either
// fully visible or not at all.
func (r *sqliteSignatureRepo) QueryOccurrencesAt(ctx context.Context, sig models.Signature, lookbackHours int, now time.Time) (int64, error) {
	rec, err := r.Get(ctx, sig)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	from := now.UTC().Add(-time.Duration(lookbackHours) * time.Hour)
	return rec.OccurrencesBetween(from, now.UTC()), nil
}

func (r *sqliteSignatureRepo) List(ctx context.Context, opts ListOptions) ([]*models.HistoryRecord, int64, error) {
	where := ""
	args := []any{}
	if opts.Level != "" {
		where = "WHERE level = ?"
		args = append(args, opts.Level)
	}

	var total int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM signatures "+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: count signatures: %v", models.ErrStoreUnavailable, err)
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	query := fmt.Sprintf(`
		SELECT level, message, total_occurrences, buckets_json, baseline_rate,
			last_alert_at, first_seen_at, updated_at, version
		FROM signatures %s ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`, where)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: query signatures: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var records []*models.HistoryRecord
	for rows.Next() {
		rec, err := scanSignatureRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: scan signature: %v", models.ErrStoreUnavailable, err)
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

func (r *sqliteSignatureRepo) Count(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM signatures").Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("%w: count signatures: %v", models.ErrStoreUnavailable, err)
	}
	return total, nil
}

func (r *sqliteSignatureRepo) PurgeExpiredClaims(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM event_claims WHERE expires_at < ?", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: purge event claims: %v", models.ErrStoreUnavailable, err)
	}
	return res.RowsAffected()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSignatureRow(s scanner) (*models.HistoryRecord, error) {
	rec := &models.HistoryRecord{}
	var level, bucketsJSON string
	var lastAlertAt sql.NullTime

	err := s.Scan(&level, &rec.Signature.Message, &rec.TotalOccurrences,
		&bucketsJSON, &rec.BaselineRate, &lastAlertAt,
		&rec.FirstSeenAt, &rec.UpdatedAt, &rec.Version)
	if err != nil {
		return nil, err
	}

	rec.Signature.Level = models.Level(level)
	if lastAlertAt.Valid {
		t := lastAlertAt.Time.UTC()
		rec.LastAlertAt = &t
	}
	if err := json.Unmarshal([]byte(bucketsJSON), &rec.Buckets); err != nil {
		return nil, fmt.Errorf("unmarshal buckets: %w", err)
	}
	return rec, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
