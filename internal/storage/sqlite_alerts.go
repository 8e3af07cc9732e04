package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/emberwatch/emberwatch/internal/models"
)

type sqliteAlertRepo struct {
	db *sql.DB
}

// Claim inserts the alert's (signature, observed_at) pair into the ledger.
// It returns false when the pair is already present, meaning this decision
// was already published within the dedup window.
func (r *sqliteAlertRepo) Claim(ctx context.Context, alert *models.PublishedAlert) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO published_alerts (signature_key, observed_at, level, message,
			occurrence_count, reason, decided_at, published_at, delivered,
			attempts, last_error, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, '', ?)
		ON CONFLICT (signature_key, observed_at) DO NOTHING
	`, alert.SignatureKey, alert.ObservedAt.UTC(), string(alert.Signature.Level),
		alert.Signature.Message, alert.OccurrenceCount, string(alert.Reason),
		alert.DecidedAt.UTC(), alert.PublishedAt.UTC(), alert.ExpiresAt.UTC())
	if err != nil {
		return false, fmt.Errorf("%w: claim alert: %v", models.ErrStoreUnavailable, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: claim alert: %v", models.ErrStoreUnavailable, err)
	}
	return affected > 0, nil
}

func (r *sqliteAlertRepo) MarkDelivered(ctx context.Context, signatureKey string, observedAt time.Time, deliveredAt time.Time, attempts int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE published_alerts
		SET delivered = 1, delivered_at = ?, attempts = ?, last_error = ''
		WHERE signature_key = ? AND observed_at = ?
	`, deliveredAt.UTC(), attempts, signatureKey, observedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: mark alert delivered: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *sqliteAlertRepo) MarkFailed(ctx context.Context, signatureKey string, observedAt time.Time, attempts int, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE published_alerts
		SET attempts = ?, last_error = ?
		WHERE signature_key = ? AND observed_at = ?
	`, attempts, lastError, signatureKey, observedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: mark alert failed: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *sqliteAlertRepo) List(ctx context.Context, opts AlertListOptions) ([]*models.PublishedAlert, int64, error) {
	where := ""
	if opts.UndeliveredOnly {
		where = "WHERE delivered = 0"
	}

	var total int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM published_alerts "+where).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: count published alerts: %v", models.ErrStoreUnavailable, err)
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	query := fmt.Sprintf(`
		SELECT signature_key, observed_at, level, message, occurrence_count,
			reason, decided_at, published_at, delivered, delivered_at,
			attempts, last_error, expires_at
		FROM published_alerts %s ORDER BY published_at DESC LIMIT ? OFFSET ?
	`, where)

	rows, err := r.db.QueryContext(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: query published alerts: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	alerts, err := r.scanAlerts(rows)
	if err != nil {
		return nil, 0, err
	}
	return alerts, total, rows.Err()
}

func (r *sqliteAlertRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM published_alerts WHERE expires_at < ?", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: purge published alerts: %v", models.ErrStoreUnavailable, err)
	}
	return res.RowsAffected()
}

func (r *sqliteAlertRepo) scanAlerts(rows *sql.Rows) ([]*models.PublishedAlert, error) {
	var alerts []*models.PublishedAlert
	for rows.Next() {
		a := &models.PublishedAlert{}
		var level, reason string
		var delivered int
		var deliveredAt sql.NullTime

		err := rows.Scan(&a.SignatureKey, &a.ObservedAt, &level, &a.Signature.Message,
			&a.OccurrenceCount, &reason, &a.DecidedAt, &a.PublishedAt,
			&delivered, &deliveredAt, &a.Attempts, &a.LastError, &a.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("%w: scan published alert: %v", models.ErrStoreUnavailable, err)
		}

		a.Signature.Level = models.Level(level)
		a.Reason = models.DecisionReason(reason)
		a.Delivered = delivered != 0
		if deliveredAt.Valid {
			t := deliveredAt.Time.UTC()
			a.DeliveredAt = &t
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}
