package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mailmirror/core/domain"
	"mailmirror/core/port/out"

	"github.com/jmoiron/sqlx"
)

// =============================================================================
// SyncStatusAdapter
// =============================================================================

type SyncStatusAdapter struct {
	db *sqlx.DB
}

var _ out.SyncStatusRepository = (*SyncStatusAdapter)(nil)

func NewSyncStatusAdapter(db *sqlx.DB) *SyncStatusAdapter {
	return &SyncStatusAdapter{db: db}
}

const syncStatusColumns = `user_id, sync_in_progress, sync_started_at, sync_lease_id, last_sync_at, last_sync_error, total_emails_synced, updated_at`

func (a *SyncStatusAdapter) Get(ctx context.Context, accountID string) (*domain.SyncStatus, error) {
	var st domain.SyncStatus
	query := `SELECT ` + syncStatusColumns + ` FROM email_sync_status WHERE user_id = $1`
	if err := a.db.GetContext(ctx, &st, query, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

// Claim is a single compare-and-set statement. A held flag whose lease is
// older than leaseTimeout is taken over.
func (a *SyncStatusAdapter) Claim(ctx context.Context, accountID, leaseID string, leaseTimeout time.Duration) (bool, error) {
	query := `
		INSERT INTO email_sync_status (user_id, sync_in_progress, sync_started_at, sync_lease_id, last_sync_error, total_emails_synced, updated_at)
		VALUES ($1, true, now(), $2, NULL, 0, now())
		ON CONFLICT (user_id) DO UPDATE SET
			sync_in_progress = true,
			sync_started_at  = now(),
			sync_lease_id    = EXCLUDED.sync_lease_id,
			last_sync_error  = NULL,
			updated_at       = now()
		WHERE email_sync_status.sync_in_progress = false
		   OR email_sync_status.sync_started_at IS NULL
		   OR email_sync_status.sync_started_at < now() - ($3 * interval '1 second')
		RETURNING user_id`

	return a.returnsRow(ctx, query, accountID, leaseID, leaseTimeout.Seconds())
}

func (a *SyncStatusAdapter) Adopt(ctx context.Context, accountID, ticket, leaseID string) (bool, error) {
	query := `
		UPDATE email_sync_status
		SET sync_lease_id = $1, updated_at = now()
		WHERE user_id = $2 AND sync_in_progress = true AND sync_lease_id = $3
		RETURNING user_id`

	return a.returnsRow(ctx, query, leaseID, accountID, ticket)
}

func (a *SyncStatusAdapter) Checkpoint(ctx context.Context, accountID, leaseID string, total int) error {
	query := `
		UPDATE email_sync_status
		SET total_emails_synced = $1, updated_at = now()
		WHERE user_id = $2 AND sync_lease_id = $3`
	return a.execFenced(ctx, query, total, accountID, leaseID)
}

func (a *SyncStatusAdapter) Complete(ctx context.Context, accountID, leaseID string, total int, at time.Time) error {
	query := `
		UPDATE email_sync_status
		SET sync_in_progress = false, sync_lease_id = NULL, last_sync_at = $1, total_emails_synced = $2,
		    last_sync_error = NULL, updated_at = now()
		WHERE user_id = $3 AND sync_lease_id = $4`
	return a.execFenced(ctx, query, at, total, accountID, leaseID)
}

func (a *SyncStatusAdapter) Fail(ctx context.Context, accountID, leaseID, message string) error {
	query := `
		UPDATE email_sync_status
		SET sync_in_progress = false, sync_lease_id = NULL, last_sync_error = $1, updated_at = now()
		WHERE user_id = $2 AND sync_lease_id = $3`
	return a.execFenced(ctx, query, message, accountID, leaseID)
}

func (a *SyncStatusAdapter) returnsRow(ctx context.Context, query string, args ...any) (bool, error) {
	var userID string
	err := a.db.QueryRowxContext(ctx, query, args...).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// execFenced runs a lease-guarded update; no matching row is ErrLeaseLost.
func (a *SyncStatusAdapter) execFenced(ctx context.Context, query string, args ...any) error {
	res, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return out.ErrLeaseLost
	}
	return nil
}

func (a *SyncStatusAdapter) RecordError(ctx context.Context, accountID string, message string) error {
	query := `
		INSERT INTO email_sync_status (user_id, sync_in_progress, last_sync_error, total_emails_synced, updated_at)
		VALUES ($1, false, $2, 0, now())
		ON CONFLICT (user_id) DO UPDATE SET
			last_sync_error = EXCLUDED.last_sync_error,
			updated_at      = now()`
	_, err := a.db.ExecContext(ctx, query, accountID, message)
	return err
}

func (a *SyncStatusAdapter) TouchLastSync(ctx context.Context, accountID string, at time.Time) error {
	query := `
		INSERT INTO email_sync_status (user_id, sync_in_progress, last_sync_at, total_emails_synced, updated_at)
		VALUES ($1, false, $2, 0, now())
		ON CONFLICT (user_id) DO UPDATE SET
			last_sync_at = EXCLUDED.last_sync_at,
			updated_at   = now()`
	_, err := a.db.ExecContext(ctx, query, accountID, at)
	return err
}
