package out

import (
	"context"
	"errors"
	"time"

	"mailmirror/core/domain"
)

// ErrLeaseLost means the in-progress flag is no longer held under the given
// lease: the run was taken over or already finished.
var ErrLeaseLost = errors.New("sync lease lost")

// SyncStatusRepository persists the per-account sync record.
//
// A run holds the in-progress flag under a lease id. Writes that end or
// advance a run only apply while the stored lease matches.
type SyncStatusRepository interface {
	// Get returns the record or ErrNotFound when the account never synced.
	Get(ctx context.Context, accountID string) (*domain.SyncStatus, error)

	// Claim atomically sets the in-progress flag under leaseID when it is
	// clear, or when the holder's lease started before now-leaseTimeout. It
	// clears last error. Returns false when another run holds the flag.
	Claim(ctx context.Context, accountID, leaseID string, leaseTimeout time.Duration) (bool, error)

	// Adopt swaps the lease from ticket to leaseID while the flag is set.
	// A ticket can be adopted once; false means it was already used or the
	// claim is gone.
	Adopt(ctx context.Context, accountID, ticket, leaseID string) (bool, error)

	// Checkpoint records the running total of the current run.
	Checkpoint(ctx context.Context, accountID, leaseID string, total int) error

	// Complete clears the flag and stamps last sync time and total.
	Complete(ctx context.Context, accountID, leaseID string, total int, at time.Time) error

	// Fail clears the flag and records the error message.
	Fail(ctx context.Context, accountID, leaseID, message string) error

	// RecordError sets last error without touching the flag, creating the
	// record when missing.
	RecordError(ctx context.Context, accountID string, message string) error

	// TouchLastSync sets last sync time only, creating the record when missing.
	TouchLastSync(ctx context.Context, accountID string, at time.Time) error
}
