package out

import (
	"context"
	"time"

	"mailmirror/core/domain"
)

// SyncJob asks a worker to run a sync for one account.
type SyncJob struct {
	JobID     string          `json:"job_id"`
	AccountID string          `json:"account_id"`
	Kind      domain.SyncKind `json:"kind"`
	// LeaseID is set when the requester already holds the in-progress flag.
	// The first worker to run the job adopts it; redeliveries are skipped.
	LeaseID     string    `json:"lease_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// SyncJobPublisher hands sync jobs to the background workers.
type SyncJobPublisher interface {
	PublishSync(ctx context.Context, job *SyncJob) error
}
