package in

import (
	"context"

	"mailmirror/core/domain"
)

// SyncService is the sync entry point used by the request layer, the
// scheduler and the job workers.
type SyncService interface {
	// StartSync claims the account and hands a full sync to the workers.
	StartSync(ctx context.Context, accountID string) (*StartSyncResult, error)

	// GetSyncStatus returns the status projection.
	GetSyncStatus(ctx context.Context, accountID string) (domain.SyncStatusView, error)

	// FullSync claims the account and runs a full sync in the caller's goroutine.
	FullSync(ctx context.Context, accountID string) (*domain.SyncResult, error)

	// RunClaimedFullSync runs a full sync whose claim was taken under leaseID.
	RunClaimedFullSync(ctx context.Context, accountID, leaseID string) (*domain.SyncResult, error)

	// IncrementalSync runs the time-windowed catch-up.
	IncrementalSync(ctx context.Context, accountID string) (*domain.SyncResult, error)
}

// StartSyncResult tells the caller whether a new run was launched.
type StartSyncResult struct {
	Started    bool   `json:"started"`
	InProgress bool   `json:"inProgress"`
	JobID      string `json:"jobId,omitempty"`
}

// MailService is the read-side facade over the mirrored mailbox.
type MailService interface {
	ListEmails(ctx context.Context, filter *domain.EmailFilter) (*domain.EmailPage, error)
	GetEmail(ctx context.Context, accountID, messageID string) (*domain.Email, error)
	MarkAsRead(ctx context.Context, accountID, messageID string) (*domain.Email, error)
	GetAttachment(ctx context.Context, accountID, messageID, attachmentID string) (*Attachment, error)
}

// Attachment is the live attachment payload.
type Attachment struct {
	Data     []byte
	MimeType string
	Filename string
}
