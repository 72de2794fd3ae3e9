package domain

import "time"

// =============================================================================
// Sync Status
// =============================================================================

// SyncKind distinguishes a bulk per-label sweep from the timed catch-up.
type SyncKind string

const (
	SyncKindFull        SyncKind = "full"
	SyncKindIncremental SyncKind = "incremental"
)

// Provider label ids swept by a full sync, in order.
const (
	LabelInbox   = "INBOX"
	LabelSent    = "SENT"
	LabelDraft   = "DRAFT"
	LabelTrash   = "TRASH"
	LabelSpam    = "SPAM"
	LabelStarred = "STARRED"
	LabelUnread  = "UNREAD"
)

// FullSyncLabels is the fixed label order of a full sync.
var FullSyncLabels = []string{LabelInbox, LabelSent, LabelDraft, LabelTrash, LabelSpam, LabelStarred}

// SyncStatus is the per-account sync record.
type SyncStatus struct {
	AccountID   string     `json:"account_id" db:"user_id"`
	InProgress  bool       `json:"sync_in_progress" db:"sync_in_progress"`
	StartedAt   *time.Time `json:"sync_started_at,omitempty" db:"sync_started_at"`
	LeaseID     *string    `json:"-" db:"sync_lease_id"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty" db:"last_sync_at"`
	LastError   *string    `json:"last_sync_error,omitempty" db:"last_sync_error"`
	TotalSynced int        `json:"total_emails_synced" db:"total_emails_synced"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// HasSynced reports whether a full or incremental run ever completed.
func (s *SyncStatus) HasSynced() bool {
	return s != nil && s.LastSyncAt != nil
}

// SyncStatusView is the projection returned to status-polling callers.
type SyncStatusView struct {
	HasSynced   bool       `json:"hasSynced"`
	InProgress  bool       `json:"inProgress"`
	LastSyncAt  *time.Time `json:"lastSyncAt"`
	TotalEmails int        `json:"totalEmails"`
	LastError   *string    `json:"lastError"`
}

// View projects the record; a nil status means the account never synced.
func (s *SyncStatus) View() SyncStatusView {
	if s == nil {
		return SyncStatusView{}
	}
	return SyncStatusView{
		HasSynced:   s.LastSyncAt != nil,
		InProgress:  s.InProgress,
		LastSyncAt:  s.LastSyncAt,
		TotalEmails: s.TotalSynced,
		LastError:   s.LastError,
	}
}

// SyncResult summarises one finished run.
type SyncResult struct {
	Kind      SyncKind       `json:"kind"`
	Total     int            `json:"total"`
	PerLabel  map[string]int `json:"per_label,omitempty"`
	Escalated bool           `json:"escalated,omitempty"`
	Duration  time.Duration  `json:"duration"`
}
