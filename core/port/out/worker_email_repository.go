package out

import (
	"context"

	"mailmirror/core/domain"
)

// EmailRepository defines the outbound port for normalized message storage.
type EmailRepository interface {
	// Upsert inserts or overwrites the message keyed by (account, message id).
	Upsert(ctx context.Context, email *domain.Email) error

	// Get returns one message or ErrNotFound.
	Get(ctx context.Context, accountID, messageID string) (*domain.Email, error)

	// List returns a page ordered by date descending with the total match count.
	List(ctx context.Context, filter *domain.EmailFilter) (*domain.EmailPage, error)

	// MarkRead sets is_read and returns the updated record, or ErrNotFound.
	MarkRead(ctx context.Context, accountID, messageID string) (*domain.Email, error)
}
