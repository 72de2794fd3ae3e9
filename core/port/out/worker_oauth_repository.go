package out

import (
	"context"
	"time"

	"mailmirror/core/domain"
)

// CredentialRepository defines the outbound port for OAuth credential persistence.
// Token values are ciphertext; encryption happens before they reach the port.
type CredentialRepository interface {
	// Get returns the credential of an account or ErrNotFound.
	Get(ctx context.Context, accountID string) (*domain.OAuthCredential, error)

	// Upsert creates or replaces the credential keyed by account id.
	Upsert(ctx context.Context, cred *domain.OAuthCredential) error

	// UpdateAccessToken stores a freshly minted access token and its expiry.
	UpdateAccessToken(ctx context.Context, accountID, encryptedAccessToken string, expiry time.Time) error

	// Exists reports whether the account has a credential, without reading tokens.
	Exists(ctx context.Context, accountID string) (bool, error)

	// ListAccountIDs returns every account with a stored credential.
	ListAccountIDs(ctx context.Context) ([]string, error)
}
