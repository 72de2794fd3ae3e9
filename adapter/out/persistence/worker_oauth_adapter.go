// Package persistence provides database adapters.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mailmirror/core/domain"
	"mailmirror/core/port/out"
	"mailmirror/pkg/crypto"

	"github.com/jmoiron/sqlx"
)

// CredentialAdapter implements out.CredentialRepository using PostgreSQL.
// Token columns hold ciphertext; this adapter never sees plaintext.
type CredentialAdapter struct {
	db *sqlx.DB
}

var _ out.CredentialRepository = (*CredentialAdapter)(nil)

// NewCredentialAdapter creates a new CredentialAdapter.
func NewCredentialAdapter(db *sqlx.DB) *CredentialAdapter {
	return &CredentialAdapter{db: db}
}

// Get returns the credential of an account.
func (a *CredentialAdapter) Get(ctx context.Context, accountID string) (*domain.OAuthCredential, error) {
	var cred domain.OAuthCredential
	query := `
		SELECT user_id, refresh_token, access_token, token_expiry, updated_at
		FROM oauth_tokens
		WHERE user_id = $1`

	if err := a.db.GetContext(ctx, &cred, query, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cred, nil
}

// Upsert creates or replaces the credential.
func (a *CredentialAdapter) Upsert(ctx context.Context, cred *domain.OAuthCredential) error {
	if cred.AccountID == "" || cred.EncryptedRefreshToken == "" {
		return ErrInvalidInput
	}
	if !crypto.IsEncrypted(cred.EncryptedRefreshToken) ||
		(cred.EncryptedAccessToken != nil && *cred.EncryptedAccessToken != "" && !crypto.IsEncrypted(*cred.EncryptedAccessToken)) {
		return ErrPlaintextToken
	}
	updatedAt := cred.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := `
		INSERT INTO oauth_tokens (user_id, refresh_token, access_token, token_expiry, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			refresh_token = EXCLUDED.refresh_token,
			access_token  = EXCLUDED.access_token,
			token_expiry  = EXCLUDED.token_expiry,
			updated_at    = EXCLUDED.updated_at`

	_, err := a.db.ExecContext(ctx, query,
		cred.AccountID,
		cred.EncryptedRefreshToken,
		cred.EncryptedAccessToken,
		cred.AccessTokenExpiry,
		updatedAt,
	)
	return err
}

// UpdateAccessToken stores a freshly minted access token.
func (a *CredentialAdapter) UpdateAccessToken(ctx context.Context, accountID, encryptedAccessToken string, expiry time.Time) error {
	if !crypto.IsEncrypted(encryptedAccessToken) {
		return ErrPlaintextToken
	}
	query := `
		UPDATE oauth_tokens
		SET access_token = $1, token_expiry = $2, updated_at = $3
		WHERE user_id = $4`

	res, err := a.db.ExecContext(ctx, query, encryptedAccessToken, nullTime(expiry), time.Now(), accountID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Exists reports whether a credential row exists.
func (a *CredentialAdapter) Exists(ctx context.Context, accountID string) (bool, error) {
	var exists bool
	err := a.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM oauth_tokens WHERE user_id = $1)`, accountID)
	return exists, err
}

// ListAccountIDs returns every account with a stored credential.
func (a *CredentialAdapter) ListAccountIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := a.db.SelectContext(ctx, &ids, `SELECT user_id FROM oauth_tokens ORDER BY user_id`); err != nil {
		return nil, err
	}
	return ids, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
