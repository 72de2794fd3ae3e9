package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mailmirror/core/domain"
	"mailmirror/core/port/out"
	"mailmirror/pkg/apperr"
	"mailmirror/pkg/logger"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// ErrNoRefreshToken means the provider answered the exchange without a
// refresh token. Providers only issue one on first-time consent.
var ErrNoRefreshToken = errors.New("refresh token not provided")

// refreshTimeout bounds a shared refresh, which outlives any single caller.
const refreshTimeout = 30 * time.Second

// TokenCipher encrypts token values at rest.
type TokenCipher interface {
	EncryptToken(token string) (string, error)
	DecryptToken(encryptedToken string) (string, error)
}

// CredentialVault owns the OAuth credential lifecycle: code exchange,
// encrypted storage, and transparent access-token renewal.
type CredentialVault struct {
	repo   out.CredentialRepository
	oauth  out.OAuthProvider
	cipher TokenCipher

	// refreshes collapses concurrent refreshes for one account in this process.
	refreshes singleflight.Group
	now       func() time.Time
}

func NewCredentialVault(repo out.CredentialRepository, oauth out.OAuthProvider, cipher TokenCipher) *CredentialVault {
	return &CredentialVault{
		repo:   repo,
		oauth:  oauth,
		cipher: cipher,
		now:    time.Now,
	}
}

// AuthURL returns the provider consent URL for the given state.
func (v *CredentialVault) AuthURL(state string) string {
	return v.oauth.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for tokens. A missing refresh
// token is an error.
func (v *CredentialVault) ExchangeCode(ctx context.Context, code string) (*domain.TokenSet, error) {
	tokens, err := v.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, apperr.AuthExchange(err)
	}
	if tokens.RefreshToken == "" {
		return nil, apperr.AuthExchange(ErrNoRefreshToken)
	}
	return tokens, nil
}

// Save encrypts both tokens and upserts the account's credential.
func (v *CredentialVault) Save(ctx context.Context, accountID string, tokens *domain.TokenSet) error {
	if tokens == nil || tokens.RefreshToken == "" {
		return apperr.AuthExchange(ErrNoRefreshToken)
	}

	encRefresh, err := v.cipher.EncryptToken(tokens.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}

	cred := &domain.OAuthCredential{
		AccountID:             accountID,
		EncryptedRefreshToken: encRefresh,
		UpdatedAt:             v.now(),
	}

	if tokens.AccessToken != "" {
		encAccess, err := v.cipher.EncryptToken(tokens.AccessToken)
		if err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		cred.EncryptedAccessToken = &encAccess
		if !tokens.Expiry.IsZero() {
			expiry := tokens.Expiry
			cred.AccessTokenExpiry = &expiry
		}
	}

	if err := v.repo.Upsert(ctx, cred); err != nil {
		return apperr.DatabaseError("save credential", err)
	}

	logger.Info("[CredentialVault.Save] Stored credential for account %s", accountID)
	return nil
}

// GetValidAccessToken returns a usable access token, refreshing it through
// the provider only when the cached one is missing or expired.
func (v *CredentialVault) GetValidAccessToken(ctx context.Context, accountID string) (string, error) {
	cred, err := v.load(ctx, accountID)
	if err != nil {
		return "", err
	}

	if cred.HasFreshAccessToken(v.now()) {
		token, err := v.cipher.DecryptToken(*cred.EncryptedAccessToken)
		if err != nil {
			return "", fmt.Errorf("decrypt access token: %w", err)
		}
		return token, nil
	}

	ch := v.refreshes.DoChan(accountID, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return v.refresh(rctx, cred)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Token wraps GetValidAccessToken for provider calls.
func (v *CredentialVault) Token(ctx context.Context, accountID string) (*oauth2.Token, error) {
	access, err := v.GetValidAccessToken(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: access, TokenType: "Bearer"}, nil
}

// IsConnected is an existence check; nothing is decrypted.
func (v *CredentialVault) IsConnected(ctx context.Context, accountID string) (bool, error) {
	ok, err := v.repo.Exists(ctx, accountID)
	if err != nil {
		return false, apperr.DatabaseError("check credential", err)
	}
	return ok, nil
}

// ConnectedAccounts lists every account holding a credential.
func (v *CredentialVault) ConnectedAccounts(ctx context.Context) ([]string, error) {
	ids, err := v.repo.ListAccountIDs(ctx)
	if err != nil {
		return nil, apperr.DatabaseError("list credentials", err)
	}
	return ids, nil
}

func (v *CredentialVault) load(ctx context.Context, accountID string) (*domain.OAuthCredential, error) {
	cred, err := v.repo.Get(ctx, accountID)
	if errors.Is(err, out.ErrNotFound) {
		return nil, apperr.NoCredential(accountID)
	}
	if err != nil {
		return nil, apperr.DatabaseError("load credential", err)
	}
	return cred, nil
}

func (v *CredentialVault) refresh(ctx context.Context, cred *domain.OAuthCredential) (string, error) {
	refreshToken, err := v.cipher.DecryptToken(cred.EncryptedRefreshToken)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}

	tokens, err := v.oauth.Refresh(ctx, refreshToken)
	if err != nil {
		code := out.ProviderErrNetwork
		if isTokenRevokedError(err) {
			code = out.ProviderErrAuth
		}
		logger.WithError(err).Warn("[CredentialVault.refresh] Refresh failed for account %s", cred.AccountID)
		return "", apperr.ProviderFailure("google", out.NewProviderError("google", code, "token refresh failed", err, code != out.ProviderErrAuth))
	}

	encAccess, err := v.cipher.EncryptToken(tokens.AccessToken)
	if err != nil {
		return "", fmt.Errorf("encrypt access token: %w", err)
	}

	if tokens.RefreshToken != "" && tokens.RefreshToken != refreshToken {
		// The provider rotated the refresh token; persist the whole credential.
		if err := v.Save(ctx, cred.AccountID, tokens); err != nil {
			return "", err
		}
		return tokens.AccessToken, nil
	}

	if err := v.repo.UpdateAccessToken(ctx, cred.AccountID, encAccess, tokens.Expiry); err != nil {
		return "", apperr.DatabaseError("store access token", err)
	}

	logger.Debug("[CredentialVault.refresh] Access token refreshed for account %s", cred.AccountID)
	return tokens.AccessToken, nil
}

// isTokenRevokedError checks if the error indicates a permanent token failure.
func isTokenRevokedError(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && (re.ErrorCode == "invalid_grant" || re.ErrorCode == "invalid_client") {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "invalid_client") ||
		strings.Contains(errStr, "Token has been expired or revoked")
}
