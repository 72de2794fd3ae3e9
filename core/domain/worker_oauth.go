package domain

import "time"

// OAuthCredential is the stored credential of one account. Token fields hold
// ciphertext produced by pkg/crypto, never plaintext.
type OAuthCredential struct {
	AccountID             string     `db:"user_id"`
	EncryptedRefreshToken string     `db:"refresh_token"`
	EncryptedAccessToken  *string    `db:"access_token"`
	AccessTokenExpiry     *time.Time `db:"token_expiry"`
	UpdatedAt             time.Time  `db:"updated_at"`
}

// HasFreshAccessToken reports whether the cached access token can be used
// without a refresh. The expiry must be strictly after now.
func (c *OAuthCredential) HasFreshAccessToken(now time.Time) bool {
	if c.EncryptedAccessToken == nil || *c.EncryptedAccessToken == "" {
		return false
	}
	return c.AccessTokenExpiry != nil && c.AccessTokenExpiry.After(now)
}

// TokenSet is the plaintext result of an authorization-code exchange or a
// refresh. RefreshToken is empty on refresh responses that do not rotate it.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}
