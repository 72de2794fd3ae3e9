package in

import "context"

type OAuthService interface {
	// Get OAuth URL for authorization; the state carries the account id.
	GetAuthURL(ctx context.Context, accountID string) (string, error)

	// Handle OAuth callback: exchange, persist, and start the first sync.
	HandleCallback(ctx context.Context, code, state string) (*CallbackResult, error)

	// Exchange a code for an already authenticated account (no automatic sync).
	VerifyCode(ctx context.Context, accountID, code string) error

	// Connection status
	IsConnected(ctx context.Context, accountID string) (bool, error)
}

// CallbackResult reports what the callback did.
type CallbackResult struct {
	AccountID   string
	FirstTime   bool
	SyncStarted bool
}
