// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"errors"

	"mailmirror/core/domain"

	"golang.org/x/oauth2"
)

// =============================================================================
// Mail Provider Port
// =============================================================================

// ProviderMaxPageSize is the largest page the provider's list endpoint serves.
const ProviderMaxPageSize = 500

// MailProvider reads mailbox data from the remote provider. Every call takes
// the credential explicitly; implementations build a short-lived client per call.
type MailProvider interface {
	// ListMessages returns one page of message ids.
	ListMessages(ctx context.Context, token *oauth2.Token, opts *ProviderListOptions) (*ProviderListResult, error)

	// GetMessage returns the full message including the MIME tree.
	GetMessage(ctx context.Context, token *oauth2.Token, messageID string) (*domain.RawMessage, error)

	// GetAttachment returns the decoded attachment bytes.
	GetAttachment(ctx context.Context, token *oauth2.Token, messageID, attachmentID string) ([]byte, error)
}

// ProviderListOptions selects a page of message ids.
type ProviderListOptions struct {
	LabelID   string
	Query     string
	PageSize  int64
	PageToken string
}

// ProviderListResult is one page of message ids. An empty NextPageToken means
// the listing is exhausted.
type ProviderListResult struct {
	MessageIDs    []string
	NextPageToken string
}

// =============================================================================
// OAuth Port
// =============================================================================

// OAuthProvider talks to the provider's authorization server.
type OAuthProvider interface {
	// AuthCodeURL builds the consent URL requesting offline access.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for tokens.
	Exchange(ctx context.Context, code string) (*domain.TokenSet, error)

	// Refresh mints a new access token from a refresh token.
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenSet, error)
}

// =============================================================================
// Provider Error
// =============================================================================

// ProviderErrorCode represents error codes.
type ProviderErrorCode string

const (
	ProviderErrAuth         ProviderErrorCode = "auth_error"
	ProviderErrTokenExpired ProviderErrorCode = "token_expired"
	ProviderErrRateLimit    ProviderErrorCode = "rate_limit"
	ProviderErrNotFound     ProviderErrorCode = "not_found"
	ProviderErrNetwork      ProviderErrorCode = "network_error"
	ProviderErrServer       ProviderErrorCode = "server_error"
	ProviderErrInvalidInput ProviderErrorCode = "invalid_input"
	ProviderErrUnavailable  ProviderErrorCode = "unavailable"
)

// ProviderError represents a provider error.
type ProviderError struct {
	Provider  string
	Code      ProviderErrorCode
	Message   string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new provider error.
func NewProviderError(provider string, code ProviderErrorCode, message string, err error, retryable bool) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Err:       err,
		Retryable: retryable,
	}
}

// IsProviderCode reports whether err is a ProviderError with the given code.
func IsProviderCode(err error, code ProviderErrorCode) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == code
}
