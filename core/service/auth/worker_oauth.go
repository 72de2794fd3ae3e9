package auth

import (
	"context"
	"fmt"
	"strings"

	"mailmirror/core/domain"
	"mailmirror/core/port/in"
	"mailmirror/pkg/apperr"
	"mailmirror/pkg/logger"
)

// SyncStarter is the slice of the sync service the callback needs.
type SyncStarter interface {
	StartSync(ctx context.Context, accountID string) (*in.StartSyncResult, error)
	GetSyncStatus(ctx context.Context, accountID string) (domain.SyncStatusView, error)
}

type OAuthService struct {
	vault *CredentialVault
	sync  SyncStarter
}

var _ in.OAuthService = (*OAuthService)(nil)

func NewOAuthService(vault *CredentialVault, sync SyncStarter) *OAuthService {
	return &OAuthService{vault: vault, sync: sync}
}

func (s *OAuthService) GetAuthURL(ctx context.Context, accountID string) (string, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", apperr.MissingField("account_id")
	}
	return s.vault.AuthURL(accountID), nil
}

// HandleCallback exchanges the code, stores the credential under the state
// value, and starts a background full sync for accounts that never synced.
// A failure to start the sync does not fail the callback.
func (s *OAuthService) HandleCallback(ctx context.Context, code, state string) (*in.CallbackResult, error) {
	if code == "" {
		return nil, apperr.MissingField("code")
	}
	if state == "" {
		return nil, apperr.MissingField("state")
	}
	accountID := state

	logger.Info("[OAuthService.HandleCallback] Starting for account: %s", accountID)

	tokens, err := s.vault.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.vault.Save(ctx, accountID, tokens); err != nil {
		return nil, err
	}

	result := &in.CallbackResult{AccountID: accountID}
	if s.sync == nil {
		return result, nil
	}

	status, err := s.sync.GetSyncStatus(ctx, accountID)
	if err != nil {
		logger.WithError(err).Warn("[OAuthService.HandleCallback] Could not read sync status for %s", accountID)
		return result, nil
	}
	if status.HasSynced {
		return result, nil
	}

	result.FirstTime = true
	started, err := s.sync.StartSync(ctx, accountID)
	if err != nil {
		logger.WithError(err).Warn("[OAuthService.HandleCallback] Failed to start initial sync for %s", accountID)
		return result, nil
	}
	result.SyncStarted = started.Started
	logger.Info("[OAuthService.HandleCallback] Initial sync for %s started=%t", accountID, started.Started)
	return result, nil
}

// VerifyCode exchanges and stores a code for an already authenticated account.
func (s *OAuthService) VerifyCode(ctx context.Context, accountID, code string) error {
	if code == "" {
		return apperr.MissingField("code")
	}
	tokens, err := s.vault.ExchangeCode(ctx, code)
	if err != nil {
		return err
	}
	if err := s.vault.Save(ctx, accountID, tokens); err != nil {
		return fmt.Errorf("verify code: %w", err)
	}
	return nil
}

func (s *OAuthService) IsConnected(ctx context.Context, accountID string) (bool, error) {
	return s.vault.IsConnected(ctx, accountID)
}
