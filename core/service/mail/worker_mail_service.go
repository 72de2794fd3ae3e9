package mail

import (
	"context"
	"errors"

	"mailmirror/core/domain"
	"mailmirror/core/port/in"
	"mailmirror/core/port/out"
	"mailmirror/pkg/apperr"
	"mailmirror/pkg/logger"
)

// Service is the read-side facade over the mirrored mailbox. Reads come from
// the local store; only attachment bytes go to the provider.
type Service struct {
	emails   out.EmailRepository
	provider out.MailProvider
	tokens   TokenProvider
}

var _ in.MailService = (*Service)(nil)

func NewService(emails out.EmailRepository, provider out.MailProvider, tokens TokenProvider) *Service {
	return &Service{emails: emails, provider: provider, tokens: tokens}
}

func (s *Service) ListEmails(ctx context.Context, filter *domain.EmailFilter) (*domain.EmailPage, error) {
	if filter == nil || filter.AccountID == "" {
		return nil, apperr.MissingField("account_id")
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, apperr.BadRequest("unknown email list type: " + string(filter.Type))
	}
	filter.Normalize()

	page, err := s.emails.List(ctx, filter)
	if err != nil {
		return nil, apperr.DatabaseError("list emails", err)
	}
	if page.Emails == nil {
		page.Emails = []*domain.Email{}
	}
	return page, nil
}

func (s *Service) GetEmail(ctx context.Context, accountID, messageID string) (*domain.Email, error) {
	email, err := s.emails.Get(ctx, accountID, messageID)
	if errors.Is(err, out.ErrNotFound) {
		return nil, apperr.NotFound("email")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get email", err)
	}
	return email, nil
}

// MarkAsRead flips the local read flag. The provider mailbox is not modified.
func (s *Service) MarkAsRead(ctx context.Context, accountID, messageID string) (*domain.Email, error) {
	email, err := s.emails.MarkRead(ctx, accountID, messageID)
	if errors.Is(err, out.ErrNotFound) {
		return nil, apperr.NotFound("email")
	}
	if err != nil {
		return nil, apperr.DatabaseError("mark email read", err)
	}
	return email, nil
}

// GetAttachment streams the bytes live from the provider; the MIME type and
// filename come from the stored metadata.
func (s *Service) GetAttachment(ctx context.Context, accountID, messageID, attachmentID string) (*in.Attachment, error) {
	email, err := s.GetEmail(ctx, accountID, messageID)
	if err != nil {
		return nil, err
	}

	meta, _ := email.Attachment(attachmentID)
	mimeType := meta.MimeType
	if mimeType == "" {
		mimeType = domain.DefaultAttachmentMimeType
	}

	token, err := s.tokens.Token(ctx, accountID)
	if err != nil {
		return nil, err
	}

	data, err := s.provider.GetAttachment(ctx, token, messageID, attachmentID)
	if err != nil {
		if out.IsProviderCode(err, out.ProviderErrNotFound) {
			return nil, apperr.NotFound("attachment")
		}
		logger.WithError(err).Warn("[MailService.GetAttachment] Provider fetch failed for %s/%s", messageID, attachmentID)
		return nil, apperr.ProviderFailure("google", err)
	}
	if len(data) == 0 {
		return nil, apperr.NotFound("attachment")
	}

	return &in.Attachment{
		Data:     data,
		MimeType: mimeType,
		Filename: meta.Filename,
	}, nil
}
