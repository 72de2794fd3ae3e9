package http

import (
	"errors"

	"mailmirror/core/domain"
	"mailmirror/infra/middleware"
	"mailmirror/pkg/logger"
	"mailmirror/pkg/response"

	"github.com/gofiber/fiber/v2"
)

var ErrUnauthorized = errors.New("unauthorized")

// GetAccountID extracts the authenticated account id from the fiber context.
func GetAccountID(c *fiber.Ctx) (string, error) {
	accountID, ok := c.Locals(middleware.LocalAccountID).(string)
	if !ok || accountID == "" {
		return "", ErrUnauthorized
	}
	return accountID, nil
}

// =============================================================================
// Error Response Helpers
// =============================================================================

// ErrorResponse sends a standardized JSON error response.
func ErrorResponse(c *fiber.Ctx, status int, message string) error {
	return response.Error(c, status, response.CodeForStatus(status), message)
}

// InternalErrorResponse logs err and returns a generic 500.
func InternalErrorResponse(c *fiber.Ctx, err error, operation string) error {
	logger.WithError(err).WithField("operation", operation).Error("internal error")
	return response.Error(c, 500, "INTERNAL_ERROR", operation+" failed")
}

// =============================================================================
// List Helpers
// =============================================================================

// ListParams holds list query parameters.
type ListParams struct {
	Limit  int
	Offset int
	Type   domain.EmailListType
}

// GetListParams reads limit, offset and type. Unparseable numbers fall back
// to the defaults; the service clamps the rest.
func GetListParams(c *fiber.Ctx) ListParams {
	limit := c.QueryInt("limit", domain.DefaultListLimit)
	if limit <= 0 {
		limit = domain.DefaultListLimit
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	return ListParams{
		Limit:  limit,
		Offset: offset,
		Type:   domain.EmailListType(c.Query("type", string(domain.ListInbox))),
	}
}

// EmailSummary is one row of the list response.
type EmailSummary struct {
	MessageID string `json:"gmail_message_id"`
	Subject   string `json:"subject"`
	From      string `json:"from_email"`
	FromName  string `json:"from_name"`
	Snippet   string `json:"snippet"`
	Date      string `json:"date"`
	IsRead    bool   `json:"is_read"`
}

func toSummary(e *domain.Email) EmailSummary {
	subject := e.Subject
	if subject == "" {
		subject = domain.DefaultSubject
	}
	return EmailSummary{
		MessageID: e.MessageID,
		Subject:   subject,
		From:      e.From,
		FromName:  e.FromName,
		Snippet:   e.Snippet,
		Date:      e.Date.UTC().Format("2006-01-02T15:04:05.000Z"),
		IsRead:    e.IsRead,
	}
}

// EmailDetail is the single-email response.
type EmailDetail struct {
	ID          string                  `json:"id"`
	Subject     string                  `json:"subject"`
	From        string                  `json:"from"`
	FromName    string                  `json:"fromName"`
	To          string                  `json:"to"`
	Cc          string                  `json:"cc"`
	Bcc         string                  `json:"bcc"`
	Snippet     string                  `json:"snippet"`
	BodyText    string                  `json:"bodyText"`
	BodyHTML    string                  `json:"bodyHtml"`
	Date        string                  `json:"date"`
	IsRead      bool                    `json:"isRead"`
	IsStarred   bool                    `json:"isStarred"`
	Labels      []string                `json:"labels"`
	Attachments []domain.AttachmentMeta `json:"attachments"`
}

func toDetail(e *domain.Email) EmailDetail {
	attachments := e.Attachments
	if attachments == nil {
		attachments = []domain.AttachmentMeta{}
	}
	labels := e.Labels
	if labels == nil {
		labels = []string{}
	}
	return EmailDetail{
		ID:          e.MessageID,
		Subject:     e.Subject,
		From:        e.From,
		FromName:    e.FromName,
		To:          e.To,
		Cc:          e.Cc,
		Bcc:         e.Bcc,
		Snippet:     e.Snippet,
		BodyText:    e.BodyText,
		BodyHTML:    e.BodyHTML,
		Date:        e.Date.UTC().Format("2006-01-02T15:04:05.000Z"),
		IsRead:      e.IsRead,
		IsStarred:   e.IsStarred,
		Labels:      labels,
		Attachments: attachments,
	}
}
