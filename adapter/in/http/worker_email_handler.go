package http

import (
	"fmt"
	"strconv"
	"strings"

	"mailmirror/core/domain"
	"mailmirror/core/port/in"
	"mailmirror/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

type EmailHandler struct {
	mailService in.MailService
	syncService in.SyncService
}

func NewEmailHandler(mailService in.MailService, syncService in.SyncService) *EmailHandler {
	return &EmailHandler{mailService: mailService, syncService: syncService}
}

func (h *EmailHandler) Register(router fiber.Router) {
	emails := router.Group("/emails")

	// Sync routes first so "sync" is not captured as an email id.
	emails.Post("/sync", h.StartSync)
	emails.Get("/sync/status", h.SyncStatus)

	emails.Get("/", h.ListEmails)
	emails.Get("/:emailId", h.GetEmail)
	emails.Put("/:emailId/read", h.MarkAsRead)
	emails.Get("/:emailId/attachments/:attachmentId", h.DownloadAttachment)
}

// ListEmails serves GET /emails?limit&offset&type.
func (h *EmailHandler) ListEmails(c *fiber.Ctx) error {
	accountID, err := GetAccountID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	params := GetListParams(c)
	page, err := h.mailService.ListEmails(c.Context(), &domain.EmailFilter{
		AccountID: accountID,
		Type:      params.Type,
		Limit:     params.Limit,
		Offset:    params.Offset,
	})
	if err != nil {
		return err
	}

	summaries := make([]EmailSummary, 0, len(page.Emails))
	for _, e := range page.Emails {
		summaries = append(summaries, toSummary(e))
	}

	return c.JSON(fiber.Map{
		"emails": summaries,
		"total":  page.Total,
	})
}

func (h *EmailHandler) GetEmail(c *fiber.Ctx) error {
	accountID, err := GetAccountID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	email, err := h.mailService.GetEmail(c.Context(), accountID, c.Params("emailId"))
	if err != nil {
		return err
	}
	return c.JSON(toDetail(email))
}

// MarkAsRead flips the local read flag only.
func (h *EmailHandler) MarkAsRead(c *fiber.Ctx) error {
	accountID, err := GetAccountID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	email, err := h.mailService.MarkAsRead(c.Context(), accountID, c.Params("emailId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"email":   toDetail(email),
	})
}

// DownloadAttachment streams attachment bytes fetched live from the provider.
func (h *EmailHandler) DownloadAttachment(c *fiber.Ctx) error {
	accountID, err := GetAccountID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	attachmentID := c.Params("attachmentId")
	if attachmentID == "" {
		return ErrorResponse(c, 400, "attachment id required")
	}

	attachment, err := h.mailService.GetAttachment(c.Context(), accountID, c.Params("emailId"), attachmentID)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, attachment.MimeType)
	if attachment.Filename != "" {
		filename := strings.NewReplacer(`"`, "", "\r", "", "\n", "").Replace(attachment.Filename)
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	}
	c.Set(fiber.HeaderContentLength, strconv.Itoa(len(attachment.Data)))
	return c.Send(attachment.Data)
}

// StartSync claims the account and hands the full sync to the workers. Both a
// fresh start and an already running sync answer inProgress=true.
func (h *EmailHandler) StartSync(c *fiber.Ctx) error {
	accountID, err := GetAccountID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	result, err := h.syncService.StartSync(c.Context(), accountID)
	if err != nil {
		return err
	}

	message := "Email sync started"
	if !result.Started {
		message = "Sync already in progress"
	}
	logger.Info("[EmailHandler.StartSync] %s for %s", message, accountID)

	body := fiber.Map{
		"message":    message,
		"inProgress": true,
	}
	if result.JobID != "" {
		body["jobId"] = result.JobID
	}
	return c.JSON(body)
}

func (h *EmailHandler) SyncStatus(c *fiber.Ctx) error {
	accountID, err := GetAccountID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	status, err := h.syncService.GetSyncStatus(c.Context(), accountID)
	if err != nil {
		return err
	}
	return c.JSON(status)
}
