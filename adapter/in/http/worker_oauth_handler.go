package http

import (
	"html"

	"mailmirror/core/port/in"
	"mailmirror/pkg/apperr"
	"mailmirror/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

type OAuthHandler struct {
	oauthService in.OAuthService
}

func NewOAuthHandler(oauthService in.OAuthService) *OAuthHandler {
	return &OAuthHandler{oauthService: oauthService}
}

// Register mounts the authenticated routes.
func (h *OAuthHandler) Register(router fiber.Router) {
	oauth := router.Group("/oauth")
	oauth.Get("/connect", h.Connect)
	oauth.Get("/connect/status", h.ConnectionStatus)
	oauth.Post("/verify", h.Verify)
}

// RegisterPublic mounts the provider callback, which arrives without a
// bearer token.
func (h *OAuthHandler) RegisterPublic(router fiber.Router) {
	router.Get("/oauth/callback", h.Callback)
}

func (h *OAuthHandler) Connect(c *fiber.Ctx) error {
	accountID, err := GetAccountID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	authURL, err := h.oauthService.GetAuthURL(c.Context(), accountID)
	if err != nil {
		logger.WithError(err).Error("[OAuth Connect] GetAuthURL failed")
		return err
	}

	logger.Debug("[OAuth Connect] Auth URL issued for account %s", accountID)
	return c.JSON(fiber.Map{"authUrl": authURL})
}

// Callback answers with a small HTML page since it is opened in a browser
// popup by the provider redirect.
func (h *OAuthHandler) Callback(c *fiber.Ctx) error {
	code := c.Query("code")
	state := c.Query("state")

	if errorParam := c.Query("error"); errorParam != "" {
		logger.Warn("[OAuth Callback] Error from provider: %s", errorParam)
		return callbackPage(c, fiber.StatusBadRequest, "Gmail connection failed",
			"OAuth error: "+errorParam+". Check the redirect URI configured for this client.")
	}
	if code == "" {
		return callbackPage(c, fiber.StatusBadRequest, "Gmail connection failed", "Authorization code is required")
	}
	if state == "" {
		return callbackPage(c, fiber.StatusBadRequest, "Gmail connection failed", "Account id is required")
	}

	result, err := h.oauthService.HandleCallback(c.Context(), code, state)
	if err != nil {
		logger.WithError(err).Error("[OAuth Callback] HandleCallback error")
		appErr := apperr.AsAppError(err)
		return callbackPage(c, appErr.Status, "Gmail connection failed", appErr.Message)
	}

	logger.Info("[OAuth Callback] Connected account %s (first time: %t, sync started: %t)",
		result.AccountID, result.FirstTime, result.SyncStarted)

	detail := "You can close this window and return to the app."
	if result.SyncStarted {
		detail += " Email sync has started. This may take a few minutes."
	}
	return callbackPage(c, fiber.StatusOK, "Gmail Connected Successfully!", detail)
}

func (h *OAuthHandler) Verify(c *fiber.Ctx) error {
	accountID, err := GetAccountID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}
	if req.Code == "" {
		return apperr.MissingField("code")
	}

	if err := h.oauthService.VerifyCode(c.Context(), accountID, req.Code); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *OAuthHandler) ConnectionStatus(c *fiber.Ctx) error {
	accountID, err := GetAccountID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	connected, err := h.oauthService.IsConnected(c.Context(), accountID)
	if err != nil {
		return InternalErrorResponse(c, err, "connection status")
	}
	return c.JSON(fiber.Map{"connected": connected})
}

func callbackPage(c *fiber.Ctx, status int, title, detail string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	c.Set("Content-Security-Policy", "default-src 'none'; script-src 'unsafe-inline'")
	body := "<html>\n  <body>\n    <h1>" + html.EscapeString(title) + "</h1>\n    <p>" +
		html.EscapeString(detail) + "</p>\n"
	if status == fiber.StatusOK {
		body += "    <script>window.close();</script>\n"
	}
	body += "  </body>\n</html>"
	return c.Status(status).SendString(body)
}
