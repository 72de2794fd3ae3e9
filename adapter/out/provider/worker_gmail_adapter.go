// Package provider implements mail provider adapters.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"mailmirror/core/domain"
	"mailmirror/core/port/out"
	"mailmirror/pkg/logger"
	"mailmirror/pkg/metrics"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const providerName = "gmail"

// =============================================================================
// Gmail Adapter
// =============================================================================

// GmailAdapter implements out.MailProvider for Gmail. It holds no credential:
// every call builds a short-lived client from the token it is given.
type GmailAdapter struct {
	cb         *gobreaker.CircuitBreaker
	timeout    time.Duration
	endpoint   string
	httpClient *http.Client
}

// GmailConfig holds Gmail client configuration.
type GmailConfig struct {
	// RequestTimeout bounds a call whose context carries no deadline.
	RequestTimeout time.Duration
	// Endpoint overrides the API base URL.
	Endpoint string
	// HTTPClient supplies the transport; the token is layered on top of it.
	HTTPClient *http.Client
}

// NewGmailAdapter creates a new Gmail adapter.
func NewGmailAdapter(cfg GmailConfig) *GmailAdapter {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &GmailAdapter{
		cb:         gobreaker.NewCircuitBreaker(cbSettings),
		timeout:    cfg.RequestTimeout,
		endpoint:   cfg.Endpoint,
		httpClient: cfg.HTTPClient,
	}
}

var _ out.MailProvider = (*GmailAdapter)(nil)

// =============================================================================
// Read Operations
// =============================================================================

// ListMessages returns one page of message ids.
func (a *GmailAdapter) ListMessages(ctx context.Context, token *oauth2.Token, opts *out.ProviderListOptions) (*out.ProviderListResult, error) {
	if opts == nil {
		opts = &out.ProviderListOptions{}
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > out.ProviderMaxPageSize {
		pageSize = out.ProviderMaxPageSize
	}

	req := svc.Users.Messages.List("me").MaxResults(pageSize)
	if opts.LabelID != "" {
		req = req.LabelIds(opts.LabelID)
	}
	if opts.Query != "" {
		req = req.Q(opts.Query)
	}
	if opts.PageToken != "" {
		req = req.PageToken(opts.PageToken)
	}

	var resp *gmail.ListMessagesResponse
	cbErr := a.executeWithCircuitBreaker(ctx, "ListMessages", func() error {
		var apiErr error
		resp, apiErr = req.Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, a.wrapError(cbErr, "failed to list messages")
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m != nil && m.Id != "" {
			ids = append(ids, m.Id)
		}
	}

	return &out.ProviderListResult{
		MessageIDs:    ids,
		NextPageToken: resp.NextPageToken,
	}, nil
}

// GetMessage returns the full message including the MIME tree.
func (a *GmailAdapter) GetMessage(ctx context.Context, token *oauth2.Token, messageID string) (*domain.RawMessage, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	var msg *gmail.Message
	cbErr := a.executeWithCircuitBreaker(ctx, "GetMessage", func() error {
		var apiErr error
		msg, apiErr = svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, a.wrapError(cbErr, "failed to get message")
	}

	return convertMessage(msg), nil
}

// GetAttachment returns the decoded attachment bytes.
func (a *GmailAdapter) GetAttachment(ctx context.Context, token *oauth2.Token, messageID, attachmentID string) ([]byte, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	var att *gmail.MessagePartBody
	cbErr := a.executeWithCircuitBreaker(ctx, "GetAttachment", func() error {
		var apiErr error
		att, apiErr = svc.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, a.wrapError(cbErr, "failed to get attachment")
	}
	if att == nil || att.Data == "" {
		return nil, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(att.Data, "="))
	if err != nil {
		return nil, out.NewProviderError(providerName, out.ProviderErrServer, "failed to decode attachment", err, false)
	}
	return data, nil
}

// =============================================================================
// Conversion
// =============================================================================

func convertMessage(msg *gmail.Message) *domain.RawMessage {
	if msg == nil {
		return nil
	}
	return &domain.RawMessage{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		LabelIDs:     msg.LabelIds,
		Snippet:      msg.Snippet,
		InternalDate: msg.InternalDate,
		Payload:      convertPart(msg.Payload),
	}
}

func convertPart(p *gmail.MessagePart) *domain.MessagePart {
	if p == nil {
		return nil
	}
	part := &domain.MessagePart{
		MimeType: p.MimeType,
		Filename: p.Filename,
	}
	for _, h := range p.Headers {
		if h != nil {
			part.Headers = append(part.Headers, domain.MessageHeader{Name: h.Name, Value: h.Value})
		}
	}
	if p.Body != nil {
		part.Body = domain.PartBody{
			AttachmentID: p.Body.AttachmentId,
			Data:         p.Body.Data,
			Size:         p.Body.Size,
		}
	}
	for _, child := range p.Parts {
		if c := convertPart(child); c != nil {
			part.Parts = append(part.Parts, c)
		}
	}
	return part
}

// =============================================================================
// Internal Helpers
// =============================================================================

func (a *GmailAdapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

func (a *GmailAdapter) getService(ctx context.Context, token *oauth2.Token) (*gmail.Service, error) {
	if token == nil || token.AccessToken == "" {
		return nil, out.NewProviderError(providerName, out.ProviderErrAuth, "missing access token", nil, false)
	}

	source := oauth2.StaticTokenSource(token)
	opts := []option.ClientOption{option.WithTokenSource(source)}
	if a.httpClient != nil {
		opts = []option.ClientOption{option.WithHTTPClient(&http.Client{
			Transport: &oauth2.Transport{Source: source, Base: a.httpClient.Transport},
			Timeout:   a.httpClient.Timeout,
		})}
	}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, out.NewProviderError(providerName, out.ProviderErrUnavailable, "failed to create client", err, true)
	}
	return svc, nil
}

// executeWithCircuitBreaker wraps an API call with circuit breaker protection.
// Client errors are returned without counting against the breaker.
func (a *GmailAdapter) executeWithCircuitBreaker(ctx context.Context, operation string, fn func() error) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				switch apiErr.Code {
				case 400, 401, 403, 404:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		metrics.IncrementProviderRequest(operation, "client_error")
		return nce.err
	}

	if err != nil {
		metrics.IncrementProviderRequest(operation, "error")
		logger.WithField("operation", operation).
			Warn("[GmailAdapter] circuit breaker error: state=%s, err=%v", a.cb.State().String(), err)
		return err
	}

	metrics.IncrementProviderRequest(operation, "ok")
	return nil
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

// CircuitState returns the current state of the circuit breaker.
func (a *GmailAdapter) CircuitState() string {
	return a.cb.State().String()
}

func (a *GmailAdapter) wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return out.NewProviderError(providerName, out.ProviderErrUnavailable, "circuit open", err, true)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401:
			return out.NewProviderError(providerName, out.ProviderErrTokenExpired, "Token expired", err, false)
		case 403:
			if strings.Contains(apiErr.Message, "Rate Limit") {
				return out.NewProviderError(providerName, out.ProviderErrRateLimit, "Rate limit exceeded", err, true)
			}
			return out.NewProviderError(providerName, out.ProviderErrAuth, "Access denied", err, false)
		case 404:
			return out.NewProviderError(providerName, out.ProviderErrNotFound, "Not found", err, false)
		case 429:
			return out.NewProviderError(providerName, out.ProviderErrRateLimit, "Too many requests", err, true)
		case 500, 502, 503:
			return out.NewProviderError(providerName, out.ProviderErrServer, "Server error", err, true)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return out.NewProviderError(providerName, out.ProviderErrNetwork, defaultMsg, err, true)
	}

	return out.NewProviderError(providerName, out.ProviderErrServer, defaultMsg, err, true)
}
