package http

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mailmirror/core/domain"
	"mailmirror/core/port/in"
	"mailmirror/infra/middleware"
	"mailmirror/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
)

const testSecret = "test-secret"

// =============================================================================
// Fakes
// =============================================================================

type fakeMailService struct {
	emails     map[string]*domain.Email
	lastFilter *domain.EmailFilter
	attachment *in.Attachment
}

func (f *fakeMailService) ListEmails(ctx context.Context, filter *domain.EmailFilter) (*domain.EmailPage, error) {
	f.lastFilter = filter
	page := &domain.EmailPage{Emails: []*domain.Email{}}
	for _, e := range f.emails {
		if e.AccountID == filter.AccountID {
			page.Emails = append(page.Emails, e)
		}
	}
	page.Total = len(page.Emails)
	return page, nil
}

func (f *fakeMailService) GetEmail(ctx context.Context, accountID, messageID string) (*domain.Email, error) {
	e, ok := f.emails[messageID]
	if !ok || e.AccountID != accountID {
		return nil, apperr.NotFound("email")
	}
	return e, nil
}

func (f *fakeMailService) MarkAsRead(ctx context.Context, accountID, messageID string) (*domain.Email, error) {
	e, err := f.GetEmail(ctx, accountID, messageID)
	if err != nil {
		return nil, err
	}
	e.IsRead = true
	return e, nil
}

func (f *fakeMailService) GetAttachment(ctx context.Context, accountID, messageID, attachmentID string) (*in.Attachment, error) {
	if _, err := f.GetEmail(ctx, accountID, messageID); err != nil {
		return nil, err
	}
	if f.attachment == nil {
		return nil, apperr.NotFound("attachment")
	}
	return f.attachment, nil
}

type fakeSyncService struct {
	running bool
	status  domain.SyncStatusView
	err     error
}

func (f *fakeSyncService) StartSync(ctx context.Context, accountID string) (*in.StartSyncResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.running {
		return &in.StartSyncResult{InProgress: true}, nil
	}
	f.running = true
	return &in.StartSyncResult{Started: true, InProgress: true, JobID: "job-1"}, nil
}

func (f *fakeSyncService) GetSyncStatus(ctx context.Context, accountID string) (domain.SyncStatusView, error) {
	return f.status, nil
}

func (f *fakeSyncService) FullSync(ctx context.Context, accountID string) (*domain.SyncResult, error) {
	return nil, nil
}

func (f *fakeSyncService) RunClaimedFullSync(ctx context.Context, accountID, leaseID string) (*domain.SyncResult, error) {
	return nil, nil
}

func (f *fakeSyncService) IncrementalSync(ctx context.Context, accountID string) (*domain.SyncResult, error) {
	return nil, nil
}

type fakeOAuthService struct {
	connected   bool
	callbackErr error
	verified    string
}

func (f *fakeOAuthService) GetAuthURL(ctx context.Context, accountID string) (string, error) {
	return "https://accounts.example.com/auth?state=" + accountID, nil
}

func (f *fakeOAuthService) HandleCallback(ctx context.Context, code, state string) (*in.CallbackResult, error) {
	if f.callbackErr != nil {
		return nil, f.callbackErr
	}
	return &in.CallbackResult{AccountID: state, FirstTime: true, SyncStarted: true}, nil
}

func (f *fakeOAuthService) VerifyCode(ctx context.Context, accountID, code string) error {
	f.verified = accountID + ":" + code
	return nil
}

func (f *fakeOAuthService) IsConnected(ctx context.Context, accountID string) (bool, error) {
	return f.connected, nil
}

// =============================================================================
// Harness
// =============================================================================

type testEnv struct {
	app   *fiber.App
	mail  *fakeMailService
	sync  *fakeSyncService
	oauth *fakeOAuthService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		mail: &fakeMailService{emails: map[string]*domain.Email{
			"m1": {
				AccountID: "acct-1", MessageID: "m1", From: "a@x.com",
				Date:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
				Attachments: []domain.AttachmentMeta{{Filename: "r.pdf", MimeType: "application/pdf", AttachmentID: "att-1"}},
			},
			"m2": {AccountID: "acct-2", MessageID: "m2", Subject: "other"},
		}},
		sync:  &fakeSyncService{},
		oauth: &fakeOAuthService{},
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(),
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	app.Use(middleware.RequestID())

	api := app.Group("/api/v1")
	oauth := NewOAuthHandler(env.oauth)
	oauth.RegisterPublic(api)

	protected := api.Group("", middleware.JWTAuth(testSecret))
	oauth.Register(protected)
	NewEmailHandler(env.mail, env.sync).Register(protected)

	env.app = app
	return env
}

func (e *testEnv) do(t *testing.T, method, path, accountID, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if accountID != "" {
		token, err := middleware.IssueToken(testSecret, accountID, time.Hour)
		if err != nil {
			t.Fatalf("IssueToken() error = %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test(%s %s) error = %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return out
}

// =============================================================================
// Tests
// =============================================================================

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/v1/emails", "/api/v1/emails/sync/status", "/api/v1/oauth/connect"} {
		status, _ := env.do(t, "GET", path, "", "")
		if status != fiber.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want 401", path, status)
		}
	}
}

func TestListEmails(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, "GET", "/api/v1/emails?limit=20&offset=5&type=starred", "acct-1", "")
	if status != fiber.StatusOK {
		t.Fatalf("status = %d, body = %s", status, body)
	}

	got := decode(t, body)
	if got["total"].(float64) != 1 {
		t.Errorf("total = %v, want 1", got["total"])
	}
	emails := got["emails"].([]any)
	first := emails[0].(map[string]any)
	if first["subject"] != domain.DefaultSubject {
		t.Errorf("subject = %v, want default subject", first["subject"])
	}
	if first["date"] != "2026-01-02T03:04:05.000Z" {
		t.Errorf("date = %v", first["date"])
	}

	f := env.mail.lastFilter
	if f.AccountID != "acct-1" || f.Limit != 20 || f.Offset != 5 || f.Type != domain.ListStarred {
		t.Errorf("filter = %+v", f)
	}
}

func TestListEmailsDefaults(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "GET", "/api/v1/emails?limit=abc", "acct-1", "")

	f := env.mail.lastFilter
	if f.Limit != domain.DefaultListLimit || f.Offset != 0 || f.Type != domain.ListInbox {
		t.Errorf("filter = %+v", f)
	}
}

func TestGetEmail(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		account    string
		id         string
		wantStatus int
	}{
		{name: "own email", account: "acct-1", id: "m1", wantStatus: 200},
		{name: "other account's email", account: "acct-1", id: "m2", wantStatus: 404},
		{name: "missing", account: "acct-1", id: "nope", wantStatus: 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, "GET", "/api/v1/emails/"+tt.id, tt.account, "")
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", status, tt.wantStatus, body)
			}
			if status == 404 {
				got := decode(t, body)
				errInfo := got["error"].(map[string]any)
				if errInfo["code"] != apperr.CodeNotFound {
					t.Errorf("error code = %v", errInfo["code"])
				}
			}
		})
	}
}

func TestMarkAsRead(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, "PUT", "/api/v1/emails/m1/read", "acct-1", "")
	if status != 200 {
		t.Fatalf("status = %d, body = %s", status, body)
	}
	got := decode(t, body)
	email := got["email"].(map[string]any)
	if got["success"] != true || email["isRead"] != true {
		t.Errorf("response = %v", got)
	}
}

func TestDownloadAttachment(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, "GET", "/api/v1/emails/m1/attachments/att-1", "acct-1", "")
	if status != 404 {
		t.Errorf("no data: status = %d, want 404", status)
	}

	env.mail.attachment = &in.Attachment{Data: []byte("%PDF"), MimeType: "application/pdf", Filename: "r.pdf"}
	req := httptest.NewRequest("GET", "/api/v1/emails/m1/attachments/att-1", nil)
	token, _ := middleware.IssueToken(testSecret, "acct-1", time.Hour)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := env.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	if string(data) != "%PDF" {
		t.Errorf("body = %q", data)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, `filename="r.pdf"`) {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestStartSync(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, "POST", "/api/v1/emails/sync", "acct-1", "")
	got := decode(t, body)
	if status != 200 || got["message"] != "Email sync started" || got["inProgress"] != true {
		t.Errorf("first start: %d %v", status, got)
	}

	status, body = env.do(t, "POST", "/api/v1/emails/sync", "acct-1", "")
	got = decode(t, body)
	if status != 200 || got["message"] != "Sync already in progress" || got["inProgress"] != true {
		t.Errorf("second start: %d %v", status, got)
	}

	env.sync.err = apperr.NoCredential("acct-1")
	status, _ = env.do(t, "POST", "/api/v1/emails/sync", "acct-1", "")
	if status != 404 {
		t.Errorf("no credential: status = %d, want 404", status)
	}
}

func TestSyncStatus(t *testing.T) {
	env := newTestEnv(t)
	last := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	env.sync.status = domain.SyncStatusView{HasSynced: true, LastSyncAt: &last, TotalEmails: 42}

	status, body := env.do(t, "GET", "/api/v1/emails/sync/status", "acct-1", "")
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	got := decode(t, body)
	for _, key := range []string{"hasSynced", "inProgress", "lastSyncAt", "totalEmails", "lastError"} {
		if _, ok := got[key]; !ok {
			t.Errorf("missing key %q in %v", key, got)
		}
	}
	if got["totalEmails"].(float64) != 42 || got["lastError"] != nil {
		t.Errorf("status = %v", got)
	}
}

func TestOAuthRoutes(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, "GET", "/api/v1/oauth/connect", "acct-1", "")
	if status != 200 || !strings.Contains(decode(t, body)["authUrl"].(string), "state=acct-1") {
		t.Errorf("connect: %d %s", status, body)
	}

	env.oauth.connected = true
	_, body = env.do(t, "GET", "/api/v1/oauth/connect/status", "acct-1", "")
	if decode(t, body)["connected"] != true {
		t.Errorf("status body = %s", body)
	}

	status, _ = env.do(t, "POST", "/api/v1/oauth/verify", "acct-1", `{"code":"abc"}`)
	if status != 200 || env.oauth.verified != "acct-1:abc" {
		t.Errorf("verify: %d, verified = %q", status, env.oauth.verified)
	}

	status, _ = env.do(t, "POST", "/api/v1/oauth/verify", "acct-1", `{}`)
	if status != 400 {
		t.Errorf("verify without code: status = %d, want 400", status)
	}
}

func TestOAuthCallback(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		query      string
		err        error
		wantStatus int
		wantText   string
	}{
		{name: "success", query: "code=c&state=acct-1", wantStatus: 200, wantText: "Email sync has started"},
		{name: "provider error", query: "error=access_denied", wantStatus: 400, wantText: "access_denied"},
		{name: "missing code", query: "state=acct-1", wantStatus: 400, wantText: "Authorization code is required"},
		{name: "missing state", query: "code=c", wantStatus: 400, wantText: "Account id is required"},
		{name: "exchange failed", query: "code=c&state=acct-1", err: apperr.AuthExchange(errors.New("invalid_grant")), wantStatus: 400, wantText: "exchange failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.oauth.callbackErr = tt.err
			status, body := env.do(t, "GET", "/api/v1/oauth/callback?"+tt.query, "", "")
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if !strings.Contains(string(body), tt.wantText) {
				t.Errorf("body %q does not contain %q", body, tt.wantText)
			}
		})
	}
}

type fakeChecker struct{ err error }

func (f fakeChecker) Ping(ctx context.Context) error { return f.err }

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantStatus int
	}{
		{name: "all healthy", checks: map[string]HealthChecker{"postgres": fakeChecker{}, "redis": fakeChecker{}}, wantStatus: 200},
		{name: "redis not configured", checks: map[string]HealthChecker{"postgres": fakeChecker{}, "redis": nil}, wantStatus: 200},
		{name: "postgres down", checks: map[string]HealthChecker{"postgres": fakeChecker{err: errors.New("refused")}}, wantStatus: 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			NewHealthHandler(tt.checks).Register(app)

			resp, err := app.Test(httptest.NewRequest("GET", "/ready", nil), -1)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}
