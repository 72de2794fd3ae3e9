package mail

import (
	"encoding/base64"
	"testing"
	"time"

	"mailmirror/core/domain"
)

func b64url(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestExtractHeadersFrom(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		wantFrom string
		wantName string
	}{
		{name: "display name and address", value: "Ann Lee <ann@example.com>", wantFrom: "ann@example.com", wantName: "Ann Lee"},
		{name: "quoted display name keeps quotes", value: `"Lee, Ann" <ann@example.com>`, wantFrom: "ann@example.com", wantName: `"Lee, Ann"`},
		{name: "bare address has no display name", value: "jane@x.com", wantFrom: "jane@x.com", wantName: ""},
		{name: "bare name is used for both", value: "Mailer Daemon", wantFrom: "Mailer Daemon", wantName: "Mailer Daemon"},
		{name: "no space before bracket", value: "Ann<ann@example.com>", wantFrom: "ann@example.com", wantName: "Ann"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := ExtractHeaders([]domain.MessageHeader{{Name: "From", Value: tt.value}})
			if h.From != tt.wantFrom {
				t.Errorf("From = %q, want %q", h.From, tt.wantFrom)
			}
			if h.FromName != tt.wantName {
				t.Errorf("FromName = %q, want %q", h.FromName, tt.wantName)
			}
		})
	}
}

func TestExtractHeadersCaseInsensitive(t *testing.T) {
	h := ExtractHeaders([]domain.MessageHeader{
		{Name: "SUBJECT", Value: "Hello"},
		{Name: "to", Value: "bob@example.com"},
		{Name: "Cc", Value: "carol@example.com"},
		{Name: "bcc", Value: "dan@example.com"},
		{Name: "date", Value: "Mon, 02 Jan 2006 15:04:05 -0700"},
	})

	if h.Subject != "Hello" || h.To != "bob@example.com" || h.Cc != "carol@example.com" || h.Bcc != "dan@example.com" {
		t.Errorf("unexpected headers: %+v", h)
	}
	if !h.DateValid {
		t.Fatal("DateValid = false, want true")
	}
	want := time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)
	if !h.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", h.Date, want)
	}
}

func TestExtractHeadersInvalidDate(t *testing.T) {
	h := ExtractHeaders([]domain.MessageHeader{{Name: "Date", Value: "not a date"}})
	if h.DateValid {
		t.Errorf("DateValid = true for unparseable date")
	}
}

func TestParseBodyLastLeafWins(t *testing.T) {
	payload := &domain.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*domain.MessagePart{
			{
				MimeType: "multipart/alternative",
				Parts: []*domain.MessagePart{
					{MimeType: "text/plain", Body: domain.PartBody{Data: b64url("first plain")}},
					{MimeType: "text/html", Body: domain.PartBody{Data: b64url("<p>first</p>")}},
				},
			},
			{MimeType: "text/plain", Body: domain.PartBody{Data: b64url("second plain")}},
			{MimeType: "text/plain"},
		},
	}

	text, html := ParseBody(payload)
	if text != "second plain" {
		t.Errorf("text = %q, want %q", text, "second plain")
	}
	if html != "<p>first</p>" {
		t.Errorf("html = %q, want %q", html, "<p>first</p>")
	}
}

func TestParseBodySinglePart(t *testing.T) {
	// "subjects?" encodes with both URL-safe characters and needs padding.
	body := "subjects?>>"
	payload := &domain.MessagePart{MimeType: "text/plain", Body: domain.PartBody{Data: base64.URLEncoding.EncodeToString([]byte(body))}}

	text, html := ParseBody(payload)
	if text != body || html != "" {
		t.Errorf("ParseBody() = (%q, %q)", text, html)
	}
}

func TestDecodeBase64URL(t *testing.T) {
	for _, s := range []string{"", "a", "ab", "abc", "?>?>", "héllo wörld"} {
		got, err := decodeBase64URL(base64.RawURLEncoding.EncodeToString([]byte(s)))
		if err != nil {
			t.Fatalf("decodeBase64URL(%q) error = %v", s, err)
		}
		if string(got) != s {
			t.Errorf("decodeBase64URL() = %q, want %q", got, s)
		}
	}
}

func TestExtractAttachments(t *testing.T) {
	payload := &domain.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*domain.MessagePart{
			{MimeType: "text/plain", Body: domain.PartBody{Data: b64url("hi")}},
			{
				MimeType: "multipart/related",
				Parts: []*domain.MessagePart{
					{
						MimeType: "image/png",
						Filename: "logo.png",
						Headers:  []domain.MessageHeader{{Name: "content-id", Value: "<logo@x>"}},
						Body:     domain.PartBody{AttachmentID: "att-1", Size: 120},
					},
				},
			},
			{MimeType: "application/pdf", Filename: "report.pdf", Body: domain.PartBody{AttachmentID: "att-2", Size: 4096}},
			{MimeType: "application/pdf", Filename: "no-id.pdf"},
		},
	}

	got := ExtractAttachments(payload)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	if got[0].AttachmentID != "att-1" || got[0].ContentID != "logo@x" || got[0].Size != 120 {
		t.Errorf("first attachment = %+v", got[0])
	}
	if got[1].Filename != "report.pdf" || got[1].ContentID != "" {
		t.Errorf("second attachment = %+v", got[1])
	}
}

func TestNormalize(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	n := &Normalizer{now: func() time.Time { return now }}

	tests := []struct {
		name        string
		msg         *domain.RawMessage
		wantSubject string
		wantRead    bool
		wantStarred bool
		wantDate    time.Time
		wantErr     bool
	}{
		{
			name: "unread starred message",
			msg: &domain.RawMessage{
				ID:       "m1",
				ThreadID: "t1",
				LabelIDs: []string{"INBOX", "UNREAD", "STARRED"},
				Payload: &domain.MessagePart{Headers: []domain.MessageHeader{
					{Name: "Subject", Value: "Quarterly"},
					{Name: "Date", Value: "Tue, 03 Feb 2026 10:00:00 +0000"},
				}},
			},
			wantSubject: "Quarterly",
			wantStarred: true,
			wantDate:    time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "empty subject and bad date fall back",
			msg: &domain.RawMessage{
				ID:           "m2",
				LabelIDs:     []string{"SENT"},
				InternalDate: time.Date(2025, 12, 25, 8, 0, 0, 0, time.UTC).UnixMilli(),
				Payload:      &domain.MessagePart{Headers: []domain.MessageHeader{{Name: "Date", Value: "garbage"}}},
			},
			wantSubject: domain.DefaultSubject,
			wantRead:    true,
			wantDate:    time.Date(2025, 12, 25, 8, 0, 0, 0, time.UTC),
		},
		{
			name:        "no payload uses current time",
			msg:         &domain.RawMessage{ID: "m3"},
			wantSubject: domain.DefaultSubject,
			wantRead:    true,
			wantDate:    now,
		},
		{
			name:    "missing id",
			msg:     &domain.RawMessage{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email, err := n.Normalize("acct", tt.msg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Normalize() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if email.ID != "acct_"+tt.msg.ID {
				t.Errorf("ID = %q", email.ID)
			}
			if email.Subject != tt.wantSubject {
				t.Errorf("Subject = %q, want %q", email.Subject, tt.wantSubject)
			}
			if email.IsRead != tt.wantRead {
				t.Errorf("IsRead = %v, want %v", email.IsRead, tt.wantRead)
			}
			if email.IsStarred != tt.wantStarred {
				t.Errorf("IsStarred = %v, want %v", email.IsStarred, tt.wantStarred)
			}
			if !email.Date.Equal(tt.wantDate) {
				t.Errorf("Date = %v, want %v", email.Date, tt.wantDate)
			}
			if email.Labels == nil || email.Attachments == nil {
				t.Error("Labels and Attachments must be non-nil")
			}
		})
	}
}
