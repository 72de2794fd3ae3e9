package mail

import (
	"context"
	"testing"
	"time"

	"mailmirror/core/domain"
	"mailmirror/pkg/apperr"
)

func seedEmails(repo *fakeEmailRepo) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	add := func(id string, offset int, labels []string, read, starred bool) {
		repo.emails[domain.EmailID("acct", id)] = &domain.Email{
			ID:        domain.EmailID("acct", id),
			AccountID: "acct",
			MessageID: id,
			Date:      base.Add(time.Duration(offset) * time.Hour),
			Labels:    labels,
			IsRead:    read,
			IsStarred: starred,
			Attachments: []domain.AttachmentMeta{
				{Filename: "a.pdf", MimeType: "application/pdf", AttachmentID: "att-pdf"},
				{Filename: "blob", AttachmentID: "att-blob"},
			},
		}
	}
	add("m1", 1, []string{"INBOX", "UNREAD"}, false, false)
	add("m2", 2, []string{"INBOX", "STARRED"}, true, true)
	add("m3", 3, []string{"SENT"}, true, false)
	add("m4", 4, []string{"SPAM", "UNREAD"}, false, false)
}

func TestListEmails(t *testing.T) {
	tests := []struct {
		name      string
		listType  domain.EmailListType
		wantIDs   []string
		wantTotal int
	}{
		{name: "inbox has no filter", listType: domain.ListInbox, wantIDs: []string{"m4", "m3", "m2", "m1"}, wantTotal: 4},
		{name: "unread", listType: domain.ListUnread, wantIDs: []string{"m4", "m1"}, wantTotal: 2},
		{name: "starred", listType: domain.ListStarred, wantIDs: []string{"m2"}, wantTotal: 1},
		{name: "sent uses label", listType: domain.ListSent, wantIDs: []string{"m3"}, wantTotal: 1},
		{name: "empty type defaults to inbox", listType: "", wantIDs: []string{"m4", "m3", "m2", "m1"}, wantTotal: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeEmailRepo()
			seedEmails(repo)
			svc := NewService(repo, newFakeProvider(), &fakeTokens{})

			page, err := svc.ListEmails(context.Background(), &domain.EmailFilter{AccountID: "acct", Type: tt.listType})
			if err != nil {
				t.Fatalf("ListEmails() error = %v", err)
			}
			if page.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", page.Total, tt.wantTotal)
			}
			if len(page.Emails) != len(tt.wantIDs) {
				t.Fatalf("len = %d, want %d", len(page.Emails), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if page.Emails[i].MessageID != id {
					t.Errorf("[%d] = %s, want %s", i, page.Emails[i].MessageID, id)
				}
			}
		})
	}
}

func TestListEmailsPaging(t *testing.T) {
	repo := newFakeEmailRepo()
	seedEmails(repo)
	svc := NewService(repo, newFakeProvider(), &fakeTokens{})

	page, err := svc.ListEmails(context.Background(), &domain.EmailFilter{AccountID: "acct", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListEmails() error = %v", err)
	}
	if page.Total != 4 || len(page.Emails) != 2 || page.Emails[0].MessageID != "m3" {
		t.Errorf("page = total %d, %d emails", page.Total, len(page.Emails))
	}
}

func TestListEmailsRejectsUnknownType(t *testing.T) {
	svc := NewService(newFakeEmailRepo(), newFakeProvider(), &fakeTokens{})
	_, err := svc.ListEmails(context.Background(), &domain.EmailFilter{AccountID: "acct", Type: "archive"})
	if !apperr.HasCode(err, apperr.CodeBadRequest) {
		t.Fatalf("error = %v, want %s", err, apperr.CodeBadRequest)
	}
}

func TestGetAndMarkRead(t *testing.T) {
	ctx := context.Background()
	repo := newFakeEmailRepo()
	seedEmails(repo)
	svc := NewService(repo, newFakeProvider(), &fakeTokens{})

	if _, err := svc.GetEmail(ctx, "acct", "missing"); !apperr.HasCode(err, apperr.CodeNotFound) {
		t.Errorf("GetEmail(missing) error = %v, want NOT_FOUND", err)
	}
	if _, err := svc.GetEmail(ctx, "other", "m1"); !apperr.HasCode(err, apperr.CodeNotFound) {
		t.Errorf("GetEmail(other account) error = %v, want NOT_FOUND", err)
	}

	for i := 0; i < 2; i++ {
		email, err := svc.MarkAsRead(ctx, "acct", "m1")
		if err != nil {
			t.Fatalf("MarkAsRead() error = %v", err)
		}
		if !email.IsRead {
			t.Error("IsRead = false after MarkAsRead")
		}
	}

	if _, err := svc.MarkAsRead(ctx, "acct", "missing"); !apperr.HasCode(err, apperr.CodeNotFound) {
		t.Errorf("MarkAsRead(missing) error = %v, want NOT_FOUND", err)
	}
}

func TestGetAttachment(t *testing.T) {
	ctx := context.Background()
	repo := newFakeEmailRepo()
	seedEmails(repo)
	provider := newFakeProvider()
	provider.attachments["m1/att-pdf"] = []byte("%PDF")
	provider.attachments["m1/att-blob"] = []byte{1, 2, 3}
	provider.attachments["m1/att-empty"] = []byte{}
	svc := NewService(repo, provider, &fakeTokens{})

	tests := []struct {
		name         string
		messageID    string
		attachmentID string
		wantMime     string
		wantCode     string
	}{
		{name: "stored mime type", messageID: "m1", attachmentID: "att-pdf", wantMime: "application/pdf"},
		{name: "missing mime type defaults", messageID: "m1", attachmentID: "att-blob", wantMime: domain.DefaultAttachmentMimeType},
		{name: "provider has no such attachment", messageID: "m1", attachmentID: "att-gone", wantCode: apperr.CodeNotFound},
		{name: "provider returns no data", messageID: "m1", attachmentID: "att-empty", wantCode: apperr.CodeNotFound},
		{name: "email not stored", messageID: "nope", attachmentID: "att-pdf", wantCode: apperr.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			att, err := svc.GetAttachment(ctx, "acct", tt.messageID, tt.attachmentID)
			if tt.wantCode != "" {
				if !apperr.HasCode(err, tt.wantCode) {
					t.Fatalf("error = %v, want %s", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetAttachment() error = %v", err)
			}
			if att.MimeType != tt.wantMime {
				t.Errorf("MimeType = %q, want %q", att.MimeType, tt.wantMime)
			}
			if len(att.Data) == 0 {
				t.Error("empty data")
			}
		})
	}
}
