package domain

import (
	"fmt"
	"time"
)

// DefaultSubject replaces an empty Subject header.
const DefaultSubject = "(No Subject)"

// DefaultAttachmentMimeType is served when the stored metadata lacks one.
const DefaultAttachmentMimeType = "application/octet-stream"

// Email is the normalized, store-ready form of one provider message.
// (AccountID, MessageID) is the natural key; ID renders it as a single string.
type Email struct {
	ID          string           `json:"id"`
	AccountID   string           `json:"user_id"`
	MessageID   string           `json:"gmail_message_id"`
	ThreadID    string           `json:"thread_id"`
	Subject     string           `json:"subject"`
	From        string           `json:"from_email"`
	FromName    string           `json:"from_name"`
	To          string           `json:"to_email"`
	Cc          string           `json:"cc,omitempty"`
	Bcc         string           `json:"bcc,omitempty"`
	Snippet     string           `json:"snippet"`
	BodyText    string           `json:"body_text"`
	BodyHTML    string           `json:"body_html"`
	Date        time.Time        `json:"date"`
	IsRead      bool             `json:"is_read"`
	IsStarred   bool             `json:"is_starred"`
	Labels      []string         `json:"label_ids"`
	Attachments []AttachmentMeta `json:"attachments"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// EmailID renders the composite key of a stored message.
func EmailID(accountID, messageID string) string {
	return fmt.Sprintf("%s_%s", accountID, messageID)
}

// HasLabel reports whether the message carries the provider label.
func (e *Email) HasLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Attachment returns the metadata for a provider attachment id.
func (e *Email) Attachment(attachmentID string) (AttachmentMeta, bool) {
	for _, a := range e.Attachments {
		if a.AttachmentID == attachmentID {
			return a, true
		}
	}
	return AttachmentMeta{}, false
}

// AttachmentMeta describes one attachment part. Bytes are fetched live.
type AttachmentMeta struct {
	Filename     string `json:"filename"`
	MimeType     string `json:"mimeType"`
	AttachmentID string `json:"attachmentId"`
	Size         int64  `json:"size"`
	ContentID    string `json:"contentId,omitempty"`
}

// =============================================================================
// Provider message tree
// =============================================================================

// RawMessage is a provider message before normalization.
type RawMessage struct {
	ID       string
	ThreadID string
	LabelIDs []string
	Snippet  string
	// InternalDate is the provider receive time in epoch milliseconds.
	InternalDate int64
	Payload      *MessagePart
}

// MessagePart is one node of the MIME tree.
type MessagePart struct {
	MimeType string
	Filename string
	Headers  []MessageHeader
	Body     PartBody
	Parts    []*MessagePart
}

// PartBody carries either inline base64url data or an attachment reference.
type PartBody struct {
	AttachmentID string
	Data         string
	Size         int64
}

type MessageHeader struct {
	Name  string
	Value string
}

// =============================================================================
// Read-side queries
// =============================================================================

// EmailListType selects the list filter.
type EmailListType string

const (
	ListInbox   EmailListType = "inbox"
	ListUnread  EmailListType = "unread"
	ListStarred EmailListType = "starred"
	ListSent    EmailListType = "sent"
	ListDraft   EmailListType = "draft"
	ListTrash   EmailListType = "trash"
	ListSpam    EmailListType = "spam"
)

// Label returns the provider label that backs a label-contains filter, or ""
// when the type is served by a boolean column or needs no filter.
func (t EmailListType) Label() string {
	switch t {
	case ListSent:
		return LabelSent
	case ListDraft:
		return LabelDraft
	case ListTrash:
		return LabelTrash
	case ListSpam:
		return LabelSpam
	default:
		return ""
	}
}

// Valid reports whether t is a known list type.
func (t EmailListType) Valid() bool {
	switch t {
	case ListInbox, ListUnread, ListStarred, ListSent, ListDraft, ListTrash, ListSpam:
		return true
	}
	return false
}

const (
	DefaultListLimit = 500
	MaxListLimit     = 500
)

// EmailFilter is the list query of the read facade.
type EmailFilter struct {
	AccountID string
	Type      EmailListType
	Limit     int
	Offset    int
}

// Normalize clamps paging values and defaults the type.
func (f *EmailFilter) Normalize() {
	if f.Type == "" || !f.Type.Valid() {
		f.Type = ListInbox
	}
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// EmailPage is one page of a list query plus the total matching count.
type EmailPage struct {
	Emails []*Email `json:"emails"`
	Total  int      `json:"total"`
}
