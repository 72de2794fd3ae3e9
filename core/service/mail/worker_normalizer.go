package mail

import (
	"encoding/base64"
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"mailmirror/core/domain"
)

// =============================================================================
// MessageNormalizer
// =============================================================================

// ErrEmptyMessage is returned for a provider message without an id.
var ErrEmptyMessage = errors.New("provider message has no id")

// fromPattern splits `Display Name <addr>`; the second branch takes a bare value.
var fromPattern = regexp.MustCompile(`^(.+?)\s*<(.+?)>$|^(.+?)$`)

// HeaderFields holds the headers a stored message keeps.
type HeaderFields struct {
	Subject  string
	From     string
	FromName string
	To       string
	Cc       string
	Bcc      string
	Date     time.Time
	// DateValid is false when the Date header was missing or unparseable.
	DateValid bool
}

// ExtractHeaders reads the headers case-insensitively. The last occurrence
// of a repeated header wins.
func ExtractHeaders(headers []domain.MessageHeader) HeaderFields {
	var h HeaderFields
	for _, header := range headers {
		value := header.Value
		switch strings.ToLower(header.Name) {
		case "subject":
			h.Subject = value
		case "from":
			h.From, h.FromName = splitFrom(value)
		case "to":
			h.To = value
		case "cc":
			h.Cc = value
		case "bcc":
			h.Bcc = value
		case "date":
			if t, err := mail.ParseDate(strings.TrimSpace(value)); err == nil {
				h.Date, h.DateValid = t, true
			} else {
				h.Date, h.DateValid = time.Time{}, false
			}
		}
	}
	return h
}

// splitFrom returns (address, display name). A value without an angle
// bracket address is the address; a bare name is also the display name.
func splitFrom(value string) (string, string) {
	m := fromPattern.FindStringSubmatch(value)
	if m == nil {
		return value, ""
	}
	if m[2] != "" {
		return strings.TrimSpace(m[2]), strings.TrimSpace(m[1])
	}
	bare := strings.TrimSpace(m[3])
	if strings.Contains(bare, "@") {
		return bare, ""
	}
	return bare, bare
}

// ParseBody walks the MIME tree depth-first. For each of text/plain and
// text/html the last part carrying data wins.
func ParseBody(payload *domain.MessagePart) (text, html string) {
	var walk func(p *domain.MessagePart)
	walk = func(p *domain.MessagePart) {
		if p == nil {
			return
		}
		if p.Body.Data != "" {
			switch p.MimeType {
			case "text/plain":
				if data, err := decodeBase64URL(p.Body.Data); err == nil {
					text = string(data)
				}
			case "text/html":
				if data, err := decodeBase64URL(p.Body.Data); err == nil {
					html = string(data)
				}
			}
		}
		for _, child := range p.Parts {
			walk(child)
		}
	}
	walk(payload)
	return text, html
}

// ExtractAttachments collects every part that has both a filename and an
// attachment id, in depth-first order.
func ExtractAttachments(payload *domain.MessagePart) []domain.AttachmentMeta {
	attachments := []domain.AttachmentMeta{}
	var walk func(p *domain.MessagePart)
	walk = func(p *domain.MessagePart) {
		if p == nil {
			return
		}
		if p.Filename != "" && p.Body.AttachmentID != "" {
			attachments = append(attachments, domain.AttachmentMeta{
				Filename:     p.Filename,
				MimeType:     p.MimeType,
				AttachmentID: p.Body.AttachmentID,
				Size:         p.Body.Size,
				ContentID:    contentID(p.Headers),
			})
		}
		for _, child := range p.Parts {
			walk(child)
		}
	}
	walk(payload)
	return attachments
}

var angleStripper = strings.NewReplacer("<", "", ">", "")

func contentID(headers []domain.MessageHeader) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, "Content-ID") {
			return angleStripper.Replace(h.Value)
		}
	}
	return ""
}

// decodeBase64URL accepts the provider's URL-safe alphabet with or without
// padding.
func decodeBase64URL(data string) ([]byte, error) {
	s := strings.NewReplacer("-", "+", "_", "/").Replace(data)
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return base64.StdEncoding.DecodeString(s)
}

// Normalizer maps provider messages to stored records.
type Normalizer struct {
	now func() time.Time
}

func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// Normalize builds the stored record. When the Date header is unusable the
// provider receive time is used, then the current time.
func (n *Normalizer) Normalize(accountID string, msg *domain.RawMessage) (*domain.Email, error) {
	if msg == nil || msg.ID == "" {
		return nil, ErrEmptyMessage
	}

	var headers []domain.MessageHeader
	if msg.Payload != nil {
		headers = msg.Payload.Headers
	}
	h := ExtractHeaders(headers)
	text, html := ParseBody(msg.Payload)

	now := n.now().UTC()
	date := h.Date
	if !h.DateValid {
		if msg.InternalDate > 0 {
			date = time.UnixMilli(msg.InternalDate)
		} else {
			date = now
		}
	}

	subject := h.Subject
	if subject == "" {
		subject = domain.DefaultSubject
	}

	labels := msg.LabelIDs
	if labels == nil {
		labels = []string{}
	}

	email := &domain.Email{
		ID:          domain.EmailID(accountID, msg.ID),
		AccountID:   accountID,
		MessageID:   msg.ID,
		ThreadID:    msg.ThreadID,
		Subject:     subject,
		From:        h.From,
		FromName:    h.FromName,
		To:          h.To,
		Cc:          h.Cc,
		Bcc:         h.Bcc,
		Snippet:     msg.Snippet,
		BodyText:    text,
		BodyHTML:    html,
		Date:        date.UTC(),
		Labels:      labels,
		Attachments: ExtractAttachments(msg.Payload),
		UpdatedAt:   now,
	}
	email.IsRead = !email.HasLabel(domain.LabelUnread)
	email.IsStarred = email.HasLabel(domain.LabelStarred)
	return email, nil
}
