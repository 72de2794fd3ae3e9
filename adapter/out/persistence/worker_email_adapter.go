package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mailmirror/core/domain"
	"mailmirror/core/port/out"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// =============================================================================
// Email Adapter (PostgreSQL)
// =============================================================================

// EmailAdapter implements out.EmailRepository using PostgreSQL.
type EmailAdapter struct {
	db *sqlx.DB
}

var _ out.EmailRepository = (*EmailAdapter)(nil)

// NewEmailAdapter creates a new EmailAdapter.
func NewEmailAdapter(db *sqlx.DB) *EmailAdapter {
	return &EmailAdapter{db: db}
}

// =============================================================================
// Database Row Mapping
// =============================================================================

const emailSelectColumns = `
	id, user_id, gmail_message_id, thread_id, subject, from_email, from_name,
	to_email, cc, bcc, snippet, body_text, body_html, date,
	is_read, is_starred, label_ids, attachments, updated_at`

type emailRow struct {
	ID          string         `db:"id"`
	AccountID   string         `db:"user_id"`
	MessageID   string         `db:"gmail_message_id"`
	ThreadID    sql.NullString `db:"thread_id"`
	Subject     string         `db:"subject"`
	FromEmail   sql.NullString `db:"from_email"`
	FromName    sql.NullString `db:"from_name"`
	ToEmail     sql.NullString `db:"to_email"`
	Cc          sql.NullString `db:"cc"`
	Bcc         sql.NullString `db:"bcc"`
	Snippet     sql.NullString `db:"snippet"`
	BodyText    sql.NullString `db:"body_text"`
	BodyHTML    sql.NullString `db:"body_html"`
	Date        time.Time      `db:"date"`
	IsRead      bool           `db:"is_read"`
	IsStarred   bool           `db:"is_starred"`
	LabelIDs    pq.StringArray `db:"label_ids"`
	Attachments []byte         `db:"attachments"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// emailRowWithCount carries the COUNT(*) OVER() window result.
type emailRowWithCount struct {
	emailRow
	TotalCount int `db:"total_count"`
}

func (r *emailRow) toDomain() (*domain.Email, error) {
	email := &domain.Email{
		ID:          r.ID,
		AccountID:   r.AccountID,
		MessageID:   r.MessageID,
		ThreadID:    r.ThreadID.String,
		Subject:     r.Subject,
		From:        r.FromEmail.String,
		FromName:    r.FromName.String,
		To:          r.ToEmail.String,
		Cc:          r.Cc.String,
		Bcc:         r.Bcc.String,
		Snippet:     r.Snippet.String,
		BodyText:    r.BodyText.String,
		BodyHTML:    r.BodyHTML.String,
		Date:        r.Date,
		IsRead:      r.IsRead,
		IsStarred:   r.IsStarred,
		Labels:      []string(r.LabelIDs),
		Attachments: []domain.AttachmentMeta{},
		UpdatedAt:   r.UpdatedAt,
	}
	if email.Labels == nil {
		email.Labels = []string{}
	}
	if len(r.Attachments) > 0 {
		if err := json.Unmarshal(r.Attachments, &email.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments of %s: %w", r.ID, err)
		}
	}
	return email, nil
}

// =============================================================================
// Write Operations
// =============================================================================

// Upsert inserts or overwrites the message keyed by its composite id.
func (a *EmailAdapter) Upsert(ctx context.Context, email *domain.Email) error {
	if email == nil || email.AccountID == "" || email.MessageID == "" {
		return ErrInvalidInput
	}
	if email.ID == "" {
		email.ID = domain.EmailID(email.AccountID, email.MessageID)
	}

	attachments := email.Attachments
	if attachments == nil {
		attachments = []domain.AttachmentMeta{}
	}
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	labels := email.Labels
	if labels == nil {
		labels = []string{}
	}

	query := `
		INSERT INTO emails (
			id, user_id, gmail_message_id, thread_id, subject, from_email, from_name,
			to_email, cc, bcc, snippet, body_text, body_html, date,
			is_read, is_starred, label_ids, attachments, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, now())
		ON CONFLICT (id) DO UPDATE SET
			thread_id   = EXCLUDED.thread_id,
			subject     = EXCLUDED.subject,
			from_email  = EXCLUDED.from_email,
			from_name   = EXCLUDED.from_name,
			to_email    = EXCLUDED.to_email,
			cc          = EXCLUDED.cc,
			bcc         = EXCLUDED.bcc,
			snippet     = EXCLUDED.snippet,
			body_text   = EXCLUDED.body_text,
			body_html   = EXCLUDED.body_html,
			date        = EXCLUDED.date,
			is_read     = EXCLUDED.is_read,
			is_starred  = EXCLUDED.is_starred,
			label_ids   = EXCLUDED.label_ids,
			attachments = EXCLUDED.attachments,
			updated_at  = now()`

	_, err = a.db.ExecContext(ctx, query,
		email.ID, email.AccountID, email.MessageID, nullStr(email.ThreadID), email.Subject,
		nullStr(email.From), nullStr(email.FromName), nullStr(email.To), nullStr(email.Cc), nullStr(email.Bcc),
		nullStr(email.Snippet), nullStr(email.BodyText), nullStr(email.BodyHTML), email.Date,
		email.IsRead, email.IsStarred, pq.Array(labels), attachmentsJSON,
	)
	return err
}

// MarkRead sets is_read and returns the updated row.
func (a *EmailAdapter) MarkRead(ctx context.Context, accountID, messageID string) (*domain.Email, error) {
	query := `
		UPDATE emails SET is_read = true, updated_at = now()
		WHERE id = $1
		RETURNING ` + emailSelectColumns

	var row emailRow
	if err := a.db.GetContext(ctx, &row, query, domain.EmailID(accountID, messageID)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toDomain()
}

// =============================================================================
// Read Operations
// =============================================================================

func (a *EmailAdapter) Get(ctx context.Context, accountID, messageID string) (*domain.Email, error) {
	query := `SELECT ` + emailSelectColumns + ` FROM emails WHERE id = $1`

	var row emailRow
	if err := a.db.GetContext(ctx, &row, query, domain.EmailID(accountID, messageID)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toDomain()
}

// List returns one page plus the total match count in a single round trip.
func (a *EmailAdapter) List(ctx context.Context, filter *domain.EmailFilter) (*domain.EmailPage, error) {
	if filter == nil {
		return nil, ErrInvalidInput
	}
	f := *filter
	f.Normalize()

	query, args := buildListQuery(&f)
	rows, err := a.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &domain.EmailPage{Emails: []*domain.Email{}}
	for rows.Next() {
		var row emailRowWithCount
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		email, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		page.Emails = append(page.Emails, email)
		page.Total = row.TotalCount
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// An offset past the end yields no rows and therefore no window count.
	if len(page.Emails) == 0 && f.Offset > 0 {
		total, err := a.count(ctx, &f)
		if err != nil {
			return nil, err
		}
		page.Total = total
	}
	return page, nil
}

func (a *EmailAdapter) count(ctx context.Context, f *domain.EmailFilter) (int, error) {
	where, args := buildListWhere(f)
	var total int
	err := a.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM emails WHERE `+where, args...)
	return total, err
}

// =============================================================================
// Query Building
// =============================================================================

func buildListWhere(f *domain.EmailFilter) (string, []interface{}) {
	conditions := []string{"user_id = $1"}
	args := []interface{}{f.AccountID}
	argIdx := 2

	switch f.Type {
	case domain.ListUnread:
		conditions = append(conditions, "is_read = false")
	case domain.ListStarred:
		conditions = append(conditions, "is_starred = true")
	default:
		if label := f.Type.Label(); label != "" {
			conditions = append(conditions, fmt.Sprintf("$%d = ANY(label_ids)", argIdx))
			args = append(args, label)
			argIdx++
		}
	}

	return strings.Join(conditions, " AND "), args
}

// buildListQuery expects a normalized filter.
func buildListQuery(f *domain.EmailFilter) (string, []interface{}) {
	where, args := buildListWhere(f)
	argIdx := len(args) + 1

	query := fmt.Sprintf(`
		SELECT %s, COUNT(*) OVER() AS total_count
		FROM emails
		WHERE %s
		ORDER BY date DESC
		LIMIT $%d OFFSET $%d`,
		emailSelectColumns, where, argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset)

	return query, args
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
