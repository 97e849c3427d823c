package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailtriage/internal/model"
)

type EmailRepository struct {
	db *pgxpool.Pool
}

func NewEmailRepository(db *pgxpool.Pool) *EmailRepository {
	return &EmailRepository{db: db}
}

const emailWithAnalysisColumns = `
            e.id,
            e.sender,
            e.subject,
            e.body,
            e.received_at,
            a.id,
            a.category,
            a.summary,
            a.action_items,
            a.response_draft,
            a.suggestions,
            a.analyzed_at,
            a.created_at,
            a.updated_at`

// scanEmailWithAnalysis scans one row of emails LEFT JOIN email_analyses.
func scanEmailWithAnalysis(row pgx.Row) (*model.Email, error) {
	var (
		e           model.Email
		analysisID  *int
		category    *string
		summary     *string
		actionItems []byte
		draft       *string
		suggestions []byte
		analyzedAt  *time.Time
		createdAt   *time.Time
		updatedAt   *time.Time
	)

	err := row.Scan(
		&e.ID,
		&e.From,
		&e.Subject,
		&e.Body,
		&e.ReceivedAt,
		&analysisID,
		&category,
		&summary,
		&actionItems,
		&draft,
		&suggestions,
		&analyzedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if analysisID == nil {
		return &e, nil
	}

	a := &model.EmailAnalysis{
		ID:            *analysisID,
		EmailID:       e.ID,
		Category:      deref(category),
		Summary:       deref(summary),
		ResponseDraft: draft,
		AnalyzedAt:    analyzedAt,
		CreatedAt:     deref(createdAt),
		UpdatedAt:     deref(updatedAt),
	}
	if err := decodeJSONColumns(a, actionItems, suggestions); err != nil {
		return nil, err
	}
	e.Analysis = a
	return &e, nil
}

func decodeJSONColumns(a *model.EmailAnalysis, actionItems, suggestions []byte) error {
	a.ActionItems = []model.ActionItem{}
	if len(actionItems) > 0 {
		if err := json.Unmarshal(actionItems, &a.ActionItems); err != nil {
			return fmt.Errorf("failed to decode action_items of email %d: %w", a.EmailID, err)
		}
	}
	if len(suggestions) > 0 {
		if err := json.Unmarshal(suggestions, &a.Suggestions); err != nil {
			return fmt.Errorf("failed to decode suggestions of email %d: %w", a.EmailID, err)
		}
	}
	return nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (r *EmailRepository) queryEmails(ctx context.Context, query string, args ...any) ([]model.Email, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query emails: %w", err)
	}
	defer rows.Close()

	emails := []model.Email{}
	for rows.Next() {
		e, err := scanEmailWithAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		emails = append(emails, *e)
	}
	return emails, rows.Err()
}

// ListEmails returns every email with its analysis, newest first.
func (r *EmailRepository) ListEmails(ctx context.Context) ([]model.Email, error) {
	return r.queryEmails(ctx, `
        SELECT `+emailWithAnalysisColumns+`
        FROM emails e
        LEFT JOIN email_analyses a ON a.email_id = e.id
        ORDER BY e.received_at DESC, e.id DESC
    `)
}

// ListUnanalyzed returns up to limit emails that have no analysis row or only a partial one,
// in storage order.
func (r *EmailRepository) ListUnanalyzed(ctx context.Context, limit int) ([]model.Email, error) {
	return r.queryEmails(ctx, `
        SELECT `+emailWithAnalysisColumns+`
        FROM emails e
        LEFT JOIN email_analyses a ON a.email_id = e.id
        WHERE a.id IS NULL OR a.analyzed_at IS NULL
        ORDER BY e.id ASC
        LIMIT $1
    `, limit)
}

func (r *EmailRepository) GetEmail(ctx context.Context, id int) (*model.Email, error) {
	e, err := scanEmailWithAnalysis(r.db.QueryRow(ctx, `
        SELECT `+emailWithAnalysisColumns+`
        FROM emails e
        LEFT JOIN email_analyses a ON a.email_id = e.id
        WHERE e.id = $1
    `, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("email %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get email %d: %w", id, err)
	}
	return e, nil
}

// CreateEmail inserts e and sets its ID. A zero ReceivedAt means now.
func (r *EmailRepository) CreateEmail(ctx context.Context, e *model.Email) error {
	var receivedAt *time.Time
	if !e.ReceivedAt.IsZero() {
		receivedAt = &e.ReceivedAt
	}

	err := r.db.QueryRow(ctx, `
        INSERT INTO emails (sender, subject, body, received_at)
        VALUES ($1, $2, $3, COALESCE($4, NOW()))
        RETURNING id, received_at
    `, e.From, e.Subject, e.Body, receivedAt).Scan(&e.ID, &e.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to create email: %w", err)
	}
	return nil
}

// DeleteAllEmails removes every email and, by cascade, every analysis. Ids restart at 1.
func (r *EmailRepository) DeleteAllEmails(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `TRUNCATE emails RESTART IDENTITY CASCADE`); err != nil {
		return fmt.Errorf("failed to delete emails: %w", err)
	}
	return nil
}
