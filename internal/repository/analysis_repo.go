package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailtriage/internal/model"
	"mailtriage/pkg/outbox"
)

type AnalysisRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
}

// NewAnalysisRepository 创建仓库；outboxRepo 为 nil 时不写事件
func NewAnalysisRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository) *AnalysisRepository {
	return &AnalysisRepository{db: db, outbox: outboxRepo}
}

const analysisColumns = `id, email_id, category, summary, action_items, response_draft, suggestions,
               analyzed_at, created_at, updated_at`

func scanAnalysis(row pgx.Row) (*model.EmailAnalysis, error) {
	var (
		a           model.EmailAnalysis
		actionItems []byte
		suggestions []byte
	)
	err := row.Scan(
		&a.ID,
		&a.EmailID,
		&a.Category,
		&a.Summary,
		&actionItems,
		&a.ResponseDraft,
		&suggestions,
		&a.AnalyzedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeJSONColumns(&a, actionItems, suggestions); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AnalysisRepository) GetAnalysis(ctx context.Context, emailID int) (*model.EmailAnalysis, error) {
	a, err := scanAnalysis(r.db.QueryRow(ctx, `
        SELECT `+analysisColumns+`
        FROM email_analyses
        WHERE email_id = $1
    `, emailID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("analysis of email %d: %w", emailID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get analysis of email %d: %w", emailID, err)
	}
	return a, nil
}

// CreateAnalysis inserts a new row. It returns ErrDuplicate when the email already has one,
// so callers can fall back to PatchAnalysis.
func (r *AnalysisRepository) CreateAnalysis(ctx context.Context, a *model.EmailAnalysis) error {
	actionItems, suggestions, err := encodeJSONColumns(a.ActionItems, a.Suggestions)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
            INSERT INTO email_analyses
                (email_id, category, summary, action_items, response_draft, suggestions, analyzed_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
            RETURNING id, created_at, updated_at
        `, a.EmailID, a.Category, a.Summary, actionItems, a.ResponseDraft, suggestions, a.AnalyzedAt,
		).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return err
		}

		if a.AnalyzedAt == nil {
			return nil
		}
		return r.publishAnalyzed(ctx, tx, *a)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("analysis of email %d: %w", a.EmailID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create analysis: %w", err)
	}
	return nil
}

// PatchAnalysis updates only the fields set in patch. ErrNotFound when the row does not exist.
func (r *AnalysisRepository) PatchAnalysis(ctx context.Context, emailID int, patch model.AnalysisPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Category != nil {
		set("category", *patch.Category)
	}
	if patch.Summary != nil {
		set("summary", *patch.Summary)
	}
	if patch.ActionItems != nil {
		raw, err := json.Marshal(nonNilItems(*patch.ActionItems))
		if err != nil {
			return fmt.Errorf("failed to encode action items: %w", err)
		}
		set("action_items", raw)
	}
	if patch.ResponseDraft != nil {
		set("response_draft", *patch.ResponseDraft)
	}
	if patch.Suggestions != nil {
		raw, err := json.Marshal(*patch.Suggestions)
		if err != nil {
			return fmt.Errorf("failed to encode suggestions: %w", err)
		}
		set("suggestions", raw)
	}
	if patch.AnalyzedAt != nil {
		set("analyzed_at", *patch.AnalyzedAt)
	}

	args = append(args, emailID)
	query := fmt.Sprintf(`
        UPDATE email_analyses
        SET %s, updated_at = NOW()
        WHERE email_id = $%d
        RETURNING `+analysisColumns, strings.Join(sets, ", "), len(args))

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		updated, err := scanAnalysis(tx.QueryRow(ctx, query, args...))
		if err != nil {
			return err
		}
		if patch.AnalyzedAt == nil {
			return nil
		}
		return r.publishAnalyzed(ctx, tx, *updated)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("analysis of email %d: %w", emailID, ErrNotFound)
		}
		return fmt.Errorf("failed to patch analysis of email %d: %w", emailID, err)
	}
	return nil
}

// DeleteAllAnalyses clears every analysis row and returns how many were removed.
func (r *AnalysisRepository) DeleteAllAnalyses(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM email_analyses`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete analyses: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *AnalysisRepository) publishAnalyzed(ctx context.Context, tx pgx.Tx, a model.EmailAnalysis) error {
	aggregateID := int64(a.EmailID)
	return publishInTx(ctx, tx, r.outbox, "email", &aggregateID, RoutingKeyEmailAnalyzed, EmailAnalyzedEvent{
		EmailID:     a.EmailID,
		Category:    a.Category,
		ActionItems: len(a.ActionItems),
		AnalyzedAt:  deref(a.AnalyzedAt),
		TraceID:     traceID(ctx),
	})
}

func encodeJSONColumns(items []model.ActionItem, suggestions []string) ([]byte, []byte, error) {
	rawItems, err := json.Marshal(nonNilItems(items))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode action items: %w", err)
	}
	if suggestions == nil {
		return rawItems, nil, nil
	}
	rawSuggestions, err := json.Marshal(suggestions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode suggestions: %w", err)
	}
	return rawItems, rawSuggestions, nil
}

func nonNilItems(items []model.ActionItem) []model.ActionItem {
	if items == nil {
		return []model.ActionItem{}
	}
	return items
}
