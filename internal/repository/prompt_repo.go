package repository

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"mailtriage/internal/model"
	"mailtriage/pkg/outbox"
)

type PromptRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
}

func NewPromptRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository) *PromptRepository {
	return &PromptRepository{db: db, outbox: outboxRepo}
}

func (r *PromptRepository) ListPrompts(ctx context.Context) ([]model.Prompt, error) {
	rows, err := r.db.Query(ctx, `
        SELECT type, content, updated_at
        FROM prompts
        ORDER BY type
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompts: %w", err)
	}
	defer rows.Close()

	prompts := []model.Prompt{}
	for rows.Next() {
		var p model.Prompt
		if err := rows.Scan(&p.Type, &p.Content, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// UpdatePromptsAndInvalidate 在同一事务中更新提示词并清空所有分析结果
// An unknown prompt type rolls back everything and returns ErrNotFound.
func (r *PromptRepository) UpdatePromptsAndInvalidate(ctx context.Context, updates map[model.PromptType]string) (int64, error) {
	types := sortedTypes(updates)

	var cleared int64
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		for _, t := range types {
			tag, err := tx.Exec(ctx, `
                UPDATE prompts
                SET content = $1, updated_at = NOW()
                WHERE type = $2
            `, updates[t], string(t))
			if err != nil {
				return fmt.Errorf("failed to update prompt %s: %w", t, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("prompt %s: %w", t, ErrNotFound)
			}
		}

		tag, err := tx.Exec(ctx, `DELETE FROM email_analyses`)
		if err != nil {
			return fmt.Errorf("failed to clear analyses: %w", err)
		}
		cleared = tag.RowsAffected()

		names := lo.Map(types, func(t model.PromptType, _ int) string { return string(t) })
		return publishInTx(ctx, tx, r.outbox, "prompts", nil, RoutingKeyPromptsUpdated, PromptsUpdatedEvent{
			Types:   names,
			Cleared: cleared,
			TraceID: traceID(ctx),
		})
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}

// UpsertPrompts writes prompts without touching analyses. Used by seeding.
func (r *PromptRepository) UpsertPrompts(ctx context.Context, prompts map[model.PromptType]string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		for _, t := range sortedTypes(prompts) {
			_, err := tx.Exec(ctx, `
                INSERT INTO prompts (type, content)
                VALUES ($1, $2)
                ON CONFLICT (type) DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()
            `, string(t), prompts[t])
			if err != nil {
				return fmt.Errorf("failed to upsert prompt %s: %w", t, err)
			}
		}
		return nil
	})
}

func sortedTypes(m map[model.PromptType]string) []model.PromptType {
	types := lo.Keys(m)
	slices.Sort(types)
	return types
}
