package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"mailtriage/internal/model"
)

func (s *TriageService) ListEmails(ctx context.Context) ([]model.Email, error) {
	return s.emails.ListEmails(ctx)
}

func (s *TriageService) GetEmail(ctx context.Context, id int) (*model.Email, error) {
	return s.getEmail(ctx, id)
}

func (s *TriageService) ListPrompts(ctx context.Context) ([]model.Prompt, error) {
	return s.prompts.ListPrompts(ctx)
}

// IngestEmail validates and stores a new email. It is picked up by the next batch.
func (s *TriageService) IngestEmail(ctx context.Context, e *model.Email) error {
	e.From = strings.TrimSpace(e.From)
	e.Subject = strings.TrimSpace(e.Subject)
	if e.From == "" || e.Subject == "" {
		return fmt.Errorf("%w: from and subject are required", ErrInvalidInput)
	}
	e.Analysis = nil

	if err := s.emails.CreateEmail(ctx, e); err != nil {
		return err
	}
	s.log(ctx).Info("Email ingested", zap.Int("email_id", e.ID), zap.String("from", e.From))
	return nil
}

// UpdatePrompts stores the non-blank prompts and deletes every analysis so emails are
// analyzed again under the new rules. It fails with ErrBatchInProgress while a batch runs.
func (s *TriageService) UpdatePrompts(ctx context.Context, updates map[model.PromptType]string) (int64, error) {
	for t := range updates {
		if !t.Valid() {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPrompt, t)
		}
	}

	updates = lo.PickBy(updates, func(_ model.PromptType, content string) bool {
		return strings.TrimSpace(content) != ""
	})
	if len(updates) == 0 {
		return 0, fmt.Errorf("%w: no prompt content given", ErrInvalidInput)
	}

	unlock, err := acquireLock(ctx, s.lock)
	if err != nil {
		return 0, err
	}
	defer unlock()

	cleared, err := s.prompts.UpdatePromptsAndInvalidate(ctx, updates)
	if err != nil {
		return 0, fmt.Errorf("failed to update prompts: %w", err)
	}

	s.log(ctx).Info("Prompts updated and analyses cleared",
		zap.Strings("types", lo.Map(lo.Keys(updates), func(t model.PromptType, _ int) string { return string(t) })),
		zap.Int64("cleared", cleared),
	)
	return cleared, nil
}
