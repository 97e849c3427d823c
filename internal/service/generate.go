package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mailtriage/internal/analysis"
	"mailtriage/internal/model"
)

// GenerateDraft writes a reply draft for the email and stores it. A two sentence
// summary is generated too when the email has none yet.
func (s *TriageService) GenerateDraft(ctx context.Context, id int) (string, error) {
	return s.draft(ctx, id, false)
}

// RegenerateDraft asks for a reply that differs from the stored one. Difference is
// requested, not guaranteed.
func (s *TriageService) RegenerateDraft(ctx context.Context, id int) (string, error) {
	return s.draft(ctx, id, true)
}

func (s *TriageService) draft(ctx context.Context, id int, regenerate bool) (string, error) {
	e, err := s.getEmail(ctx, id)
	if err != nil {
		return "", err
	}
	prompts, err := s.loadPrompts(ctx)
	if err != nil {
		return "", err
	}

	req := analysis.BuildDraftRequest(prompts, *e)
	if regenerate {
		previous := ""
		if e.Analysis != nil && e.Analysis.ResponseDraft != nil {
			previous = *e.Analysis.ResponseDraft
		}
		req = analysis.BuildRegenerateRequest(prompts, *e, previous)
	}

	draft, err := s.generateText(ctx, id, req)
	if err != nil {
		return "", err
	}
	patch := model.AnalysisPatch{ResponseDraft: &draft}

	if !regenerate && (e.Analysis == nil || strings.TrimSpace(e.Analysis.Summary) == "") {
		summary, err := s.generateText(ctx, id, analysis.BuildSummaryRequest(*e))
		if err != nil {
			// 摘要是附带的，失败不影响草稿
			s.log(ctx).Warn("Summary generation failed, saving draft only",
				zap.Int("email_id", id),
				zap.Error(err),
			)
		} else {
			patch.Summary = &summary
		}
	}

	if err := s.upsertAnalysis(ctx, id, patch); err != nil {
		return "", fmt.Errorf("failed to save draft of email %d: %w", id, err)
	}
	return draft, nil
}

// Chat answers one question about the email. No conversation state is kept.
func (s *TriageService) Chat(ctx context.Context, id int, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("%w: message is required", ErrInvalidInput)
	}

	e, err := s.getEmail(ctx, id)
	if err != nil {
		return "", err
	}
	return s.generateText(ctx, id, analysis.BuildChatRequest(*e, question))
}

// Suggestions returns four follow-up questions for the email. Generated suggestions are
// cached on the analysis row and served from there afterwards. Defaults used after
// unusable model output are returned but not cached.
func (s *TriageService) Suggestions(ctx context.Context, id int) ([]string, error) {
	e, err := s.getEmail(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Analysis != nil && len(e.Analysis.Suggestions) > 0 {
		return e.Analysis.Suggestions, nil
	}

	text, err := s.generateText(ctx, id, analysis.BuildSuggestionsRequest(*e))
	if err != nil {
		return nil, err
	}

	suggestions, ok := analysis.ParseSuggestions(text)
	if !ok {
		s.log(ctx).Warn("Unusable suggestions, serving defaults", zap.Int("email_id", id))
		return suggestions, nil
	}

	if err := s.upsertAnalysis(ctx, id, model.AnalysisPatch{Suggestions: &suggestions}); err != nil {
		return nil, fmt.Errorf("failed to cache suggestions of email %d: %w", id, err)
	}
	return suggestions, nil
}
